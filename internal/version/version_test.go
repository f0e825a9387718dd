package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse_Families 测试各工具族的规范化结果
func TestParse_Families(t *testing.T) {
	tests := []struct {
		family    string
		raw       string
		canonical string
	}{
		{FamilySemver, "16.5.9", "v16.5.9"},
		{FamilySemver, "v2.9.3", "v2.9.3"},
		{FamilySemver, "1.5", "v1.5.0"},
		{FamilySemver, "2.4.0-rc1", "v2.4.0-rc1"},
		{FamilySemver, "1.2.3.4", "v1.2.3"},
		{FamilyPEP440, "2.0.0rc1", "v2.0.0-rc.1"},
		{FamilyPEP440, "1.0.dev3", "v1.0.0-dev.3"},
		{FamilyPEP440, "1.4.post2", "v1.4.0"},
		{FamilyAndroidRevision, "35.0.1-11580240", "v35.0.1"},
		{FamilyAndroidRevision, "34.0.5", "v34.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.family+"/"+tt.raw, func(t *testing.T) {
			tok, err := Parse(tt.family, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.canonical, tok.Canonical())
			assert.Equal(t, tt.raw, tok.String())
		})
	}
}

// TestParse_Invalid 测试无法解析的版本
func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{"", "latest", "abc1.0"} {
		_, err := Parse(FamilySemver, raw)
		assert.Error(t, err, raw)
	}
}

// TestSortDescending 测试从新到旧排序
func TestSortDescending(t *testing.T) {
	got := SortDescending(FamilySemver, []string{"16.1.4", "16.10.0", "garbage", "16.2.0", "15.2.2"})
	assert.Equal(t, []string{"16.10.0", "16.2.0", "16.1.4", "15.2.2", "garbage"}, got)
}

// TestSatisfies 测试约束判断
func TestSatisfies(t *testing.T) {
	tests := []struct {
		raw        string
		constraint string
		want       bool
	}{
		{"35.0.1", "", true},
		{"35.0.1", ">=34.0.0", true},
		{"30.0.0", ">=34.0.0", false},
		{"35.0.1", ">=34, <36", true},
		{"36.0.0", ">=34, <36", false},
		{"16.5.9", "16.5.9", true},
		{"16.5.9", "==16.5.8", false},
		{"16.5.9", "!=16.5.8", true},
	}

	for _, tt := range tests {
		ok, err := Satisfies(FamilySemver, tt.raw, tt.constraint)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s %s", tt.raw, tt.constraint)
	}

	_, err := Satisfies(FamilySemver, "1.0.0", ">=nope")
	assert.Error(t, err)
}

// TestExactPin 测试固定版本识别
func TestExactPin(t *testing.T) {
	v, ok := ExactPin("==16.5.9")
	assert.True(t, ok)
	assert.Equal(t, "16.5.9", v)

	_, ok = ExactPin(">=16")
	assert.False(t, ok)
	_, ok = ExactPin("")
	assert.False(t, ok)
}

// TestIsPrerelease 测试预发布识别
func TestIsPrerelease(t *testing.T) {
	assert.True(t, IsPrerelease(FamilyPEP440, "17.0.0rc2"))
	assert.False(t, IsPrerelease(FamilyPEP440, "16.5.9"))
}
