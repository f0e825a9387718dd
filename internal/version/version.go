// Package version 提供跨工具族的统一版本令牌：每个工具族一个解析器，
// 解析后统一按 semver 规则比较。
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Family 工具族名称
const (
	FamilySemver          = "semver"
	FamilyPEP440          = "pep440"
	FamilyAndroidRevision = "android-revision"
)

// Token 可比较的版本令牌，Raw 保留上游原始字符串
type Token struct {
	Raw       string
	canonical string
}

func (t Token) String() string { return t.Raw }

// Canonical 规范化后的 semver 形式（带 v 前缀）
func (t Token) Canonical() string { return t.canonical }

// Compare 比较两个令牌，返回 -1 / 0 / 1
func (t Token) Compare(o Token) int {
	return semver.Compare(t.canonical, o.canonical)
}

// Parser 工具族版本解析器
type Parser interface {
	Parse(raw string) (Token, error)
}

// ParserFunc 函数适配器
type ParserFunc func(raw string) (Token, error)

func (f ParserFunc) Parse(raw string) (Token, error) { return f(raw) }

var (
	numericCore = regexp.MustCompile(`^(\d+(?:\.\d+){0,2})(?:\.\d+)*(.*)$`)
	pep440Pre   = regexp.MustCompile(`^[.-]?(a|b|rc|alpha|beta|c|pre|preview)\.?(\d*)`)
	pep440Dev   = regexp.MustCompile(`^[.-]?dev\.?(\d*)`)
	pep440Post  = regexp.MustCompile(`^[.-]?(post|rev|r)\.?(\d*)`)
)

var parsers = map[string]Parser{
	FamilySemver:          ParserFunc(parseSemver),
	FamilyPEP440:          ParserFunc(parsePEP440),
	FamilyAndroidRevision: ParserFunc(parseAndroidRevision),
}

// ForFamily 获取工具族解析器，未知族回退到 semver
func ForFamily(family string) Parser {
	if p, ok := parsers[family]; ok {
		return p
	}
	return parsers[FamilySemver]
}

// Parse 按工具族解析版本字符串
func Parse(family, raw string) (Token, error) {
	return ForFamily(family).Parse(raw)
}

func parseSemver(raw string) (Token, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "v"), "V")
	m := numericCore.FindStringSubmatch(s)
	if m == nil {
		return Token{}, fmt.Errorf("invalid version %q", raw)
	}
	canonical := "v" + padCore(m[1])
	if rest := m[2]; rest != "" {
		rest = strings.TrimLeft(rest, "-")
		if i := strings.IndexByte(rest, '+'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			canonical += "-" + rest
		}
	}
	return finish(raw, canonical)
}

func parsePEP440(raw string) (Token, error) {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "v"))
	m := numericCore.FindStringSubmatch(s)
	if m == nil {
		return Token{}, fmt.Errorf("invalid version %q", raw)
	}
	canonical := "v" + padCore(m[1])
	rest := m[2]
	switch {
	case pep440Pre.MatchString(rest):
		p := pep440Pre.FindStringSubmatch(rest)
		canonical += "-" + p[1] + "." + zeroIfEmpty(p[2])
	case pep440Dev.MatchString(rest):
		p := pep440Dev.FindStringSubmatch(rest)
		canonical += "-dev." + zeroIfEmpty(p[1])
	case pep440Post.MatchString(rest):
		// post 版本在 semver 中没有对应，按构建元数据处理
		p := pep440Post.FindStringSubmatch(rest)
		canonical += "+post." + zeroIfEmpty(p[2])
	}
	return finish(raw, canonical)
}

// parseAndroidRevision 解析 35.0.1-11580240 这类修订号，丢弃构建号
func parseAndroidRevision(raw string) (Token, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "- "); i >= 0 {
		s = s[:i]
	}
	return parseSemver(s)
}

// padCore 补齐为 MAJOR.MINOR.PATCH，否则 semver 不接受带预发布后缀的简写
func padCore(core string) string {
	for strings.Count(core, ".") < 2 {
		core += ".0"
	}
	return core
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func finish(raw, canonical string) (Token, error) {
	if !semver.IsValid(canonical) {
		return Token{}, fmt.Errorf("invalid version %q", raw)
	}
	return Token{Raw: strings.TrimSpace(raw), canonical: semver.Canonical(canonical)}, nil
}

// SortDescending 按版本从新到旧排序，无法解析的版本排在最后
func SortDescending(family string, versions []string) []string {
	p := ForFamily(family)
	out := append([]string(nil), versions...)
	sort.SliceStable(out, func(i, j int) bool {
		a, errA := p.Parse(out[i])
		b, errB := p.Parse(out[j])
		switch {
		case errA != nil && errB != nil:
			return out[i] > out[j]
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return a.Compare(b) > 0
	})
	return out
}

// IsPrerelease 是否为预发布版本
func IsPrerelease(family, raw string) bool {
	t, err := Parse(family, raw)
	if err != nil {
		return false
	}
	return semver.Prerelease(t.canonical) != ""
}
