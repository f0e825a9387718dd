package repository

import (
	"context"
	"testing"
	"time"

	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) (*gorm.DB, *logrus.Logger) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := InitDB(&config.DatabaseConfig{Type: "sqlite"}, ":memory:", logger)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = Close(db) })
	return db, logger
}

func sampleReport(profile string) *report.Report {
	rep := report.New(report.ModeInstall, profile, domain.PlatformInfo{OS: domain.OSLinux, Arch: domain.ArchX8664}, "/opt/tools")
	rep.Record(domain.InstallationRecord{ID: "frida", Kind: domain.KindPythonPackage, ResolvedVersion: "16.5.9", Status: domain.StatusInstalled})
	rep.Record(domain.InstallationRecord{ID: "frida-server", Kind: domain.KindPairedTool, ResolvedVersion: "16.5.9", Status: domain.StatusInstalled})
	rep.Record(domain.InstallationRecord{ID: "jadx", Kind: domain.KindArchiveTool, Status: domain.StatusFailed,
		Error: "download failed", ErrorKind: domain.ErrorKindDownload})
	rep.Finish()
	return rep
}

// TestHistoryRepository_SaveAndFind 测试保存与查询运行
func TestHistoryRepository_SaveAndFind(t *testing.T) {
	db, logger := setupTestDB(t)
	repo := NewHistoryRepository(db, logger)
	ctx := context.Background()

	rep := sampleReport("standard")
	require.NoError(t, repo.SaveRun(ctx, rep))

	run, err := repo.FindByID(ctx, rep.RunID())
	require.NoError(t, err)
	assert.Equal(t, "install", run.Mode)
	assert.Equal(t, "linux-x86_64", run.Platform)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Components, 3)
	assert.Equal(t, "frida", run.Components[0].ComponentID)
	assert.Equal(t, "download", run.Components[2].ErrorKind)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestHistoryRepository_SaveTwiceReplacesComponents 测试重复保存同一运行
func TestHistoryRepository_SaveTwiceReplacesComponents(t *testing.T) {
	db, logger := setupTestDB(t)
	repo := NewHistoryRepository(db, logger)
	ctx := context.Background()

	rep := sampleReport("standard")
	require.NoError(t, repo.SaveRun(ctx, rep))

	rep.Record(domain.InstallationRecord{ID: "jadx", Kind: domain.KindArchiveTool, ResolvedVersion: "1.5.1", Status: domain.StatusInstalled})
	require.NoError(t, repo.SaveRun(ctx, rep))

	run, err := repo.FindByID(ctx, rep.RunID())
	require.NoError(t, err)
	assert.Len(t, run.Components, 3)
	assert.Equal(t, 0, run.Failed)
}

// TestHistoryRepository_ListAndComponentHistory 测试列表与组件历史
func TestHistoryRepository_ListAndComponentHistory(t *testing.T) {
	db, logger := setupTestDB(t)
	repo := NewHistoryRepository(db, logger)
	ctx := context.Background()

	first := sampleReport("minimal")
	require.NoError(t, repo.SaveRun(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := sampleReport("full")
	require.NoError(t, repo.SaveRun(ctx, second))

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID(), runs[0].ID)

	runs, err = repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	results, err := repo.ComponentHistory(ctx, "frida", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "16.5.9", r.ResolvedVersion)
	}
}
