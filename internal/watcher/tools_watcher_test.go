package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// TestToolsWatcher_DebouncedChange 测试多次变化合并为一次回调
func TestToolsWatcher_DebouncedChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "jadx"), 0o755))

	var calls int32
	tw, err := NewToolsWatcher(dir, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, testLogger(), WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	defer tw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tw.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "jadx", ".toolsetup-version"), []byte("1.5.1\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestToolsWatcher_IgnoresOwnFiles 测试忽略报告与暂存目录
func TestToolsWatcher_IgnoresOwnFiles(t *testing.T) {
	dir := t.TempDir()

	var calls int32
	tw, err := NewToolsWatcher(dir, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, testLogger(), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer tw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "installation_report.json"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".fetch-jadx-123"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.db"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

// TestToolsWatcher_NewComponentDir 测试新建的组件目录也会被监控
func TestToolsWatcher_NewComponentDir(t *testing.T) {
	dir := t.TempDir()

	var calls int32
	tw, err := NewToolsWatcher(dir, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, testLogger(), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer tw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tw.Start(ctx)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "apktool"), 0o755))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "apktool", "apktool.jar"), []byte("jar"), 0o644))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 20*time.Millisecond)
}
