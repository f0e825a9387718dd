package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./tools", cfg.ToolsDir)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "arm64", cfg.Frida.DeviceArch)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "3.7", cfg.Python.MinVersion)
	assert.Equal(t, "git", cfg.Git.Executable)
	assert.Equal(t, filepath.Join("tools", "installation_report.json"), filepath.Clean(cfg.ReportPath()))
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
tools_dir: /opt/apk-tools
worker:
  concurrency: 8
frida:
  device_arch: x86_64
database:
  type: sqlite
  path: /var/lib/toolsetup/history.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("TOOLSETUP_LOG_LEVEL", "debug")
	t.Setenv("TOOLSETUP_SERVER_TOKEN", "local-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/apk-tools", cfg.ToolsDir)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "x86_64", cfg.Frida.DeviceArch)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "local-secret", cfg.Server.Token)
	assert.Equal(t, "/var/lib/toolsetup/history.db", cfg.DatabasePath())
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  concurrency: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("database:\n  type: postgres\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	logger := InitLogger(&LogConfig{Level: "warn", Format: "json"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = InitLogger(&LogConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
