package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit 克隆时写出仓库文件，rev-parse 返回固定提交
type fakeGit struct {
	head     string
	cloneErr error
	clones   int
}

func (g *fakeGit) Run(ctx context.Context, name string, args ...string) (probe.Output, error) {
	switch args[0] {
	case "clone":
		g.clones++
		if g.cloneErr != nil {
			return probe.Output{}, g.cloneErr
		}
		dest := args[len(args)-1]
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return probe.Output{}, err
		}
		return probe.Output{}, os.WriteFile(filepath.Join(dest, "fridump.py"), []byte("#!/usr/bin/env python\n"), 0o644)
	case "-C":
		return probe.Output{Stdout: g.head + "\n"}, nil
	}
	return probe.Output{}, fmt.Errorf("unexpected git %v", args)
}

func newTestCloner(t *testing.T, git *fakeGit) (*Cloner, string) {
	t.Helper()
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialInterval = 0
	cfg.Logger = logger
	return NewCloner(dir, "git", git, cfg, logger), dir
}

func fridumpComponent() *domain.Component {
	return &domain.Component{ID: "fridump", Kind: domain.KindGitTool, TargetDir: "fridump",
		Executables: []string{"fridump.py"},
		Source:      domain.SourceSpec{Type: domain.SourceGit, URL: "https://github.com/Nightbringer21/fridump.git"}}
}

func TestClone_WritesMarker(t *testing.T) {
	git := &fakeGit{head: "3e4e6ea9f1e5c1b2a6c0a5c2b4d9e1f0a1b2c3d4"}
	c, dir := newTestCloner(t, git)
	cand := domain.AssetCandidate{ToolID: "fridump", Version: "3e4e6ea9f1e5", URL: "https://github.com/Nightbringer21/fridump.git"}

	path, err := c.Clone(context.Background(), cand, fridumpComponent())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fridump"), path)
	assert.FileExists(t, filepath.Join(path, "fridump.py"))

	marker, err := os.ReadFile(filepath.Join(path, domain.VersionMarker))
	require.NoError(t, err)
	assert.Equal(t, "3e4e6ea9f1e5\n", string(marker))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(path, "fridump.py"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".clone-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestClone_Failures(t *testing.T) {
	cand := domain.AssetCandidate{ToolID: "fridump", Version: "3e4e6ea9f1e5", URL: "https://github.com/Nightbringer21/fridump.git"}

	moved := &fakeGit{head: "ffffffffffff0000"}
	c, dir := newTestCloner(t, moved)
	_, err := c.Clone(context.Background(), cand, fridumpComponent())
	assert.Equal(t, domain.ErrorKindVersionMismatch, domain.KindOf(err))
	assert.NoDirExists(t, filepath.Join(dir, "fridump"))

	missing := &fakeGit{cloneErr: &exec.Error{Name: "git", Err: exec.ErrNotFound}}
	c, _ = newTestCloner(t, missing)
	_, err = c.Clone(context.Background(), cand, fridumpComponent())
	assert.Equal(t, domain.ErrorKindConfiguration, domain.KindOf(err))
	assert.Equal(t, 1, missing.clones)

	offline := &fakeGit{cloneErr: errors.New("exit status 128")}
	c, _ = newTestCloner(t, offline)
	_, err = c.Clone(context.Background(), cand, fridumpComponent())
	assert.Equal(t, domain.ErrorKindDownload, domain.KindOf(err))
	assert.Equal(t, 2, offline.clones)
}
