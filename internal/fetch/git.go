package fetch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/retry"
	"github.com/sirupsen/logrus"
)

// Cloner 以 git 仓库形式安装组件，暂存与替换方式和下载安装相同
type Cloner struct {
	toolsDir string
	git      string
	runner   probe.Runner
	retry    *retry.Config
	logger   *logrus.Logger
}

// NewCloner 创建仓库安装器
func NewCloner(toolsDir, git string, runner probe.Runner, retryCfg *retry.Config, logger *logrus.Logger) *Cloner {
	if git == "" {
		git = "git"
	}
	if runner == nil {
		runner = probe.ExecRunner{}
	}
	return &Cloner{toolsDir: toolsDir, git: git, runner: runner, retry: retryCfg, logger: logger}
}

// Clone 浅克隆候选提交所在的分支，返回安装目录
func (c *Cloner) Clone(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component) (string, error) {
	target := filepath.Join(c.toolsDir, comp.TargetDir)
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", &domain.FilesystemError{Op: "mkdir", Path: parent, Err: err}
	}

	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.attempt(ctx, cand, comp, target)
	})
	if err != nil {
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"component": comp.ID,
		"commit":    cand.Version,
		"path":      target,
	}).Info("Component installed")
	return target, nil
}

func (c *Cloner) attempt(ctx context.Context, cand domain.AssetCandidate, comp *domain.Component, target string) error {
	staging, err := os.MkdirTemp(filepath.Dir(target), ".clone-"+comp.ID+"-*")
	if err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}
	defer os.RemoveAll(staging)

	content := filepath.Join(staging, "content")
	args := []string{"clone", "--quiet", "--depth", "1"}
	if comp.Source.Ref != "" {
		args = append(args, "--branch", comp.Source.Ref)
	}
	args = append(args, cand.URL, content)

	if _, err := c.runner.Run(ctx, c.git, args...); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return &domain.ConfigurationError{Field: "git.executable", Value: c.git, Reason: "git not found in PATH"}
		case ctx.Err() != nil:
			return ctx.Err()
		}
		return &domain.DownloadError{URL: cand.URL, Transient: true, Err: err}
	}

	out, err := c.runner.Run(ctx, c.git, "-C", content, "rev-parse", "HEAD")
	if err != nil {
		return &domain.FilesystemError{Op: "rev-parse", Path: content, Err: err}
	}
	// 解析与克隆之间远端前进了一个提交
	if head := strings.TrimSpace(out.Stdout); !strings.HasPrefix(head, cand.Version) {
		return &domain.VersionMismatchError{Component: comp.ID, Have: head, Want: cand.Version}
	}

	if err := markExecutable(content, comp); err != nil {
		return err
	}

	marker := filepath.Join(content, domain.VersionMarker)
	if err := os.WriteFile(marker, []byte(cand.Version+"\n"), 0o644); err != nil {
		return &domain.FilesystemError{Op: "write", Path: marker, Err: err}
	}

	return swap(target, content, filepath.Join(staging, "previous"))
}
