// Package pip 通过 pip 安装固定版本的 Python 包。
package pip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/sirupsen/logrus"
)

// Installer pip 安装器
// 同一解释器的安装互斥执行：并发的 pip 会互相改写依赖。
type Installer struct {
	mu      sync.Mutex
	python  string
	runner  probe.Runner
	timeout time.Duration
	logger  *logrus.Logger
}

// NewInstaller 创建安装器
func NewInstaller(python string, runner probe.Runner, timeout time.Duration, logger *logrus.Logger) *Installer {
	if runner == nil {
		runner = probe.ExecRunner{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Installer{python: python, runner: runner, timeout: timeout, logger: logger}
}

// Requirement pip 需求字符串
func Requirement(pkg, version string) string {
	if version == "" {
		return pkg
	}
	return pkg + "==" + version
}

// Install 安装指定版本；version 为空时安装最新版本
func (i *Installer) Install(ctx context.Context, pkg, version string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req := Requirement(pkg, version)
	args := []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input", req}

	i.logger.WithFields(logrus.Fields{
		"package": pkg,
		"version": version,
	}).Info("Installing python package")

	i.mu.Lock()
	defer i.mu.Unlock()

	out, err := i.runner.Run(ctx, i.python, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("pip install %s timed out after %s: %w", req, i.timeout, err)
		}
		return &domain.DownloadError{URL: "pip:" + req, Err: fmt.Errorf("%w: %s", err, lastLine(failureText(out)))}
	}
	return nil
}

// failureText pip 的错误信息写在 stderr
func failureText(out probe.Output) string {
	if strings.TrimSpace(out.Stderr) != "" {
		return out.Stderr
	}
	return out.Stdout
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
