package release

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/probe"
	"github.com/apk-analysis/toolsetup/internal/retry"
)

// commitLen 作为版本号使用的提交哈希长度
const commitLen = 12

// GitSource 以远端分支头部提交作为唯一候选的发布源
// 仓库没有发布版本，版本号就是提交哈希前缀。
type GitSource struct {
	git    string
	runner probe.Runner
}

// NewGitSource 创建 git 发布源
func NewGitSource(git string, runner probe.Runner) *GitSource {
	if git == "" {
		git = "git"
	}
	if runner == nil {
		runner = probe.ExecRunner{}
	}
	return &GitSource{git: git, runner: runner}
}

// List 通过 ls-remote 读取分支头部提交
func (s *GitSource) List(ctx context.Context, comp *domain.Component, target domain.PlatformInfo) ([]domain.AssetCandidate, error) {
	ref := comp.Source.Ref
	if ref == "" {
		ref = "HEAD"
	}

	out, err := s.runner.Run(ctx, s.git, "ls-remote", comp.Source.URL, ref)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &domain.ConfigurationError{Field: "git.executable", Value: s.git, Reason: "git not found in PATH"}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.NewRetryableError(fmt.Errorf("git ls-remote %s: %w", comp.Source.URL, err))
	}

	commit := headCommit(out.Stdout)
	if commit == "" {
		return nil, &domain.AssetNotFoundError{Component: comp.ID, Platform: target.Key(), Version: ref}
	}
	return []domain.AssetCandidate{{
		ToolID:   comp.ID,
		Version:  commit,
		Name:     ref,
		URL:      comp.Source.URL,
		Platform: target.Key(),
	}}, nil
}

// headCommit 取 ls-remote 输出第一行的提交哈希前缀
func headCommit(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		sha := fields[0]
		if len(sha) > commitLen {
			sha = sha[:commitLen]
		}
		return sha
	}
	return ""
}
