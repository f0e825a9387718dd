package installer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/version"
	"github.com/sirupsen/logrus"
)

// DefaultMinPython python 包要求的最低解释器版本
const DefaultMinPython = "3.7"

// preflight 安装前检查主机环境
// 返回非空错误表示解释器缺失或版本过低，本次运行中的 python 包将直接失败；
// 组件依赖的系统命令缺失只记警告，安装照常进行。
func (e *Engine) preflight(ctx context.Context, comps []*domain.Component) error {
	if e.deps.Host == nil {
		return nil
	}

	needed := make(map[string][]string)
	needsPython := false
	for _, c := range comps {
		if c.Kind == domain.KindPythonPackage {
			needsPython = true
		}
		for _, tool := range c.Requires {
			needed[tool] = append(needed[tool], c.ID)
		}
	}

	tools := make([]string, 0, len(needed))
	for tool := range needed {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		if _, ok := e.deps.Host.LookPath(tool); ok {
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"tool":       tool,
			"components": strings.Join(needed[tool], ","),
		}).Warn("System tool not found, dependent components may not work")
	}

	if !needsPython {
		return nil
	}
	return e.checkPython(ctx)
}

func (e *Engine) checkPython(ctx context.Context) error {
	ver, err := e.deps.Host.PythonVersion(ctx)
	if err != nil {
		return &domain.ConfigurationError{
			Field:  "python.executable",
			Reason: fmt.Sprintf("python interpreter unavailable: %v", err),
		}
	}

	ok, err := version.Satisfies(version.FamilyPEP440, ver, ">="+e.opts.MinPython)
	if err != nil || !ok {
		return &domain.ConfigurationError{
			Field:  "python.executable",
			Value:  ver,
			Reason: fmt.Sprintf("Python %s or newer is required", e.opts.MinPython),
		}
	}

	e.logger.WithField("version", ver).Debug("Python interpreter accepted")
	return nil
}
