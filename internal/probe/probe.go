// Package probe 检查组件是否已安装以及已安装的版本。
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/version"
	"github.com/sirupsen/logrus"
)

// pythonVersionScript 读取已安装分发包的版本元数据
const pythonVersionScript = "import importlib.metadata as m, sys; print(m.version(sys.argv[1]))"

// interpreterVersionScript 打印解释器自身的版本
const interpreterVersionScript = "import sys; print('%d.%d.%d' % sys.version_info[:3])"

// Engine 校验引擎
type Engine struct {
	toolsDir string
	python   string
	runner   Runner
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewEngine 创建校验引擎
func NewEngine(toolsDir, python string, runner Runner, timeout time.Duration, logger *logrus.Logger) *Engine {
	if runner == nil {
		runner = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Engine{
		toolsDir: toolsDir,
		python:   python,
		runner:   runner,
		timeout:  timeout,
		logger:   logger,
	}
}

// Check 执行组件的校验探针
func (e *Engine) Check(ctx context.Context, comp *domain.Component) domain.Presence {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var p domain.Presence
	switch comp.Probe.Type {
	case domain.ProbeCommand:
		p = e.checkCommand(ctx, comp)
	case domain.ProbePythonPackage:
		p = e.checkPythonPackage(ctx, comp)
	case domain.ProbeFile:
		p = e.checkFile(comp)
	default:
		p = domain.Presence{Detail: fmt.Sprintf("unknown probe type %q", comp.Probe.Type)}
	}

	e.logger.WithFields(logrus.Fields{
		"component": comp.ID,
		"present":   p.Present,
		"version":   p.Version,
	}).Debug("Probe finished")
	return p
}

// TargetPath 组件安装目录
func (e *Engine) TargetPath(comp *domain.Component) string {
	return filepath.Join(e.toolsDir, comp.TargetDir)
}

func (e *Engine) checkCommand(ctx context.Context, comp *domain.Component) domain.Presence {
	bin, ok := e.locate(comp)
	if !ok {
		return domain.Presence{Detail: fmt.Sprintf("%s not found", comp.Probe.Command)}
	}

	out, err := e.runner.Run(ctx, bin, comp.Probe.Args...)
	if err != nil {
		return domain.Presence{Path: bin, Detail: err.Error()}
	}

	ver := strings.TrimSpace(firstLine(out.Text()))
	if comp.Probe.Pattern != "" {
		re := regexp.MustCompile(comp.Probe.Pattern)
		m := re.FindStringSubmatch(out.Stdout)
		if m == nil {
			m = re.FindStringSubmatch(out.Stderr)
		}
		if m == nil {
			return domain.Presence{Present: true, Path: bin, Detail: "version not found in output"}
		}
		ver = m[1]
	}
	return domain.Presence{Present: true, Version: ver, Path: bin}
}

// locate 先找组件自己的安装目录，再找 PATH
func (e *Engine) locate(comp *domain.Component) (string, bool) {
	cmd := comp.Probe.Command
	if comp.TargetDir != "" {
		base := filepath.Join(e.TargetPath(comp), filepath.FromSlash(cmd))
		for _, candidate := range executableNames(base) {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	if strings.ContainsAny(cmd, `/\`) {
		return "", false
	}
	if path, err := exec.LookPath(cmd); err == nil {
		return path, true
	}
	return "", false
}

func executableNames(base string) []string {
	if runtime.GOOS != "windows" {
		return []string{base}
	}
	return []string{base + ".exe", base + ".bat", base + ".cmd", base}
}

func (e *Engine) checkPythonPackage(ctx context.Context, comp *domain.Component) domain.Presence {
	pkg := comp.Source.Package
	if pkg == "" {
		pkg = comp.ID
	}
	out, err := e.runner.Run(ctx, e.python, "-c", pythonVersionScript, pkg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Presence{Detail: "probe timed out"}
		}
		return domain.Presence{Detail: fmt.Sprintf("%s is not installed", pkg)}
	}
	// 只读 stdout：解释器的启动警告写在 stderr
	ver := strings.TrimSpace(firstLine(out.Stdout))
	if ver == "" {
		return domain.Presence{Detail: fmt.Sprintf("%s reported no version", pkg)}
	}
	return domain.Presence{Present: true, Version: ver, Path: pkg}
}

// PythonVersion 返回配置的解释器版本
func (e *Engine) PythonVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.runner.Run(ctx, e.python, "-c", interpreterVersionScript)
	if err != nil {
		return "", err
	}
	ver := strings.TrimSpace(firstLine(out.Stdout))
	if ver == "" {
		return "", fmt.Errorf("%s reported no version", e.python)
	}
	return ver, nil
}

// LookPath 在 PATH 中查找系统命令
func (e *Engine) LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	return path, err == nil
}

func (e *Engine) checkFile(comp *domain.Component) domain.Presence {
	base := filepath.Join(e.TargetPath(comp), filepath.FromSlash(comp.Probe.Path))
	path := ""
	for _, candidate := range executableNames(base) {
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return domain.Presence{Detail: fmt.Sprintf("%s not found", base)}
	}

	ver, err := ReadMarker(e.TargetPath(comp))
	if err != nil {
		return domain.Presence{Present: true, Path: path, Detail: "version marker missing"}
	}
	return domain.Presence{Present: true, Version: ver, Path: path}
}

// ReadMarker 读取安装目录中的版本标记
func ReadMarker(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, domain.VersionMarker))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Satisfies 探针结果是否满足组件的版本约束
// 未安装或无法读取版本时，只要有约束就视为不满足。
func Satisfies(comp *domain.Component, p domain.Presence) (bool, error) {
	if !p.Present {
		return false, nil
	}
	if strings.TrimSpace(comp.Constraint) == "" {
		return true, nil
	}
	if p.Version == "" {
		return false, nil
	}
	return version.Satisfies(comp.VersionFamily, p.Version, comp.Constraint)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
