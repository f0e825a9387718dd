// Package envscript 生成把工具目录加入 PATH 的环境脚本（sh / PowerShell / cmd）。
package envscript

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
)

// HomeVariable 脚本导出的工具根目录变量
const HomeVariable = "APK_TOOLS_HOME"

// Dir 脚本输出目录，相对 tools_dir
const Dir = "env"

var scripts = []struct {
	name string
	mode os.FileMode
	tmpl *template.Template
}{
	{"activate.sh", 0o755, template.Must(template.New("sh").Funcs(funcs).Parse(shTemplate))},
	{"activate.ps1", 0o644, template.Must(template.New("ps1").Funcs(funcs).Parse(ps1Template))},
	{"activate.bat", 0o644, template.Must(template.New("bat").Funcs(funcs).Parse(batTemplate))},
}

var funcs = template.FuncMap{
	"sh":  shQuote,
	"ps":  psQuote,
	"rev": reverse,
}

const shTemplate = `# Generated by toolsetup. Load with: . "{{.Self}}"
export {{.Var}}={{sh .Home}}
_toolsetup_prepend() {
  case ":${PATH}:" in
    *":$1:"*) ;;
    *) PATH="$1${PATH:+:$PATH}" ;;
  esac
}
{{- range rev .Dirs}}
_toolsetup_prepend {{sh .}}
{{- end}}
export PATH
unset -f _toolsetup_prepend
`

const ps1Template = `# Generated by toolsetup. Load with: . "{{.Self}}"
$env:{{.Var}} = {{ps .Home}}
foreach ($dir in @({{range $i, $d := rev .Dirs}}{{if $i}}, {{end}}{{ps $d}}{{end}})) {
    if (-not (($env:PATH -split ';') -contains $dir)) {
        $env:PATH = "$dir;$env:PATH"
    }
}
`

const batTemplate = `@echo off
rem Generated by toolsetup. Load with: call "{{.Self}}"
set "{{.Var}}={{.Home}}"
{{- range rev .Dirs}}
echo ;%PATH%; | find /I ";{{.}};" >nul || set "PATH={{.}};%PATH%"
{{- end}}
`

type scriptData struct {
	Self string
	Var  string
	Home string
	Dirs []string
}

// Generator 环境脚本生成器
type Generator struct {
	toolsDir string
	logger   *logrus.Logger
}

// NewGenerator 创建生成器
func NewGenerator(toolsDir string, logger *logrus.Logger) *Generator {
	return &Generator{toolsDir: toolsDir, logger: logger}
}

// Generate 为给定目录生成三种脚本，返回写入的文件
// 目录集合为空时不写任何文件。脚本可以重复加载，已在 PATH 中的目录不会重复添加。
func (g *Generator) Generate(dirs []string) ([]string, error) {
	unique := dedupe(dirs)
	if len(unique) == 0 {
		g.logger.Info("No tool directories to expose, environment scripts skipped")
		return nil, nil
	}

	home, err := filepath.Abs(g.toolsDir)
	if err != nil {
		return nil, err
	}
	outDir := filepath.Join(home, Dir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, s := range scripts {
		path := filepath.Join(outDir, s.name)
		var buf bytes.Buffer
		data := scriptData{Self: path, Var: HomeVariable, Home: home, Dirs: unique}
		if err := s.tmpl.Execute(&buf, data); err != nil {
			return written, fmt.Errorf("render %s: %w", s.name, err)
		}
		content := buf.Bytes()
		if strings.HasSuffix(s.name, ".bat") {
			content = bytes.ReplaceAll(content, []byte("\n"), []byte("\r\n"))
		}
		if err := writeAtomic(path, content, s.mode); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	g.logger.WithFields(logrus.Fields{
		"dir":   outDir,
		"paths": len(unique),
	}).Info("Environment scripts generated")
	return written, nil
}

// Hints 当前系统上加载脚本的命令：windows 为 cmd 与 PowerShell，其余为 sh
func Hints(goos string, written []string) []string {
	var out []string
	for _, path := range written {
		switch filepath.Ext(path) {
		case ".sh":
			if goos != "windows" {
				out = append(out, "source "+shQuote(path))
			}
		case ".bat":
			if goos == "windows" {
				out = append(out, `call "`+path+`"`)
			}
		case ".ps1":
			if goos == "windows" {
				out = append(out, ". "+psQuote(path))
			}
		}
	}
	return out
}

func writeAtomic(path string, content []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func dedupe(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	var out []string
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			abs = d
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// reverse 逐个前插后，第一个目录位于 PATH 最前面
func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
