package installer

import (
	"os"
	"path/filepath"

	"github.com/apk-analysis/toolsetup/internal/report"
)

// GenerateEnvScripts 为报告中可用的组件生成环境脚本，返回写入的文件
// 没有需要加入 PATH 的目录时不写文件。
func (e *Engine) GenerateEnvScripts(rep *report.Report) ([]string, error) {
	return e.envscripts.Generate(e.PathDirs(rep))
}

// PathDirs 报告中可用组件需要加入 PATH 的目录（存在的绝对路径），按目录顺序
func (e *Engine) PathDirs(rep *report.Report) []string {
	var dirs []string
	for _, comp := range e.catalog.Components() {
		rec, ok := rep.Get(comp.ID)
		if !ok || !rec.Status.Succeeded() || !comp.AffectsPath() {
			continue
		}
		for _, d := range comp.PathDirs {
			dir := filepath.Join(e.deps.Fetcher.TargetPath(comp), d)
			if abs, err := filepath.Abs(dir); err == nil {
				dir = abs
			}
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs
}
