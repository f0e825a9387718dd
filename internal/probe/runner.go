package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Output 命令输出，stdout 与 stderr 分开保存
// 解释器和工具常把警告写到 stderr，版本号只能从 stdout 读。
type Output struct {
	Stdout string
	Stderr string
}

// Text 优先返回 stdout，为空时返回 stderr（部分工具把版本打印到 stderr）
func (o Output) Text() string {
	if strings.TrimSpace(o.Stdout) != "" {
		return o.Stdout
	}
	return o.Stderr
}

// Runner 执行外部命令
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner 基于 os/exec 的实现
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		detail := strings.TrimSpace(out.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(out.Stdout)
		}
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, detail)
	}
	return out, nil
}
