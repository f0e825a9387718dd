package main

import (
	"fmt"
	"runtime"

	"github.com/apk-analysis/toolsetup/internal/envscript"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/spf13/cobra"
)

func newEnvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Regenerate environment scripts from the installation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := report.Load(rt.Engine.ReportPath())
			if err != nil {
				return fmt.Errorf("load installation report: %w", err)
			}
			scripts, err := rt.Engine.GenerateEnvScripts(rep)
			if err != nil {
				return err
			}
			if len(scripts) == 0 {
				cmd.Println("No installed component needs to be on PATH.")
				return nil
			}
			for _, s := range scripts {
				cmd.Println(s)
			}
			printActivation(cmd, scripts)
			return nil
		},
	}
}

// printActivation 提示如何在当前 shell 中加载环境脚本
func printActivation(cmd *cobra.Command, scripts []string) {
	hints := envscript.Hints(runtime.GOOS, scripts)
	if len(hints) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("To put the installed tools on PATH in this shell, run:")
	for _, h := range hints {
		cmd.Printf("  %s\n", h)
	}
}
