package main

import (
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newInstallCmd(a *app) *cobra.Command {
	sel := &selection{}
	var force bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the components of a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.Engine.InstallProfile(ctx, sel.profileOr(a.cfg.Profile), sel.overrides(), force)
			if err != nil {
				return err
			}

			scripts, err := rt.Engine.GenerateEnvScripts(rep)
			if err != nil {
				a.logger.WithError(err).Warn("Failed to generate environment scripts")
			}
			for _, s := range scripts {
				a.logger.WithField("path", s).Debug("Environment script written")
			}

			if err := a.printReport(cmd, rep); err != nil {
				return err
			}
			if !a.jsonOut {
				printActivation(cmd, scripts)
			}
			if rep.HasFailures() {
				return errComponentsFailed
			}
			return nil
		},
	}

	addSelectionFlags(cmd.Flags(), sel)
	cmd.Flags().BoolVar(&force, "force", false, "Reinstall components that are already present")
	return cmd
}

// printReport 输出报告表格或 JSON 文档
func (a *app) printReport(cmd *cobra.Command, rep *report.Report) error {
	if a.jsonOut {
		return printJSON(cmd, rep.Document())
	}

	cmd.Printf("%-16s %-16s %-14s %s\n", "Component", "Status", "Version", "Detail")
	for _, rec := range rep.Records() {
		detail := rec.Path
		if rec.Status == domain.StatusFailed || rec.Status == domain.StatusSkipped {
			detail = rec.Error
		}
		ver := rec.ResolvedVersion
		if ver == "" {
			ver = "-"
		}
		cmd.Printf("%-16s %-16s %-14s %s\n", rec.ID, rec.Status, ver, detail)
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":  rep.RunID(),
		"summary": rep.Summary(),
	}).Info("Report written")
	return nil
}
