package main

import (
	"context"

	"github.com/apk-analysis/toolsetup/internal/installer"
	"github.com/apk-analysis/toolsetup/internal/report"
	"github.com/apk-analysis/toolsetup/internal/watcher"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	sel := &selection{}
	var watch bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify installed components without downloading anything",
		Long: "Verify probes every component recorded in the installation report, or the\n" +
			"components of --profile when given, and rewrites the report.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := a.verifyOnce(ctx, rt.Engine, sel)
			if err != nil {
				return err
			}
			if err := a.printReport(cmd, rep); err != nil {
				return err
			}

			if !watch {
				if rep.HasFailures() {
					return errComponentsFailed
				}
				return nil
			}

			tw, err := watcher.NewToolsWatcher(a.cfg.ToolsDir, func(ctx context.Context) error {
				rep, err := a.verifyOnce(ctx, rt.Engine, sel)
				if err != nil {
					return err
				}
				return a.printReport(cmd, rep)
			}, a.logger)
			if err != nil {
				return err
			}
			tw.Start(ctx)
			defer tw.Stop()

			a.logger.WithField("dir", tw.WatchDir()).Info("Watching tools directory, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	addSelectionFlags(cmd.Flags(), sel)
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-verify whenever the tools directory changes")
	return cmd
}

func (a *app) verifyOnce(ctx context.Context, engine *installer.Engine, sel *selection) (*report.Report, error) {
	if !sel.set() {
		return engine.VerifyFromReport(ctx)
	}
	comps, err := engine.Resolve(sel.profileOr(a.cfg.Profile), sel.overrides())
	if err != nil {
		return nil, err
	}
	return engine.Verify(ctx, comps)
}
