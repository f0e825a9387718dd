package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var errHistoryDisabled = errors.New("install history is disabled (database.enabled=false or database unavailable)")

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit     int
		component string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past install and verify runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.History == nil {
				return errHistoryDisabled
			}
			ctx := cmd.Context()

			switch {
			case len(args) == 1:
				run, err := rt.History.FindByID(ctx, args[0])
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd, run)
				}
				cmd.Printf("Run %s (%s, profile %q, %s)\n", run.ID, run.Mode, run.Profile, run.Platform)
				for _, c := range run.Components {
					cmd.Printf("  %-16s %-16s %-14s %s\n", c.ComponentID, c.Status, c.ResolvedVersion, c.Error)
				}

			case component != "":
				results, err := rt.History.ComponentHistory(ctx, component, limit)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd, results)
				}
				for _, r := range results {
					cmd.Printf("%s  %-36s %-16s %s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.RunID, r.Status, r.ResolvedVersion)
				}

			default:
				runs, err := rt.History.List(ctx, limit)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd, runs)
				}
				for _, r := range runs {
					cmd.Printf("%s  %-36s %-8s %-12s %d/%d failed\n",
						r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Mode, r.Profile, r.Failed, r.Total)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	cmd.Flags().StringVar(&component, "component", "", "Show results of one component across runs")
	return cmd
}
