package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/catalog"
	"github.com/apk-analysis/toolsetup/internal/domain"
	"github.com/spf13/cobra"
)

func newProfilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List install profiles and their components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Default()
			if err != nil {
				return err
			}

			out := make(map[string][]string)
			for _, p := range cat.Profiles() {
				ids, _ := cat.ProfileComponents(p)
				out[string(p)] = ids
			}
			if a.jsonOut {
				return printJSON(cmd, out)
			}

			for _, p := range cat.Profiles() {
				marker := " "
				if string(p) == a.cfg.Profile {
					marker = "*"
				}
				cmd.Printf("%s %-12s %s\n", marker, p, strings.Join(out[string(p)], ", "))
			}
			return nil
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	sel := &selection{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the components a profile expands to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Default()
			if err != nil {
				return err
			}
			comps, err := cat.Resolve(sel.profileOr(a.cfg.Profile), sel.overrides())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, comps)
			}
			printComponents(cmd, comps)
			return nil
		},
	}
	addSelectionFlags(cmd.Flags(), sel)
	return cmd
}

func printComponents(cmd *cobra.Command, comps []*domain.Component) {
	cmd.Printf("%-16s %-16s %-14s %s\n", "Component", "Kind", "Constraint", "Paired")
	for _, c := range comps {
		constraint := c.Constraint
		if constraint == "" {
			constraint = "latest"
		}
		cmd.Printf("%-16s %-16s %-14s %s\n", c.ID, c.Kind, constraint, c.PairedWith)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
