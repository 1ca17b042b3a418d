package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/db"
	"github.com/zapdesk/zapdesk/internal/deal"
	"github.com/zapdesk/zapdesk/internal/registry"
)

func newDealsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deals",
		Short: "Deal pipeline maintenance commands",
	}

	cmd.AddCommand(newDealsBackfillCmd())
	return cmd
}

func newDealsBackfillCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Move open deals off stages that no longer exist",
		Long:  "After a funnel is restructured, open deals can reference removed stages. Backfill moves them to their funnel's first stage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDealsBackfill(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "zapdesk.yaml", "path to config file")
	return cmd
}

func runDealsBackfill(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	reg, err := registry.Build(gormDB)
	if err != nil {
		return err
	}

	moved, err := deal.Backfill(gormDB, reg)
	if err != nil {
		return err
	}
	if len(moved) == 0 {
		fmt.Fprintln(out, "All open deals already sit on valid stages")
		return nil
	}
	for category, n := range moved {
		fmt.Fprintf(out, "%s: moved %d deal(s) to the first stage\n", category, n)
	}
	return nil
}
