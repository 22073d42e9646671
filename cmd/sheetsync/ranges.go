package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/sheetsync/internal/config"
)

func newRangesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ranges <spreadsheet-id>",
		Short: "List the tabs of a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRanges(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to sheetsync config file")
	return cmd
}

func runRanges(cmd *cobra.Command, configPath, spreadsheetID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	names, err := provider.GetRangeNames(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
