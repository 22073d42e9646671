package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Job store management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the job store",
		Long:  "Migrates the job store tables and seeds the jobs declared in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to sheetsync config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded config from %s\n", configPath)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedJobs(gormDB, cfg.Jobs); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d jobs:", len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		fmt.Fprintf(out, " %s", j.Name)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "\nJob store initialized successfully.")
	return nil
}
