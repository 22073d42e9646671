package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/job"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Sync job commands",
	}

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsLogsCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		table      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(cmd, configPath, job.ListFilters{Status: status, Table: table})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to sheetsync config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&table, "table", "", "filter by target table")
	return cmd
}

func runJobsList(cmd *cobra.Command, configPath string, filters job.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	jobs, err := job.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTABLE\tSCHEDULE\tSTATUS\tROWS\tLAST RUN\tNEXT RUN")
	for _, j := range jobs {
		schedule := j.Schedule
		if schedule == "" {
			schedule = "manual"
		}
		if !j.Enabled {
			schedule += " (disabled)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Name, j.TargetTable, schedule, j.Status, j.RowCount,
			formatTime(j.LastRunAt), formatTime(j.NextRunAt))
	}
	return w.Flush()
}

func newJobsLogsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "logs <job-id|name>",
		Short: "Show recent runs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsLogs(cmd, configPath, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to sheetsync config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func runJobsLogs(cmd *cobra.Command, configPath, ref string, limit int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	j, err := resolveJob(gormDB, ref)
	if err != nil {
		return err
	}
	runs, err := job.ListRuns(gormDB, j.ID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintf(out, "Job %s has not run yet.\n", j.Name)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tTRIGGER\tSTATUS\tINS\tUPD\tDEL\tSAME\tDURATION\tMESSAGE")
	for _, r := range runs {
		msg := r.Message
		if r.Error != "" {
			msg = r.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, formatTime(&r.StartedAt), r.Trigger, r.Status,
			r.Inserted, r.Updated, r.Deleted, r.Unchanged,
			(time.Duration(r.DurationMs) * time.Millisecond).String(), truncate(msg, 60))
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// truncate shortens s to max runes, adding "..." if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
