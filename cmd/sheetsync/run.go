package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/job"
	"github.com/zulandar/sheetsync/internal/models"
	"github.com/zulandar/sheetsync/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "run [job-id|name]",
		Short: "Run a sync job now",
		Long:  "Runs one job (by id or name), or every enabled job with --all, and prints the outcome.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no job argument")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("requires a job id or name (or --all)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return runRun(cmd, configPath, ref, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to sheetsync config file")
	cmd.Flags().BoolVar(&all, "all", false, "run every enabled job in fan-out waves")
	return cmd
}

func runRun(cmd *cobra.Command, configPath, ref string, all bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if all {
		outcomes, err := a.sched.RunAll(ctx, nil)
		for _, o := range outcomes {
			printOutcome(out, o)
		}
		return err
	}

	j, err := resolveJob(a.db, ref)
	if err != nil {
		return err
	}
	o, err := a.sched.RunNow(ctx, j.ID)
	if errors.Is(err, scheduler.ErrLocked) {
		fmt.Fprintf(out, "Job %s is already running; nothing to do.\n", j.Name)
		return err
	}
	printOutcome(out, o)
	return err
}

// resolveJob finds a job by numeric id, falling back to its name.
func resolveJob(db *gorm.DB, ref string) (*models.SyncJob, error) {
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		j, err := job.Get(db, uint(id))
		if err == nil || !errors.Is(err, job.ErrNotFound) {
			return j, err
		}
	}
	return job.GetByName(db, ref)
}

func printOutcome(w io.Writer, o scheduler.Outcome) {
	name := o.JobName
	if name == "" {
		name = "#" + strconv.FormatUint(uint64(o.JobID), 10)
	}
	fmt.Fprintf(w, "Job %s: %s", name, o.Status)
	if o.Message != "" {
		fmt.Fprintf(w, " (%s)", o.Message)
	}
	fmt.Fprintln(w)
	if o.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", o.Error)
		return
	}
	if !o.Skipped {
		fmt.Fprintf(w, "  inserted=%d updated=%d deleted=%d unchanged=%d rows=%d (%dms)\n",
			o.Stats.Inserted, o.Stats.Updated, o.Stats.Deleted, o.Stats.Unchanged, o.RowCount, o.DurationMs)
	}
}
