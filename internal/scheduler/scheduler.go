// Package scheduler drives sync jobs on their schedules. It guarantees at
// most one execution per job, gates runs by time-of-day windows, enforces
// a run timeout and recovers jobs left locked by crashed executions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/job"
	"github.com/zulandar/sheetsync/internal/models"
	"github.com/zulandar/sheetsync/internal/notify"
	"github.com/zulandar/sheetsync/internal/pipeline"
	"github.com/zulandar/sheetsync/internal/reconcile"
)

// Defaults for Options fields left zero.
const (
	DefaultTimeout       = 10 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultStaleGrace    = 5 * time.Minute
	DefaultFanOut        = 3
	DefaultAbandonGrace  = 30 * time.Second
)

// Runner performs one reconciliation of a job.
type Runner interface {
	Run(ctx context.Context, j *models.SyncJob) (*pipeline.Result, error)
}

// TimeoutError reports a run that exceeded the execution ceiling.
// Committed is set when the run still committed during AbandonGrace; the
// run is a failure either way.
type TimeoutError struct {
	Timeout   time.Duration
	Committed bool
}

func (e *TimeoutError) Error() string {
	if e.Committed {
		return fmt.Sprintf("timed out after %s (changes committed late)", e.Timeout)
	}
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// Options configures a Scheduler.
type Options struct {
	DB       *gorm.DB
	Runner   Runner
	Logger   *zap.Logger
	Notifier notify.Notifier

	// InstanceID identifies this process in job locks. Generated when empty.
	InstanceID string
	Timeout    time.Duration
	// SweepInterval is how often stuck jobs are looked for.
	SweepInterval time.Duration
	// StaleGrace is added to Timeout before a foreign lock counts as stale.
	StaleGrace time.Duration
	FanOut     int
	WaveDelay  time.Duration
	// AbandonGrace bounds how long a timed-out run may take to roll back
	// before its lock is released anyway.
	AbandonGrace time.Duration
	// StartupRecovery resets every running job when Start is called.
	StartupRecovery bool
	Location        *time.Location
	Now             func() time.Time
}

// Outcome is the result of one execution attempt.
type Outcome struct {
	JobID      uint            `json:"job_id"`
	JobName    string          `json:"job_name,omitempty"`
	RunID      uint            `json:"run_id,omitempty"`
	Status     string          `json:"status"`
	Skipped    bool            `json:"skipped"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stats      reconcile.Stats `json:"stats"`
	RowCount   int64           `json:"row_count"`
	DurationMs int64           `json:"duration_ms"`
}

// Entry describes one scheduled job.
type Entry struct {
	JobID    uint      `json:"job_id"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Scheduler owns the cron timers and execution locks of all jobs.
type Scheduler struct {
	db       *gorm.DB
	runner   Runner
	log      *zap.Logger
	notifier notify.Notifier
	locker   *Locker
	opts     Options
	now      func() time.Time

	cron *cron.Cron

	mu       sync.Mutex
	entries  map[uint]cron.EntryID
	specs    map[uint]string
	sweepID  cron.EntryID
	baseCtx  context.Context
	cancel   context.CancelFunc
	started  bool
	inflight sync.WaitGroup
}

// NewInstanceID returns hostname-suffix, unique per process.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sheetsync"
	}
	return host + "-" + uuid.NewString()[:8]
}

// New creates a Scheduler. Call Start to begin firing timers.
func New(opts Options) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: DB is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("scheduler: Runner is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.InstanceID == "" {
		opts.InstanceID = NewInstanceID()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.StaleGrace <= 0 {
		opts.StaleGrace = DefaultStaleGrace
	}
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	if opts.WaveDelay < 0 {
		opts.WaveDelay = 0
	}
	if opts.AbandonGrace <= 0 {
		opts.AbandonGrace = DefaultAbandonGrace
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Logger.Named("scheduler").With(zap.String("instance", opts.InstanceID))
	s := &Scheduler{
		db:       opts.DB,
		runner:   opts.Runner,
		log:      log,
		notifier: opts.Notifier,
		locker:   NewLocker(opts.DB, opts.InstanceID, opts.Now),
		opts:     opts,
		now:      opts.Now,
		entries:  make(map[uint]cron.EntryID),
		specs:    make(map[uint]string),
	}
	cl := cronLogger{log: log.Sugar()}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(opts.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s.baseCtx, s.cancel = context.Background(), func() {}
	return s, nil
}

// InstanceID returns the lock owner name of this scheduler.
func (s *Scheduler) InstanceID() string { return s.opts.InstanceID }

// Locker returns the scheduler's execution lock.
func (s *Scheduler) Locker() *Locker { return s.locker }

// Start recovers stuck jobs, registers every enabled job and starts the
// timers. Timers stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.opts.StartupRecovery {
		if n, err := s.resetStuck(ctx, "status = ?", models.StatusRunning); err != nil {
			return err
		} else if n > 0 {
			s.log.Warn("reset jobs left running by a previous process", zap.Int("jobs", n))
		}
	}
	if err := s.Reload(ctx); err != nil {
		s.log.Error("some jobs were not scheduled", zap.Error(err))
	}

	s.mu.Lock()
	s.sweepID = s.cron.Schedule(cron.Every(s.opts.SweepInterval), cron.FuncJob(func() {
		if _, err := s.Sweep(s.baseCtx); err != nil {
			s.log.Error("recovery sweep", zap.Error(err))
		}
	}))
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.Duration("timeout", s.opts.Timeout),
		zap.Duration("sweep_interval", s.opts.SweepInterval))
	return nil
}

// Stop cancels all timers and waits for in-flight executions to finish.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.cron.Remove(s.sweepID)
	for id, eid := range s.entries {
		s.cron.Remove(eid)
		delete(s.entries, id)
		delete(s.specs, id)
	}
	s.started = false
	s.mu.Unlock()
	<-stopped.Done()
	s.inflight.Wait()
	s.log.Info("scheduler stopped")
}

// Register schedules j, replacing any previous timer of the same job. Jobs
// without a schedule expression are manual-only and get no timer.
func (s *Scheduler) Register(j *models.SyncJob) error {
	s.Unregister(j.ID)
	if j.Schedule == "" || !j.Enabled {
		return nil
	}
	sched, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %d (%s): %w", j.ID, j.Name, err)
	}
	id := j.ID
	eid := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id) }))

	s.mu.Lock()
	s.entries[id] = eid
	s.specs[id] = j.Schedule
	s.mu.Unlock()

	next := sched.Next(s.now().In(s.opts.Location))
	if err := job.SetNextRun(s.db, id, &next); err != nil {
		s.log.Warn("record next run", zap.Uint("job_id", id), zap.Error(err))
	}
	s.log.Debug("job scheduled", zap.Uint("job_id", id), zap.String("schedule", j.Schedule), zap.Time("next", next))
	return nil
}

// Unregister removes the timer of job id, if any.
func (s *Scheduler) Unregister(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eid, ok := s.entries[id]; ok {
		s.cron.Remove(eid)
		delete(s.entries, id)
		delete(s.specs, id)
	}
}

// Reload drops every job timer and re-registers the enabled jobs from the
// store. Jobs with invalid schedules are skipped and reported in the
// returned error.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	for id, eid := range s.entries {
		s.cron.Remove(eid)
		delete(s.entries, id)
		delete(s.specs, id)
	}
	s.mu.Unlock()

	enabled := true
	jobs, err := job.List(s.db.WithContext(ctx), job.ListFilters{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("scheduler: reload: %w", err)
	}
	var errs []error
	for i := range jobs {
		if err := s.Register(&jobs[i]); err != nil {
			s.log.Error("invalid job schedule", zap.Uint("job_id", jobs[i].ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	s.log.Info("jobs loaded", zap.Int("jobs", len(jobs)), zap.Int("scheduled", len(s.Entries())))
	return errors.Join(errs...)
}

// Entries lists the scheduled jobs. Next is zero until the scheduler starts.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for id, eid := range s.entries {
		out = append(out, Entry{JobID: id, Schedule: s.specs[id], Next: s.cron.Entry(eid).Next})
	}
	return out
}

// fire is the timer callback of job id.
func (s *Scheduler) fire(id uint) {
	out, err := s.execute(s.baseCtx, id, models.TriggerSchedule)
	switch {
	case errors.Is(err, ErrLocked):
		s.log.Debug("job already running, skipping fire", zap.Uint("job_id", id))
	case errors.Is(err, ErrJobNotFound):
		s.log.Warn("scheduled job no longer exists", zap.Uint("job_id", id))
		s.Unregister(id)
	case err != nil:
		s.log.Error("scheduled run failed", zap.Uint("job_id", id), zap.String("job", out.JobName), zap.Error(err))
	}
}

// RunNow executes job id immediately, outside its timer and window. It
// returns ErrLocked when the job is already running and ErrJobNotFound for
// unknown jobs. A failed run returns its Outcome together with the error.
func (s *Scheduler) RunNow(ctx context.Context, id uint) (Outcome, error) {
	return s.execute(ctx, id, models.TriggerManual)
}

// RunByTable runs the job that owns table on connection. An empty
// connection is accepted when only one job writes a table of that name;
// otherwise job.ErrAmbiguousTable is returned.
func (s *Scheduler) RunByTable(ctx context.Context, connection, table string) (Outcome, error) {
	j, err := job.GetByTable(s.db.WithContext(ctx), connection, table)
	if err != nil {
		return Outcome{}, err
	}
	return s.execute(ctx, j.ID, models.TriggerManual)
}

// RunAll executes the given jobs, or every enabled job when ids is empty,
// with at most FanOut running at once and WaveDelay between waves. Every
// job runs; failures are joined into the returned error.
func (s *Scheduler) RunAll(ctx context.Context, ids []uint) ([]Outcome, error) {
	if len(ids) == 0 {
		enabled := true
		jobs, err := job.List(s.db.WithContext(ctx), job.ListFilters{Enabled: &enabled})
		if err != nil {
			return nil, fmt.Errorf("scheduler: run all: %w", err)
		}
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
	}

	outcomes := make([]Outcome, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(s.opts.FanOut)
	for i, id := range ids {
		// Each wave of FanOut launches waits WaveDelay; a launch also waits
		// for a free slot.
		if i > 0 && i%s.opts.FanOut == 0 && s.opts.WaveDelay > 0 {
			select {
			case <-ctx.Done():
				_ = g.Wait()
				return outcomes[:i], ctx.Err()
			case <-time.After(s.opts.WaveDelay):
			}
		}
		g.Go(func() error {
			out, err := s.execute(ctx, id, models.TriggerFanOut)
			outcomes[i] = out
			if err != nil {
				errs[i] = fmt.Errorf("job %d: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}

// execute performs lock, run log, window check, timed run, finalize and
// release for job id.
func (s *Scheduler) execute(ctx context.Context, id uint, trigger string) (Outcome, error) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	out := Outcome{JobID: id}
	j, err := job.Get(s.db.WithContext(ctx), id)
	if err != nil {
		return out, err
	}
	out.JobName = j.Name
	if trigger != models.TriggerManual && !j.Enabled {
		out.Skipped = true
		out.Status = models.StatusSkipped
		out.Message = "job is disabled"
		return out, nil
	}
	prior := j.Status

	lease, err := s.locker.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			out.Skipped = true
			out.Status = models.StatusSkipped
			out.Message = "job is already running"
		}
		return out, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.log.Error("release lock", zap.Uint("job_id", id), zap.Error(err))
		}
	}()

	log := s.log.With(zap.Uint("job_id", id), zap.String("job", j.Name), zap.String("trigger", trigger))
	started := s.now()
	run, err := job.StartRun(s.db.WithContext(ctx), id, trigger, s.opts.InstanceID, started)
	if err != nil {
		return out, err
	}
	out.RunID = run.ID

	var (
		res    *pipeline.Result
		runErr error
		status = models.StatusSuccess
	)
	w, hasWindow, werr := ParseWindow(j.WindowStart, j.WindowEnd)
	switch {
	case werr != nil:
		runErr = werr
	case hasWindow && trigger != models.TriggerManual && !w.Contains(started.In(s.opts.Location)):
		status = models.StatusSkipped
		out.Skipped = true
		out.Message = fmt.Sprintf("outside window %s", w)
	default:
		log.Info("sync started")
		res, runErr = s.runWithTimeout(ctx, j, log)
	}
	if runErr != nil {
		status = models.StatusFailed
		out.Error = runErr.Error()
		out.Message = "sync failed"
		var te *TimeoutError
		if errors.As(runErr, &te) {
			out.Message = "sync timed out"
		}
	}
	if res != nil {
		out.Stats = res.Stats
		out.RowCount = res.RowCount
		if runErr == nil {
			out.Message = res.Message
		} else {
			out.Message += ": " + res.Message
		}
	}
	out.Status = status

	finished := s.now()
	out.DurationMs = finished.Sub(started).Milliseconds()
	s.finalize(ctx, j, run, out, finished, log)

	if runErr != nil {
		log.Error("sync failed", zap.Error(runErr), zap.Int64("duration_ms", out.DurationMs))
		kind := notify.KindFailed
		var te *TimeoutError
		if errors.As(runErr, &te) {
			kind = notify.KindTimedOut
		}
		s.notify(ctx, j, kind, out)
		return out, runErr
	}
	if out.Skipped {
		log.Info("sync skipped", zap.String("reason", out.Message))
	} else {
		log.Info("sync succeeded", zap.String("message", out.Message), zap.Int64("duration_ms", out.DurationMs))
		if prior == models.StatusFailed {
			s.notify(ctx, j, notify.KindRecovered, out)
		}
	}
	return out, nil
}

// runWithTimeout races the runner against the execution ceiling. A run
// that misses the ceiling gets AbandonGrace to roll back before the caller
// moves on. One that commits inside the grace instead is returned with its
// result and a TimeoutError.
func (s *Scheduler) runWithTimeout(ctx context.Context, j *models.SyncJob, log *zap.Logger) (*pipeline.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	type result struct {
		res *pipeline.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("scheduler: run panicked: %v", r)}
			}
		}()
		res, err := s.runner.Run(runCtx, j)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Timeout: s.opts.Timeout}
		}
		return r.res, r.err
	case <-runCtx.Done():
	}

	select {
	case r := <-done:
		if r.err == nil {
			if ctx.Err() != nil {
				return r.res, nil
			}
			log.Warn("run committed after the ceiling", zap.Duration("timeout", s.opts.Timeout))
			return r.res, &TimeoutError{Timeout: s.opts.Timeout, Committed: true}
		}
	case <-time.After(s.opts.AbandonGrace):
		log.Warn("abandoning run that ignored cancellation", zap.Duration("grace", s.opts.AbandonGrace))
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("scheduler: run cancelled: %w", ctx.Err())
	}
	return nil, &TimeoutError{Timeout: s.opts.Timeout}
}

// finalize records the outcome on the run log and the job, and clears the
// lock columns. Writes survive cancellation of ctx.
func (s *Scheduler) finalize(ctx context.Context, j *models.SyncJob, run *models.SyncRunLog, out Outcome, at time.Time, log *zap.Logger) {
	db := s.db.WithContext(context.WithoutCancel(ctx))

	run.Status = out.Status
	run.Message = out.Message
	run.Error = out.Error
	run.Inserted = out.Stats.Inserted
	run.Updated = out.Stats.Updated
	run.Deleted = out.Stats.Deleted
	run.Unchanged = out.Stats.Unchanged
	if err := job.FinishRun(db, run, at); err != nil {
		log.Error("finish run log", zap.Error(err))
	}

	var next interface{}
	if j.Schedule != "" && j.Enabled {
		if t, err := NextRun(j.Schedule, at.In(s.opts.Location)); err == nil {
			next = t
		}
	}
	res := db.Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND locked_by = ?", j.ID, models.StatusRunning, s.opts.InstanceID).
		Updates(map[string]interface{}{
			"status":      out.Status,
			"last_run_at": at,
			"next_run_at": next,
			"last_error":  out.Error,
			"locked_by":   "",
			"locked_at":   nil,
		})
	if res.Error != nil {
		log.Error("record job outcome", zap.Error(res.Error))
	} else if res.RowsAffected == 0 {
		log.Warn("job lock was reset during the run")
	}
}

func (s *Scheduler) notify(ctx context.Context, j *models.SyncJob, kind string, out Outcome) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	evt := notify.Event{
		Kind:     kind,
		JobID:    j.ID,
		JobName:  j.Name,
		Table:    j.TargetTable,
		Message:  out.Message,
		Error:    out.Error,
		Duration: time.Duration(out.DurationMs) * time.Millisecond,
		At:       s.now(),
	}
	if err := s.notifier.Notify(nctx, evt); err != nil {
		s.log.Warn("notify", zap.Uint("job_id", j.ID), zap.String("kind", kind), zap.Error(err))
	}
}

// Sweep resets jobs stuck in running: those locked longer than Timeout
// plus StaleGrace, and those locked by this instance without an
// in-process holder. It also fails run logs left running by jobs that are
// no longer locked. It returns the number of jobs reset.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-(s.opts.Timeout + s.opts.StaleGrace))

	var mine []models.SyncJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND locked_by = ?", models.StatusRunning, s.opts.InstanceID).
		Find(&mine).Error
	if err != nil {
		return 0, fmt.Errorf("scheduler: sweep: %w", err)
	}
	var orphaned []uint
	for _, j := range mine {
		if !s.locker.Held(j.ID) {
			orphaned = append(orphaned, j.ID)
		}
	}

	n, err := s.resetStuck(ctx, "status = ? AND (locked_at IS NULL OR locked_at < ?)", models.StatusRunning, cutoff)
	if err != nil {
		return n, err
	}
	if len(orphaned) > 0 {
		m, err := s.resetStuck(ctx, "status = ? AND locked_by = ? AND id IN ?", models.StatusRunning, s.opts.InstanceID, orphaned)
		n += m
		if err != nil {
			return n, err
		}
	}

	// Logs can only be running while their job is.
	res := s.db.WithContext(ctx).Model(&models.SyncRunLog{}).
		Where("status = ? AND job_id NOT IN (?)", models.StatusRunning,
			s.db.Model(&models.SyncJob{}).Select("id").Where("status = ?", models.StatusRunning)).
		Updates(map[string]interface{}{
			"status":       models.StatusFailed,
			"error":        InterruptedMessage,
			"completed_at": s.now(),
		})
	if res.Error != nil {
		return n, fmt.Errorf("scheduler: sweep run logs: %w", res.Error)
	}
	if n > 0 || res.RowsAffected > 0 {
		s.log.Warn("recovery sweep reset stuck jobs", zap.Int("jobs", n), zap.Int64("run_logs", res.RowsAffected))
	}
	return n, nil
}

// resetStuck resets the running jobs matching query to idle and fails their
// running logs.
func (s *Scheduler) resetStuck(ctx context.Context, query string, args ...interface{}) (int, error) {
	var stuck []models.SyncJob
	if err := s.db.WithContext(ctx).Where(query, args...).Find(&stuck).Error; err != nil {
		return 0, fmt.Errorf("scheduler: find stuck jobs: %w", err)
	}
	now := s.now()
	reset := 0
	for i := range stuck {
		j := &stuck[i]
		if s.locker.Held(j.ID) && j.LockedBy == s.opts.InstanceID {
			continue
		}
		res := s.db.WithContext(ctx).Model(&models.SyncJob{}).
			Where("id = ? AND status = ?", j.ID, models.StatusRunning).
			Updates(map[string]interface{}{
				"status":     models.StatusIdle,
				"last_error": InterruptedMessage,
				"locked_by":  "",
				"locked_at":  nil,
			})
		if res.Error != nil {
			return reset, fmt.Errorf("scheduler: reset job %d: %w", j.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		reset++
		if _, err := job.FailRunning(s.db.WithContext(ctx), j.ID, InterruptedMessage, now); err != nil {
			return reset, err
		}
		s.log.Warn("reset stuck job", zap.Uint("job_id", j.ID), zap.String("job", j.Name), zap.String("locked_by", j.LockedBy))
		s.notify(ctx, j, notify.KindReset, Outcome{Message: InterruptedMessage})
	}
	return reset, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
