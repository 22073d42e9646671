// Package pipeline runs one reconciliation of a sync job: fetch, classify,
// apply, record.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/dialect"
	"github.com/zulandar/sheetsync/internal/job"
	"github.com/zulandar/sheetsync/internal/models"
	"github.com/zulandar/sheetsync/internal/reconcile"
	"github.com/zulandar/sheetsync/internal/source"
)

// Options tunes change detection and apply.
type Options struct {
	Reconcile    reconcile.Options
	EmptySource  changes.EmptySourcePolicy
	VerifyValues bool
}

// Result summarizes one run.
type Result struct {
	Stats    reconcile.Stats `json:"stats"`
	RowCount int64           `json:"row_count"`
	Message  string          `json:"message"`
	// Missing lists mapped source columns absent from the source header.
	Missing []string `json:"missing,omitempty"`
}

// Pipeline executes job runs against the configured targets.
type Pipeline struct {
	db       *gorm.DB
	targets  *dialect.Registry
	provider source.Provider
	opts     Options
	log      *zap.Logger

	mu        sync.Mutex
	executors map[string]*reconcile.Executor
}

// New creates a Pipeline. A nil logger discards output.
func New(db *gorm.DB, targets *dialect.Registry, provider source.Provider, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.EmptySource == "" {
		opts.EmptySource = changes.EmptyKeep
	}
	return &Pipeline{
		db:        db,
		targets:   targets,
		provider:  provider,
		opts:      opts,
		log:       log,
		executors: make(map[string]*reconcile.Executor),
	}
}

// Provider returns the source provider the pipeline reads from.
func (p *Pipeline) Provider() source.Provider { return p.provider }

// Executor returns the cached executor for a named connection.
func (p *Pipeline) Executor(connection string) (*reconcile.Executor, error) {
	connection = dialect.ConnectionName(connection)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.executors[connection]; ok {
		return e, nil
	}
	pool, err := p.targets.Get(connection)
	if err != nil {
		return nil, err
	}
	e := reconcile.New(pool, p.opts.Reconcile, p.log.Named("reconcile"))
	p.executors[connection] = e
	return e, nil
}

// Run reconciles the target table of j with its source. The target write
// is atomic: on error nothing has been applied.
func (p *Pipeline) Run(ctx context.Context, j *models.SyncJob) (*Result, error) {
	log := p.log.With(zap.Uint("job_id", j.ID), zap.String("table", j.TargetTable))

	mappings, err := job.Mappings(j)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	loc := source.Locator{SpreadsheetID: j.SpreadsheetID, Sheet: j.SheetName}
	rows, err := p.provider.GetRows(ctx, loc, j.Range)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch: %w", err)
	}

	tr, err := changes.Transform(rows, mappings, changes.TransformOptions{HasHeader: j.HasHeader})
	if err != nil {
		return nil, fmt.Errorf("pipeline: transform: %w", err)
	}
	if len(tr.Missing) > 0 {
		log.Warn("mapped columns missing from source", zap.Strings("columns", tr.Missing))
	}

	exec, err := p.Executor(j.Connection)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := exec.EnsureSchema(ctx, j.TargetTable, changes.Columns(tr.Mappings)); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	targets := make([]string, len(tr.Mappings))
	types := make([]dialect.ColumnType, len(tr.Mappings))
	for i, m := range tr.Mappings {
		targets[i] = m.Target
		types[i] = m.Type
	}
	snap, orphans, err := exec.Snapshot(ctx, j.TargetTable, targets, p.opts.VerifyValues)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if orphans > 0 && !p.opts.Reconcile.PurgeOrphans {
		log.Warn("untracked rows in target table", zap.Int("orphans", orphans))
	}

	diff := changes.Classify(tr.Records, snap, changes.ClassifyOptions{
		EmptySource:  p.opts.EmptySource,
		VerifyValues: p.opts.VerifyValues,
		Types:        types,
	})
	stats, err := exec.Apply(ctx, j.TargetTable, targets, diff)
	if err != nil {
		return nil, fmt.Errorf("pipeline: apply: %w", err)
	}

	// Freeze inferred types once real data has been seen.
	if len(tr.Records) > 0 && inferred(mappings) {
		if err := job.SaveMappings(p.db, j.ID, tr.Mappings); err != nil {
			log.Warn("save resolved mappings", zap.Error(err))
		}
	}

	res := &Result{Stats: stats, Missing: tr.Missing}
	if n, err := exec.Count(ctx, j.TargetTable); err == nil {
		res.RowCount = n
		if err := p.db.Model(&models.SyncJob{}).Where("id = ?", j.ID).Update("row_count", n).Error; err != nil {
			log.Warn("update row count", zap.Error(err))
		}
	}
	res.Message = message(stats, len(rows) == 0 || len(tr.Records) == 0, len(snap), p.opts.EmptySource)
	log.Info("sync complete",
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("unchanged", stats.Unchanged))
	return res, nil
}

// DropTable drops the target table of j.
func (p *Pipeline) DropTable(ctx context.Context, j *models.SyncJob) error {
	exec, err := p.Executor(j.Connection)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return exec.DropTable(ctx, j.TargetTable)
}

func inferred(mappings []changes.Mapping) bool {
	for _, m := range mappings {
		if m.Type == dialect.TypeAuto || m.Type == "" {
			return true
		}
	}
	return false
}

func message(s reconcile.Stats, empty bool, tracked int, policy changes.EmptySourcePolicy) string {
	if empty && policy == changes.EmptyKeep && tracked > 0 {
		return fmt.Sprintf("source returned no rows; kept %d tracked rows", tracked)
	}
	msg := fmt.Sprintf("inserted %d, updated %d, deleted %d, unchanged %d",
		s.Inserted, s.Updated, s.Deleted, s.Unchanged)
	if s.Orphans > 0 {
		msg += fmt.Sprintf(", purged %d orphans", s.Orphans)
	}
	return msg
}
