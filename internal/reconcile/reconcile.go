// Package reconcile applies a classified diff to a target table inside a
// single transaction and reads the tracked state the diff is computed from.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/dialect"
)

// DefaultBatchSize is the number of rows written per statement.
const DefaultBatchSize = 500

// Options tunes an Executor.
type Options struct {
	BatchSize int
	// BatchDelay pauses between statements to spread load on the target.
	BatchDelay time.Duration
	// PurgeOrphans deletes rows whose source_row_index or row_hash is NULL,
	// left behind by writes that predate tracking.
	PurgeOrphans bool
}

// Stats reports the rows touched by one Apply.
type Stats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Orphans   int `json:"orphans,omitempty"`
}

// Executor reconciles tables on one target pool.
type Executor struct {
	pool *dialect.Pool
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// New creates an Executor. A nil logger discards output.
func New(pool *dialect.Pool, opts Options, log *zap.Logger) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{pool: pool, opts: opts, log: log, ensured: make(map[string]bool)}
}

// Dialect returns the dialect of the underlying pool.
func (e *Executor) Dialect() dialect.Dialect { return e.pool.Dialect }

func checkTable(table string) error {
	if !changes.ValidIdentifier(table) {
		return fmt.Errorf("reconcile: invalid table name %q", table)
	}
	return nil
}

func ensureKey(table string, columns []dialect.Column) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name + ":" + string(c.Type)
	}
	return table + "(" + strings.Join(names, ",") + ")"
}

// EnsureSchema creates table if missing and idempotently adds mapped and
// tracking columns plus the unique index on source_row_index. Results are
// cached per table and column set for the life of the Executor.
func (e *Executor) EnsureSchema(ctx context.Context, table string, columns []dialect.Column) error {
	if err := checkTable(table); err != nil {
		return err
	}
	key := ensureKey(table, columns)
	e.mu.Lock()
	done := e.ensured[key]
	e.mu.Unlock()
	if done {
		return nil
	}

	d := e.pool.Dialect
	if _, err := e.pool.ExecContext(ctx, d.BuildCreateTable(table, columns)); err != nil {
		return fmt.Errorf("reconcile: create table %s: %w", table, err)
	}
	for _, c := range append(append([]dialect.Column{}, columns...), dialect.TrackingColumns()...) {
		_, err := e.pool.ExecContext(ctx, d.BuildAddColumn(table, c))
		if err != nil && !d.IsDuplicateColumn(err) {
			return fmt.Errorf("reconcile: add column %s.%s: %w", table, c.Name, err)
		}
	}
	index := dialect.IndexName(table)
	_, err := e.pool.ExecContext(ctx, d.BuildCreateUniqueIndex(table, index, dialect.ColSourceRowIndex))
	if err != nil && !d.IsDuplicateObject(err) {
		return fmt.Errorf("reconcile: create index %s: %w", index, err)
	}

	e.mu.Lock()
	e.ensured[key] = true
	e.mu.Unlock()
	e.log.Debug("schema ensured", zap.String("table", table), zap.Int("columns", len(columns)))
	return nil
}

// Snapshot reads the tracked state of table keyed by source_row_index.
// With withValues the named columns are read too, in order. Rows with a
// NULL source_row_index are counted as orphans; rows with an index but no
// hash are tracked with an empty hash so they classify as changed.
func (e *Executor) Snapshot(ctx context.Context, table string, columns []string, withValues bool) (changes.Snapshot, int, error) {
	if err := checkTable(table); err != nil {
		return nil, 0, err
	}
	d := e.pool.Dialect
	sel := []string{d.QuoteIdentifier(dialect.ColSourceRowIndex), d.QuoteIdentifier(dialect.ColRowHash)}
	if withValues {
		for _, c := range columns {
			sel = append(sel, d.QuoteIdentifier(c))
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(sel, ", "), d.QuoteIdentifier(table))

	rows, err := e.pool.QueryxContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile: snapshot %s: %w", table, err)
	}
	defer rows.Close()

	snap := make(changes.Snapshot)
	orphans := 0
	for rows.Next() {
		cells, err := rows.SliceScan()
		if err != nil {
			return nil, 0, fmt.Errorf("reconcile: snapshot %s: %w", table, err)
		}
		idx, ok := toInt64(cells[0])
		if !ok {
			orphans++
			continue
		}
		t := changes.Tracked{Index: idx}
		if cells[1] == nil {
			orphans++
		} else {
			t.Hash = strings.TrimSpace(toString(cells[1]))
		}
		if withValues {
			t.Values = make([]any, len(cells)-2)
			for i, v := range cells[2:] {
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				t.Values[i] = v
			}
		}
		snap[idx] = t
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reconcile: snapshot %s: %w", table, err)
	}
	return snap, orphans, nil
}

// Apply writes diff to table in one transaction: orphan purge (when
// enabled), deletions, inserts of new rows, then upserts of changed rows.
// Any failure rolls the whole transaction back.
func (e *Executor) Apply(ctx context.Context, table string, columns []string, diff *changes.Diff) (Stats, error) {
	stats := Stats{Unchanged: diff.Unchanged}
	if err := checkTable(table); err != nil {
		return stats, err
	}
	if diff.Empty() && !e.opts.PurgeOrphans {
		return stats, nil
	}

	tx, err := e.pool.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("reconcile: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if e.opts.PurgeOrphans {
		n, err := e.purgeOrphans(ctx, tx, table)
		if err != nil {
			return stats, err
		}
		stats.Orphans = n
	}
	if stats.Deleted, err = e.deleteRows(ctx, tx, table, diff.Deleted); err != nil {
		return stats, err
	}

	all := append(append([]string{}, columns...), dialect.ColSourceRowIndex, dialect.ColRowHash, dialect.ColSyncedAt)
	now := time.Now().UTC()

	inserts := make([]changes.Record, len(diff.New))
	copy(inserts, diff.New)
	if err := e.writeRows(ctx, tx, table, all, inserts, now, false); err != nil {
		return stats, err
	}
	stats.Inserted = len(inserts)

	updates := make([]changes.Record, len(diff.Changed))
	for i, c := range diff.Changed {
		updates[i] = c.Record
	}
	if err := e.writeRows(ctx, tx, table, all, updates, now, true); err != nil {
		return stats, err
	}
	stats.Updated = len(updates)

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("reconcile: commit: %w", err)
	}
	committed = true
	e.log.Debug("diff applied",
		zap.String("table", table),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("orphans", stats.Orphans))
	return stats, nil
}

// batchSize clamps the configured batch size so one statement stays under
// the dialect's bind-parameter ceiling.
func (e *Executor) batchSize(width int) int {
	n := e.opts.BatchSize
	if width > 0 {
		if limit := e.pool.Dialect.MaxParams() / width; n > limit {
			n = limit
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (e *Executor) writeRows(ctx context.Context, tx *sqlx.Tx, table string, columns []string, records []changes.Record, now time.Time, upsert bool) error {
	d := e.pool.Dialect
	size := e.batchSize(len(columns))
	conflict := []string{dialect.ColSourceRowIndex}
	verb := "insert"
	if upsert {
		verb = "upsert"
	}

	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunk := records[start:end]

		var query string
		if upsert {
			query, _ = d.BuildBatchUpsert(table, columns, conflict, len(chunk))
		} else {
			query, _ = d.BuildBatchInsert(table, columns, len(chunk))
		}
		args := make([]any, 0, len(chunk)*len(columns))
		for _, r := range chunk {
			args = append(args, r.Values...)
			args = append(args, r.SourceRowIndex, r.Hash, now)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("reconcile: %s %s rows %d-%d: %w", verb, table, start+1, end, err)
		}
		if err := e.pause(ctx, end < len(records)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) deleteRows(ctx context.Context, tx *sqlx.Tx, table string, indices []int64) (int, error) {
	d := e.pool.Dialect
	size := e.batchSize(1)
	deleted := 0
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		args := make([]any, 0, end-start)
		for _, idx := range indices[start:end] {
			args = append(args, idx)
		}
		res, err := tx.ExecContext(ctx, d.BuildDeleteIn(table, dialect.ColSourceRowIndex, len(args)), args...)
		if err != nil {
			return deleted, fmt.Errorf("reconcile: delete %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
		if err := e.pause(ctx, end < len(indices)); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (e *Executor) purgeOrphans(ctx context.Context, tx *sqlx.Tx, table string) (int, error) {
	d := e.pool.Dialect
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IS NULL OR %s IS NULL",
		d.QuoteIdentifier(table), d.QuoteIdentifier(dialect.ColSourceRowIndex), d.QuoteIdentifier(dialect.ColRowHash))
	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reconcile: purge orphans %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// pause sleeps for BatchDelay between statements when more follow.
func (e *Executor) pause(ctx context.Context, more bool) error {
	if !more || e.opts.BatchDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.opts.BatchDelay):
		return nil
	}
}

// Count returns the number of rows in table.
func (e *Executor) Count(ctx context.Context, table string) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int64
	err := e.pool.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+e.pool.Dialect.QuoteIdentifier(table))
	if err != nil {
		return 0, fmt.Errorf("reconcile: count %s: %w", table, err)
	}
	return n, nil
}

// DropTable drops table and forgets its ensured schema.
func (e *Executor) DropTable(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := e.pool.ExecContext(ctx, e.pool.Dialect.BuildDropTable(table)); err != nil {
		return fmt.Errorf("reconcile: drop table %s: %w", table, err)
	}
	e.mu.Lock()
	for k := range e.ensured {
		if strings.HasPrefix(k, table+"(") {
			delete(e.ensured, k)
		}
	}
	e.mu.Unlock()
	return nil
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
