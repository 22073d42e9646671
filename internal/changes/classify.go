package changes

import (
	"fmt"
	"sort"

	"github.com/zulandar/sheetsync/internal/dialect"
)

// EmptySourcePolicy decides what an empty source read does to tracked rows.
type EmptySourcePolicy string

const (
	// EmptyKeep treats an empty read as a probable upstream fault and
	// deletes nothing.
	EmptyKeep EmptySourcePolicy = "keep"
	// EmptyPurge deletes every tracked row when the source is empty.
	EmptyPurge EmptySourcePolicy = "purge"
)

// ParseEmptySourcePolicy accepts "", "keep" or "purge".
func ParseEmptySourcePolicy(s string) (EmptySourcePolicy, error) {
	switch EmptySourcePolicy(s) {
	case "", EmptyKeep:
		return EmptyKeep, nil
	case EmptyPurge:
		return EmptyPurge, nil
	}
	return "", fmt.Errorf("changes: unknown empty source policy %q", s)
}

// Tracked is the stored state of one row in the target table.
type Tracked struct {
	Index int64
	Hash  string
	// Values holds the mapped column values when the snapshot was read
	// with values, otherwise nil.
	Values []any
}

// Snapshot maps source_row_index to tracked state.
type Snapshot map[int64]Tracked

// Change is a record whose content differs from what is stored.
type Change struct {
	Record       Record
	PreviousHash string
}

// Diff partitions one source read against a snapshot.
type Diff struct {
	New       []Record
	Changed   []Change
	Unchanged int
	// Deleted holds tracked indices absent from the source, ascending.
	Deleted  []int64
	Observed int
}

// Empty reports whether applying d would write nothing.
func (d *Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Changed) == 0 && len(d.Deleted) == 0
}

// ClassifyOptions tunes Classify.
type ClassifyOptions struct {
	EmptySource EmptySourcePolicy
	// VerifyValues compares stored values on a hash match; any difference
	// reclassifies the row as changed. Requires Types and a snapshot read
	// with values.
	VerifyValues bool
	Types        []dialect.ColumnType
}

// Classify partitions records into new, changed, unchanged and deleted.
// Every record lands in exactly one of new, changed or unchanged.
func Classify(records []Record, snap Snapshot, opts ClassifyOptions) *Diff {
	d := &Diff{Observed: len(records)}
	seen := make(map[int64]bool, len(records))
	for _, r := range records {
		seen[r.SourceRowIndex] = true
		prev, ok := snap[r.SourceRowIndex]
		switch {
		case !ok:
			d.New = append(d.New, r)
		case prev.Hash != r.Hash:
			d.Changed = append(d.Changed, Change{Record: r, PreviousHash: prev.Hash})
		case opts.VerifyValues && prev.Values != nil && !valuesEqual(r.Values, prev.Values, opts.Types):
			d.Changed = append(d.Changed, Change{Record: r, PreviousHash: prev.Hash})
		default:
			d.Unchanged++
		}
	}

	if len(records) == 0 && opts.EmptySource != EmptyPurge {
		return d
	}
	for idx := range snap {
		if !seen[idx] {
			d.Deleted = append(d.Deleted, idx)
		}
	}
	sort.Slice(d.Deleted, func(i, j int) bool { return d.Deleted[i] < d.Deleted[j] })
	return d
}

// valuesEqual compares source values with stored values after coercing the
// stored side through the column type, so driver representations (int64
// booleans, time.Time dates, DECIMAL text) compare by meaning.
func valuesEqual(source, stored []any, types []dialect.ColumnType) bool {
	if len(source) != len(stored) {
		return false
	}
	for i := range source {
		t := dialect.TypeString
		if i < len(types) {
			t = types[i]
		}
		a := normalizeValue(Coerce(source[i], t))
		b := normalizeValue(Coerce(stored[i], t))
		if a != b {
			return false
		}
	}
	return true
}
