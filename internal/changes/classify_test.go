package changes

import (
	"reflect"
	"testing"
	"time"

	"github.com/zulandar/sheetsync/internal/dialect"
)

func rec(idx int64, values ...any) Record {
	return Record{SourceRowIndex: idx, Values: values, Hash: Hash(values)}
}

func snapshotOf(records ...Record) Snapshot {
	s := Snapshot{}
	for _, r := range records {
		s[r.SourceRowIndex] = Tracked{Index: r.SourceRowIndex, Hash: r.Hash, Values: r.Values}
	}
	return s
}

func TestClassify_Partitions(t *testing.T) {
	snap := snapshotOf(
		rec(1, "Bob", int64(41)),
		rec(2, "Ann", int64(30)),
		rec(5, "Gone", int64(1)),
		rec(4, "Gone too", int64(2)),
	)
	records := []Record{
		rec(1, "Bob", int64(41)),
		rec(2, "Ann", int64(31)),
		rec(3, "Cid", int64(22)),
	}
	d := Classify(records, snap, ClassifyOptions{})

	if len(d.New) != 1 || d.New[0].SourceRowIndex != 3 {
		t.Errorf("new = %+v, want index 3", d.New)
	}
	if len(d.Changed) != 1 || d.Changed[0].Record.SourceRowIndex != 2 {
		t.Fatalf("changed = %+v, want index 2", d.Changed)
	}
	if d.Changed[0].PreviousHash != snap[2].Hash {
		t.Error("changed row must carry the previous hash")
	}
	if d.Unchanged != 1 {
		t.Errorf("unchanged = %d, want 1", d.Unchanged)
	}
	if !reflect.DeepEqual(d.Deleted, []int64{4, 5}) {
		t.Errorf("deleted = %v, want [4 5]", d.Deleted)
	}
	if got := len(d.New) + len(d.Changed) + d.Unchanged; got != d.Observed {
		t.Errorf("partition covers %d of %d observed rows", got, d.Observed)
	}
}

func TestClassify_AnnLifecycle(t *testing.T) {
	maps := []Mapping{{Source: "Name"}, {Source: "Email"}, {Source: "Age"}}
	header := []any{"Name", "Email", "Age"}
	bob := []any{"Bob", "bob@x.com", "41"}

	run := func(rows [][]any, snap Snapshot) (*Diff, Snapshot) {
		res, err := Transform(append([][]any{header}, rows...), maps, TransformOptions{HasHeader: true})
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		d := Classify(res.Records, snap, ClassifyOptions{EmptySource: EmptyKeep})
		next := Snapshot{}
		for k, v := range snap {
			next[k] = v
		}
		for _, r := range d.New {
			next[r.SourceRowIndex] = Tracked{Index: r.SourceRowIndex, Hash: r.Hash}
		}
		for _, c := range d.Changed {
			next[c.Record.SourceRowIndex] = Tracked{Index: c.Record.SourceRowIndex, Hash: c.Record.Hash}
		}
		for _, idx := range d.Deleted {
			delete(next, idx)
		}
		return d, next
	}

	d, snap := run([][]any{bob, {"Ann", "ann@x.com", "30"}}, Snapshot{})
	if len(d.New) != 2 {
		t.Fatalf("first run new = %d, want 2", len(d.New))
	}
	h1 := snap[2].Hash

	d, snap = run([][]any{bob, {"Ann", "ann@x.com", "30"}}, snap)
	if !d.Empty() || d.Unchanged != 2 {
		t.Fatalf("rerun should be a no-op, got %+v", d)
	}

	d, snap = run([][]any{bob, {"Ann", "ann@x.com", "31"}}, snap)
	if len(d.Changed) != 1 || d.Changed[0].Record.SourceRowIndex != 2 || d.Unchanged != 1 {
		t.Fatalf("edit run = %+v, want one update at index 2", d)
	}
	if snap[2].Hash == h1 {
		t.Error("edited row kept its old hash")
	}

	d, _ = run([][]any{bob}, snap)
	if !reflect.DeepEqual(d.Deleted, []int64{2}) || d.Unchanged != 1 {
		t.Fatalf("removal run = %+v, want deleted [2]", d)
	}
}

func TestClassify_EmptySourcePolicy(t *testing.T) {
	snap := snapshotOf(rec(1, "a"), rec(2, "b"))

	d := Classify(nil, snap, ClassifyOptions{EmptySource: EmptyKeep})
	if len(d.Deleted) != 0 {
		t.Errorf("keep policy deleted %v", d.Deleted)
	}
	d = Classify(nil, snap, ClassifyOptions{})
	if len(d.Deleted) != 0 {
		t.Errorf("default policy deleted %v", d.Deleted)
	}
	d = Classify(nil, snap, ClassifyOptions{EmptySource: EmptyPurge})
	if !reflect.DeepEqual(d.Deleted, []int64{1, 2}) {
		t.Errorf("purge policy deleted %v, want [1 2]", d.Deleted)
	}
}

func TestParseEmptySourcePolicy(t *testing.T) {
	for in, want := range map[string]EmptySourcePolicy{"": EmptyKeep, "keep": EmptyKeep, "purge": EmptyPurge} {
		got, err := ParseEmptySourcePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseEmptySourcePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseEmptySourcePolicy("delete"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestClassify_VerifyValues(t *testing.T) {
	types := []dialect.ColumnType{dialect.TypeString, dialect.TypeBoolean, dialect.TypeDate, dialect.TypeDecimal}
	r := rec(1, "Ann", true, "2024-03-05", 12.5)

	// Same hash, stored values in driver form: equal by meaning.
	snap := Snapshot{1: {Index: 1, Hash: r.Hash, Values: []any{"Ann", int64(1), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), "12.500000"}}}
	d := Classify([]Record{r}, snap, ClassifyOptions{VerifyValues: true, Types: types})
	if d.Unchanged != 1 {
		t.Errorf("equivalent stored values classified as %+v", d)
	}

	// Same hash, different stored content: treated as a collision.
	snap = Snapshot{1: {Index: 1, Hash: r.Hash, Values: []any{"Bob", int64(1), "2024-03-05", "12.5"}}}
	d = Classify([]Record{r}, snap, ClassifyOptions{VerifyValues: true, Types: types})
	if len(d.Changed) != 1 {
		t.Errorf("value mismatch on hash match should be changed, got %+v", d)
	}

	// Without verification the hash alone decides.
	d = Classify([]Record{r}, snap, ClassifyOptions{Types: types})
	if d.Unchanged != 1 {
		t.Errorf("unverified hash match should be unchanged, got %+v", d)
	}
}
