package ledger

import (
	"errors"
	"path/filepath"
	"testing"
)

func shapes(stack ...string) []Target {
	return []Target{{Offset: 4, Stack: stack}}
}

func TestRecordAndList(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := l.Record(Entry{Method: "A::F", OK: true, Restarts: 1, Targets: shapes("int32")}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := l.Record(Entry{Method: "A::G", Error: "stack underflow"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := l.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() has %d entries, want 2", len(all))
	}

	f := all[0]
	if f.Method != "A::F" || !f.OK || f.Restarts != 1 {
		t.Errorf("entry = %+v", f)
	}
	if len(f.Targets) != 1 || f.Targets[0].Offset != 4 || f.Targets[0].Stack[0] != "int32" {
		t.Errorf("targets = %+v, want one int32 target at 4", f.Targets)
	}
	if f.Run != l.Run() {
		t.Errorf("run = %s, want %s", f.Run, l.Run())
	}
	if f.Recorded.IsZero() {
		t.Error("recorded time not set")
	}

	g, err := l.List("A::G")
	if err != nil {
		t.Fatalf("List(A::G): %v", err)
	}
	if len(g) != 1 || g[0].OK || g[0].Error != "stack underflow" {
		t.Errorf("List(A::G) = %+v", g)
	}
}

func TestRecordDetectsChangedShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if changed, _ := l.Record(Entry{Method: "A::F", OK: true, Targets: shapes("int32")}); changed {
		t.Error("first entry reported as changed")
	}
	l.Close()

	// A second run against the same file compares with the first.
	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	tests := []struct {
		name    string
		entry   Entry
		changed bool
	}{
		{"same shapes", Entry{Method: "A::F", OK: true, Targets: shapes("int32")}, false},
		{"failure is never a change", Entry{Method: "A::F", Error: "bad"}, false},
		{"different shapes", Entry{Method: "A::F", OK: true, Targets: shapes("float")}, true},
		{"compared with the latest success", Entry{Method: "A::F", OK: true, Targets: shapes("float")}, false},
		{"other method", Entry{Method: "A::G", OK: true, Targets: shapes("object")}, false},
	}
	for _, tt := range tests {
		changed, err := l.Record(tt.entry)
		if err != nil {
			t.Fatalf("%s: Record: %v", tt.name, err)
		}
		if changed != tt.changed {
			t.Errorf("%s: changed = %v, want %v", tt.name, changed, tt.changed)
		}
	}

	runs := map[string]bool{}
	entries, _ := l.List("A::F")
	for _, e := range entries {
		runs[e.Run.String()] = true
	}
	if len(runs) != 2 {
		t.Errorf("entries span %d runs, want 2", len(runs))
	}
}

func TestLatest(t *testing.T) {
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Record(Entry{Method: "B::Y", OK: true})
	l.Record(Entry{Method: "A::X", Error: "first"})
	l.Record(Entry{Method: "A::X", OK: true})

	latest, err := l.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("Latest() has %d entries, want 2", len(latest))
	}
	if latest[0].Method != "A::X" || !latest[0].OK {
		t.Errorf("latest[0] = %+v, want successful A::X", latest[0])
	}
	if latest[1].Method != "B::Y" {
		t.Errorf("latest[1] = %s, want B::Y", latest[1].Method)
	}
}

func TestClosed(t *testing.T) {
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Close()
	if _, err := l.Record(Entry{Method: "A::F"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want %v", err, ErrClosed)
	}
	if _, err := l.List(""); !errors.Is(err, ErrClosed) {
		t.Errorf("List after Close = %v, want %v", err, ErrClosed)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
