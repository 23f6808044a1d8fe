package journal

import (
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open error: %s", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndReadBack(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordConstant("greeter", 1, "42", "99"); err != nil {
		t.Fatalf("record constant: %s", err)
	}
	if err := j.RecordStackValue(0, 2, `"old"`, `"new"`); err != nil {
		t.Fatalf("record stack value: %s", err)
	}

	entries, err := j.Entries("")
	if err != nil {
		t.Fatalf("entries: %s", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got=%d, want=2", len(entries))
	}

	first := entries[0]
	if first.Op != OpSetConstant || first.FuncName != "greeter" ||
		first.Slot != 1 || first.OldValue != "42" || first.NewValue != "99" {
		t.Errorf("constant entry: got=%+v", first)
	}

	second := entries[1]
	if second.Op != OpSetStackValue || second.Level != 0 || second.Slot != 2 {
		t.Errorf("stack entry: got=%+v", second)
	}

	for _, e := range entries {
		if e.Session != j.Session() {
			t.Errorf("entry session: got=%q, want=%q", e.Session, j.Session())
		}
		if e.At.IsZero() {
			t.Error("entry has zero timestamp")
		}
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("open error: %s", err)
	}
	if err := j1.RecordConstant("f", 0, "1", "2"); err != nil {
		t.Fatalf("record: %s", err)
	}
	session1 := j1.Session()
	j1.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %s", err)
	}
	defer j2.Close()

	if j2.Session() == session1 {
		t.Fatal("sessions not unique across opens")
	}

	current, err := j2.Entries("")
	if err != nil {
		t.Fatalf("entries: %s", err)
	}
	if len(current) != 0 {
		t.Errorf("new session sees old entries: got=%d", len(current))
	}

	old, err := j2.Entries(session1)
	if err != nil {
		t.Fatalf("entries: %s", err)
	}
	if len(old) != 1 {
		t.Errorf("old session entries: got=%d, want=1", len(old))
	}
}

func TestInMemoryJournal(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open error: %s", err)
	}
	defer j.Close()

	if err := j.RecordStackValue(1, 0, "nil", "true"); err != nil {
		t.Fatalf("record: %s", err)
	}
	entries, err := j.Entries("")
	if err != nil {
		t.Fatalf("entries: %s", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries: got=%d, want=1", len(entries))
	}
}
