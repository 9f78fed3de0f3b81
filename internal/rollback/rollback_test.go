package rollback

import "testing"

func TestStore_SaveAndRollback(t *testing.T) {
	s := New()
	s.Save("app.py", "fetch", "original source")

	if !s.Has("app.py", "fetch") {
		t.Fatalf("expected Has to report true after Save")
	}

	source, ok := s.Rollback("app.py", "fetch")
	if !ok || source != "original source" {
		t.Fatalf("expected rollback to return the saved source, got %q ok=%v", source, ok)
	}
}

func TestStore_RollbackMissingKeyFails(t *testing.T) {
	s := New()
	_, ok := s.Rollback("app.py", "nonexistent")
	if ok {
		t.Fatalf("expected rollback for an unsaved key to fail")
	}
}

func TestStore_SaveOverwritesPriorSnapshot(t *testing.T) {
	s := New()
	s.Save("app.py", "fetch", "first version")
	s.Save("app.py", "fetch", "second version")

	source, ok := s.Original("app.py", "fetch")
	if !ok || source != "second version" {
		t.Fatalf("expected the latest snapshot to win, got %q", source)
	}
	if s.Len() != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", s.Len())
	}
}

func TestStore_ClearRemovesEverySnapshot(t *testing.T) {
	s := New()
	s.Save("a.py", "fn1", "x")
	s.Save("b.py", "fn2", "y")
	s.Clear()

	if s.Len() != 0 {
		t.Fatalf("expected 0 snapshots after Clear, got %d", s.Len())
	}
	if s.Has("a.py", "fn1") {
		t.Fatalf("expected Has to report false after Clear")
	}
}
