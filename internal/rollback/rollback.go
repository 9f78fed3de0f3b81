// Package rollback holds per-(file,function) source snapshots taken before a
// patch attempt, so a failed validation or a risk-increasing re-scan can
// restore the working source map to its pre-patch state.
package rollback

import (
	"sync"

	"guardrail/internal/logging"
)

// Snapshot is one saved copy of a function's original source.
type Snapshot struct {
	FilePath       string
	FunctionName   string
	OriginalSource string
}

// Store manages snapshots for safe rollback. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// New creates an empty snapshot store.
func New() *Store {
	return &Store{snapshots: make(map[string]Snapshot)}
}

func key(filePath, functionName string) string {
	return filePath + "::" + functionName
}

// Save records the original source for (filePath, functionName) before any
// patch attempt. A later Save for the same key overwrites the prior snapshot.
func (s *Store) Save(filePath, functionName, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(filePath, functionName)
	s.snapshots[k] = Snapshot{
		FilePath:       filePath,
		FunctionName:   functionName,
		OriginalSource: source,
	}
	logging.Get(logging.CategoryOrchestrator).Debug("snapshot saved: %s", k)
}

// Rollback returns the snapshotted original source, or ("", false) if no
// snapshot was ever saved for this key.
func (s *Store) Rollback(filePath, functionName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := key(filePath, functionName)
	snap, ok := s.snapshots[k]
	if !ok {
		logging.OrchestratorWarn("no snapshot found for rollback: %s", k)
		return "", false
	}
	logging.Orchestrator("rolling back: %s", k)
	return snap.OriginalSource, true
}

// Original returns the saved source. Like Rollback, it leaves the snapshot
// in place.
func (s *Store) Original(filePath, functionName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key(filePath, functionName)]
	if !ok {
		return "", false
	}
	return snap.OriginalSource, true
}

// Has reports whether a snapshot exists for (filePath, functionName).
func (s *Store) Has(filePath, functionName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[key(filePath, functionName)]
	return ok
}

// Clear discards every snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string]Snapshot)
	logging.Get(logging.CategoryOrchestrator).Debug("all snapshots cleared")
}

// Len reports the number of live snapshots, mainly for audit/diagnostics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
