package export

import (
	"context"
	"fmt"
	"sync"
)

// MemoryWriter collects snapshots in memory. It backs local runs
// without Google credentials and the worker tests.
type MemoryWriter struct {
	mu    sync.Mutex
	items []Snapshot
}

var _ SnapshotWriter = (*MemoryWriter)(nil)

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// AppendSnapshot stores the snapshot and returns a synthetic row reference.
func (w *MemoryWriter) AppendSnapshot(_ context.Context, s Snapshot) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, s)
	return fmt.Sprintf("mem:%d", len(w.items)), nil
}

// Snapshots returns a copy of everything appended so far.
func (w *MemoryWriter) Snapshots() []Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Snapshot(nil), w.items...)
}
