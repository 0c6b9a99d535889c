// Package export writes projection snapshots to external sinks.
package export

import (
	"context"
	"time"
)

// Snapshot is one exported projection row.
type Snapshot struct {
	AccountID       int64
	AccountName     string
	Balance         float64
	MonthlyTransfer float64
	NextPaymentDate *time.Time
	ComputedAt      time.Time
}

// SnapshotWriter appends a projection snapshot to a sink and returns a
// reference to the written row.
type SnapshotWriter interface {
	AppendSnapshot(ctx context.Context, s Snapshot) (rowRef string, err error)
}
