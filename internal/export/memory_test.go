package export

import (
	"context"
	"testing"
	"time"
)

func TestMemoryWriterAppend(t *testing.T) {
	w := NewMemoryWriter()

	ref, err := w.AppendSnapshot(context.Background(), Snapshot{
		AccountID:       1,
		AccountName:     "Bills",
		Balance:         500,
		MonthlyTransfer: 100,
		ComputedAt:      time.Now(),
	})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	ref, err = w.AppendSnapshot(context.Background(), Snapshot{AccountID: 2})
	if err != nil || ref != "mem:2" {
		t.Fatalf("unexpected second append: ref=%q err=%v", ref, err)
	}

	items := w.Snapshots()
	if len(items) != 2 || items[0].AccountName != "Bills" {
		t.Errorf("Snapshots = %+v", items)
	}
}
