// Package worker refreshes projection snapshots in response to
// account-changed messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hushold/internal/amqp"
	"hushold/internal/core"
	"hushold/internal/export"
	"hushold/internal/projection"
	"hushold/internal/storage"
)

// ProjectionWorker recomputes account balances and persists them as
// snapshot rows. When an exporter is configured, each refresh is also
// appended to the external sheet.
type ProjectionWorker struct {
	storage  *storage.SQLiteRepository
	exporter export.SnapshotWriter
	engine   *projection.Engine
}

func NewProjectionWorker(storage *storage.SQLiteRepository, exporter export.SnapshotWriter) *ProjectionWorker {
	return &ProjectionWorker{
		storage:  storage,
		exporter: exporter,
		engine:   projection.NewEngine(),
	}
}

// HandleAccountChanged processes a single account-changed message from AMQP.
func (w *ProjectionWorker) HandleAccountChanged(ctx context.Context, msg *amqp.AccountChangedMessage) error {
	slog.InfoContext(ctx, "Processing account changed message",
		"account_id", msg.AccountID,
		"user_id", msg.UserID)

	account, err := w.storage.GetAccountWithExpenses(ctx, msg.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	return w.refresh(ctx, account)
}

// RefreshAll recomputes the snapshot of every account. Called at
// startup to recover from missed messages or worker downtime.
func (w *ProjectionWorker) RefreshAll(ctx context.Context) error {
	accounts, err := w.storage.ListAllAccountsExpanded(ctx)
	if err != nil {
		return fmt.Errorf("list accounts for refresh: %w", err)
	}

	if len(accounts) == 0 {
		slog.InfoContext(ctx, "No accounts found on startup")
		return nil
	}

	successCount := 0
	errorCount := 0
	for _, account := range accounts {
		if err := w.refresh(ctx, account); err != nil {
			slog.ErrorContext(ctx, "Failed to refresh account projection",
				"account_id", account.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup refresh completed",
		"total", len(accounts),
		"refreshed", successCount,
		"errors", errorCount)

	return nil
}

// CleanupSessions deletes expired sessions. The worker runs it
// periodically so the web process never has to.
func (w *ProjectionWorker) CleanupSessions(ctx context.Context) error {
	n, err := w.storage.DeleteExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Deleted expired sessions", "count", n)
	}
	return nil
}

func (w *ProjectionWorker) refresh(ctx context.Context, account core.Account) error {
	snapshot := storage.ProjectionSnapshot{
		AccountID:       account.ID,
		Balance:         w.engine.CurrentBalance(account),
		MonthlyTransfer: w.engine.MonthlyBudgetTransferAmount(account),
		ComputedAt:      time.Now().UTC(),
	}
	if next, ok := w.engine.NextAccountPaymentDate(account); ok {
		snapshot.NextPaymentDate = &next
	}

	if err := w.storage.UpsertProjection(ctx, snapshot); err != nil {
		return fmt.Errorf("upsert projection: %w", err)
	}

	slog.InfoContext(ctx, "Refreshed account projection",
		"account_id", account.ID,
		"balance", snapshot.Balance,
		"monthly_transfer", snapshot.MonthlyTransfer)

	if w.exporter == nil {
		return nil
	}

	ref, err := w.exporter.AppendSnapshot(ctx, export.Snapshot{
		AccountID:       account.ID,
		AccountName:     account.Name,
		Balance:         snapshot.Balance,
		MonthlyTransfer: snapshot.MonthlyTransfer,
		NextPaymentDate: snapshot.NextPaymentDate,
		ComputedAt:      snapshot.ComputedAt,
	})
	if err != nil {
		// The snapshot row is already saved; export failures are logged
		// and retried on the next refresh.
		slog.ErrorContext(ctx, "Failed to export snapshot",
			"account_id", account.ID, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Exported snapshot", "account_id", account.ID, "row_ref", ref)
	return nil
}
