package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Store interface {
	// Sync status
	GetSyncStatus(ctx context.Context, storeID, dataType string) (*SyncStatus, error)
	ListSyncStatuses(ctx context.Context, storeID string) ([]*SyncStatus, error)
	ListInProgressSyncs(ctx context.Context) ([]*SyncStatus, error)
	// BeginSync flips the row to in-progress and writes the initial heartbeat,
	// creating the row on first use.
	BeginSync(ctx context.Context, storeID, dataType string, timeframeDays int) error
	// Heartbeat bumps last_heartbeat and adds processedDelta to total_records.
	Heartbeat(ctx context.Context, storeID, dataType string, processedDelta int) error
	CompleteSync(ctx context.Context, storeID, dataType string) error
	// FailSync records the error but leaves sync_in_progress set; only the
	// detector may decide a failed run is dead.
	FailSync(ctx context.Context, storeID, dataType, message string) error
	// ResetSyncStatus is the detector's recovery write: clears the in-progress
	// flag, error, and heartbeat without touching last_sync_at or counts.
	ResetSyncStatus(ctx context.Context, storeID, dataType string) error

	// Mirror data
	UpsertOrders(ctx context.Context, orders []Order) error
	UpsertProducts(ctx context.Context, products []Product) error
	CountOrdersInWindow(ctx context.Context, storeID string, from, to time.Time) (int64, error)
	ListRefundCandidates(ctx context.Context, storeID string, limit int) ([]Order, error)
	// UpdateOrderRefunds overwrites the canonical refunded total for one order.
	UpdateOrderRefunds(ctx context.Context, storeID string, externalID int64, total decimal.Decimal) error
	// HasRecentChanges reports whether a manual cost edit landed after since.
	// The scheduler uses it to skip no-op runs; sync-written timestamps do
	// not count as changes.
	HasRecentChanges(ctx context.Context, storeID string, since time.Time) (bool, error)

	// Run history
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	FinishSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, storeID string, limit int) ([]*SyncRun, error)

	// General
	InitSchema(ctx context.Context) error
	Close() error
}
