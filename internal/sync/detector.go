package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
)

const (
	ruleHeartbeatTimeout  = "heartbeat_timeout"
	ruleCompletedButStuck = "completed_but_stuck"
)

// Detector repairs SyncStatus rows abandoned mid-flight. It is an idempotent,
// side-effect-only-on-problems pass, safe to run every few minutes.
type Detector struct {
	store          store.Store
	fetcher        Fetcher
	staleThreshold time.Duration
}

func NewDetector(st store.Store, fetcher Fetcher, staleThreshold time.Duration) *Detector {
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	return &Detector{
		store:          st,
		fetcher:        fetcher,
		staleThreshold: staleThreshold,
	}
}

// CleanupStuckSyncs scans every in-progress row and resets those matched by
// either detection rule. Recovery clears the in-progress flag, error, and
// heartbeat. last_sync_at and accumulated counts are never touched: this is
// a liveness fix, not a data fix.
func (d *Detector) CleanupStuckSyncs(ctx context.Context) (CleanupResult, error) {
	result := CleanupResult{Details: []CleanupDetail{}}

	inProgress, err := d.store.ListInProgressSyncs(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list in-progress syncs: %w", err)
	}

	for _, status := range inProgress {
		rule, message := d.evaluate(ctx, status)
		if rule == "" {
			continue
		}

		if err := d.store.ResetSyncStatus(ctx, status.StoreID, status.DataType); err != nil {
			logger.Log.Error("Failed to reset stuck sync",
				zap.String("storeID", status.StoreID),
				zap.String("dataType", status.DataType),
				zap.Error(err),
			)
			continue
		}

		logger.Log.Info("Recovered stuck sync",
			zap.String("storeID", status.StoreID),
			zap.String("dataType", status.DataType),
			zap.String("rule", rule),
			zap.String("detail", message),
		)
		result.CleanedUp++
		result.Details = append(result.Details, CleanupDetail{
			ID:       uuid.New().String(),
			StoreID:  status.StoreID,
			DataType: status.DataType,
			Rule:     rule,
			Message:  message,
		})
	}

	return result, nil
}

// evaluate returns the matched rule name and a human-readable reason, or an
// empty rule when the row looks alive.
func (d *Detector) evaluate(ctx context.Context, status *store.SyncStatus) (string, string) {
	now := time.Now()

	// Rule 1: heartbeat gone silent.
	if status.LastHeartbeat.Valid {
		if age := now.Sub(status.LastHeartbeat.Time); age > d.staleThreshold {
			return ruleHeartbeatTimeout, fmt.Sprintf("heartbeat silent for %s", age.Round(time.Second))
		}
	} else if status.LastSyncAt.Valid && now.Sub(status.LastSyncAt.Time) > d.staleThreshold {
		return ruleHeartbeatTimeout, "no heartbeat recorded and last sync is stale"
	}

	// Rule 2: the run already covered 100% of the upstream window but never
	// flipped its own flag (e.g. the process died between the last write and
	// the status update). Re-derive actual completion rather than trusting
	// the row; orders only, products have no cheap upstream count.
	if status.DataType != store.DataTypeOrders {
		return "", ""
	}

	timeframe := status.TimeframeDays
	if timeframe <= 0 {
		timeframe = 30
	}
	window := shopify.OrderWindow{From: now.AddDate(0, 0, -timeframe), To: now}

	localCount, err := d.store.CountOrdersInWindow(ctx, status.StoreID, window.From, window.To)
	if err != nil {
		logger.Log.Warn("Local count query failed during stuck-sync check",
			zap.String("storeID", status.StoreID), zap.Error(err))
		return "", ""
	}

	upstreamCount, err := d.fetcher.CountOrders(ctx, window)
	if err != nil {
		// A transient upstream failure must not block recovery: treat the
		// row as possibly stuck and recover it anyway.
		return ruleCompletedButStuck, fmt.Sprintf("upstream count query failed (%v), recovering anyway", err)
	}

	if localCount >= upstreamCount {
		return ruleCompletedButStuck, fmt.Sprintf("local records %d cover upstream %d but flag still set", localCount, upstreamCount)
	}

	return "", ""
}
