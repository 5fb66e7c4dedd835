package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
)

// ErrAlreadyRunning is returned when a sync for the same (store, dataType)
// holds a fresh heartbeat. The check is advisory: a race between two
// near-simultaneous triggers is tolerated and repaired by the detector.
var ErrAlreadyRunning = errors.New("sync already in progress")

// Synchronizer pulls pages of one data type from the upstream fetcher,
// upserts them into the mirror store, and keeps the SyncStatus row's
// heartbeat and counts current as it progresses.
type Synchronizer struct {
	store          store.Store
	fetcher        Fetcher
	progress       ProgressReporter
	staleThreshold time.Duration
}

func NewSynchronizer(st store.Store, fetcher Fetcher, progress ProgressReporter, staleThreshold time.Duration) *Synchronizer {
	if staleThreshold <= 0 {
		staleThreshold = 5 * time.Minute
	}
	return &Synchronizer{
		store:          st,
		fetcher:        fetcher,
		progress:       progress,
		staleThreshold: staleThreshold,
	}
}

// Sync runs one entity synchronization to completion. On success the status
// row flips back to idle; on failure the error is recorded and the
// in-progress flag is deliberately left set for the detector to judge.
func (s *Synchronizer) Sync(ctx context.Context, storeID, dataType string, timeframeDays int) (Result, error) {
	result := Result{DataType: dataType}

	current, err := s.store.GetSyncStatus(ctx, storeID, dataType)
	if err != nil {
		return result, fmt.Errorf("failed to read sync status: %w", err)
	}
	if current != nil && current.SyncInProgress &&
		current.LastHeartbeat.Valid && time.Since(current.LastHeartbeat.Time) < s.staleThreshold {
		result.Skipped = true
		return result, ErrAlreadyRunning
	}

	// Claim the row and write the first heartbeat before any page fetch, so
	// a crash before the first page completes is still detectable.
	if err := s.store.BeginSync(ctx, storeID, dataType, timeframeDays); err != nil {
		return result, fmt.Errorf("failed to begin sync: %w", err)
	}

	s.progress.Start(storeID, dataType)
	defer s.progress.Finish(storeID, dataType)

	logger.Log.Info("Starting entity sync",
		zap.String("storeID", storeID),
		zap.String("dataType", dataType),
		zap.Int("timeframeDays", timeframeDays),
	)

	var runErr error
	switch dataType {
	case DataTypeOrders:
		runErr = s.syncOrders(ctx, storeID, timeframeDays, &result)
	case DataTypeProducts:
		runErr = s.syncProducts(ctx, storeID, &result)
	default:
		runErr = fmt.Errorf("unknown data type %q", dataType)
	}

	if runErr != nil {
		// Record the failure but leave sync_in_progress set. Clearing the
		// flag here would make a crashed run indistinguishable from a clean
		// idle state; that judgment belongs to the detector.
		if failErr := s.store.FailSync(ctx, storeID, dataType, runErr.Error()); failErr != nil {
			logger.Log.Error("Failed to record sync error",
				zap.String("dataType", dataType), zap.Error(failErr))
		}
		result.Errors = append(result.Errors, runErr.Error())
		logger.Log.Error("Entity sync failed",
			zap.String("storeID", storeID),
			zap.String("dataType", dataType),
			zap.Int("recordsProcessed", result.RecordsProcessed),
			zap.Error(runErr),
		)
		return result, runErr
	}

	if err := s.store.CompleteSync(ctx, storeID, dataType); err != nil {
		return result, fmt.Errorf("failed to complete sync: %w", err)
	}

	logger.Log.Info("Entity sync completed",
		zap.String("storeID", storeID),
		zap.String("dataType", dataType),
		zap.Int("recordsProcessed", result.RecordsProcessed),
	)
	return result, nil
}

func (s *Synchronizer) syncOrders(ctx context.Context, storeID string, timeframeDays int, result *Result) error {
	now := time.Now()
	window := shopify.OrderWindow{From: now.AddDate(0, 0, -timeframeDays), To: now}

	pageInfo := ""
	for {
		page, err := s.fetcher.ListOrders(ctx, window, pageInfo)
		if err != nil {
			if shopify.IsRateLimited(err) {
				// Stop gracefully; everything upserted so far stays.
				return fmt.Errorf("rate limited after %d records: %w", result.RecordsProcessed, err)
			}
			return fmt.Errorf("failed to list orders: %w", err)
		}

		batch := make([]store.Order, 0, len(page.Orders))
		label := ""
		for _, o := range page.Orders {
			if o.ID == 0 {
				// Data error: skip the record, keep the run alive.
				result.Errors = append(result.Errors, "order with missing id skipped")
				logger.Log.Warn("Skipping order with missing id", zap.String("storeID", storeID))
				continue
			}
			batch = append(batch, orderFromUpstream(storeID, o, now))
			label = o.Name
		}

		if err := s.store.UpsertOrders(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert orders page: %w", err)
		}
		result.RecordsProcessed += len(batch)

		if err := s.store.Heartbeat(ctx, storeID, DataTypeOrders, len(batch)); err != nil {
			return fmt.Errorf("failed to write heartbeat: %w", err)
		}
		s.progress.Update(storeID, DataTypeOrders, result.RecordsProcessed, label)

		if page.NextPageInfo == "" {
			return nil
		}
		pageInfo = page.NextPageInfo
	}
}

func (s *Synchronizer) syncProducts(ctx context.Context, storeID string, result *Result) error {
	now := time.Now()

	pageInfo := ""
	for {
		page, err := s.fetcher.ListProducts(ctx, pageInfo)
		if err != nil {
			if shopify.IsRateLimited(err) {
				return fmt.Errorf("rate limited after %d records: %w", result.RecordsProcessed, err)
			}
			return fmt.Errorf("failed to list products: %w", err)
		}

		batch := make([]store.Product, 0, len(page.Products))
		label := ""
		for _, p := range page.Products {
			if p.ID == 0 {
				result.Errors = append(result.Errors, "product with missing id skipped")
				logger.Log.Warn("Skipping product with missing id", zap.String("storeID", storeID))
				continue
			}
			batch = append(batch, productFromUpstream(storeID, p, now))
			label = p.Title
		}

		if err := s.store.UpsertProducts(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert products page: %w", err)
		}
		result.RecordsProcessed += len(batch)

		if err := s.store.Heartbeat(ctx, storeID, DataTypeProducts, len(batch)); err != nil {
			return fmt.Errorf("failed to write heartbeat: %w", err)
		}
		s.progress.Update(storeID, DataTypeProducts, result.RecordsProcessed, label)

		if page.NextPageInfo == "" {
			return nil
		}
		pageInfo = page.NextPageInfo
	}
}

func orderFromUpstream(storeID string, o shopify.Order, syncedAt time.Time) store.Order {
	return store.Order{
		StoreID:         storeID,
		ExternalID:      o.ID,
		Name:            o.Name,
		CreatedAt:       o.CreatedAt,
		FinancialStatus: o.FinancialStatus,
		Currency:        o.Currency,
		TotalPrice:      o.TotalPrice,
		TotalShipping:   o.TotalShipping(),
		TotalTax:        o.TotalTax,
		TotalDiscounts:  o.TotalDiscounts,
		LastSyncedAt:    syncedAt,
	}
}

func productFromUpstream(storeID string, p shopify.Product, syncedAt time.Time) store.Product {
	prod := store.Product{
		StoreID:      storeID,
		ExternalID:   p.ID,
		Title:        p.Title,
		Handle:       p.Handle,
		Vendor:       p.Vendor,
		Status:       p.Status,
		UpdatedAt:    p.UpdatedAt,
		LastSyncedAt: syncedAt,
	}
	for _, v := range p.Variants {
		prod.Variants = append(prod.Variants, store.ProductVariant{
			StoreID:           storeID,
			ExternalID:        v.ID,
			ProductExternalID: p.ID,
			Title:             v.Title,
			SKU:               v.SKU,
			Price:             v.Price,
			Cost:              v.Cost,
			CostSource:        store.CostSourceShopify,
		})
	}
	return prod
}
