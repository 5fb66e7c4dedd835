package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopify-sync-service/internal/config"
	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/store"
)

const (
	runStatusRunning = "running"
	runStatusSuccess = "success"
	runStatusPartial = "partial"
	runStatusFailed  = "failed"
)

// Manager owns the trigger, status, recovery, and reconciliation surfaces,
// wiring one synchronizer task per requested data type.
type Manager struct {
	cfg          *config.Config
	store        store.Store
	fetcher      Fetcher
	progress     ProgressReporter
	synchronizer *Synchronizer
	reconciler   *Reconciler
	detector     *Detector
	storeID      string
}

func NewManager(cfg *config.Config, st store.Store, fetcher Fetcher) *Manager {
	progress := NewMemoryProgress()
	return &Manager{
		cfg:          cfg,
		store:        st,
		fetcher:      fetcher,
		progress:     progress,
		synchronizer: NewSynchronizer(st, fetcher, progress, cfg.Detector.GetAcuteThreshold()),
		reconciler:   NewReconciler(st, fetcher),
		detector:     NewDetector(st, fetcher, cfg.Detector.GetLenientThreshold()),
		storeID:      cfg.Shopify.ShopDomain,
	}
}

func (m *Manager) StoreID() string {
	return m.storeID
}

// TriggerSync is the single entry point for manual and scheduled syncs. All
// requested data types run as concurrent tasks; per-type failures land on
// the relevant status row and the run history, not on the caller.
func (m *Manager) TriggerSync(ctx context.Context, req TriggerRequest) TriggerSummary {
	summary := TriggerSummary{RunID: uuid.New().String()}

	if err := req.Validate(); err != nil {
		summary.Results = append(summary.Results, Result{
			DataType: req.DataType,
			Errors:   []string{err.Error()},
		})
		return summary
	}

	timeframeDays := req.TimeframeDays
	if timeframeDays == 0 {
		timeframeDays = m.cfg.Sync.DefaultTimeframeDays
	}

	var dataTypes []string
	if req.DataType == DataTypeAll {
		dataTypes = []string{DataTypeOrders, DataTypeProducts}
	} else {
		dataTypes = []string{req.DataType}
	}

	run := &store.SyncRun{
		ID:            summary.RunID,
		StoreID:       m.storeID,
		DataTypes:     strings.Join(dataTypes, ","),
		TriggerSource: req.TriggerSource,
		TriggerReason: req.TriggerReason,
		StartedAt:     time.Now(),
		Status:        runStatusRunning,
	}
	if err := m.store.CreateSyncRun(ctx, run); err != nil {
		logger.Log.Warn("Failed to record sync run", zap.Error(err))
	}

	logger.Log.Info("Sync triggered",
		zap.String("runID", summary.RunID),
		zap.Strings("dataTypes", dataTypes),
		zap.Int("timeframeDays", timeframeDays),
		zap.String("source", req.TriggerSource),
		zap.String("reason", req.TriggerReason),
	)

	results := make([]Result, len(dataTypes))
	var wg gosync.WaitGroup
	for i, dataType := range dataTypes {
		wg.Add(1)
		go func(i int, dataType string) {
			defer wg.Done()
			result, err := m.synchronizer.Sync(ctx, m.storeID, dataType, timeframeDays)
			if errors.Is(err, ErrAlreadyRunning) {
				result.Errors = append(result.Errors, err.Error())
			}
			results[i] = result
		}(i, dataType)
	}
	wg.Wait()
	summary.Results = results

	m.finishRun(ctx, run, summary)
	return summary
}

// finishRun closes the history row with the same success/partial/failed
// bucketing the status surface reports.
func (m *Manager) finishRun(ctx context.Context, run *store.SyncRun, summary TriggerSummary) {
	errorCount := 0
	var firstError string
	for _, r := range summary.Results {
		if len(r.Errors) > 0 {
			errorCount++
			if firstError == "" {
				firstError = r.Errors[0]
			}
		}
	}

	run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	run.RecordsProcessed = int64(summary.TotalProcessed())
	switch {
	case errorCount > 0 && run.RecordsProcessed == 0:
		run.Status = runStatusFailed
	case errorCount > 0:
		run.Status = runStatusPartial
	default:
		run.Status = runStatusSuccess
	}
	if firstError != "" {
		run.ErrorMessage = sql.NullString{String: firstError, Valid: true}
	}

	if err := m.store.FinishSyncRun(ctx, run); err != nil {
		logger.Log.Warn("Failed to finish sync run record", zap.Error(err))
	}
}

// DataTypeStatus is one entry of the read-only status surface.
type DataTypeStatus struct {
	DataType       string     `json:"dataType"`
	SyncInProgress bool       `json:"syncInProgress"`
	LastSyncAt     *time.Time `json:"lastSyncAt"`
	TotalRecords   int64      `json:"totalRecords"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	InFlight       *Progress  `json:"inFlight,omitempty"`
}

// StatusResponse always carries an entry per known data type, with defaults
// for pairs that have never synced.
type StatusResponse struct {
	StoreID   string           `json:"storeId"`
	DataTypes []DataTypeStatus `json:"dataTypes"`
}

func (m *Manager) Status(ctx context.Context) (StatusResponse, error) {
	resp := StatusResponse{StoreID: m.storeID}

	statuses, err := m.store.ListSyncStatuses(ctx, m.storeID)
	if err != nil {
		return resp, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	byType := make(map[string]*store.SyncStatus, len(statuses))
	for _, st := range statuses {
		byType[st.DataType] = st
	}
	inFlight := m.progress.Snapshot(m.storeID)

	for _, dataType := range []string{DataTypeOrders, DataTypeProducts} {
		entry := DataTypeStatus{DataType: dataType}
		if st, ok := byType[dataType]; ok {
			entry.SyncInProgress = st.SyncInProgress
			entry.TotalRecords = st.TotalRecords
			if st.LastSyncAt.Valid {
				t := st.LastSyncAt.Time
				entry.LastSyncAt = &t
			}
			if st.ErrorMessage.Valid {
				entry.ErrorMessage = st.ErrorMessage.String
			}
		}
		if prog, ok := inFlight[dataType]; ok {
			p := prog
			entry.InFlight = &p
		}
		resp.DataTypes = append(resp.DataTypes, entry)
	}
	return resp, nil
}

// RunCleanup exposes the detector at the recovery surface.
func (m *Manager) RunCleanup(ctx context.Context) (CleanupResult, error) {
	return m.detector.CleanupStuckSyncs(ctx)
}

// Reconcile runs one reconciliation pass over potentially-refunded orders.
func (m *Manager) Reconcile(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = m.cfg.Sync.ReconcileBatchLimit
	}
	return m.reconciler.ReconcileBatch(ctx, m.storeID, limit)
}

// HasRecentChanges reports whether a manual cost edit landed inside the
// lookback window. Consulted by the scheduler gate.
func (m *Manager) HasRecentChanges(ctx context.Context, within time.Duration) (bool, error) {
	return m.store.HasRecentChanges(ctx, m.storeID, time.Now().Add(-within))
}

// History returns recent trigger attempts, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]*store.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.store.ListSyncRuns(ctx, m.storeID, limit)
}
