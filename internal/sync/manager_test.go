package sync

import (
	"context"
	"database/sql"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify-sync-service/internal/config"
	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
)

func newTestManager(st store.Store, f Fetcher) *Manager {
	cfg := &config.Config{}
	cfg.Shopify.ShopDomain = testStoreID
	cfg.Sync.DefaultTimeframeDays = 30
	cfg.Sync.ReconcileBatchLimit = 250
	cfg.Detector.AcuteThreshold = "5m"
	cfg.Detector.LenientThreshold = "30m"
	return NewManager(cfg, st, f)
}

func TestTriggerSyncAllRunsBothDataTypes(t *testing.T) {
	st := newMemStore()
	f := newFakeFetcher()
	f.orderPages = [][]shopify.Order{{testOrder(1, "#1001")}}
	f.productPages = [][]shopify.Product{{{ID: 50, Title: "Widget"}}}

	m := newTestManager(st, f)
	summary := m.TriggerSync(context.Background(), TriggerRequest{
		DataType:      DataTypeAll,
		TriggerReason: "test",
		TriggerSource: TriggerSourceManual,
	})

	require.Len(t, summary.Results, 2)
	assert.Equal(t, 2, summary.TotalProcessed())

	ordersStatus, ok := st.getStatus(testStoreID, DataTypeOrders)
	require.True(t, ok)
	assert.False(t, ordersStatus.SyncInProgress)
	productsStatus, ok := st.getStatus(testStoreID, DataTypeProducts)
	require.True(t, ok)
	assert.False(t, productsStatus.SyncInProgress)
}

func TestTriggerSyncRecordsRunHistory(t *testing.T) {
	st := newMemStore()
	f := newFakeFetcher()
	f.orderPages = [][]shopify.Order{{testOrder(1, "#1001")}}

	m := newTestManager(st, f)
	summary := m.TriggerSync(context.Background(), TriggerRequest{
		DataType:      DataTypeOrders,
		TriggerReason: "test",
		TriggerSource: TriggerSourceManual,
	})

	runs, err := m.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, int64(1), runs[0].RecordsProcessed)
	assert.True(t, runs[0].CompletedAt.Valid)
	assert.Equal(t, TriggerSourceManual, runs[0].TriggerSource)
}

func TestTriggerSyncBucketsPartialAndFailed(t *testing.T) {
	t.Run("one data type fails, the other succeeds", func(t *testing.T) {
		st := newMemStore()
		f := newFakeFetcher()
		f.orderPageErrs[0] = assert.AnError
		f.productPages = [][]shopify.Product{{{ID: 50, Title: "Widget"}}}

		m := newTestManager(st, f)
		m.TriggerSync(context.Background(), TriggerRequest{DataType: DataTypeAll, TriggerSource: TriggerSourceManual})

		runs, err := m.History(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "partial", runs[0].Status)
		assert.True(t, runs[0].ErrorMessage.Valid)
	})

	t.Run("nothing processed at all", func(t *testing.T) {
		st := newMemStore()
		f := newFakeFetcher()
		f.orderPageErrs[0] = assert.AnError

		m := newTestManager(st, f)
		m.TriggerSync(context.Background(), TriggerRequest{DataType: DataTypeOrders, TriggerSource: TriggerSourceManual})

		runs, err := m.History(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "failed", runs[0].Status)
	})
}

func TestTriggerSyncRejectsInvalidRequest(t *testing.T) {
	m := newTestManager(newMemStore(), newFakeFetcher())

	summary := m.TriggerSync(context.Background(), TriggerRequest{DataType: "customers"})
	require.Len(t, summary.Results, 1)
	assert.NotEmpty(t, summary.Results[0].Errors)
}

func TestConcurrentTriggersNeverLeaveFlagStuck(t *testing.T) {
	st := newMemStore()
	f := newFakeFetcher()
	f.orderPages = [][]shopify.Order{{testOrder(1, "#1001")}}

	m := newTestManager(st, f)

	var wg gosync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.TriggerSync(context.Background(), TriggerRequest{
				DataType:      DataTypeOrders,
				TriggerSource: TriggerSourceManual,
			})
		}()
	}
	wg.Wait()

	status, ok := st.getStatus(testStoreID, DataTypeOrders)
	require.True(t, ok)
	assert.False(t, status.SyncInProgress, "whichever trigger won must have completed cleanly")

	st.mu.Lock()
	count := len(st.orders[testStoreID])
	st.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestStatusReportsDefaultsForUnknownTypes(t *testing.T) {
	m := newTestManager(newMemStore(), newFakeFetcher())

	resp, err := m.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testStoreID, resp.StoreID)
	require.Len(t, resp.DataTypes, 2)
	for _, entry := range resp.DataTypes {
		assert.False(t, entry.SyncInProgress)
		assert.Nil(t, entry.LastSyncAt)
		assert.Zero(t, entry.TotalRecords)
	}
}

func TestStatusReflectsPersistedRows(t *testing.T) {
	st := newMemStore()
	lastSync := time.Now().Add(-time.Hour)
	st.seedStatus(store.SyncStatus{
		StoreID:      testStoreID,
		DataType:     DataTypeOrders,
		LastSyncAt:   sql.NullTime{Time: lastSync, Valid: true},
		TotalRecords: 120,
		ErrorMessage: sql.NullString{String: "rate limited after 120 records", Valid: true},
	})

	m := newTestManager(st, newFakeFetcher())
	resp, err := m.Status(context.Background())
	require.NoError(t, err)

	var orders *DataTypeStatus
	for i := range resp.DataTypes {
		if resp.DataTypes[i].DataType == DataTypeOrders {
			orders = &resp.DataTypes[i]
		}
	}
	require.NotNil(t, orders)
	assert.Equal(t, int64(120), orders.TotalRecords)
	require.NotNil(t, orders.LastSyncAt)
	assert.WithinDuration(t, lastSync, *orders.LastSyncAt, time.Second)
	assert.Equal(t, "rate limited after 120 records", orders.ErrorMessage)
}

func TestHasRecentChanges(t *testing.T) {
	st := newMemStore()
	st.recentChanges = true

	m := newTestManager(st, newFakeFetcher())
	changed, err := m.HasRecentChanges(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestMemoryProgressLifecycle(t *testing.T) {
	p := NewMemoryProgress()

	p.Start(testStoreID, DataTypeOrders)
	p.Update(testStoreID, DataTypeOrders, 10, "#1010")

	snap := p.Snapshot(testStoreID)
	require.Contains(t, snap, DataTypeOrders)
	assert.Equal(t, 10, snap[DataTypeOrders].Processed)
	assert.Equal(t, "#1010", snap[DataTypeOrders].CurrentLabel)

	p.Finish(testStoreID, DataTypeOrders)
	assert.Empty(t, p.Snapshot(testStoreID))

	// An update after finish is a no-op, not a resurrection.
	p.Update(testStoreID, DataTypeOrders, 11, "#1011")
	assert.Empty(t, p.Snapshot(testStoreID))
}
