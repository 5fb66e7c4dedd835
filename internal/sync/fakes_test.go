package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/shopspring/decimal"

	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
)

// memStore is an in-memory store.Store used across the package tests. Its
// variant upsert applies the same MANUAL cost guard the MySQL layer encodes
// in SQL.
type memStore struct {
	mu       gosync.Mutex
	statuses map[string]*store.SyncStatus
	orders   map[string]map[int64]store.Order
	products map[string]map[int64]store.Product
	variants map[string]map[int64]store.ProductVariant
	runs     []*store.SyncRun

	recentChanges    bool
	recentChangesErr error

	beginErr      error
	upsertErr     error
	localCount    int64
	localCountErr error
}

func newMemStore() *memStore {
	return &memStore{
		statuses: make(map[string]*store.SyncStatus),
		orders:   make(map[string]map[int64]store.Order),
		products: make(map[string]map[int64]store.Product),
		variants: make(map[string]map[int64]store.ProductVariant),
	}
}

func statusKey(storeID, dataType string) string {
	return storeID + "|" + dataType
}

func (m *memStore) GetSyncStatus(ctx context.Context, storeID, dataType string) (*store.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) ListSyncStatuses(ctx context.Context, storeID string) ([]*store.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SyncStatus
	for _, st := range m.statuses {
		if st.StoreID == storeID {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListInProgressSyncs(ctx context.Context) ([]*store.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SyncStatus
	for _, st := range m.statuses {
		if st.SyncInProgress {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) BeginSync(ctx context.Context, storeID, dataType string, timeframeDays int) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := statusKey(storeID, dataType)
	st, ok := m.statuses[key]
	if !ok {
		st = &store.SyncStatus{StoreID: storeID, DataType: dataType}
		m.statuses[key] = st
	}
	st.SyncInProgress = true
	st.LastHeartbeat = sql.NullTime{Time: time.Now(), Valid: true}
	st.TotalRecords = 0
	st.TimeframeDays = timeframeDays
	st.ErrorMessage = sql.NullString{}
	st.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) Heartbeat(ctx context.Context, storeID, dataType string, processedDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return fmt.Errorf("no sync status for %s/%s", storeID, dataType)
	}
	st.LastHeartbeat = sql.NullTime{Time: time.Now(), Valid: true}
	st.TotalRecords += int64(processedDelta)
	return nil
}

func (m *memStore) CompleteSync(ctx context.Context, storeID, dataType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return fmt.Errorf("no sync status for %s/%s", storeID, dataType)
	}
	st.SyncInProgress = false
	st.LastSyncAt = sql.NullTime{Time: time.Now(), Valid: true}
	st.ErrorMessage = sql.NullString{}
	return nil
}

func (m *memStore) FailSync(ctx context.Context, storeID, dataType, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return fmt.Errorf("no sync status for %s/%s", storeID, dataType)
	}
	st.ErrorMessage = sql.NullString{String: message, Valid: true}
	return nil
}

func (m *memStore) ResetSyncStatus(ctx context.Context, storeID, dataType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return fmt.Errorf("no sync status for %s/%s", storeID, dataType)
	}
	st.SyncInProgress = false
	st.ErrorMessage = sql.NullString{}
	st.LastHeartbeat = sql.NullTime{}
	return nil
}

func (m *memStore) UpsertOrders(ctx context.Context, orders []store.Order) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		byID, ok := m.orders[o.StoreID]
		if !ok {
			byID = make(map[int64]store.Order)
			m.orders[o.StoreID] = byID
		}
		if existing, ok := byID[o.ExternalID]; ok {
			// The reconciler owns total_refunds; a sync never clobbers it.
			o.TotalRefunds = existing.TotalRefunds
		}
		byID[o.ExternalID] = o
	}
	return nil
}

func (m *memStore) UpsertProducts(ctx context.Context, products []store.Product) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		byID, ok := m.products[p.StoreID]
		if !ok {
			byID = make(map[int64]store.Product)
			m.products[p.StoreID] = byID
		}
		byID[p.ExternalID] = p

		vars, ok := m.variants[p.StoreID]
		if !ok {
			vars = make(map[int64]store.ProductVariant)
			m.variants[p.StoreID] = vars
		}
		for _, v := range p.Variants {
			if existing, ok := vars[v.ExternalID]; ok && existing.CostSource == store.CostSourceManual {
				v.Cost = existing.Cost
				v.CostSource = existing.CostSource
				v.CostLastUpdated = existing.CostLastUpdated
			} else {
				v.CostLastUpdated = sql.NullTime{Time: time.Now(), Valid: true}
			}
			vars[v.ExternalID] = v
		}
	}
	return nil
}

func (m *memStore) CountOrdersInWindow(ctx context.Context, storeID string, from, to time.Time) (int64, error) {
	if m.localCountErr != nil {
		return 0, m.localCountErr
	}
	return m.localCount, nil
}

func (m *memStore) ListRefundCandidates(ctx context.Context, storeID string, limit int) ([]store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Order
	for _, o := range m.orders[storeID] {
		switch o.FinancialStatus {
		case "refunded", "partially_refunded", "voided":
			out = append(out, o)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdateOrderRefunds(ctx context.Context, storeID string, externalID int64, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.orders[storeID]
	if !ok {
		return fmt.Errorf("unknown store %s", storeID)
	}
	o, ok := byID[externalID]
	if !ok {
		return fmt.Errorf("unknown order %d", externalID)
	}
	o.TotalRefunds = total
	byID[externalID] = o
	return nil
}

func (m *memStore) HasRecentChanges(ctx context.Context, storeID string, since time.Time) (bool, error) {
	if m.recentChangesErr != nil {
		return false, m.recentChangesErr
	}
	return m.recentChanges, nil
}

func (m *memStore) CreateSyncRun(ctx context.Context, run *store.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *memStore) FinishSyncRun(ctx context.Context, run *store.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			cp := *run
			m.runs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("unknown run %s", run.ID)
}

func (m *memStore) ListSyncRuns(ctx context.Context, storeID string, limit int) ([]*store.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SyncRun
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.runs[i].StoreID == storeID {
			cp := *m.runs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) InitSchema(ctx context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

// seedStatus installs a sync_status row directly.
func (m *memStore) seedStatus(st store.SyncStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st
	m.statuses[statusKey(st.StoreID, st.DataType)] = &cp
}

// seedOrder installs a mirror order directly.
func (m *memStore) seedOrder(o store.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.orders[o.StoreID]
	if !ok {
		byID = make(map[int64]store.Order)
		m.orders[o.StoreID] = byID
	}
	byID[o.ExternalID] = o
}

// seedVariant installs a product variant directly.
func (m *memStore) seedVariant(v store.ProductVariant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars, ok := m.variants[v.StoreID]
	if !ok {
		vars = make(map[int64]store.ProductVariant)
		m.variants[v.StoreID] = vars
	}
	vars[v.ExternalID] = v
}

func (m *memStore) getOrder(storeID string, externalID int64) (store.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[storeID][externalID]
	return o, ok
}

func (m *memStore) getVariant(storeID string, externalID int64) (store.ProductVariant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[storeID][externalID]
	return v, ok
}

func (m *memStore) getStatus(storeID, dataType string) (store.SyncStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey(storeID, dataType)]
	if !ok {
		return store.SyncStatus{}, false
	}
	return *st, true
}

// fakeFetcher serves pre-built pages and refund sets. Cursors are synthetic:
// page i hands out "page-(i+1)" until the last page, which hands out "".
type fakeFetcher struct {
	mu gosync.Mutex

	orderPages   [][]shopify.Order
	productPages [][]shopify.Product
	// orderPageErrs[i] aborts the fetch of page i.
	orderPageErrs map[int]error

	refunds    map[int64][]shopify.Refund
	refundErrs map[int64]error

	upstreamCount    int64
	upstreamCountErr error

	orderCalls  int
	refundCalls int
	countCalls  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		orderPageErrs: make(map[int]error),
		refunds:       make(map[int64][]shopify.Refund),
		refundErrs:    make(map[int64]error),
	}
}

func pageIndex(pageInfo string) int {
	if pageInfo == "" {
		return 0
	}
	var i int
	fmt.Sscanf(pageInfo, "page-%d", &i)
	return i
}

func nextCursor(i, total int) string {
	if i+1 >= total {
		return ""
	}
	return fmt.Sprintf("page-%d", i+1)
}

func (f *fakeFetcher) ListOrders(ctx context.Context, window shopify.OrderWindow, pageInfo string) (shopify.OrdersPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	i := pageIndex(pageInfo)
	if err, ok := f.orderPageErrs[i]; ok {
		return shopify.OrdersPage{}, err
	}
	if i >= len(f.orderPages) {
		return shopify.OrdersPage{}, nil
	}
	return shopify.OrdersPage{
		Orders:       f.orderPages[i],
		NextPageInfo: nextCursor(i, len(f.orderPages)),
	}, nil
}

func (f *fakeFetcher) ListProducts(ctx context.Context, pageInfo string) (shopify.ProductsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := pageIndex(pageInfo)
	if i >= len(f.productPages) {
		return shopify.ProductsPage{}, nil
	}
	return shopify.ProductsPage{
		Products:     f.productPages[i],
		NextPageInfo: nextCursor(i, len(f.productPages)),
	}, nil
}

func (f *fakeFetcher) GetOrderRefunds(ctx context.Context, orderID int64) ([]shopify.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if err, ok := f.refundErrs[orderID]; ok {
		return nil, err
	}
	return f.refunds[orderID], nil
}

func (f *fakeFetcher) CountOrders(ctx context.Context, window shopify.OrderWindow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.upstreamCountErr != nil {
		return 0, f.upstreamCountErr
	}
	return f.upstreamCount, nil
}
