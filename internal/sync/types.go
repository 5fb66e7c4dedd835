package sync

import (
	"context"
	"fmt"

	"shopify-sync-service/internal/shopify"
)

const (
	DataTypeOrders   = "orders"
	DataTypeProducts = "products"
	DataTypeAll      = "all"
)

const (
	TriggerSourceManual    = "manual"
	TriggerSourceScheduler = "scheduler"
)

// Fetcher is the upstream collaborator consumed by the synchronizer and the
// reconciliation engine. *shopify.Client satisfies it.
type Fetcher interface {
	ListOrders(ctx context.Context, window shopify.OrderWindow, pageInfo string) (shopify.OrdersPage, error)
	ListProducts(ctx context.Context, pageInfo string) (shopify.ProductsPage, error)
	GetOrderRefunds(ctx context.Context, orderID int64) ([]shopify.Refund, error)
	CountOrders(ctx context.Context, window shopify.OrderWindow) (int64, error)
}

// TriggerRequest is the single entry point payload accepted from the web
// layer and the scheduler.
type TriggerRequest struct {
	DataType      string `json:"dataType"`
	TimeframeDays int    `json:"timeframeDays"`
	TriggerReason string `json:"triggerReason"`
	TriggerSource string `json:"triggerSource"`
}

func (r TriggerRequest) Validate() error {
	switch r.DataType {
	case DataTypeOrders, DataTypeProducts, DataTypeAll:
	default:
		return fmt.Errorf("invalid dataType %q", r.DataType)
	}
	if r.TimeframeDays < 0 {
		return fmt.Errorf("timeframeDays must not be negative")
	}
	return nil
}

// Result summarizes one entity synchronization run.
type Result struct {
	DataType         string   `json:"dataType"`
	RecordsProcessed int      `json:"recordsProcessed"`
	Skipped          bool     `json:"skipped,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// TriggerSummary is returned from the trigger surface: one Result per data
// type that ran.
type TriggerSummary struct {
	RunID   string   `json:"runId"`
	Results []Result `json:"results"`
}

func (s TriggerSummary) TotalProcessed() int {
	total := 0
	for _, r := range s.Results {
		total += r.RecordsProcessed
	}
	return total
}

// CleanupDetail describes one repaired sync_status row.
type CleanupDetail struct {
	ID       string `json:"id"`
	StoreID  string `json:"storeId"`
	DataType string `json:"dataType"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
}

// CleanupResult is the recovery surface response.
type CleanupResult struct {
	CleanedUp int             `json:"cleanedUp"`
	Details   []CleanupDetail `json:"details"`
}
