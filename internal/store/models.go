package store

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DataTypeOrders   = "orders"
	DataTypeProducts = "products"
)

const (
	CostSourceManual  = "MANUAL"
	CostSourceShopify = "SHOPIFY"
)

// SyncStatus is the per (store, data type) liveness record. It is created on
// the first sync attempt and only ever reset, never deleted.
type SyncStatus struct {
	StoreID        string         `db:"store_id"`
	DataType       string         `db:"data_type"`
	SyncInProgress bool           `db:"sync_in_progress"`
	LastSyncAt     sql.NullTime   `db:"last_sync_at"`
	LastHeartbeat  sql.NullTime   `db:"last_heartbeat"`
	TotalRecords   int64          `db:"total_records"`
	TimeframeDays  int            `db:"timeframe_days"`
	ErrorMessage   sql.NullString `db:"error_message"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Order is the local mirror of an upstream order. TotalRefunds is owned by
// the reconciliation engine and always holds the last canonical recomputation,
// never a partial sum.
type Order struct {
	StoreID         string          `db:"store_id"`
	ExternalID      int64           `db:"external_id"`
	Name            string          `db:"name"`
	CreatedAt       time.Time       `db:"created_at"`
	FinancialStatus string          `db:"financial_status"`
	Currency        string          `db:"currency"`
	TotalPrice      decimal.Decimal `db:"total_price"`
	TotalShipping   decimal.Decimal `db:"total_shipping"`
	TotalTax        decimal.Decimal `db:"total_tax"`
	TotalDiscounts  decimal.Decimal `db:"total_discounts"`
	TotalRefunds    decimal.Decimal `db:"total_refunds"`
	LastSyncedAt    time.Time       `db:"last_synced_at"`
}

// Product mirrors an upstream catalog entry.
type Product struct {
	StoreID      string    `db:"store_id"`
	ExternalID   int64     `db:"external_id"`
	Title        string    `db:"title"`
	Handle       string    `db:"handle"`
	Vendor       string    `db:"vendor"`
	Status       string    `db:"status"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	Variants     []ProductVariant
}

// ProductVariant carries the locally-owned cost fields. A MANUAL cost must
// survive any number of catalog syncs.
type ProductVariant struct {
	StoreID           string          `db:"store_id"`
	ExternalID        int64           `db:"external_id"`
	ProductExternalID int64           `db:"product_external_id"`
	Title             string          `db:"title"`
	SKU               string          `db:"sku"`
	Price             decimal.Decimal `db:"price"`
	Cost              decimal.Decimal `db:"cost"`
	CostSource        string          `db:"cost_source"`
	CostLastUpdated   sql.NullTime    `db:"cost_last_updated"`
}

// SyncRun is one trigger attempt recorded for audit (manual, scheduled, or
// recovery-driven).
type SyncRun struct {
	ID               string         `db:"id"`
	StoreID          string         `db:"store_id"`
	DataTypes        string         `db:"data_types"`
	TriggerSource    string         `db:"trigger_source"`
	TriggerReason    string         `db:"trigger_reason"`
	StartedAt        time.Time      `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	RecordsProcessed int64          `db:"records_processed"`
	Status           string         `db:"status"`
	ErrorMessage     sql.NullString `db:"error_message"`
}
