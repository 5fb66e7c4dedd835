package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopify-sync-service/internal/database"
)

type MySQLStore struct {
	db *database.Database
}

func NewMySQLStore(db *database.Database) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sync_status (
		store_id VARCHAR(255) NOT NULL,
		data_type VARCHAR(32) NOT NULL,
		sync_in_progress TINYINT(1) NOT NULL DEFAULT 0,
		last_sync_at DATETIME NULL,
		last_heartbeat DATETIME NULL,
		total_records BIGINT NOT NULL DEFAULT 0,
		timeframe_days INT NOT NULL DEFAULT 0,
		error_message TEXT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (store_id, data_type)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		store_id VARCHAR(255) NOT NULL,
		external_id BIGINT NOT NULL,
		name VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		financial_status VARCHAR(32) NOT NULL DEFAULT '',
		currency CHAR(3) NOT NULL DEFAULT '',
		total_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		total_shipping DECIMAL(12,2) NOT NULL DEFAULT 0,
		total_tax DECIMAL(12,2) NOT NULL DEFAULT 0,
		total_discounts DECIMAL(12,2) NOT NULL DEFAULT 0,
		total_refunds DECIMAL(12,2) NOT NULL DEFAULT 0,
		last_synced_at DATETIME NOT NULL,
		PRIMARY KEY (store_id, external_id),
		INDEX idx_orders_created_at (store_id, created_at),
		INDEX idx_orders_financial_status (store_id, financial_status)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		store_id VARCHAR(255) NOT NULL,
		external_id BIGINT NOT NULL,
		title TEXT,
		handle VARCHAR(255) NOT NULL DEFAULT '',
		vendor VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT '',
		updated_at DATETIME NULL,
		last_synced_at DATETIME NOT NULL,
		PRIMARY KEY (store_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS product_variants (
		store_id VARCHAR(255) NOT NULL,
		external_id BIGINT NOT NULL,
		product_external_id BIGINT NOT NULL,
		title TEXT,
		sku VARCHAR(255) NOT NULL DEFAULT '',
		price DECIMAL(12,2) NOT NULL DEFAULT 0,
		cost DECIMAL(12,2) NOT NULL DEFAULT 0,
		cost_source VARCHAR(16) NOT NULL DEFAULT 'SHOPIFY',
		cost_last_updated DATETIME NULL,
		PRIMARY KEY (store_id, external_id),
		INDEX idx_variants_product (store_id, product_external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id CHAR(36) NOT NULL,
		store_id VARCHAR(255) NOT NULL,
		data_types VARCHAR(64) NOT NULL,
		trigger_source VARCHAR(64) NOT NULL DEFAULT '',
		trigger_reason VARCHAR(255) NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		records_processed BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		error_message TEXT NULL,
		PRIMARY KEY (id),
		INDEX idx_sync_runs_store (store_id, started_at)
	)`,
}

func (s *MySQLStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const syncStatusColumns = `store_id, data_type, sync_in_progress, last_sync_at, last_heartbeat,
	total_records, timeframe_days, error_message, updated_at`

func scanSyncStatus(row interface{ Scan(...interface{}) error }) (*SyncStatus, error) {
	var st SyncStatus
	err := row.Scan(
		&st.StoreID,
		&st.DataType,
		&st.SyncInProgress,
		&st.LastSyncAt,
		&st.LastHeartbeat,
		&st.TotalRecords,
		&st.TimeframeDays,
		&st.ErrorMessage,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MySQLStore) GetSyncStatus(ctx context.Context, storeID, dataType string) (*SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + ` FROM sync_status WHERE store_id = ? AND data_type = ?`
	st, err := scanSyncStatus(s.db.DB.QueryRowContext(ctx, query, storeID, dataType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *MySQLStore) ListSyncStatuses(ctx context.Context, storeID string) ([]*SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + ` FROM sync_status WHERE store_id = ? ORDER BY data_type`
	rows, err := s.db.DB.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []*SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *MySQLStore) ListInProgressSyncs(ctx context.Context) ([]*SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + ` FROM sync_status WHERE sync_in_progress = 1`
	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []*SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *MySQLStore) BeginSync(ctx context.Context, storeID, dataType string, timeframeDays int) error {
	query := `INSERT INTO sync_status
			(store_id, data_type, sync_in_progress, last_heartbeat, total_records, timeframe_days, error_message)
		VALUES (?, ?, 1, NOW(), 0, ?, NULL)
		ON DUPLICATE KEY UPDATE
			sync_in_progress = 1,
			last_heartbeat = NOW(),
			total_records = 0,
			timeframe_days = VALUES(timeframe_days),
			error_message = NULL`

	_, err := s.db.DB.ExecContext(ctx, query, storeID, dataType, timeframeDays)
	return err
}

func (s *MySQLStore) Heartbeat(ctx context.Context, storeID, dataType string, processedDelta int) error {
	query := `UPDATE sync_status
		SET last_heartbeat = NOW(), total_records = total_records + ?
		WHERE store_id = ? AND data_type = ?`

	_, err := s.db.DB.ExecContext(ctx, query, processedDelta, storeID, dataType)
	return err
}

func (s *MySQLStore) CompleteSync(ctx context.Context, storeID, dataType string) error {
	query := `UPDATE sync_status
		SET sync_in_progress = 0, last_sync_at = NOW(), error_message = NULL
		WHERE store_id = ? AND data_type = ?`

	_, err := s.db.DB.ExecContext(ctx, query, storeID, dataType)
	return err
}

func (s *MySQLStore) FailSync(ctx context.Context, storeID, dataType, message string) error {
	// sync_in_progress stays set; the detector decides whether the run is dead.
	query := `UPDATE sync_status SET error_message = ? WHERE store_id = ? AND data_type = ?`

	_, err := s.db.DB.ExecContext(ctx, query, message, storeID, dataType)
	return err
}

func (s *MySQLStore) ResetSyncStatus(ctx context.Context, storeID, dataType string) error {
	// Recovery is a liveness fix: last_sync_at and total_records stay as-is.
	query := `UPDATE sync_status
		SET sync_in_progress = 0, error_message = NULL, last_heartbeat = NULL
		WHERE store_id = ? AND data_type = ?`

	_, err := s.db.DB.ExecContext(ctx, query, storeID, dataType)
	return err
}

func (s *MySQLStore) UpsertOrders(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	// total_refunds is deliberately absent from the update list: the
	// reconciliation engine owns it.
	query := `INSERT INTO orders
			(store_id, external_id, name, created_at, financial_status, currency,
			 total_price, total_shipping, total_tax, total_discounts, total_refunds, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			created_at = VALUES(created_at),
			financial_status = VALUES(financial_status),
			currency = VALUES(currency),
			total_price = VALUES(total_price),
			total_shipping = VALUES(total_shipping),
			total_tax = VALUES(total_tax),
			total_discounts = VALUES(total_discounts),
			last_synced_at = VALUES(last_synced_at)`

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, o := range orders {
			_, err := tx.ExecContext(ctx, query,
				o.StoreID,
				o.ExternalID,
				o.Name,
				o.CreatedAt,
				o.FinancialStatus,
				o.Currency,
				o.TotalPrice,
				o.TotalShipping,
				o.TotalTax,
				o.TotalDiscounts,
				o.LastSyncedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert order %d: %w", o.ExternalID, err)
			}
		}
		return nil
	})
}

func (s *MySQLStore) UpsertProducts(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	productQuery := `INSERT INTO products
			(store_id, external_id, title, handle, vendor, status, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			handle = VALUES(handle),
			vendor = VALUES(vendor),
			status = VALUES(status),
			updated_at = VALUES(updated_at),
			last_synced_at = VALUES(last_synced_at)`

	// The IF guards keep MANUAL costs untouched across syncs. Assignment
	// order matters: cost and cost_last_updated must be decided while
	// cost_source still holds the pre-update value.
	variantQuery := `INSERT INTO product_variants
			(store_id, external_id, product_external_id, title, sku, price, cost, cost_source, cost_last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'SHOPIFY', NOW())
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			sku = VALUES(sku),
			price = VALUES(price),
			cost = IF(cost_source = 'MANUAL', cost, VALUES(cost)),
			cost_last_updated = IF(cost_source = 'MANUAL', cost_last_updated, VALUES(cost_last_updated)),
			cost_source = IF(cost_source = 'MANUAL', cost_source, VALUES(cost_source))`

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, p := range products {
			_, err := tx.ExecContext(ctx, productQuery,
				p.StoreID,
				p.ExternalID,
				p.Title,
				p.Handle,
				p.Vendor,
				p.Status,
				p.UpdatedAt,
				p.LastSyncedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert product %d: %w", p.ExternalID, err)
			}
			for _, v := range p.Variants {
				_, err := tx.ExecContext(ctx, variantQuery,
					v.StoreID,
					v.ExternalID,
					v.ProductExternalID,
					v.Title,
					v.SKU,
					v.Price,
					v.Cost,
				)
				if err != nil {
					return fmt.Errorf("failed to upsert variant %d: %w", v.ExternalID, err)
				}
			}
		}
		return nil
	})
}

func (s *MySQLStore) CountOrdersInWindow(ctx context.Context, storeID string, from, to time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM orders WHERE store_id = ? AND created_at BETWEEN ? AND ?`

	var count int64
	err := s.db.DB.QueryRowContext(ctx, query, storeID, from, to).Scan(&count)
	return count, err
}

const orderColumns = `store_id, external_id, name, created_at, financial_status, currency,
	total_price, total_shipping, total_tax, total_discounts, total_refunds, last_synced_at`

func (s *MySQLStore) ListRefundCandidates(ctx context.Context, storeID string, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = ? AND financial_status IN ('refunded', 'partially_refunded', 'voided')
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.StoreID,
			&o.ExternalID,
			&o.Name,
			&o.CreatedAt,
			&o.FinancialStatus,
			&o.Currency,
			&o.TotalPrice,
			&o.TotalShipping,
			&o.TotalTax,
			&o.TotalDiscounts,
			&o.TotalRefunds,
			&o.LastSyncedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *MySQLStore) UpdateOrderRefunds(ctx context.Context, storeID string, externalID int64, total decimal.Decimal) error {
	query := `UPDATE orders SET total_refunds = ? WHERE store_id = ? AND external_id = ?`

	_, err := s.db.DB.ExecContext(ctx, query, total, storeID, externalID)
	return err
}

func (s *MySQLStore) HasRecentChanges(ctx context.Context, storeID string, since time.Time) (bool, error) {
	// Only human-owned writes count. The sync stamps last_synced_at and
	// SHOPIFY-sourced cost_last_updated itself, so probing those columns
	// would make the gate true forever after the first sync.
	query := `SELECT EXISTS(SELECT 1 FROM product_variants
		WHERE store_id = ? AND cost_source = 'MANUAL' AND cost_last_updated >= ?)`

	var changed bool
	err := s.db.DB.QueryRowContext(ctx, query, storeID, since).Scan(&changed)
	return changed, err
}

func (s *MySQLStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs
			(id, store_id, data_types, trigger_source, trigger_reason, started_at, records_processed, status)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		run.ID,
		run.StoreID,
		run.DataTypes,
		run.TriggerSource,
		run.TriggerReason,
		run.StartedAt,
		run.Status,
	)
	return err
}

func (s *MySQLStore) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs
		SET completed_at = ?, records_processed = ?, status = ?, error_message = ?
		WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		run.CompletedAt,
		run.RecordsProcessed,
		run.Status,
		run.ErrorMessage,
		run.ID,
	)
	return err
}

func (s *MySQLStore) ListSyncRuns(ctx context.Context, storeID string, limit int) ([]*SyncRun, error) {
	query := `SELECT id, store_id, data_types, trigger_source, trigger_reason,
			started_at, completed_at, records_processed, status, error_message
		FROM sync_runs WHERE store_id = ? ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		err := rows.Scan(
			&r.ID,
			&r.StoreID,
			&r.DataTypes,
			&r.TriggerSource,
			&r.TriggerReason,
			&r.StartedAt,
			&r.CompletedAt,
			&r.RecordsProcessed,
			&r.Status,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
