package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/shopify"
	"shopify-sync-service/internal/store"
)

// Order-level adjustment kinds. Adjustments are signed relative to the order
// balance, so magnitude handling differs per kind.
const (
	adjustmentShippingRefund    = "shipping_refund"
	adjustmentTaxAdjustment     = "tax_adjustment"
	adjustmentReturnFee         = "return_fee"
	adjustmentRefundDiscrepancy = "refund_discrepancy"
)

// RefundComponents is the per-order breakdown behind a canonical refunded
// total. It is computed from one refunds response and exposed (not hidden
// behind the total) so drift against the upstream analytics figure can be
// audited per component.
type RefundComponents struct {
	TransactionsTotal    decimal.Decimal `json:"transactionsTotal"`
	ShippingTotal        decimal.Decimal `json:"shippingTotal"`
	TaxAdjustmentTotal   decimal.Decimal `json:"taxAdjustmentTotal"`
	OtherAdjustmentTotal decimal.Decimal `json:"otherAdjustmentTotal"`
}

func (c RefundComponents) Total() decimal.Decimal {
	return c.TransactionsTotal.
		Add(c.ShippingTotal).
		Add(c.TaxAdjustmentTotal).
		Add(c.OtherAdjustmentTotal)
}

// ComputeRefundComponents folds every refund record of one order into the
// four-component model:
//
//  1. transactions of kind refund or void (a void is money returned through
//     a cancelled authorization and must count, or the total undercounts);
//  2. the explicit shipping-refund amount on the record;
//  3. tax adjustments and return fees by absolute value, since the sign only
//     encodes direction against the order balance;
//  4. any remaining positive adjustment, except refund discrepancies, which
//     are the store's own uncollected-debt write-off, not customer money.
func ComputeRefundComponents(refunds []shopify.Refund) RefundComponents {
	c := RefundComponents{
		TransactionsTotal:    decimal.Zero,
		ShippingTotal:        decimal.Zero,
		TaxAdjustmentTotal:   decimal.Zero,
		OtherAdjustmentTotal: decimal.Zero,
	}

	for _, refund := range refunds {
		for _, txn := range refund.Transactions {
			kind := strings.ToLower(txn.Kind)
			if kind != "refund" && kind != "void" {
				continue
			}
			status := strings.ToLower(txn.Status)
			if status == "failure" || status == "error" {
				continue
			}
			c.TransactionsTotal = c.TransactionsTotal.Add(txn.Amount)
		}

		c.ShippingTotal = c.ShippingTotal.Add(refund.Shipping.Amount)

		for _, adj := range refund.OrderAdjustments {
			switch strings.ToLower(adj.Kind) {
			case adjustmentTaxAdjustment, adjustmentReturnFee:
				c.TaxAdjustmentTotal = c.TaxAdjustmentTotal.Add(adj.Amount.Abs())
			case adjustmentShippingRefund:
				// Already represented by the record's shipping amount.
			case adjustmentRefundDiscrepancy:
				// Store write-off, not money returned to the customer.
			default:
				if adj.Amount.IsPositive() {
					c.OtherAdjustmentTotal = c.OtherAdjustmentTotal.Add(adj.Amount)
				}
			}
		}
	}

	return c
}

// Reconciler recomputes canonical refunded totals from upstream refund
// records, per order and across a store.
type Reconciler struct {
	store   store.Store
	fetcher Fetcher
}

func NewReconciler(st store.Store, fetcher Fetcher) *Reconciler {
	return &Reconciler{store: st, fetcher: fetcher}
}

// ReconcileOrderRefunds fetches the order's refund records, folds them into
// one canonical total, and overwrites the persisted value. The overwrite
// (rather than increment) makes the operation idempotent and re-runnable.
func (r *Reconciler) ReconcileOrderRefunds(ctx context.Context, storeID string, orderID int64) (decimal.Decimal, RefundComponents, error) {
	refunds, err := r.fetcher.GetOrderRefunds(ctx, orderID)
	if err != nil {
		return decimal.Zero, RefundComponents{}, fmt.Errorf("failed to fetch refunds for order %d: %w", orderID, err)
	}

	components := ComputeRefundComponents(refunds)
	total := components.Total()

	if err := r.store.UpdateOrderRefunds(ctx, storeID, orderID, total); err != nil {
		return decimal.Zero, components, fmt.Errorf("failed to persist refund total for order %d: %w", orderID, err)
	}

	logger.Log.Debug("Reconciled order refunds",
		zap.String("storeID", storeID),
		zap.Int64("orderID", orderID),
		zap.String("total", total.StringFixed(2)),
		zap.String("transactions", components.TransactionsTotal.StringFixed(2)),
		zap.String("shipping", components.ShippingTotal.StringFixed(2)),
		zap.String("taxAdjustments", components.TaxAdjustmentTotal.StringFixed(2)),
		zap.String("otherAdjustments", components.OtherAdjustmentTotal.StringFixed(2)),
	)
	return total, components, nil
}

// BatchResult summarizes a reconciliation pass over many orders.
type BatchResult struct {
	OrdersReconciled int             `json:"ordersReconciled"`
	Failures         int             `json:"failures"`
	TotalRefunds     decimal.Decimal `json:"totalRefunds"`
	StoppedEarly     bool            `json:"stoppedEarly"`
}

// ReconcileBatch walks orders flagged as potentially refunded and recomputes
// each one. A failed fetch for one order leaves its persisted value untouched
// and never aborts the rest of the batch; an upstream rate limit stops the
// pass early with everything already written preserved.
func (r *Reconciler) ReconcileBatch(ctx context.Context, storeID string, limit int) (BatchResult, error) {
	result := BatchResult{TotalRefunds: decimal.Zero}

	candidates, err := r.store.ListRefundCandidates(ctx, storeID, limit)
	if err != nil {
		return result, fmt.Errorf("failed to list refund candidates: %w", err)
	}

	for _, order := range candidates {
		if err := ctx.Err(); err != nil {
			result.StoppedEarly = true
			return result, nil
		}

		total, _, err := r.ReconcileOrderRefunds(ctx, storeID, order.ExternalID)
		if err != nil {
			if shopify.IsRateLimited(err) {
				logger.Log.Warn("Reconciliation pass rate limited, stopping early",
					zap.String("storeID", storeID),
					zap.Int("ordersReconciled", result.OrdersReconciled),
				)
				result.StoppedEarly = true
				return result, nil
			}
			result.Failures++
			logger.Log.Warn("Order reconciliation failed, keeping existing total",
				zap.String("storeID", storeID),
				zap.Int64("orderID", order.ExternalID),
				zap.Error(err),
			)
			continue
		}

		result.OrdersReconciled++
		result.TotalRefunds = result.TotalRefunds.Add(total)
	}

	logger.Log.Info("Reconciliation pass finished",
		zap.String("storeID", storeID),
		zap.Int("ordersReconciled", result.OrdersReconciled),
		zap.Int("failures", result.Failures),
		zap.String("totalRefunds", result.TotalRefunds.StringFixed(2)),
	)
	return result, nil
}
