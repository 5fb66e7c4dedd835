package shopify

import (
	"time"

	"github.com/shopspring/decimal"
)

// Monetary fields arrive from the Admin API as JSON strings ("47.50");
// shopspring/decimal unmarshals those directly.

type Order struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FinancialStatus string          `json:"financial_status"`
	Currency        string          `json:"currency"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	TotalTax        decimal.Decimal `json:"total_tax"`
	TotalDiscounts  decimal.Decimal `json:"total_discounts"`
	ShippingLines   []ShippingLine  `json:"shipping_lines"`
	LineItems       []LineItem      `json:"line_items"`
}

// TotalShipping sums the order's shipping lines; the REST payload has no
// single total_shipping field.
func (o Order) TotalShipping() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.ShippingLines {
		total = total.Add(line.Price)
	}
	return total
}

type ShippingLine struct {
	Price decimal.Decimal `json:"price"`
}

type LineItem struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type Product struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Handle    string    `json:"handle"`
	Vendor    string    `json:"vendor"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Variants  []Variant `json:"variants"`
}

type Variant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	// Unit cost from the upstream inventory item, when expanded into the
	// variant payload.
	Cost decimal.Decimal `json:"cost"`
}

// Refund is one refund record attached to an order. A single order may carry
// several, each with its own transactions and order-level adjustments.
type Refund struct {
	ID               int64             `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Note             string            `json:"note"`
	Shipping         RefundShipping    `json:"shipping"`
	Transactions     []Transaction     `json:"transactions"`
	OrderAdjustments []OrderAdjustment `json:"order_adjustments"`
	RefundLineItems  []RefundLineItem  `json:"refund_line_items"`
}

type RefundShipping struct {
	Amount            decimal.Decimal `json:"amount"`
	MaximumRefundable decimal.Decimal `json:"maximum_refundable"`
}

type Transaction struct {
	ID     int64           `json:"id"`
	Kind   string          `json:"kind"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderAdjustment amounts are signed relative to the order balance.
type OrderAdjustment struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type RefundLineItem struct {
	ID       int64           `json:"id"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
	TotalTax decimal.Decimal `json:"total_tax"`
}

// OrderWindow bounds an orders listing or count by creation time.
type OrderWindow struct {
	From time.Time
	To   time.Time
}

type OrdersPage struct {
	Orders       []Order
	NextPageInfo string
}

type ProductsPage struct {
	Products     []Product
	NextPageInfo string
}
