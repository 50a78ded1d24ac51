package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the checkout reads. It is owned by the
// back-office; this package never writes anything but stock counters.
type Product struct {
	ID            string
	SKU           string
	Slug          string
	Name          string
	ImageURL      string
	Price         decimal.Decimal
	DiscountPrice decimal.NullDecimal
	StockQuantity int
	IsInStock     bool
	IsActive      bool
}

// EffectivePrice is the discounted price when one is set below the regular
// price, otherwise the regular price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.IsPositive() && p.DiscountPrice.Decimal.LessThan(p.Price) {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

// LineItem is frozen at order creation and never refreshed from the catalog.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"image,omitempty"`
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	BuyerID          string          `json:"buyerId"`
	Items            []LineItem      `json:"items"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Currency         string          `json:"currency"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	GatewaySessionID string          `json:"gatewaySessionId,omitempty"`
	PaymentIntentID  string          `json:"paymentIntentId,omitempty"`
	Notes            string          `json:"notes"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (o *Order) State() State { return State{Status: o.Status, PaymentStatus: o.PaymentStatus} }

// Total sums the snapshotted line items.
func Total(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// Override is an administrative write of the status fields. Empty values
// leave the corresponding field unchanged; Notes nil leaves notes unchanged.
type Override struct {
	Status        Status
	PaymentStatus PaymentStatus
	Notes         *string
	Actor         string
}

type AuditEntry struct {
	OrderID  string
	Actor    string
	Previous State
	Current  State
	Notes    *string
	At       time.Time
}

type ListQuery struct {
	BuyerID  string
	Status   Status
	Page     int
	PageSize int
}

type Page struct {
	Orders     []Order `json:"orders"`
	Pagination struct {
		Page       int `json:"page"`
		PageSize   int `json:"pageSize"`
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

func newPage(orders []Order, q ListQuery, total int) Page {
	var p Page
	p.Orders = orders
	if p.Orders == nil {
		p.Orders = []Order{}
	}
	p.Pagination.Page = q.Page
	p.Pagination.PageSize = q.PageSize
	p.Pagination.Total = total
	if q.PageSize > 0 {
		p.Pagination.TotalPages = (total + q.PageSize - 1) / q.PageSize
	}
	return p
}

// TransitionOpts carries side data written together with a state change.
type TransitionOpts struct {
	PaymentIntentID string
	ReleaseStock    bool
}
