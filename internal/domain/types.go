package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token needed to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for payment orders.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order exists locally but no gateway attempt has reported back yet.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPending indicates the gateway session is open and payment is in flight.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusSuccess indicates a payment attempt completed successfully. Terminal.
	OrderStatusSuccess OrderStatus = "SUCCESS"
	// OrderStatusFailed indicates every attempt failed or the session could not be opened. Terminal.
	OrderStatusFailed OrderStatus = "FAILED"
)

// IsTerminal reports whether the status is final and may never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSuccess || s == OrderStatusFailed
}

// Valid reports whether the value belongs to the known status vocabulary.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPending, OrderStatusSuccess, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// AttemptStatus enumerates the normalised outcomes reported for a single payment attempt.
type AttemptStatus string

const (
	// AttemptStatusPending indicates the gateway has not settled the attempt yet.
	AttemptStatusPending AttemptStatus = "PENDING"
	// AttemptStatusSuccess indicates the gateway captured the payment.
	AttemptStatusSuccess AttemptStatus = "SUCCESS"
	// AttemptStatusFailed indicates the attempt was declined, cancelled, or expired.
	AttemptStatusFailed AttemptStatus = "FAILED"
)

// Valid reports whether the value belongs to the known attempt vocabulary.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusPending, AttemptStatusSuccess, AttemptStatusFailed:
		return true
	default:
		return false
	}
}

// CartItem is a single purchasable line in an incoming order request.
type CartItem struct {
	SKU       string
	Name      string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns the line total in minor units.
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Cart is the set of line items an order is created from. Carts are not
// persisted on their own; they arrive fully formed on the create request.
type Cart struct {
	Items []CartItem
}

// Total returns the deterministic sum of all line items in minor units.
func (c Cart) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

// CustomerDetails carries the purchaser contact information attached to an
// order at creation time. Immutable afterwards.
type CustomerDetails struct {
	Name  string
	Email string
	Phone string
}

// Order is the canonical record of one purchase flow, from creation through
// gateway settlement. Amounts are integer minor units in a single currency.
type Order struct {
	ID                string
	Status            OrderStatus
	Currency          string
	Items             []CartItem
	Customer          CustomerDetails
	RequestedAmount   int64
	CouponCode        string
	DiscountAmount    int64
	FinalAmount       int64
	CouponRedeemed    bool
	IdempotencyKey    string
	GatewayProvider   string
	GatewaySessionID  string
	ReconcileFailures int
	Stuck             bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentAttempt is one gateway-reported fact about an order. Attempts are
// append-only; the same attempt ID always describes the same event.
type PaymentAttempt struct {
	ID          string
	OrderID     string
	Provider    string
	Status      AttemptStatus
	Amount      int64
	Currency    string
	Message     string
	CompletedAt *time.Time
	RecordedAt  time.Time
}

// CouponType distinguishes percentage discounts from fixed-amount discounts.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the order amount, optionally capped.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts a fixed amount in minor units.
	CouponTypeFixed CouponType = "fixed"
)

// Coupon describes one discount code in the catalog. Codes are
// case-insensitive and stored upper-cased.
type Coupon struct {
	Code           string
	Type           CouponType
	Value          int64
	MinOrderAmount int64
	MaxDiscount    int64
	ExpiresAt      *time.Time
	UsageLimit     int
	UsageCount     int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderFilter narrows order listings, primarily for reconciliation sweeps.
type OrderFilter struct {
	Statuses      []OrderStatus
	CreatedBefore *time.Time
	Stuck         *bool
}
