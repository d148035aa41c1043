package services

import (
	"context"
	"time"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/payments"
)

// CouponService exposes coupon validation and redemption as separate
// operations. Validation is side-effect free and may be called arbitrarily
// often; redemption mutates usage accounting and happens at most once per
// completed order.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (domain.CouponResult, error)
	Redeem(ctx context.Context, code string) (domain.Coupon, error)
}

// ValidateCouponCommand carries the inputs for a coupon validation call.
type ValidateCouponCommand struct {
	Code        string
	OrderAmount int64
}

// OrderService owns the order lifecycle from creation through settlement.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	// ApplyAttempts is the single entry point through which gateway
	// callbacks and reconciliation feed attempt reports into the order.
	ApplyAttempts(ctx context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error)
}

// CreateOrderCommand carries the inputs for order creation.
type CreateOrderCommand struct {
	Cart           domain.Cart
	Customer       domain.CustomerDetails
	CouponCode     string
	Currency       string
	IdempotencyKey string
}

// OrderCreation is the result handed back to the client after creating an
// order: the order itself plus the gateway session handle needed to pay.
type OrderCreation struct {
	Order   domain.Order
	Session payments.Session
	// Replayed is true when the idempotency key had already claimed an
	// order and that order was returned instead of creating a new one.
	Replayed bool
}

// OrderDetails is an order together with its recorded payment attempts.
type OrderDetails struct {
	Order    domain.Order
	Attempts []domain.PaymentAttempt
}

// ReconcileService polls unresolved orders and drives them to convergence.
type ReconcileService interface {
	// Run blocks, sweeping on the configured interval until ctx is done.
	Run(ctx context.Context) error
	// RunOnce performs a single sweep and reports what it did.
	RunOnce(ctx context.Context) (ReconcileReport, error)
}

// ReconcileReport summarises one reconciliation sweep.
type ReconcileReport struct {
	Scanned   int
	Resolved  int
	Failed    int
	Stuck     int
	StartedAt time.Time
	Duration  time.Duration
}

// PaymentGateway is the slice of the payments manager the services depend on.
type PaymentGateway interface {
	CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SessionRequest) (payments.Session, error)
	FetchAttempts(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AttemptsRequest) ([]payments.AttemptRecord, error)
}

// AttemptApplier is the narrow slice of OrderService the reconciler needs.
type AttemptApplier interface {
	ApplyAttempts(ctx context.Context, orderID string, attempts []domain.PaymentAttempt) (domain.Order, error)
}
