package repositories

import (
	"context"
	"time"

	domain "github.com/festpass/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Attempts() PaymentAttemptRepository
	Coupons() CouponRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents and their idempotency index.
type OrderRepository interface {
	// Insert writes the order and its idempotency-key index entry in one
	// atomic step. When the key is already claimed it returns a
	// RepositoryError with IsConflict; the caller reacts by re-reading.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIdempotencyKey resolves the order that claimed the key, with
	// IsNotFound when the key is unclaimed.
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	// UpdateStatus performs a compare-and-set on the status field. It fails
	// with IsConflict when the stored status no longer matches expected or
	// is already terminal, so racing writers can never clobber a settled
	// order.
	UpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) error
	// SetGatewaySession records the session handle obtained after insert.
	SetGatewaySession(ctx context.Context, orderID, provider, sessionID string, updatedAt time.Time) error
	// MarkCouponRedeemed flags that the order's coupon usage has been
	// counted, making redemption idempotent per order.
	MarkCouponRedeemed(ctx context.Context, orderID string, updatedAt time.Time) error
	// RecordReconcileOutcome tracks consecutive reconciliation failures and
	// the operator-visible stuck flag.
	RecordReconcileOutcome(ctx context.Context, orderID string, failures int, stuck bool, updatedAt time.Time) error
	// ListUnresolved returns orders matching the filter, oldest first, for
	// reconciliation sweeps.
	ListUnresolved(ctx context.Context, filter domain.OrderFilter, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// PaymentAttemptRepository stores gateway-reported attempts per order.
// Attempts are append-only facts: recording the same attempt ID twice must
// leave the first record untouched.
type PaymentAttemptRepository interface {
	Record(ctx context.Context, attempt domain.PaymentAttempt) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentAttempt, error)
}

// CouponRepository reads the coupon catalog and owns redemption accounting.
type CouponRepository interface {
	// FindByCode resolves a coupon by its normalised (upper-case) code,
	// with IsNotFound when no entry exists.
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// Redeem atomically increments the usage count after re-checking the
	// usage limit inside the same transaction. When the limit is already
	// reached it returns ErrCouponLimitReached without incrementing.
	Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
}

// HealthRepository exposes dependency probes used by readiness checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
