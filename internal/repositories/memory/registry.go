package memory

import (
	"context"

	"github.com/festpass/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind the
// repositories.Registry contract, for tests and local runs.
type Registry struct {
	orders   *OrderRepository
	attempts *PaymentAttemptRepository
	coupons  *CouponRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs a fresh in-memory repository set.
func NewRegistry() *Registry {
	return &Registry{
		orders:   NewOrderRepository(),
		attempts: NewPaymentAttemptRepository(),
		coupons:  NewCouponRepository(),
	}
}

// Close is a no-op for the in-memory registry.
func (r *Registry) Close(context.Context) error { return nil }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Attempts returns the payment attempt repository.
func (r *Registry) Attempts() repositories.PaymentAttemptRepository { return r.attempts }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// CouponStore exposes the concrete coupon repository for test seeding.
func (r *Registry) CouponStore() *CouponRepository { return r.coupons }

// Health returns an always-healthy probe.
func (r *Registry) Health() repositories.HealthRepository { return healthProbe{} }

type healthProbe struct{}

func (healthProbe) Ping(context.Context) error { return nil }
