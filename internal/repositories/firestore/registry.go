package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/festpass/api/internal/platform/firestore"
	"github.com/festpass/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	attempts *PaymentAttemptRepository
	coupons  *CouponRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository set over one shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	attempts, err := NewPaymentAttemptRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		attempts: attempts,
		coupons:  coupons,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Attempts returns the payment attempt repository.
func (r *Registry) Attempts() repositories.PaymentAttemptRepository { return r.attempts }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Health returns a probe that verifies Firestore connectivity.
func (r *Registry) Health() repositories.HealthRepository {
	return healthProbe{provider: r.provider}
}

type healthProbe struct {
	provider *pfirestore.Provider
}

// Ping issues a minimal read against the orders collection.
func (p healthProbe) Ping(ctx context.Context) error {
	client, err := p.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(ordersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("health.ping", err)
	}
	return nil
}
