package memory

import (
	"context"
	"sync"
	"time"

	"github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/repositories"
)

// CouponRepository is an in-memory coupon catalog with atomic redemption.
type CouponRepository struct {
	mu      sync.RWMutex
	coupons map[string]domain.Coupon
}

// NewCouponRepository constructs an in-memory coupon repository seeded with
// the supplied coupons.
func NewCouponRepository(coupons ...domain.Coupon) *CouponRepository {
	repo := &CouponRepository{coupons: make(map[string]domain.Coupon, len(coupons))}
	for _, coupon := range coupons {
		repo.coupons[domain.NormalizeCouponCode(coupon.Code)] = coupon
	}
	return repo
}

// Put inserts or replaces a coupon, for test setup.
func (r *CouponRepository) Put(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[domain.NormalizeCouponCode(coupon.Code)] = coupon
}

// FindByCode resolves a coupon by its normalised code.
func (r *CouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, notFoundError("memory coupons: code not found")
	}
	return coupon, nil
}

// Redeem increments the usage count after re-checking the usage limit under
// the same lock, so concurrent redemptions cannot both pass the check.
func (r *CouponRepository) Redeem(_ context.Context, code string, now time.Time) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeCouponCode(code)
	coupon, ok := r.coupons[key]
	if !ok {
		return domain.Coupon{}, notFoundError("memory coupons: code not found")
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return domain.Coupon{}, repositories.ErrCouponLimitReached
	}

	coupon.UsageCount++
	coupon.UpdatedAt = now
	r.coupons[key] = coupon
	return coupon, nil
}
