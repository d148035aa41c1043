package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/festpass/api/internal/domain"
	"github.com/festpass/api/internal/repositories"
)

var (
	// ErrCouponRepositoryMissing indicates the service was constructed without a coupon repository.
	ErrCouponRepositoryMissing = errors.New("coupon service: coupon repository is not configured")
	// ErrCouponInvalidInput signals the caller provided invalid data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon could not be located for redemption.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponLimitExceeded indicates a redemption lost the race for the last available use.
	ErrCouponLimitExceeded = errors.New("coupon: usage limit exceeded")
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	repo   repositories.CouponRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the provided repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		repo:   deps.Coupons,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Validate evaluates the coupon against the order amount without mutating
// usage accounting. A coupon that fails a rule yields a rejected result, not
// an error; errors are reserved for infrastructure faults.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (domain.CouponResult, error) {
	if cmd.OrderAmount < 0 {
		return domain.CouponResult{}, fmt.Errorf("%w: order amount must not be negative", ErrCouponInvalidInput)
	}

	normalized := domain.NormalizeCouponCode(cmd.Code)
	if normalized == "" {
		return domain.CouponResult{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.lookup(ctx, normalized)
	if err != nil {
		return domain.CouponResult{}, err
	}
	return domain.EvaluateCoupon(coupon, cmd.OrderAmount, s.clock()), nil
}

// Redeem consumes one use of the coupon. The repository re-checks the usage
// limit atomically, so two concurrent redemptions of the last remaining use
// cannot both succeed.
func (s *couponService) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.repo.Redeem(ctx, normalized, s.clock())
	if err != nil {
		if errors.Is(err, repositories.ErrCouponLimitReached) {
			return domain.Coupon{}, ErrCouponLimitExceeded
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Coupon{}, ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("coupon: redeem %s: %w", normalized, err)
	}

	s.logger(ctx, "coupon.redeemed", map[string]any{
		"code":        coupon.Code,
		"usage_count": coupon.UsageCount,
	})
	return coupon, nil
}

// lookup resolves the coupon, translating not-found into a nil coupon so the
// evaluator can report CODE_NOT_FOUND instead of the caller seeing an error.
func (s *couponService) lookup(ctx context.Context, code string) (*domain.Coupon, error) {
	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, fmt.Errorf("coupon: find %s: %w", code, err)
	}
	return &coupon, nil
}
