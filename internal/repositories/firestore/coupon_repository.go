package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/festpass/api/internal/domain"
	pfirestore "github.com/festpass/api/internal/platform/firestore"
	"github.com/festpass/api/internal/repositories"
)

const couponsCollection = "coupons"

type couponDocument struct {
	Type           string     `firestore:"type"`
	Value          int64      `firestore:"value"`
	MinOrderAmount int64      `firestore:"minOrderAmount"`
	MaxDiscount    int64      `firestore:"maxDiscount"`
	ExpiresAt      *time.Time `firestore:"expiresAt,omitempty"`
	UsageLimit     int        `firestore:"usageLimit"`
	UsageCount     int        `firestore:"usageCount"`
	Active         bool       `firestore:"active"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

// CouponRepository implements repositories.CouponRepository backed by
// Firestore. Documents are keyed by the normalised coupon code.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil),
	}, nil
}

// FindByCode resolves a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc.ID, doc.Data), nil
}

// Redeem atomically increments the usage count after re-checking the usage
// limit inside the transaction. Two concurrent redemptions on a nearly
// exhausted coupon cannot both pass the limit check.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}

	code = domain.NormalizeCouponCode(code)
	ref, err := r.coupons.DocumentRef(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}

	var redeemed domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}

		if doc.UsageLimit > 0 && doc.UsageCount >= doc.UsageLimit {
			return repositories.ErrCouponLimitReached
		}

		doc.UsageCount++
		doc.UpdatedAt = now
		if err := tx.Update(ref, []firestore.Update{
			{Path: "usageCount", Value: doc.UsageCount},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		redeemed = decodeCoupon(code, doc)
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrCouponLimitReached) {
			return domain.Coupon{}, repositories.ErrCouponLimitReached
		}
		return domain.Coupon{}, err
	}
	return redeemed, nil
}

func decodeCoupon(code string, doc couponDocument) domain.Coupon {
	return domain.Coupon{
		Code:           code,
		Type:           domain.CouponType(doc.Type),
		Value:          doc.Value,
		MinOrderAmount: doc.MinOrderAmount,
		MaxDiscount:    doc.MaxDiscount,
		ExpiresAt:      doc.ExpiresAt,
		UsageLimit:     doc.UsageLimit,
		UsageCount:     doc.UsageCount,
		Active:         doc.Active,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
