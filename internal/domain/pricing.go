package domain

import (
	"fmt"
	"time"
)

// CouponReason classifies why a coupon failed validation.
type CouponReason string

const (
	// CouponReasonNotFound means the code matched no active catalog entry.
	CouponReasonNotFound CouponReason = "CODE_NOT_FOUND"
	// CouponReasonExpired means the coupon's validity window has ended.
	CouponReasonExpired CouponReason = "EXPIRED"
	// CouponReasonBelowMinimum means the order amount is under the coupon's minimum.
	CouponReasonBelowMinimum CouponReason = "BELOW_MINIMUM"
	// CouponReasonLimitExceeded means the coupon's usage limit is exhausted.
	CouponReasonLimitExceeded CouponReason = "LIMIT_EXCEEDED"
)

// CouponResult is the outcome of evaluating a coupon against an order amount.
// When Valid is false, Reason and Message explain the first failing rule and
// the amounts are zero/unchanged.
type CouponResult struct {
	Valid          bool
	DiscountAmount int64
	FinalAmount    int64
	Reason         CouponReason
	Message        string
}

// EvaluateCoupon applies the discount eligibility rules in order, first
// failure wins. It never mutates the coupon; usage accounting happens at
// redemption time, not here. A nil coupon stands for a code with no active
// catalog entry.
func EvaluateCoupon(coupon *Coupon, orderAmount int64, now time.Time) CouponResult {
	if coupon == nil || !coupon.Active {
		return CouponResult{
			FinalAmount: orderAmount,
			Reason:      CouponReasonNotFound,
			Message:     "coupon code not found",
		}
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return CouponResult{
			FinalAmount: orderAmount,
			Reason:      CouponReasonExpired,
			Message:     "coupon has expired",
		}
	}
	if coupon.MinOrderAmount > 0 && orderAmount < coupon.MinOrderAmount {
		return CouponResult{
			FinalAmount: orderAmount,
			Reason:      CouponReasonBelowMinimum,
			Message:     fmt.Sprintf("order amount is below the minimum of %d", coupon.MinOrderAmount),
		}
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return CouponResult{
			FinalAmount: orderAmount,
			Reason:      CouponReasonLimitExceeded,
			Message:     "coupon usage limit reached",
		}
	}

	var discount int64
	switch coupon.Type {
	case CouponTypePercentage:
		discount = orderAmount * coupon.Value / 100
		if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
			discount = coupon.MaxDiscount
		}
	case CouponTypeFixed:
		discount = coupon.Value
	}
	if discount < 0 {
		discount = 0
	}
	if discount > orderAmount {
		discount = orderAmount
	}

	return CouponResult{
		Valid:          true,
		DiscountAmount: discount,
		FinalAmount:    orderAmount - discount,
	}
}

// ResolveStatus folds a batch of payment attempts into the canonical order
// status. Pure and deterministic: re-running it on the same inputs yields the
// same output, so callback and polling paths can both use it freely.
//
// A terminal current status is returned unchanged regardless of the attempts;
// replayed or late-arriving reports never reopen a settled order. Otherwise
// any successful attempt wins, a pending attempt holds the order open, and a
// non-empty batch of only failures settles the order as failed. With no
// attempts the current status stands.
func ResolveStatus(current OrderStatus, attempts []PaymentAttempt) OrderStatus {
	if current.IsTerminal() {
		return current
	}

	var anySuccess, anyPending, anyAttempt bool
	for _, attempt := range attempts {
		anyAttempt = true
		switch attempt.Status {
		case AttemptStatusSuccess:
			anySuccess = true
		case AttemptStatusPending:
			anyPending = true
		}
	}

	switch {
	case anySuccess:
		return OrderStatusSuccess
	case anyPending:
		return OrderStatusPending
	case anyAttempt:
		return OrderStatusFailed
	default:
		return current
	}
}
