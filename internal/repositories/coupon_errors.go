package repositories

import "errors"

// ErrCouponLimitReached indicates a redemption attempt found the usage limit
// already exhausted. Callers distinguish it from infrastructure failures: the
// coupon simply cannot be redeemed again.
var ErrCouponLimitReached = errors.New("repositories: coupon usage limit reached")
