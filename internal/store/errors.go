package store

import "errors"

// Rule violations surfaced to clients verbatim. Anything else returned by a
// store is an internal failure.
var (
	ErrUserNotFound         = errors.New("User not found")
	ErrEmailInUse           = errors.New("Email already in use")
	ErrVoucherUnavailable   = errors.New("Voucher not available or expired")
	ErrNotEligible          = errors.New("Not eligible for this voucher")
	ErrInsufficientPoints   = errors.New("Not enough points to redeem this voucher")
	ErrCannotFollowSelf     = errors.New("You cannot follow yourself")
	ErrAlreadyFollowing     = errors.New("Already following this user")
	ErrNotFollowing         = errors.New("Not following this user")
	ErrBadgeNotFound        = errors.New("Badge not found")
	ErrBadgeAlreadyAwarded  = errors.New("User already has this badge")
	ErrRewardNotFound       = errors.New("Reward not found")
	ErrRewardAlreadyAwarded = errors.New("User already has this reward")
	ErrNegativeBalance      = errors.New("Points balance cannot go below zero")
)

var ruleErrors = []error{
	ErrUserNotFound, ErrEmailInUse, ErrVoucherUnavailable, ErrNotEligible,
	ErrInsufficientPoints, ErrCannotFollowSelf, ErrAlreadyFollowing,
	ErrNotFollowing, ErrBadgeNotFound, ErrBadgeAlreadyAwarded,
	ErrRewardNotFound, ErrRewardAlreadyAwarded, ErrNegativeBalance,
}

// IsRuleError reports whether err is one of the store's rule violations.
func IsRuleError(err error) bool {
	for _, target := range ruleErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
