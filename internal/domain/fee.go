/**
 * @description
 * Platform fee policy. The marketplace waives its fee during a per-account
 * free-trial window and charges a percentage of the job price afterwards.
 */

package domain

import "time"

// DefaultFreeTrialDays is the trial window applied when an account carries
// no explicit free_trial_ends_at value.
const DefaultFreeTrialDays = 30

// DefaultPlatformFeePercent is the platform's cut of a job price, in percent.
const DefaultPlatformFeePercent = 10

// FeePolicy computes the platform fee owed for a payment amount. It is a
// pure value: no persisted state, safe to call any number of times.
type FeePolicy struct {
	Percent       int64
	FreeTrialDays int
}

// NewFeePolicy returns a policy with defaults applied for zero values.
func NewFeePolicy(percent int64, freeTrialDays int) FeePolicy {
	if percent <= 0 {
		percent = DefaultPlatformFeePercent
	}
	if freeTrialDays <= 0 {
		freeTrialDays = DefaultFreeTrialDays
	}
	return FeePolicy{Percent: percent, FreeTrialDays: freeTrialDays}
}

// FreeTrialEnd resolves the account's trial cutoff: the explicit override
// when set, otherwise account creation plus the policy window.
func (p FeePolicy) FreeTrialEnd(user *User) time.Time {
	if user.FreeTrialEndsAt != nil {
		return *user.FreeTrialEndsAt
	}
	return user.CreatedAt.Add(time.Duration(p.FreeTrialDays) * 24 * time.Hour)
}

// ComputeFee returns the platform fee in cents for the given amount.
// Accounts inside their free-trial window owe nothing; afterwards the fee is
// the policy percentage of the amount, rounded half-up.
func (p FeePolicy) ComputeFee(amountCents int64, user *User, now time.Time) int64 {
	if amountCents <= 0 {
		return 0
	}
	if now.Before(p.FreeTrialEnd(user)) {
		return 0
	}
	// Round half-up in integer arithmetic: (amount*percent + 50) / 100.
	return (amountCents*p.Percent + 50) / 100
}
