package domain

import (
	"testing"
	"time"
)

func TestComputeFee_ZeroDuringFreeTrial(t *testing.T) {
	policy := NewFeePolicy(10, 30)
	user := &User{CreatedAt: time.Now().Add(-5 * 24 * time.Hour)}

	if fee := policy.ComputeFee(20000, user, time.Now()); fee != 0 {
		t.Fatalf("expected zero fee during free trial, got %d", fee)
	}
}

func TestComputeFee_TenPercentAfterTrial(t *testing.T) {
	policy := NewFeePolicy(10, 30)
	user := &User{CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}

	if fee := policy.ComputeFee(20000, user, time.Now()); fee != 2000 {
		t.Fatalf("expected 2000 (10%% of 20000), got %d", fee)
	}
}

func TestComputeFee_ExplicitTrialEndOverridesCreatedAt(t *testing.T) {
	policy := NewFeePolicy(10, 30)
	trialEnd := time.Now().Add(24 * time.Hour)
	user := &User{
		CreatedAt:       time.Now().Add(-365 * 24 * time.Hour),
		FreeTrialEndsAt: &trialEnd,
	}

	if fee := policy.ComputeFee(20000, user, time.Now()); fee != 0 {
		t.Fatalf("explicit trial end must win over created_at, got fee %d", fee)
	}
}

func TestComputeFee_RoundsHalfUp(t *testing.T) {
	policy := NewFeePolicy(10, 30)
	user := &User{CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}
	now := time.Now()

	cases := []struct {
		amount int64
		want   int64
	}{
		{amount: 5, want: 1},   // 0.5 rounds up
		{amount: 4, want: 0},   // 0.4 rounds down
		{amount: 15, want: 2},  // 1.5 rounds up
		{amount: 101, want: 10}, // 10.1 rounds down
	}
	for _, tc := range cases {
		if got := policy.ComputeFee(tc.amount, user, now); got != tc.want {
			t.Errorf("ComputeFee(%d) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestComputeFee_NonPositiveAmounts(t *testing.T) {
	policy := NewFeePolicy(10, 30)
	user := &User{CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}

	if fee := policy.ComputeFee(0, user, time.Now()); fee != 0 {
		t.Errorf("expected zero fee for zero amount, got %d", fee)
	}
	if fee := policy.ComputeFee(-100, user, time.Now()); fee != 0 {
		t.Errorf("expected zero fee for negative amount, got %d", fee)
	}
}

func TestNewFeePolicy_AppliesDefaults(t *testing.T) {
	policy := NewFeePolicy(0, 0)
	if policy.Percent != DefaultPlatformFeePercent {
		t.Errorf("expected default percent %d, got %d", DefaultPlatformFeePercent, policy.Percent)
	}
	if policy.FreeTrialDays != DefaultFreeTrialDays {
		t.Errorf("expected default trial days %d, got %d", DefaultFreeTrialDays, policy.FreeTrialDays)
	}
}
