package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelta(t *testing.T) {
	start := Balances{Fiat: 100_000_000, Stable: 0}

	next, err := ApplyDelta(start, -50_000_000, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, Balances{Fiat: 50_000_000, Stable: 10_000_000}, next)

	same, err := ApplyDelta(next, 0, -10_000_001)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, next, same)

	_, err = ApplyDelta(next, -50_000_001, 0)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	drained, err := ApplyDelta(next, -50_000_000, -10_000_000)
	require.NoError(t, err)
	assert.Equal(t, Balances{}, drained)
}

func TestApplyDeltaRejectsOverflow(t *testing.T) {
	cases := []struct {
		name        string
		start       Balances
		fiat        int64
		stable      int64
		insufficient bool
	}{
		{name: "fiat_credit", start: Balances{Fiat: math.MaxInt64 - 5}, fiat: 6},
		{name: "stable_credit", start: Balances{Stable: 1}, stable: math.MaxInt64},
		{name: "debit_below_min", start: Balances{Fiat: -1}, fiat: math.MinInt64},
		{name: "large_debit", start: Balances{Stable: 10}, stable: math.MinInt64 + 1, insufficient: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyDelta(tc.start, tc.fiat, tc.stable)
			require.Error(t, err)
			assert.Equal(t, tc.start, got)
			if tc.insufficient {
				assert.ErrorIs(t, err, models.ErrInsufficientFunds)
				return
			}
			assert.NotErrorIs(t, err, models.ErrInsufficientFunds)
			var vErr *models.ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}

	top, err := ApplyDelta(Balances{Fiat: math.MaxInt64 - 5}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), top.Fiat)
}

func TestNormalizeEventStatus(t *testing.T) {
	cases := map[string]EventOutcome{
		"paid":           OutcomeSuccess,
		"PAID":           OutcomeSuccess,
		"pix.received":   OutcomeSuccess,
		"COMPLETED":      OutcomeSuccess,
		"success":        OutcomeSuccess,
		"active":         OutcomeSuccess,
		"ACTIVE":         OutcomeSuccess,
		"inactive":       OutcomeUnhandled,
		"payment_failed": OutcomeFailure,
		"REJECTED":       OutcomeFailure,
		"error":          OutcomeFailure,
		"processing":     OutcomeUnhandled,
		"":               OutcomeUnhandled,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeEventStatus(raw), raw)
	}
}
