package domain

import (
	"math"

	"github.com/ayo6706/ramp-ledger/internal/models"
)

// Balances is the pair of balances every account carries, in micros.
type Balances struct {
	Fiat   int64
	Stable int64
}

// ApplyDelta returns the balances after adding both deltas. It fails with
// models.ErrInsufficientFunds, leaving the input untouched, if either result
// would be negative, and with a validation error if either would leave the
// int64 range.
func ApplyDelta(b Balances, fiatDelta, stableDelta int64) (Balances, error) {
	fiat, ok := addMicros(b.Fiat, fiatDelta)
	if !ok {
		return b, models.NewValidationError("amount", "would exceed the maximum fiat balance")
	}
	stable, ok := addMicros(b.Stable, stableDelta)
	if !ok {
		return b, models.NewValidationError("amount", "would exceed the maximum stable balance")
	}
	if fiat < 0 || stable < 0 {
		return b, models.ErrInsufficientFunds
	}
	return Balances{Fiat: fiat, Stable: stable}, nil
}

func addMicros(a, delta int64) (int64, bool) {
	if (delta > 0 && a > math.MaxInt64-delta) || (delta < 0 && a < math.MinInt64-delta) {
		return 0, false
	}
	return a + delta, true
}
