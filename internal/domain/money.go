package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Money represents a monetary value in one of the two ledger denominations.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // BRL or USDC
}

const microsPerUnit = 1_000_000

var (
	microsFactor = decimal.NewFromInt(microsPerUnit)
	// maxAmount is the largest value whose micros fit in an int64.
	maxAmount = decimal.New(math.MaxInt64, -6)
)

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(microsFactor)
}

// String renders the amount with the denomination's fixed number of places.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", FormatMicros(m.Amount, m.Currency), m.Currency)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating anything below 10^-6.
// Values above the int64 range wrap; bound them with AmountFromDecimal first.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsFactor).IntPart()
}

// ScaleFor returns the number of fractional digits a denomination accepts.
func ScaleFor(currency string) int32 {
	if currency == CurrencyFiat {
		return FiatScale
	}
	return StableScale
}

// FormatMicros renders micros as a fixed-point string in the denomination's scale.
func FormatMicros(micros int64, currency string) string {
	return NewMoney(micros, currency).ToDecimal().StringFixed(ScaleFor(currency))
}

// ParseAmount parses a positive decimal string into micros, rejecting values with
// more fractional digits than the denomination supports.
func ParseAmount(raw, currency string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, models.NewValidationError("amount", "is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, models.NewValidationError("amount", "must be a decimal number")
	}
	return AmountFromDecimal(d, currency)
}

// AmountFromDecimal validates an already-parsed decimal amount and returns micros.
func AmountFromDecimal(d decimal.Decimal, currency string) (int64, error) {
	if !d.IsPositive() {
		return 0, models.NewValidationError("amount", "must be greater than zero")
	}
	if d.GreaterThan(maxAmount) {
		return 0, models.NewValidationError("amount", "exceeds the maximum supported value")
	}
	scale := ScaleFor(currency)
	if !d.Equal(d.Truncate(scale)) {
		return 0, models.NewValidationError("amount", fmt.Sprintf("supports at most %d decimal places for %s", scale, currency))
	}
	micros := FromDecimal(d)
	if micros <= 0 {
		return 0, models.NewValidationError("amount", "must be greater than zero")
	}
	return micros, nil
}

// FiatToStable converts a fiat amount to stablecoin at rate fiat units per stable unit.
// The result is rounded down to the stable scale so the ledger never credits more
// than the fiat debited is worth.
func FiatToStable(fiatMicros int64, rate decimal.Decimal) (int64, error) {
	if !rate.IsPositive() {
		return 0, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	stable := NewMoney(fiatMicros, CurrencyFiat).ToDecimal().Div(rate).Truncate(StableScale)
	if stable.GreaterThan(maxAmount) {
		return 0, models.NewValidationError("amount", "converts to more than the maximum supported value")
	}
	return FromDecimal(stable), nil
}
