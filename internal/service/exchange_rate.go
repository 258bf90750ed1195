package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultExchangeRate is the number of fiat units per stable unit.
var DefaultExchangeRate = decimal.NewFromInt(5)

// ExchangeRateService defines the interface for fetching FX rates.
type ExchangeRateService interface {
	// GetExchangeRate returns how many source units buy one target unit.
	GetExchangeRate(ctx context.Context, sourceCurrency, targetCurrency string) (decimal.Decimal, error)
}

// FixedRateService quotes a single configured BRL/USDC rate.
type FixedRateService struct {
	rate decimal.Decimal
}

func NewFixedRateService(rate decimal.Decimal) (*FixedRateService, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	return &FixedRateService{rate: rate}, nil
}

func (s *FixedRateService) GetExchangeRate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	switch {
	case source == target:
		return decimal.NewFromInt(1), nil
	case source == domain.CurrencyFiat && target == domain.CurrencyStable:
		return s.rate, nil
	case source == domain.CurrencyStable && target == domain.CurrencyFiat:
		return decimal.NewFromInt(1).DivRound(s.rate, domain.StableScale), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported currency pair %s/%s", source, target)
	}
}
