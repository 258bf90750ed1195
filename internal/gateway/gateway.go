package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by gateways that cannot serve a call because no
// provider credentials were supplied.
var ErrNotConfigured = errors.New("payment gateway not configured")

// ErrNotDispatched means the call was abandoned before anything reached the
// provider, so it is safe to retry.
var ErrNotDispatched = errors.New("payout not dispatched")

// PaymentGateway is the instant-payment provider boundary.
type PaymentGateway interface {
	// CreateCharge registers an inbound charge. An empty Charge.Code means the
	// provider assigned an id but returned no payment code.
	CreateCharge(ctx context.Context, accountRef string, amountMicros int64) (Charge, error)
	// Payout pushes amountMicros (BRL) to payoutKey and returns the provider's id.
	Payout(ctx context.Context, accountRef string, amountMicros int64, payoutKey string) (PayoutResult, error)
}

type Charge struct {
	ExternalID string
	Code       string
}

type PayoutResult struct {
	ExternalID string
}

// GatewayError wraps a provider failure with the operation that failed.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
