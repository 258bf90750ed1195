package gateway

import (
	"context"
	"fmt"
	"time"
)

// SimulatedGateway stands in for the provider when no credentials are
// configured. Charges are left to the local code generator and payouts
// succeed after Delay.
type SimulatedGateway struct {
	Delay time.Duration
	// FailPayouts makes every payout fail, for exercising the refund path.
	FailPayouts bool
	now         func() time.Time
}

var _ PaymentGateway = (*SimulatedGateway)(nil)

// NewSimulatedGateway creates a simulated gateway with the given payout delay.
func NewSimulatedGateway(delay time.Duration) *SimulatedGateway {
	return &SimulatedGateway{Delay: delay, now: time.Now}
}

// CreateCharge always returns ErrNotConfigured so callers fall back to a
// locally generated payment code.
func (g *SimulatedGateway) CreateCharge(ctx context.Context, accountRef string, amountMicros int64) (Charge, error) {
	return Charge{}, ErrNotConfigured
}

// Payout waits for Delay and returns an id of the form out_pix_<unix millis>.
func (g *SimulatedGateway) Payout(ctx context.Context, accountRef string, amountMicros int64, payoutKey string) (PayoutResult, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return PayoutResult{}, fmt.Errorf("simulated payout: %w: %w", ErrNotDispatched, ctx.Err())
		}
	}
	if g.FailPayouts {
		return PayoutResult{}, &GatewayError{Op: "payout", Err: fmt.Errorf("simulated payout rejected")}
	}
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return PayoutResult{ExternalID: fmt.Sprintf("out_pix_%d", now().UnixMilli())}, nil
}
