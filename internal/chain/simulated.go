package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SimulatedTransferer returns a random 32-byte hash without touching a chain.
// It is used when no RPC endpoint or signer is configured.
type SimulatedTransferer struct {
	Latency time.Duration
	// Err, when set, is returned instead of a hash.
	Err error
}

var _ Transferer = (*SimulatedTransferer)(nil)

func NewSimulatedTransferer() *SimulatedTransferer {
	return &SimulatedTransferer{}
}

func (s *SimulatedTransferer) Send(ctx context.Context, address string, amountMicros int64) (string, error) {
	if !IsAddress(address) {
		return "", &TransferError{Op: "validate", Err: fmt.Errorf("invalid destination address %q", address)}
	}
	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", &TransferError{Op: "send", Err: ctx.Err()}
		case <-time.After(s.Latency):
		}
	}
	if s.Err != nil {
		return "", s.Err
	}

	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", &TransferError{Op: "send", Err: err}
	}
	hash := "0x" + hex.EncodeToString(buf[:])
	zap.L().Info("simulated chain transfer", zap.String("tx_hash", hash), zap.String("to", address), zap.Int64("amount_micros", amountMicros))
	return hash, nil
}
