// Package chain sends stablecoin transfers to external blockchain addresses.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOutcomeUnknown means the transfer may have been broadcast but its fate
// could not be observed. The caller must not treat it as a failure.
var ErrOutcomeUnknown = errors.New("transfer outcome unknown")

// Transferer is the blockchain send boundary.
type Transferer interface {
	// Send transfers amountMicros of the stablecoin to address and returns the
	// settlement reference (transaction hash). When err wraps ErrOutcomeUnknown
	// the returned reference is the broadcast hash, if one exists.
	Send(ctx context.Context, address string, amountMicros int64) (string, error)
}

// TransferError is a definite failure: nothing was moved on chain.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("chain transfer %s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
