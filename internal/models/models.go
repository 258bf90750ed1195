package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a ledger holder with one fiat and one stablecoin balance, both in micros.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  *string   `json:"-"`
	FiatBalance   int64     `json:"fiat_balance_micros"`
	StableBalance int64     `json:"stable_balance_micros"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction records one ledger operation. Amount is BRL micros for
// DEPOSIT_IN and WITHDRAW_OUT and USDC micros for CONVERT and ONCHAIN_SEND.
// CounterAmount carries the BRL debited by a CONVERT.
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Kind          string     `json:"kind"`
	Amount        int64      `json:"amount_micros"`
	CounterAmount *int64     `json:"counter_amount_micros,omitempty"`
	Status        string     `json:"status"`
	ExternalRef   *string    `json:"external_ref,omitempty"`
	SettlementRef *string    `json:"settlement_ref,omitempty"`
	Destination   *string    `json:"destination,omitempty"`
	Description   string     `json:"description"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AuditEntry is an immutable state-change record.
type AuditEntry struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// BalanceDrift reports an account whose stored balances disagree with the
// balances implied by its transaction history.
type BalanceDrift struct {
	AccountID      uuid.UUID `json:"account_id"`
	FiatBalance    int64     `json:"fiat_balance_micros"`
	ExpectedFiat   int64     `json:"expected_fiat_micros"`
	StableBalance  int64     `json:"stable_balance_micros"`
	ExpectedStable int64     `json:"expected_stable_micros"`
}
