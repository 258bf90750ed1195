package repository

import (
	"context"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/google/uuid"
)

// Querier is the full set of ledger queries. Lookups that find nothing return
// pgx.ErrNoRows. Methods suffixed ForUpdate take a row lock and are only
// meaningful inside Store.RunInTx.
type Querier interface {
	CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error)
	UpdateAccountBalances(ctx context.Context, arg UpdateAccountBalancesParams) (int64, error)
	UpdateAccountWallet(ctx context.Context, arg UpdateAccountWalletParams) (int64, error)
	ListAccounts(ctx context.Context, arg ListParams) ([]models.Account, error)

	CreateTransaction(ctx context.Context, arg CreateTransactionParams) (models.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionByRefForUpdate(ctx context.Context, ref string) (models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	SetTransactionExternalRef(ctx context.Context, arg SetTransactionExternalRefParams) (int64, error)
	ListAccountTransactions(ctx context.Context, arg ListAccountTransactionsParams) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error)
	ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error)
	MarkTransactionDispatched(ctx context.Context, id uuid.UUID) (int64, error)
	ReleaseWithdrawalClaim(ctx context.Context, id uuid.UUID) (int64, error)
	SumInFlightOnchainSends(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)
	ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
}

type CreateAccountParams struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash *string
	Role         string
}

type UpdateAccountBalancesParams struct {
	ID            uuid.UUID
	FiatBalance   int64
	StableBalance int64
}

type UpdateAccountWalletParams struct {
	ID            uuid.UUID
	WalletAddress *string
}

type ListParams struct {
	Limit  int32
	Offset int32
}

type CreateTransactionParams struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Kind          string
	Amount        int64
	CounterAmount *int64
	Status        string
	ExternalRef   *string
	SettlementRef *string
	Destination   *string
	Description   string
}

// UpdateTransactionStatusParams sets the status. A nil SettlementRef keeps
// the stored value.
type UpdateTransactionStatusParams struct {
	ID            uuid.UUID
	Status        string
	SettlementRef *string
}

type SetTransactionExternalRefParams struct {
	ID          uuid.UUID
	ExternalRef string
}

type ListAccountTransactionsParams struct {
	AccountID uuid.UUID
	Limit     int32
	Offset    int32
}

// ListTransactionsParams filters by status and kind when they are non-empty.
type ListTransactionsParams struct {
	Status string
	Kind   string
	Limit  int32
	Offset int32
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}
