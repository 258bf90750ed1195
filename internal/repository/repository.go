package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the Postgres implementation of Querier.
type Queries struct {
	db DBTX
}

var _ Querier = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const accountColumns = `id, email, name, password_hash, fiat_balance, stable_balance, wallet_address, role, created_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.FiatBalance, &a.StableBalance, &a.WalletAddress, &a.Role, &a.CreatedAt)
	return a, err
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	query := `INSERT INTO accounts (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + accountColumns
	return scanAccount(q.db.QueryRow(ctx, query, arg.ID, arg.Email, arg.Name, arg.PasswordHash, arg.Role))
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (q *Queries) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateAccountBalances(ctx context.Context, arg UpdateAccountBalancesParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET fiat_balance = $2, stable_balance = $3 WHERE id = $1`,
		arg.ID, arg.FiatBalance, arg.StableBalance)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateAccountWallet(ctx context.Context, arg UpdateAccountWalletParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET wallet_address = $2 WHERE id = $1`, arg.ID, arg.WalletAddress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListAccounts(ctx context.Context, arg ListParams) ([]models.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const transactionColumns = `id, account_id, kind, amount, counter_amount, status, external_ref, settlement_ref,
	destination, description, dispatched_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.CounterAmount, &t.Status, &t.ExternalRef,
		&t.SettlementRef, &t.Destination, &t.Description, &t.DispatchedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (models.Transaction, error) {
	query := `INSERT INTO transactions (id, account_id, kind, amount, counter_amount, status, external_ref,
			settlement_ref, destination, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING ` + transactionColumns
	return scanTransaction(q.db.QueryRow(ctx, query, arg.ID, arg.AccountID, arg.Kind, arg.Amount, arg.CounterAmount,
		arg.Status, arg.ExternalRef, arg.SettlementRef, arg.Destination, arg.Description))
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// GetTransactionByRefForUpdate matches ref against the external reference
// first and falls back to the transaction's own id.
func (q *Queries) GetTransactionByRefForUpdate(ctx context.Context, ref string) (models.Transaction, error) {
	query, args := transactionByRefQuery(ref)
	return scanTransaction(q.db.QueryRow(ctx, query, args...))
}

// transactionByRefQuery compares id as a uuid so both branches stay on an index.
func transactionByRefQuery(ref string) (string, []any) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return `SELECT ` + transactionColumns + ` FROM transactions
		WHERE external_ref = $1
		FOR UPDATE`, []any{ref}
	}
	return `SELECT ` + transactionColumns + ` FROM transactions
		WHERE external_ref = $1 OR id = $2
		ORDER BY (external_ref = $1) DESC NULLS LAST
		LIMIT 1
		FOR UPDATE`, []any{ref, id}
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions
		SET status = $2, settlement_ref = COALESCE($3, settlement_ref), updated_at = NOW()
		WHERE id = $1`, arg.ID, arg.Status, arg.SettlementRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) SetTransactionExternalRef(ctx context.Context, arg SetTransactionExternalRefParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET external_ref = $2, updated_at = NOW() WHERE id = $1`, arg.ID, arg.ExternalRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListAccountTransactions(ctx context.Context, arg ListAccountTransactionsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, arg.Status, arg.Kind, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ClaimPendingWithdrawals marks up to limit undispatched withdrawals as
// dispatched and returns them. Concurrent claimers skip each other's rows.
func (q *Queries) ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `UPDATE transactions SET dispatched_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM transactions
			WHERE kind = 'WITHDRAW_OUT' AND status = 'PENDING' AND dispatched_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+transactionColumns, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// MarkTransactionDispatched records that the transaction's funds left the
// account balance while its outcome is still pending.
func (q *Queries) MarkTransactionDispatched(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET dispatched_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SumInFlightOnchainSends totals the account's PENDING on-chain sends whose
// amount has not been debited yet.
func (q *Queries) SumInFlightOnchainSends(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions
		WHERE account_id = $1 AND kind = 'ONCHAIN_SEND' AND status = 'PENDING' AND dispatched_at IS NULL`, accountID).Scan(&total)
	return total, err
}

func (q *Queries) ReleaseWithdrawalClaim(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET dispatched_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND external_ref IS NULL`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListBalanceDrift compares stored balances with the balances implied by
// transaction history. Funds are held by PENDING outbound transactions that
// have already debited, so those count as debits too.
func (q *Queries) ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error) {
	rows, err := q.db.Query(ctx, `WITH movements AS (
			SELECT account_id,
				SUM(CASE
					WHEN kind = 'DEPOSIT_IN' AND status = 'COMPLETED' THEN amount
					WHEN kind = 'WITHDRAW_OUT' AND status IN ('PENDING', 'COMPLETED') THEN -amount
					WHEN kind = 'CONVERT' AND status = 'COMPLETED' THEN -counter_amount
					ELSE 0 END) AS fiat,
				SUM(CASE
					WHEN kind = 'CONVERT' AND status = 'COMPLETED' THEN amount
					WHEN kind = 'ONCHAIN_SEND' AND status = 'COMPLETED' THEN -amount
					WHEN kind = 'ONCHAIN_SEND' AND status = 'PENDING' AND dispatched_at IS NOT NULL THEN -amount
					ELSE 0 END) AS stable
			FROM transactions
			GROUP BY account_id
		)
		SELECT a.id, a.fiat_balance, COALESCE(m.fiat, 0)::bigint, a.stable_balance, COALESCE(m.stable, 0)::bigint
		FROM accounts a
		LEFT JOIN movements m ON m.account_id = a.id
		WHERE a.fiat_balance <> COALESCE(m.fiat, 0) OR a.stable_balance <> COALESCE(m.stable, 0)
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BalanceDrift
	for rows.Next() {
		var d models.BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.FiatBalance, &d.ExpectedFiat, &d.StableBalance, &d.ExpectedStable); err != nil {
			return nil, fmt.Errorf("scan balance drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`, arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action, &e.PrevState, &e.NextState, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, response_body, content_type,
	in_progress, created_at, updated_at`

func scanIdempotencyKey(row pgx.Row) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus, &k.ResponseBody,
		&k.ContentType, &k.InProgress, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
}

// ReserveIdempotencyKey returns pgx.ErrNoRows when the key already exists.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+idempotencyColumns, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path))
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING `+idempotencyColumns, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash))
}
