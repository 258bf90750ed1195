// Package memstore is an in-memory repository.Querier for tests that need
// ledger semantics without Postgres. RunInTx serializes callers and commits a
// copy of the state only when fn succeeds.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type state struct {
	accounts     map[uuid.UUID]models.Account
	transactions map[uuid.UUID]models.Transaction
	audit        []models.AuditEntry
	idempotency  map[string]repository.IdempotencyKey
	seq          int64
}

func newState() *state {
	return &state{
		accounts:     map[uuid.UUID]models.Account{},
		transactions: map[uuid.UUID]models.Transaction{},
		idempotency:  map[string]repository.IdempotencyKey{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.idempotency {
		out.idempotency[k] = v
	}
	out.audit = append([]models.AuditEntry(nil), s.audit...)
	out.seq = s.seq
	return out
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	state *state
	// FailCommit, when set, makes the next RunInTx discard its writes and
	// return the error after fn succeeds.
	FailCommit error
}

func New() *Store {
	return &Store{state: newState()}
}

// Queries returns a query set where each call is individually atomic.
func (s *Store) Queries() repository.Querier {
	return &queries{store: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&queries{st: work}); err != nil {
		return err
	}
	if s.FailCommit != nil {
		err := s.FailCommit
		s.FailCommit = nil
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// queries operates on st directly inside a transaction, or on the store's
// committed state under its mutex otherwise.
type queries struct {
	store *Store
	st    *state
}

var _ repository.Querier = (*queries)(nil)

func (q *queries) with(fn func(st *state)) {
	if q.st != nil {
		fn(q.st)
		return
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	fn(q.store.state)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{Code: "23514", ConstraintName: constraint, Message: "new row violates check constraint"}
}

func (q *queries) CreateAccount(ctx context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	var (
		out models.Account
		err error
	)
	q.with(func(st *state) {
		for _, a := range st.accounts {
			if a.Email == arg.Email {
				err = uniqueViolation("accounts_email_key")
				return
			}
		}
		if _, ok := st.accounts[arg.ID]; ok {
			err = uniqueViolation("accounts_pkey")
			return
		}
		out = models.Account{
			ID:           arg.ID,
			Email:        arg.Email,
			Name:         arg.Name,
			PasswordHash: arg.PasswordHash,
			Role:         arg.Role,
			CreatedAt:    time.Now().UTC(),
		}
		st.accounts[arg.ID] = out
	})
	return out, err
}

func (q *queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	var (
		out models.Account
		ok  bool
	)
	q.with(func(st *state) { out, ok = st.accounts[id] })
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	var (
		out models.Account
		ok  bool
	)
	q.with(func(st *state) {
		for _, a := range st.accounts {
			if a.Email == email {
				out, ok = a, true
				return
			}
		}
	})
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q *queries) UpdateAccountBalances(ctx context.Context, arg repository.UpdateAccountBalancesParams) (int64, error) {
	if arg.FiatBalance < 0 || arg.StableBalance < 0 {
		return 0, checkViolation("accounts_balance_check")
	}
	var rows int64
	q.with(func(st *state) {
		a, ok := st.accounts[arg.ID]
		if !ok {
			return
		}
		a.FiatBalance = arg.FiatBalance
		a.StableBalance = arg.StableBalance
		st.accounts[arg.ID] = a
		rows = 1
	})
	return rows, nil
}

func (q *queries) UpdateAccountWallet(ctx context.Context, arg repository.UpdateAccountWalletParams) (int64, error) {
	var rows int64
	q.with(func(st *state) {
		a, ok := st.accounts[arg.ID]
		if !ok {
			return
		}
		a.WalletAddress = arg.WalletAddress
		st.accounts[arg.ID] = a
		rows = 1
	})
	return rows, nil
}

func (q *queries) ListAccounts(ctx context.Context, arg repository.ListParams) ([]models.Account, error) {
	var out []models.Account
	q.with(func(st *state) {
		for _, a := range st.accounts {
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *queries) CreateTransaction(ctx context.Context, arg repository.CreateTransactionParams) (models.Transaction, error) {
	var (
		out models.Transaction
		err error
	)
	q.with(func(st *state) {
		if _, ok := st.accounts[arg.AccountID]; !ok {
			err = &pgconn.PgError{Code: "23503", ConstraintName: "transactions_account_id_fkey"}
			return
		}
		if _, ok := st.transactions[arg.ID]; ok {
			err = uniqueViolation("transactions_pkey")
			return
		}
		if arg.ExternalRef != nil {
			for _, t := range st.transactions {
				if t.ExternalRef != nil && *t.ExternalRef == *arg.ExternalRef {
					err = uniqueViolation("transactions_external_ref_key")
					return
				}
			}
		}
		if arg.Amount <= 0 {
			err = checkViolation("transactions_amount_check")
			return
		}
		st.seq++
		now := time.Now().UTC().Add(time.Duration(st.seq) * time.Microsecond)
		out = models.Transaction{
			ID:            arg.ID,
			AccountID:     arg.AccountID,
			Kind:          arg.Kind,
			Amount:        arg.Amount,
			CounterAmount: arg.CounterAmount,
			Status:        arg.Status,
			ExternalRef:   arg.ExternalRef,
			SettlementRef: arg.SettlementRef,
			Destination:   arg.Destination,
			Description:   arg.Description,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		st.transactions[arg.ID] = out
	})
	return out, err
}

func (q *queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	var (
		out models.Transaction
		ok  bool
	)
	q.with(func(st *state) { out, ok = st.transactions[id] })
	if !ok {
		return models.Transaction{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return q.GetTransaction(ctx, id)
}

func (q *queries) GetTransactionByRefForUpdate(ctx context.Context, ref string) (models.Transaction, error) {
	var (
		out models.Transaction
		ok  bool
	)
	q.with(func(st *state) {
		for _, t := range st.transactions {
			if t.ExternalRef != nil && *t.ExternalRef == ref {
				out, ok = t, true
				return
			}
		}
		for _, t := range st.transactions {
			if t.ID.String() == ref {
				out, ok = t, true
				return
			}
		}
	})
	if !ok {
		return models.Transaction{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) updateTransaction(id uuid.UUID, fn func(t *models.Transaction) bool) int64 {
	var rows int64
	q.with(func(st *state) {
		t, ok := st.transactions[id]
		if !ok || !fn(&t) {
			return
		}
		t.UpdatedAt = time.Now().UTC()
		st.transactions[id] = t
		rows = 1
	})
	return rows
}

func (q *queries) UpdateTransactionStatus(ctx context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	return q.updateTransaction(arg.ID, func(t *models.Transaction) bool {
		t.Status = arg.Status
		if arg.SettlementRef != nil {
			ref := *arg.SettlementRef
			t.SettlementRef = &ref
		}
		return true
	}), nil
}

func (q *queries) SetTransactionExternalRef(ctx context.Context, arg repository.SetTransactionExternalRefParams) (int64, error) {
	var dup bool
	q.with(func(st *state) {
		for id, t := range st.transactions {
			if id != arg.ID && t.ExternalRef != nil && *t.ExternalRef == arg.ExternalRef {
				dup = true
				return
			}
		}
	})
	if dup {
		return 0, uniqueViolation("transactions_external_ref_key")
	}
	return q.updateTransaction(arg.ID, func(t *models.Transaction) bool {
		ref := arg.ExternalRef
		t.ExternalRef = &ref
		return true
	}), nil
}

func (q *queries) sortedTransactions(keep func(models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	q.with(func(st *state) {
		for _, t := range st.transactions {
			if keep(t) {
				out = append(out, t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (q *queries) ListAccountTransactions(ctx context.Context, arg repository.ListAccountTransactionsParams) ([]models.Transaction, error) {
	out := q.sortedTransactions(func(t models.Transaction) bool { return t.AccountID == arg.AccountID })
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *queries) ListTransactions(ctx context.Context, arg repository.ListTransactionsParams) ([]models.Transaction, error) {
	out := q.sortedTransactions(func(t models.Transaction) bool {
		return (arg.Status == "" || t.Status == arg.Status) && (arg.Kind == "" || t.Kind == arg.Kind)
	})
	return page(out, arg.Limit, arg.Offset), nil
}

func (q *queries) ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	var claimed []models.Transaction
	q.with(func(st *state) {
		var pending []models.Transaction
		for _, t := range st.transactions {
			if t.Kind == domain.TxKindWithdrawOut && t.Status == domain.TxStatusPending && t.DispatchedAt == nil {
				pending = append(pending, t)
			}
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
		now := time.Now().UTC()
		for _, t := range pending {
			if int32(len(claimed)) >= limit {
				break
			}
			at := now
			t.DispatchedAt = &at
			t.UpdatedAt = now
			st.transactions[t.ID] = t
			claimed = append(claimed, t)
		}
	})
	return claimed, nil
}

func (q *queries) MarkTransactionDispatched(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.updateTransaction(id, func(t *models.Transaction) bool {
		now := time.Now().UTC()
		t.DispatchedAt = &now
		return true
	}), nil
}

func (q *queries) ReleaseWithdrawalClaim(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.updateTransaction(id, func(t *models.Transaction) bool {
		if t.Status != domain.TxStatusPending || t.ExternalRef != nil {
			return false
		}
		t.DispatchedAt = nil
		return true
	}), nil
}

func (q *queries) SumInFlightOnchainSends(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	q.with(func(st *state) {
		for _, t := range st.transactions {
			if t.AccountID == accountID && t.Kind == domain.TxKindOnchainSend &&
				t.Status == domain.TxStatusPending && t.DispatchedAt == nil {
				total += t.Amount
			}
		}
	})
	return total, nil
}

func (q *queries) ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error) {
	var out []models.BalanceDrift
	q.with(func(st *state) {
		expected := map[uuid.UUID]*domain.Balances{}
		for id := range st.accounts {
			expected[id] = &domain.Balances{}
		}
		for _, t := range st.transactions {
			b, ok := expected[t.AccountID]
			if !ok {
				continue
			}
			switch {
			case t.Kind == domain.TxKindDepositIn && t.Status == domain.TxStatusCompleted:
				b.Fiat += t.Amount
			case t.Kind == domain.TxKindWithdrawOut && t.Status != domain.TxStatusFailed:
				b.Fiat -= t.Amount
			case t.Kind == domain.TxKindConvert && t.Status == domain.TxStatusCompleted:
				b.Stable += t.Amount
				if t.CounterAmount != nil {
					b.Fiat -= *t.CounterAmount
				}
			case t.Kind == domain.TxKindOnchainSend && t.Status == domain.TxStatusCompleted:
				b.Stable -= t.Amount
			case t.Kind == domain.TxKindOnchainSend && t.Status == domain.TxStatusPending && t.DispatchedAt != nil:
				b.Stable -= t.Amount
			}
		}
		for id, a := range st.accounts {
			b := expected[id]
			if a.FiatBalance != b.Fiat || a.StableBalance != b.Stable {
				out = append(out, models.BalanceDrift{
					AccountID:      id,
					FiatBalance:    a.FiatBalance,
					ExpectedFiat:   b.Fiat,
					StableBalance:  a.StableBalance,
					ExpectedStable: b.Stable,
				})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func (q *queries) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	var id int64
	q.with(func(st *state) {
		id = int64(len(st.audit) + 1)
		st.audit = append(st.audit, models.AuditEntry{
			ID:         id,
			EntityType: arg.EntityType,
			EntityID:   arg.EntityID,
			ActorID:    arg.ActorID,
			Action:     arg.Action,
			PrevState:  arg.PrevState,
			NextState:  arg.NextState,
			Metadata:   arg.Metadata,
			CreatedAt:  time.Now().UTC(),
		})
	})
	return id, nil
}

func (q *queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	q.with(func(st *state) {
		for _, e := range st.audit {
			if e.EntityType == entityType && e.EntityID == entityID {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

func (q *queries) GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error) {
	var (
		out repository.IdempotencyKey
		ok  bool
	)
	q.with(func(st *state) { out, ok = st.idempotency[key] })
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	var (
		out    repository.IdempotencyKey
		exists bool
	)
	q.with(func(st *state) {
		if _, exists = st.idempotency[arg.IdempotencyKey]; exists {
			return
		}
		now := time.Now().UTC()
		out = repository.IdempotencyKey{
			IdempotencyKey: arg.IdempotencyKey,
			RequestHash:    arg.RequestHash,
			Method:         arg.Method,
			Path:           arg.Path,
			ContentType:    "application/json",
			InProgress:     true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.idempotency[arg.IdempotencyKey] = out
	})
	if exists {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return out, nil
}

func (q *queries) FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	var (
		out repository.IdempotencyKey
		ok  bool
	)
	q.with(func(st *state) {
		rec, found := st.idempotency[arg.IdempotencyKey]
		if !found || rec.RequestHash != arg.RequestHash {
			return
		}
		rec.ResponseStatus = arg.ResponseStatus
		rec.ResponseBody = append([]byte(nil), arg.ResponseBody...)
		rec.ContentType = arg.ContentType
		rec.InProgress = false
		rec.UpdatedAt = time.Now().UTC()
		st.idempotency[arg.IdempotencyKey] = rec
		out, ok = rec, true
	})
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return out, nil
}

// SeedAccount inserts an account with the given balances and a matching
// history of completed transactions so ledger drift checks stay clean.
func (s *Store) SeedAccount(email string, fiat, stable int64) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	acct := models.Account{
		ID:            uuid.New(),
		Email:         strings.ToLower(email),
		Role:          domain.RoleUser,
		FiatBalance:   fiat,
		StableBalance: stable,
		CreatedAt:     now,
	}
	s.state.accounts[acct.ID] = acct
	if fiat > 0 {
		s.seedTx(acct.ID, domain.TxKindDepositIn, fiat, nil)
	}
	if stable > 0 {
		// 1 fiat micro per stable micro keeps the history internally consistent.
		s.seedTx(acct.ID, domain.TxKindDepositIn, stable, nil)
		counter := stable
		s.seedTx(acct.ID, domain.TxKindConvert, stable, &counter)
	}
	return acct
}

func (s *Store) seedTx(accountID uuid.UUID, kind string, amount int64, counter *int64) {
	s.state.seq++
	now := time.Now().UTC().Add(time.Duration(s.state.seq) * time.Microsecond)
	id := uuid.New()
	s.state.transactions[id] = models.Transaction{
		ID:            id,
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		CounterAmount: counter,
		Status:        domain.TxStatusCompleted,
		Description:   "seed",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetBalances overwrites stored balances without a matching transaction.
func (s *Store) SetBalances(accountID uuid.UUID, fiat, stable int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.state.accounts[accountID]
	a.FiatBalance = fiat
	a.StableBalance = stable
	s.state.accounts[accountID] = a
}

func page[T any](in []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && int(limit) < len(in) {
		in = in[:limit]
	}
	return in
}
