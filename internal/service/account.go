package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/chain"
	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AccountService struct {
	store QueryStore
	audit *AuditService
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{
		store: store,
		audit: NewAuditService(store),
	}
}

type ResolveAccountRequest struct {
	Email    string
	Name     string
	Password string
}

// Balance is the read model returned for an account's holdings.
type Balance struct {
	AccountID     uuid.UUID `json:"account_id"`
	FiatBalance   string    `json:"fiat_balance"`
	StableBalance string    `json:"stable_balance"`
	FiatMicros    int64     `json:"fiat_micros"`
	StableMicros  int64     `json:"stable_micros"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", models.NewValidationError("email", "is required")
	}
	if !strings.Contains(email, "@") {
		return "", models.NewValidationError("email", "must be an email address")
	}
	return email, nil
}

// ResolveAccount logs in an existing account or creates it on first sight.
// Accounts created with a password must present it on every later login.
func (s *AccountService) ResolveAccount(ctx context.Context, req ResolveAccountRequest) (*models.Account, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	existing, err := queries.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if err := checkPassword(existing, req.Password); err != nil {
			return nil, err
		}
		return &existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get account by email: %w", err)
	}

	return s.createAccount(ctx, email, req.Name, req.Password, domain.RoleUser)
}

func (s *AccountService) createAccount(ctx context.Context, email, name, password, role string) (*models.Account, error) {
	var hash *string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}

	var created models.Account
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		created, err = qtx.CreateAccount(ctx, repository.CreateAccountParams{
			ID:           uuid.New(),
			Email:        email,
			Name:         strings.TrimSpace(name),
			PasswordHash: hash,
			Role:         role,
		})
		if err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityAccount, created.ID, nil, "account_created", "", role, nil)
	})
	if err == nil {
		zap.L().Info("account created", zap.String("account_id", created.ID.String()), zap.String("role", role))
		return &created, nil
	}
	if !repository.IsUniqueViolation(err) {
		return nil, fmt.Errorf("create account: %w", err)
	}

	// Another request created the same email first.
	existing, getErr := s.store.Queries().GetAccountByEmail(ctx, email)
	if getErr != nil {
		return nil, fmt.Errorf("re-read account after conflict: %w", getErr)
	}
	if existing.PasswordHash != nil && password != "" {
		if err := checkPassword(existing, password); err != nil {
			return nil, err
		}
	}
	return &existing, nil
}

func checkPassword(account models.Account, password string) error {
	if account.PasswordHash == nil {
		return nil
	}
	if password == "" {
		return models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(password)); err != nil {
		return models.ErrInvalidCredentials
	}
	return nil
}

// SeedAdmin makes sure an admin account exists for email. An existing account
// keeps its role and password.
func (s *AccountService) SeedAdmin(ctx context.Context, email, password string) (*models.Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.Queries().GetAccountByEmail(ctx, email)
	if err == nil {
		if existing.Role != domain.RoleAdmin {
			zap.L().Warn("admin seed email belongs to a non-admin account", zap.String("account_id", existing.ID.String()))
		}
		return &existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get admin account: %w", err)
	}
	return s.createAccount(ctx, email, "Administrator", password, domain.RoleAdmin)
}

func (s *AccountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.store.Queries().GetAccount(ctx, accountID)
	if err != nil {
		return nil, accountLookupError(err, "get account")
	}
	return &account, nil
}

func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		AccountID:     account.ID,
		FiatBalance:   domain.FormatMicros(account.FiatBalance, domain.CurrencyFiat),
		StableBalance: domain.FormatMicros(account.StableBalance, domain.CurrencyStable),
		FiatMicros:    account.FiatBalance,
		StableMicros:  account.StableBalance,
		WalletAddress: account.WalletAddress,
	}, nil
}

// ListTransactions returns the account's history, newest first.
func (s *AccountService) ListTransactions(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]models.Transaction, error) {
	limit, offset := normalizePage(page, pageSize)
	return s.store.Queries().ListAccountTransactions(ctx, repository.ListAccountTransactionsParams{
		AccountID: accountID,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *AccountService) ListAccounts(ctx context.Context, page, pageSize int) ([]models.Account, error) {
	limit, offset := normalizePage(page, pageSize)
	return s.store.Queries().ListAccounts(ctx, repository.ListParams{Limit: limit, Offset: offset})
}

// ListAllTransactions filters by status and kind when they are non-empty.
func (s *AccountService) ListAllTransactions(ctx context.Context, status, kind string, page, pageSize int) ([]models.Transaction, error) {
	limit, offset := normalizePage(page, pageSize)
	return s.store.Queries().ListTransactions(ctx, repository.ListTransactionsParams{
		Status: strings.ToUpper(strings.TrimSpace(status)),
		Kind:   strings.ToUpper(strings.TrimSpace(kind)),
		Limit:  limit,
		Offset: offset,
	})
}

func (s *AccountService) SetWalletAddress(ctx context.Context, accountID uuid.UUID, address string) (*models.Account, error) {
	address = strings.TrimSpace(address)
	if !chain.IsAddress(address) {
		return nil, models.NewValidationError("wallet_address", "must be a 0x-prefixed 20-byte hex address")
	}

	var updated models.Account
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		account, err := qtx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return accountLookupError(err, "lock account")
		}
		rows, err := qtx.UpdateAccountWallet(ctx, repository.UpdateAccountWalletParams{
			ID:            accountID,
			WalletAddress: &address,
		})
		if err != nil {
			return fmt.Errorf("update wallet address: %w", err)
		}
		if err := requireExactlyOne(rows, "update wallet address"); err != nil {
			return err
		}
		prev := ""
		if account.WalletAddress != nil {
			prev = *account.WalletAddress
		}
		if err := s.audit.Write(ctx, qtx, domain.AuditEntityAccount, accountID, &accountID, "wallet_updated", prev, address, nil); err != nil {
			return err
		}
		account.WalletAddress = &address
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
