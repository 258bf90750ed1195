package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CodeSourceGateway = "gateway"
	CodeSourceLocal   = "local"
)

// DepositResult is a pending deposit and the code the payer should use.
type DepositResult struct {
	Transaction models.Transaction `json:"transaction"`
	ExternalRef string             `json:"external_ref"`
	PixCode     string             `json:"pix_code"`
	CodeSource  string             `json:"code_source"`
}

func validateFiatAmount(amountMicros int64) error {
	if amountMicros <= 0 {
		return models.NewValidationError("amount", "must be greater than zero")
	}
	if amountMicros%10_000 != 0 {
		return models.NewValidationError("amount", fmt.Sprintf("supports at most %d decimal places for %s", domain.FiatScale, domain.CurrencyFiat))
	}
	return nil
}

// CreateDeposit opens a PENDING DEPOSIT_IN. The provider is asked for a
// charge first; if it cannot produce one a static code is generated locally so
// the payer always gets something to pay. Balances move only on confirmation.
func (s *LifecycleService) CreateDeposit(ctx context.Context, accountID uuid.UUID, amountMicros int64) (*DepositResult, error) {
	if err := validateFiatAmount(amountMicros); err != nil {
		return nil, err
	}
	if _, err := s.store.Queries().GetAccount(ctx, accountID); err != nil {
		return nil, accountLookupError(err, "get account")
	}

	ref, code, source, err := s.obtainCharge(ctx, accountID, amountMicros)
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(map[string]string{"code_source": source})
	if err != nil {
		return nil, fmt.Errorf("encode deposit metadata: %w", err)
	}

	var created models.Transaction
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		created, err = qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:            uuid.New(),
			AccountID:     accountID,
			Kind:          domain.TxKindDepositIn,
			Amount:        amountMicros,
			Status:        domain.TxStatusPending,
			ExternalRef:   &ref,
			SettlementRef: &code,
			Description:   fmt.Sprintf("Pix deposit of %s", domain.NewMoney(amountMicros, domain.CurrencyFiat)),
		})
		if err != nil {
			return fmt.Errorf("create deposit transaction: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.AuditEntityTransaction, created.ID, &accountID, "created", "", domain.TxStatusPending, metadata)
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementOperation(domain.TxKindDepositIn, "created")
	zap.L().Info("deposit created",
		zap.String("transaction_id", created.ID.String()),
		zap.String("external_ref", ref),
		zap.String("code_source", source),
	)
	return &DepositResult{
		Transaction: created,
		ExternalRef: ref,
		PixCode:     code,
		CodeSource:  source,
	}, nil
}

func (s *LifecycleService) obtainCharge(ctx context.Context, accountID uuid.UUID, amountMicros int64) (ref, code, source string, err error) {
	if s.gateway != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		charge, chargeErr := s.gateway.CreateCharge(callCtx, accountID.String(), amountMicros)
		cancel()
		switch {
		case chargeErr == nil && charge.Code != "":
			return charge.ExternalID, charge.Code, CodeSourceGateway, nil
		case chargeErr == nil:
			// The provider registered the charge but sent no code; build one
			// that still references its id so the confirmation matches.
			code, err := s.codes.GenerateStaticCode(amountMicros, charge.ExternalID)
			if err != nil {
				return "", "", "", fmt.Errorf("generate pix code: %w", err)
			}
			return charge.ExternalID, code, CodeSourceLocal, nil
		case errors.Is(chargeErr, gateway.ErrNotConfigured):
		default:
			zap.L().Warn("pix charge failed, falling back to static code",
				zap.String("account_id", accountID.String()),
				zap.Error(chargeErr),
			)
		}
	}

	ref = "pix_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	code, err = s.codes.GenerateStaticCode(amountMicros, ref)
	if err != nil {
		return "", "", "", fmt.Errorf("generate pix code: %w", err)
	}
	return ref, code, CodeSourceLocal, nil
}
