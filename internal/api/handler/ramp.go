package handler

import (
	"net/http"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/service"
)

// RampHandler exposes the four money-moving operations. Amounts travel as
// decimal strings in the denomination named by each endpoint.
type RampHandler struct {
	lifecycle *service.LifecycleService
}

func NewRampHandler(lifecycle *service.LifecycleService) *RampHandler {
	return &RampHandler{lifecycle: lifecycle}
}

type amountRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

// CreateDeposit handles POST /v1/deposits (amount in BRL).
func (h *RampHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	accountID, ok := targetAccount(w, r, req.AccountID)
	if !ok {
		return
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyFiat)
	if err != nil {
		respondServiceError(w, r, err, "deposit/create-failed", "Failed to create deposit")
		return
	}

	res, err := h.lifecycle.CreateDeposit(r.Context(), accountID, amount)
	if err != nil {
		respondServiceError(w, r, err, "deposit/create-failed", "Failed to create deposit")
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

// Convert handles POST /v1/conversions (amount in BRL, credited as USDC).
func (h *RampHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	accountID, ok := targetAccount(w, r, req.AccountID)
	if !ok {
		return
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyFiat)
	if err != nil {
		respondServiceError(w, r, err, "conversion/failed", "Failed to convert")
		return
	}

	tx, err := h.lifecycle.Convert(r.Context(), accountID, amount)
	if err != nil {
		respondServiceError(w, r, err, "conversion/failed", "Failed to convert")
		return
	}
	RespondJSON(w, http.StatusCreated, tx)
}

type liquidateRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

// Liquidate handles POST /v1/liquidations (amount in USDC). A send whose
// outcome is unknown is answered with 202 and stays PENDING.
func (h *RampHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	accountID, ok := targetAccount(w, r, req.AccountID)
	if !ok {
		return
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyStable)
	if err != nil {
		respondServiceError(w, r, err, "liquidation/failed", "Failed to liquidate")
		return
	}

	tx, err := h.lifecycle.LiquidateOnChain(r.Context(), service.LiquidateRequest{
		AccountID:    accountID,
		AmountMicros: amount,
		Destination:  req.Destination,
	})
	if err != nil {
		respondServiceError(w, r, err, "liquidation/failed", "Failed to liquidate")
		return
	}
	status := http.StatusCreated
	if tx.Status == domain.TxStatusPending {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, tx)
}

type withdrawRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	PixKey    string `json:"pix_key"`
}

// Withdraw handles POST /v1/withdrawals (amount in BRL). The payout happens
// asynchronously, so the response is 202 with a PENDING transaction.
func (h *RampHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	accountID, ok := targetAccount(w, r, req.AccountID)
	if !ok {
		return
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyFiat)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/failed", "Failed to withdraw")
		return
	}

	tx, err := h.lifecycle.RequestWithdraw(r.Context(), service.WithdrawRequest{
		AccountID:    accountID,
		AmountMicros: amount,
		PayoutKey:    req.PixKey,
	})
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/failed", "Failed to withdraw")
		return
	}
	RespondJSON(w, http.StatusAccepted, tx)
}
