package handler

import (
	"net/http"

	"github.com/ayo6706/ramp-ledger/internal/service"
	"github.com/go-chi/chi/v5"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := targetAccount(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, r, err, "account/balance-read-failed", "Failed to get balance")
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := targetAccount(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if _, err := h.svc.GetAccount(r.Context(), accountID); err != nil {
		respondServiceError(w, r, err, "account/read-failed", "Failed to get account")
		return
	}

	page, pageSize := pageParams(r)
	txs, err := h.svc.ListTransactions(r.Context(), accountID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, err, "account/transactions-read-failed", "Failed to list transactions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": txs,
		"count": len(txs),
	})
}

type setWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *AccountHandler) SetWallet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := targetAccount(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req setWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.svc.SetWalletAddress(r.Context(), accountID, req.WalletAddress)
	if err != nil {
		respondServiceError(w, r, err, "account/wallet-update-failed", "Failed to update wallet address")
		return
	}
	RespondJSON(w, http.StatusOK, account)
}
