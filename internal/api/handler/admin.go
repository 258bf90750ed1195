package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves operator endpoints. Every route is mounted behind
// RequireRole(ADMIN).
type AdminHandler struct {
	accounts    *service.AccountService
	resolutions *service.ResolutionService
	ledger      *service.LedgerCheckService
}

// NewAdminHandler creates a new AdminHandler instance.
func NewAdminHandler(accounts *service.AccountService, resolutions *service.ResolutionService, ledger *service.LedgerCheckService) *AdminHandler {
	return &AdminHandler{
		accounts:    accounts,
		resolutions: resolutions,
		ledger:      ledger,
	}
}

// ListAccounts handles GET /v1/admin/accounts.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	accounts, err := h.accounts.ListAccounts(r.Context(), page, pageSize)
	if err != nil {
		respondServiceError(w, r, err, "admin/accounts-list-failed", "Failed to list accounts")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": accounts,
		"count": len(accounts),
	})
}

// ListTransactions handles GET /v1/admin/transactions with optional status
// and kind filters.
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !domain.IsValidTxStatus(status) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "unknown transaction status")
		return
	}
	kind := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind != "" && !domain.IsValidTxKind(kind) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-kind", "unknown transaction kind")
		return
	}

	page, pageSize := pageParams(r)
	txs, err := h.accounts.ListAllTransactions(r.Context(), status, kind, page, pageSize)
	if err != nil {
		respondServiceError(w, r, err, "admin/transactions-list-failed", "Failed to list transactions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": txs,
		"count": len(txs),
	})
}

// ListHeldSends handles GET /v1/admin/sends/held.
func (h *AdminHandler) ListHeldSends(w http.ResponseWriter, r *http.Request) {
	held, err := h.resolutions.ListHeldSends(r.Context())
	if err != nil {
		zap.L().Error("list held sends failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "admin/held-sends-list-failed", "Failed to list held sends")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": held,
		"count": len(held),
	})
}

type resolveSendRequest struct {
	Decision      string  `json:"decision"`
	Reason        string  `json:"reason"`
	SettlementRef *string `json:"settlement_ref,omitempty"`
}

// ResolveSend handles POST /v1/admin/sends/{id}/resolve.
func (h *AdminHandler) ResolveSend(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	var req resolveSendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	tx, err := h.resolutions.ResolvePendingSend(r.Context(), service.ResolveSendRequest{
		TransactionID: txID,
		Decision:      service.ResolutionDecision(req.Decision),
		Reason:        req.Reason,
		ActorID:       &actorID,
		SettlementRef: req.SettlementRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResolutionChoice):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-decision", "decision must be confirm_sent or refund_failed")
		case errors.Is(err, service.ErrSendNotPending):
			RespondError(w, r, http.StatusConflict, "send/not-pending", err.Error())
		case errors.Is(err, models.ErrTransactionNotFound):
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
		default:
			respondServiceError(w, r, err, "send/resolve-failed", "Failed to resolve send")
		}
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// ListClaimedWithdrawals handles GET /v1/admin/withdrawals/claimed.
func (h *AdminHandler) ListClaimedWithdrawals(w http.ResponseWriter, r *http.Request) {
	claimed, err := h.resolutions.ListClaimedWithdrawals(r.Context())
	if err != nil {
		zap.L().Error("list claimed withdrawals failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "admin/claimed-withdrawals-list-failed", "Failed to list claimed withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": claimed,
		"count": len(claimed),
	})
}

type resolveWithdrawalRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// ResolveWithdrawal handles POST /v1/admin/withdrawals/{id}/resolve.
func (h *AdminHandler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	var req resolveWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	tx, err := h.resolutions.ResolveClaimedWithdrawal(r.Context(), service.ResolveWithdrawalRequest{
		TransactionID: txID,
		Decision:      service.ResolutionDecision(req.Decision),
		Reason:        req.Reason,
		ActorID:       &actorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResolutionChoice):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-decision", "decision must be confirm_paid or refund_failed")
		case errors.Is(err, service.ErrWithdrawalNotClaimed):
			RespondError(w, r, http.StatusConflict, "withdrawal/not-claimed", err.Error())
		case errors.Is(err, models.ErrTransactionNotFound):
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
		default:
			respondServiceError(w, r, err, "withdrawal/resolve-failed", "Failed to resolve withdrawal")
		}
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// CheckLedger handles GET /v1/admin/ledger/check. It recomputes every
// balance from transaction history and reports any account that disagrees.
func (h *AdminHandler) CheckLedger(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.ledger.Run(r.Context())
	if err != nil {
		zap.L().Error("ledger check failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "admin/ledger-check-failed", "Failed to check ledger")
		return
	}
	if drifts == nil {
		drifts = []models.BalanceDrift{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"consistent": len(drifts) == 0,
		"drifts":     drifts,
	})
}
