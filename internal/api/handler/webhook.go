package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler handles incoming webhook events from the Pix provider.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandlePixWebhook handles POST /v1/webhooks/pix.
// Any authenticated delivery is answered 200 with the reconciliation result,
// including lookups that matched nothing, so the provider stops retrying.
func (h *WebhookHandler) HandlePixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	resp, err := h.webhookSvc.HandlePixWebhook(r.Context(), body, signature)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
		zap.L().Error("process pix webhook failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "webhook/processing-failed", "Failed to process webhook")
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}

type simulateRequest struct {
	PixID string `json:"pixId"`
}

// SimulatePix handles POST /v1/test/simulate-pix. It confirms a deposit as
// if the provider had reported it paid.
func (h *WebhookHandler) SimulatePix(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PixID) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-pix-id", "pixId is required")
		return
	}

	resp, err := h.webhookSvc.SimulatePayment(r.Context(), req.PixID)
	if err != nil {
		zap.L().Error("simulate pix payment failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "webhook/simulation-failed", "Failed to simulate payment")
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}
