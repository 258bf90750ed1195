package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// WebhookService authenticates provider callbacks and hands them to the
// reconciliation engine.
type WebhookService struct {
	reconciler *ReconciliationService
	hmacKey    []byte
	skipSig    bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(reconciler *ReconciliationService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// HandlePixWebhook verifies the signature and applies the event. A payload
// that cannot be parsed is reported as missing_id rather than rejected, so the
// provider does not keep retrying it.
func (s *WebhookService) HandlePixWebhook(ctx context.Context, payload []byte, signature string) (*EventResult, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	event, err := ParseEvent(payload)
	if err != nil {
		zap.L().Warn("unparseable pix webhook", zap.Error(err))
	}
	return s.reconciler.HandleEvent(ctx, event.ID, event.Status)
}

// SimulatePayment confirms a charge as if the provider had reported it paid.
func (s *WebhookService) SimulatePayment(ctx context.Context, pixID string) (*EventResult, error) {
	return s.reconciler.HandleEvent(ctx, pixID, "paid")
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// Constant-time comparison.
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
