package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/api/middleware"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	accounts *service.AccountService
	tokenTTL time.Duration
}

func NewAuthHandler(accounts *service.AccountService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokenTTL: tokenTTL}
}

type loginRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginResponse struct {
	Account   *models.Account `json:"account"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Login resolves the caller's account, creating it on first sight, and
// returns a bearer token for it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.ResolveAccount(r.Context(), service.ResolveAccountRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		respondServiceError(w, r, err, "auth/login-failed", "Failed to resolve account")
		return
	}

	token, expires, err := middleware.IssueToken(account.ID, account.Role, h.tokenTTL)
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, loginResponse{Account: account, Token: token, ExpiresAt: expires})
}
