package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/ramp-ledger/internal/api/middleware"
	"github.com/ayo6706/ramp-ledger/internal/api/problem"
	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/models"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	accountID := middleware.AccountIDFromContext(r.Context())
	if accountID == "" {
		return uuid.Nil, false, errors.New("missing account in auth context")
	}

	actorID, err := uuid.Parse(accountID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid account_id in auth context")
	}

	return actorID, middleware.AccountRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

// targetAccount resolves which account a request acts on. Non-admins may only
// act on their own account; an empty raw value means the caller's account.
func targetAccount(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return actorID, true
	}
	accountID, err := uuid.Parse(raw)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return uuid.Nil, false
	}
	if !isAdmin && accountID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return uuid.Nil, false
	}
	return accountID, true
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, pageSize
}

// respondServiceError maps ledger errors to problem responses. Anything it
// does not recognize is logged and reported as a 500 with fallbackType.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackType, fallbackMsg string) {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		problem.WriteValidation(w, r, vErr.Field, "request/invalid-"+strings.ReplaceAll(vErr.Field, "_", "-"), vErr.Error())
	case errors.Is(err, models.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "ledger/insufficient-funds", err.Error())
	case errors.Is(err, models.ErrAccountNotFound):
		RespondError(w, r, http.StatusNotFound, "account/not-found", "Account not found")
	case errors.Is(err, models.ErrTransactionNotFound):
		RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
	case errors.Is(err, models.ErrInvalidCredentials):
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Invalid credentials")
	case errors.Is(err, service.ErrTransferFailed):
		RespondError(w, r, http.StatusBadGateway, "liquidation/transfer-failed", err.Error())
	default:
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error(fallbackMsg, zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusInternalServerError, fallbackType, fallbackMsg)
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusUnprocessableEntity, "db/check-violation", "request violates ledger constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
