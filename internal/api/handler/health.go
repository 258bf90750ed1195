package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	db    Pinger
	redis redis.Cmdable
}

func NewHealthHandler(db Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Live always reports OK; if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports each dependency. The ledger store is required; Redis only
// accelerates idempotency lookups, so an unreachable Redis degrades readiness
// without failing it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	res := readiness{Status: "ready", Checks: map[string]string{"database": "ok", "redis": "skipped"}}

	if err := h.db.Ping(ctx); err != nil {
		zap.L().Warn("readiness: database ping failed", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "health/database-unavailable", "database unavailable")
		return
	}

	if h.redis != nil {
		res.Checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			zap.L().Warn("readiness: redis ping failed", zap.Error(err))
			res.Status = "degraded"
			res.Checks["redis"] = "unavailable"
		}
	}

	RespondJSON(w, http.StatusOK, res)
}
