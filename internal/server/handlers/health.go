package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/causaltree/pkg/api"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	db      Pinger
	version string
}

// NewHealthHandler создает новый handler для health check.
// db может быть nil, если сервер работает без хранилища.
func NewHealthHandler(logger *slog.Logger, db Pinger, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		db:      db,
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	// Проверяем доступность базы данных
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			h.logger.ErrorContext(ctx, "database is unavailable", slog.Any("error", err))
			sendJSON(h.logger, w, api.HealthResponse{Status: "unavailable", Version: h.version}, http.StatusServiceUnavailable)
			return
		}
	}

	sendJSON(h.logger, w, api.HealthResponse{Status: "ok", Version: h.version}, http.StatusOK)
}
