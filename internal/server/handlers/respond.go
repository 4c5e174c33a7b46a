package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/session"
	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/pkg/api"
)

// sendJSON отправляет JSON ответ
func sendJSON(logger *slog.Logger, w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(logger *slog.Logger, w http.ResponseWriter, message string, statusCode int) {
	sendJSON(logger, w, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}, statusCode)
}

// statusFor сопоставляет ошибку ядра с HTTP статусом
func statusFor(err error) int {
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, channel.ErrUnknownChannelType):
		return http.StatusNotFound
	case errors.Is(err, weave.ErrInvalidPayload),
		errors.Is(err, weave.ErrUnknownParent),
		errors.Is(err, weave.ErrUnknownSite),
		errors.Is(err, session.ErrHandshakeRequired):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail логирует ошибку и отвечает статусом по ее типу.
// Текст внутренних ошибок клиенту не раскрывается.
func fail(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, msg string, err error, attrs ...any) {
	status := statusFor(err)
	attrs = append(attrs, slog.Any("error", err), slog.Int("status", status))

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, msg, attrs...)
		sendError(logger, w, "internal server error", status)
		return
	}

	logger.WarnContext(ctx, msg, attrs...)
	sendError(logger, w, err.Error(), status)
}
