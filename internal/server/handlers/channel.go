package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/session"
	"github.com/iudanet/causaltree/internal/validation"
	"github.com/iudanet/causaltree/internal/wire"
	"github.com/iudanet/causaltree/pkg/api"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 4 << 20
	defaultPingInterval   = 30 * time.Second
)

// ChannelLister перечисляет сохраненные каналы
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]models.ChannelInfo, error)
}

// ChannelHandler обрабатывает запросы к каналам: синхронизацию, состояние и поток
type ChannelHandler struct {
	logger       *slog.Logger
	hub          *session.Hub
	lister       ChannelLister
	upgrader     websocket.Upgrader
	timeout      time.Duration
	pingInterval time.Duration
	maxBody      int64
}

// ChannelOption настраивает ChannelHandler
type ChannelOption func(*ChannelHandler)

// WithRequestTimeout ограничивает время обработки одного запроса синхронизации
func WithRequestTimeout(d time.Duration) ChannelOption {
	return func(h *ChannelHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMaxBodyBytes ограничивает размер тела запроса и одного сообщения потока
func WithMaxBodyBytes(n int64) ChannelOption {
	return func(h *ChannelHandler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithPingInterval задает период ping-сообщений потока
func WithPingInterval(d time.Duration) ChannelOption {
	return func(h *ChannelHandler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithChannelLister включает GET /api/v1/channels
func WithChannelLister(l ChannelLister) ChannelOption {
	return func(h *ChannelHandler) {
		h.lister = l
	}
}

// WithCheckOrigin задает проверку Origin для WebSocket
func WithCheckOrigin(fn func(r *http.Request) bool) ChannelOption {
	return func(h *ChannelHandler) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewChannelHandler создает handler каналов
func NewChannelHandler(logger *slog.Logger, hub *session.Hub, opts ...ChannelOption) *ChannelHandler {
	h := &ChannelHandler{
		logger:       logger,
		hub:          hub,
		timeout:      defaultRequestTimeout,
		maxBody:      defaultMaxBodyBytes,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// channelInfo извлекает канал из пути /channels/{type}/{id}
func channelInfo(r *http.Request) (models.ChannelInfo, error) {
	vars := mux.Vars(r)
	info := models.ChannelInfo{Type: vars["type"], ID: vars["id"]}
	if err := validation.ValidateChannel(info); err != nil {
		return models.ChannelInfo{}, err
	}
	return info, nil
}

// prepare проверяет устройство и канал запроса; при ошибке ответ уже отправлен
func (h *ChannelHandler) prepare(w http.ResponseWriter, r *http.Request) (models.Device, models.ChannelInfo, bool) {
	device, ok := deviceFromContext(r.Context(), r.RemoteAddr)
	if !ok {
		h.logger.ErrorContext(r.Context(), "device not found in context")
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return models.Device{}, models.ChannelInfo{}, false
	}

	info, err := channelInfo(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid channel", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return models.Device{}, models.ChannelInfo{}, false
	}

	return device, info, true
}

// List обрабатывает GET /api/v1/channels
// Возвращает сохраненные каналы, которые устройство может загрузить
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, ok := deviceFromContext(ctx, r.RemoteAddr)
	if !ok {
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.lister == nil {
		sendError(h.logger, w, "channel listing is disabled", http.StatusNotImplemented)
		return
	}

	all, err := h.lister.ListChannels(ctx)
	if err != nil {
		fail(ctx, h.logger, w, "failed to list channels", err)
		return
	}

	visible, err := h.hub.Visible(ctx, device, all)
	if err != nil {
		fail(ctx, h.logger, w, "failed to filter channels", err, slog.String("device_id", device.ID))
		return
	}

	resp := api.ChannelsResponse{Channels: make([]api.ChannelRef, 0, len(visible))}
	for _, info := range visible {
		resp.Channels = append(resp.Channels, api.ChannelRef{Type: info.Type, ID: info.ID})
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}

// State обрабатывает GET /api/v1/channels/{type}/{id}/state
// Проходит проверки загрузки и доступа и возвращает проекцию состояния
func (h *ChannelHandler) State(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	device, info, ok := h.prepare(w, r)
	if !ok {
		return
	}

	sess, err := h.hub.Open(ctx, device, info)
	if err != nil {
		fail(ctx, h.logger, w, "failed to open channel", err,
			slog.String("device_id", device.ID),
			slog.String("channel", info.Key()))
		return
	}
	defer sess.Close()

	ch := sess.Channel()
	resp := api.StateResponse{
		Channel:     info.Key(),
		State:       ch.State(),
		Version:     wire.FromVersion(ch.Version()),
		Fingerprint: ch.Fingerprint(),
		Atoms:       ch.Len(),
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}
