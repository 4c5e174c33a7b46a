// Package server собирает HTTP API синхронизации каналов.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/causaltree/internal/metrics"
	"github.com/iudanet/causaltree/internal/server/handlers"
	"github.com/iudanet/causaltree/internal/server/jwt"
	"github.com/iudanet/causaltree/internal/server/middleware"
	"github.com/iudanet/causaltree/internal/session"
)

// Config зависимости HTTP API
type Config struct {
	Logger  *slog.Logger
	Hub     *session.Hub
	Tokens  *jwt.Service
	Devices middleware.DeviceChecker // nil: без проверки отзыва устройств
	Lister  handlers.ChannelLister   // nil: GET /channels отключен
	DB      handlers.Pinger          // nil: health без проверки БД
	Metrics *metrics.Metrics
	// Gatherer источник /metrics; nil: эндпоинт не регистрируется
	Gatherer    prometheus.Gatherer
	RateLimiter *middleware.RateLimiter // nil: без ограничения частоты
	Version     string
	Channel     []handlers.ChannelOption
}

// NewRouter создает маршрутизатор API
func NewRouter(cfg Config) http.Handler {
	r := mux.NewRouter()

	health := handlers.NewHealthHandler(cfg.Logger, cfg.DB, cfg.Version)
	r.HandleFunc("/api/v1/health", health.Health).Methods(http.MethodGet)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	opts := append([]handlers.ChannelOption{handlers.WithChannelLister(cfg.Lister)}, cfg.Channel...)
	channels := handlers.NewChannelHandler(cfg.Logger, cfg.Hub, opts...)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.Logger, cfg.Tokens, cfg.Devices))
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Middleware)
	}

	api.HandleFunc("/channels", channels.List).Methods(http.MethodGet)
	api.HandleFunc("/channels/{type}/{id}/sync", channels.Sync).Methods(http.MethodPost)
	api.HandleFunc("/channels/{type}/{id}/state", channels.State).Methods(http.MethodGet)
	api.HandleFunc("/channels/{type}/{id}/stream", channels.Stream).Methods(http.MethodGet)

	var h http.Handler = r
	h = middleware.LoggingWithSkip(cfg.Logger, cfg.Metrics, []string{"/api/v1/health", "/metrics"})(h)
	h = middleware.RecoveryMiddleware(cfg.Logger)(h)
	return h
}
