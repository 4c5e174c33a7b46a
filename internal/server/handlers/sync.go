package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/internal/wire"
	"github.com/iudanet/causaltree/pkg/api"
)

// Sync обрабатывает POST /api/v1/channels/{type}/{id}/sync
//
// Один запрос: одна короткая сессия: handshake с версией клиента, слияние его атомов
// и ответ атомами, которых у клиента нет. Клиенту без site выдается новый узел.
func (h *ChannelHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	device, info, ok := h.prepare(w, r)
	if !ok {
		return
	}

	// Парсим request body
	var req api.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode sync request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	logAttrs := []any{
		slog.String("device_id", device.ID),
		slog.String("channel", info.Key()),
	}

	// Открываем сессию канала (загружает канал при первом обращении)
	sess, err := h.hub.Open(ctx, device, info)
	if err != nil {
		fail(ctx, h.logger, w, "failed to open channel", err, logAttrs...)
		return
	}
	defer sess.Close()

	// Handshake: версия клиента и его узел (nil, если узла еще нет)
	peer := weave.SiteVersionInfo{Version: wire.ToVersion(req.Version)}
	if req.Site != nil {
		site := weave.SiteID(*req.Site)
		peer.Site = &site
	}

	self, outbound, err := sess.Handshake(peer)
	if err != nil {
		fail(ctx, h.logger, w, "handshake failed", err, logAttrs...)
		return
	}

	// Сливаем входящие атомы от клиента
	res, err := sess.Receive(wire.ToAtoms(req.Atoms))
	if err != nil {
		fail(ctx, h.logger, w, "failed to merge atoms", err, logAttrs...)
		return
	}

	// атомы, появившиеся в канале во время слияния (другие сессии)
	outbound = append(outbound, sess.Outbound()...)

	// Формируем ответ
	resp := api.SyncResponse{
		Site:    uint32(*self.Site),
		Version: wire.FromVersion(sess.Channel().Version()),
		Atoms:   wire.FromAtoms(outbound),
		Results: wire.FromResults(res.Results),
	}

	sendJSON(h.logger, w, resp, http.StatusOK)

	h.logger.InfoContext(ctx, "sync completed", append(logAttrs,
		slog.Int("site", int(*self.Site)),
		slog.Int("received", len(req.Atoms)),
		slog.Int("applied", res.Count(weave.OutcomeApplied)),
		slog.Int("deferred", res.Count(weave.OutcomeDeferred)),
		slog.Int("rejected", res.Count(weave.OutcomeRejected)),
		slog.Int("returned", len(outbound)))...)
}
