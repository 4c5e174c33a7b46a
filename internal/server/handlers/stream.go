package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/causaltree/internal/authz"
	"github.com/iudanet/causaltree/internal/session"
	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/internal/wire"
	"github.com/iudanet/causaltree/pkg/api"
)

const writeWait = 10 * time.Second

// Stream обрабатывает GET /api/v1/channels/{type}/{id}/stream
//
// Проверки загрузки и доступа выполняются до upgrade: отказ приходит обычным HTTP ответом.
// Первое сообщение клиента: hello с его SiteVersionInfo; дальше сервер присылает
// новые атомы канала по мере их появления.
func (h *ChannelHandler) Stream(w http.ResponseWriter, r *http.Request) {
	device, info, ok := h.prepare(w, r)
	if !ok {
		return
	}

	sess, err := h.hub.Open(r.Context(), device, info)
	if err != nil {
		fail(r.Context(), h.logger, w, "failed to open channel", err,
			slog.String("device_id", device.ID),
			slog.String("channel", info.Key()))
		return
	}
	defer sess.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже отправил ответ с ошибкой
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(
		slog.String("session_id", sess.ID()),
		slog.String("device_id", device.ID),
		slog.String("channel", info.Key()))

	err = h.serveStream(sess, conn)
	switch {
	case err == nil,
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, context.Canceled):
		logger.Info("stream closed")
	default:
		logger.Warn("stream terminated", slog.Any("error", err))
	}
}

func (h *ChannelHandler) serveStream(sess *session.Session, conn *websocket.Conn) error {
	conn.SetReadLimit(h.maxBody)
	pongWait := h.pingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := h.greet(sess, conn); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(sess.Context())
	out := make(chan api.Frame, 16)

	g.Go(func() error {
		return h.readLoop(ctx, sess, conn, out)
	})
	g.Go(func() error {
		return h.writeLoop(ctx, sess, conn, out)
	})
	g.Go(func() error {
		// прерывает ReadMessage при завершении записи или сессии
		<-ctx.Done()
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}

// greet ожидает hello и отвечает welcome и атомами, которых у клиента нет
func (h *ChannelHandler) greet(sess *session.Session, conn *websocket.Conn) error {
	var hello api.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if hello.Type != api.FrameHello {
		_ = writeFrame(conn, api.Frame{Type: api.FrameError, Error: "expected hello"})
		return fmt.Errorf("%w: got %q frame", session.ErrHandshakeRequired, hello.Type)
	}

	peer := weave.SiteVersionInfo{Version: wire.ToVersion(hello.Version)}
	if hello.Site != nil {
		site := weave.SiteID(*hello.Site)
		peer.Site = &site
	}

	self, outbound, err := sess.Handshake(peer)
	if err != nil {
		_ = writeFrame(conn, api.Frame{Type: api.FrameError, Error: err.Error()})
		return err
	}

	site := uint32(*self.Site)
	if err := writeFrame(conn, api.Frame{Type: api.FrameWelcome, Site: &site, Version: wire.FromVersion(self.Version)}); err != nil {
		return err
	}
	if len(outbound) > 0 {
		return writeFrame(conn, api.Frame{Type: api.FrameAtoms, Atoms: wire.FromAtoms(outbound)})
	}
	return nil
}

// readLoop обрабатывает сообщения клиента; ответы передаются в writeLoop
func (h *ChannelHandler) readLoop(ctx context.Context, sess *session.Session, conn *websocket.Conn, out chan<- api.Frame) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		reply, err := h.handleFrame(sess, data)
		if err != nil {
			return err
		}
		if reply == nil {
			continue
		}

		select {
		case out <- *reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleFrame возвращает ответ клиенту или ошибку, завершающую поток.
// Отказы авторизатора и невалидные события не завершают поток.
func (h *ChannelHandler) handleFrame(sess *session.Session, data []byte) (*api.Frame, error) {
	var frame api.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return &api.Frame{Type: api.FrameError, Error: "invalid frame"}, nil
	}

	switch frame.Type {
	case api.FrameAtoms:
		res, err := sess.Receive(wire.ToAtoms(frame.Atoms))
		if err != nil {
			return nil, err
		}
		return &api.Frame{Type: api.FrameResult, Results: wire.FromResults(res.Results)}, nil

	case api.FrameAppend:
		var parent *weave.AtomID
		if frame.Parent != nil {
			id := wire.ToAtomID(*frame.Parent)
			parent = &id
		}
		atom, err := sess.Append(parent, weave.Payload{Kind: frame.Kind, Data: frame.Data})
		if err != nil {
			if recoverable(err) {
				return &api.Frame{Type: api.FrameError, Error: err.Error()}, nil
			}
			return nil, err
		}
		// сам атом клиент получит вместе с остальными изменениями канала
		return &api.Frame{Type: api.FrameResult, Results: []api.AtomResult{{
			ID:      wire.FromAtomID(atom.ID),
			Outcome: weave.OutcomeApplied.String(),
		}}}, nil

	case api.FrameAck:
		sess.Ack(wire.ToVersion(frame.Version))
		return nil, nil

	case api.FrameHello:
		return &api.Frame{Type: api.FrameError, Error: "already greeted"}, nil

	default:
		return &api.Frame{Type: api.FrameError, Error: fmt.Sprintf("unknown frame type %q", frame.Type)}, nil
	}
}

// writeLoop единственный писатель в соединение: ответы, новые атомы канала и ping
func (h *ChannelHandler) writeLoop(ctx context.Context, sess *session.Session, conn *websocket.Conn, out <-chan api.Frame) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil

		case frame := <-out:
			if err := writeFrame(conn, frame); err != nil {
				return err
			}

		case <-sess.Changes():
			atoms := sess.Outbound()
			if len(atoms) == 0 {
				continue
			}
			frame := api.Frame{
				Type:    api.FrameAtoms,
				Atoms:   wire.FromAtoms(atoms),
				Version: wire.FromVersion(sess.Channel().Version()),
			}
			if err := writeFrame(conn, frame); err != nil {
				return err
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame api.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

func recoverable(err error) bool {
	return errors.Is(err, authz.ErrUnauthorized) ||
		errors.Is(err, weave.ErrInvalidPayload) ||
		errors.Is(err, weave.ErrUnknownParent)
}
