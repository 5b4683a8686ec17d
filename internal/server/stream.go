package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/jpalmerr/pulsefeed/internal/channel"
	"github.com/jpalmerr/pulsefeed/internal/jobstatus"
)

const (
	transportSSE       = "sse"
	transportWebSocket = "websocket"
)

// sseWriter writes Server-Sent Events with a write deadline per event.
//
// Without deadlines, a blocked write to a slow or disconnected client would
// prevent the handler from detecting context cancellation or channel closure.
type sseWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger

	// may not be supported by some ResponseWriter impls
	deadlinesSupported bool
}

// newSSEWriter sets the SSE headers. It reports false when w cannot flush.
func newSSEWriter(w http.ResponseWriter, logger *slog.Logger) (*sseWriter, bool) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &sseWriter{
		w:                  w,
		rc:                 http.NewResponseController(w),
		logger:             logger,
		deadlinesSupported: true,
	}, true
}

func (sw *sseWriter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if sw.deadlinesSupported {
		if err := sw.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
			// deadline not supported by underlying connection, continue without
			sw.logger.Warn("sse write deadlines not supported", "error", err)
			sw.deadlinesSupported = false
		}
	}

	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return err
	}

	// ResponseController.Flush respects the write deadline
	return sw.rc.Flush()
}

// forward sends every update until the subscription closes, ctx ends or a
// send fails.
func forward[T any](ctx context.Context, updates <-chan T, send func(T) error) {
	for {
		select {
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := send(v); err != nil {
				return
			}
		case <-ctx.Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// handleJobEvents streams the latest run of every job, then each status
// transition as it is published.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	updates, stop, err := channel.Named[jobstatus.Run](s.cfg.Broker, jobstatus.Topic).Subscribe(ctx)
	if err != nil {
		s.logger.Error("failed to subscribe to job status", "error", err)
		s.writeError(w, http.StatusBadGateway, "subscription failed")
		return
	}
	defer stop()

	sw, ok := newSSEWriter(w, s.logger)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	s.cfg.Metrics.clientConnected(transportSSE)
	defer s.cfg.Metrics.clientDisconnected(transportSSE)

	for _, run := range s.cfg.Statuses.All() {
		if err := sw.send(run); err != nil {
			return
		}
		s.cfg.Metrics.messageSent(transportSSE)
	}

	forward(ctx, updates, func(v channel.Timestamped[jobstatus.Run]) error {
		if err := sw.send(v.Value); err != nil {
			return err
		}
		s.cfg.Metrics.messageSent(transportSSE)
		return nil
	})
}

func (s *Server) handleChannelSSE(w http.ResponseWriter, r *http.Request) {
	if ch, ok := s.itemChannel(w, r); ok {
		s.streamSSE(w, r, ch)
	}
}

func (s *Server) handlePingSSE(w http.ResponseWriter, r *http.Request) {
	if ch, ok := s.pingChannel(w, r); ok {
		s.streamSSE(w, r, ch)
	}
}

// streamSSE sends the channel's last state, if any, then every publish.
// The subscription is opened before the last state is read so no publish
// in between is lost; a client may see the same value twice.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, ch *channel.Channel[json.RawMessage]) {
	ctx := r.Context()

	updates, stop, err := ch.Subscribe(ctx)
	if err != nil {
		s.logger.Error("failed to subscribe", "topic", ch.Topic(), "error", err)
		s.writeError(w, http.StatusBadGateway, "subscription failed")
		return
	}
	defer stop()

	sw, ok := newSSEWriter(w, s.logger)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	s.cfg.Metrics.clientConnected(transportSSE)
	defer s.cfg.Metrics.clientDisconnected(transportSSE)

	send := func(v channel.Timestamped[json.RawMessage]) error {
		if err := sw.send(v); err != nil {
			return err
		}
		s.cfg.Metrics.messageSent(transportSSE)
		return nil
	}

	if last, ok, err := ch.LastState(ctx); err != nil {
		s.logger.Warn("failed to read last state", "topic", ch.Topic(), "error", err)
	} else if ok {
		if err := send(last); err != nil {
			return
		}
	}

	forward(ctx, updates, send)
}

// handleChannelWS is the WebSocket variant of handleChannelSSE. Client
// messages are ignored.
func (s *Server) handleChannelWS(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.itemChannel(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// origins are not restricted, matching the CORS policy
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := conn.CloseRead(r.Context())

	updates, stop, err := ch.Subscribe(ctx)
	if err != nil {
		s.logger.Error("failed to subscribe", "topic", ch.Topic(), "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer stop()

	s.cfg.Metrics.clientConnected(transportWebSocket)
	defer s.cfg.Metrics.clientDisconnected(transportWebSocket)

	send := func(v channel.Timestamped[json.RawMessage]) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, sseWriteTimeout)
		defer cancel()
		if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			return err
		}
		s.cfg.Metrics.messageSent(transportWebSocket)
		return nil
	}

	if last, ok, err := ch.LastState(ctx); err == nil && ok {
		if err := send(last); err != nil {
			return
		}
	}

	forward(ctx, updates, send)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
