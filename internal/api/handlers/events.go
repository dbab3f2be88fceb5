package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/hugh/scanhub/internal/api/dto"
	"github.com/hugh/scanhub/internal/api/middleware"
	"github.com/hugh/scanhub/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

// EventsHandler streams the caller's scan lifecycle events over a websocket.
type EventsHandler struct {
	events   events.Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates the stream handler. With no allowed origins only
// same-origin upgrades are accepted.
func NewEventsHandler(sub events.Subscriber, allowedOrigins []string, logger *slog.Logger) *EventsHandler {
	h := &EventsHandler{
		events: sub,
		logger: logger.With("handler", "events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

// Stream handles GET /api/v1/scans/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chimw.GetReqID(r.Context())

	// Subscribe before upgrading so a broken bus is still reported over HTTP.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stream, unsubscribe, err := h.events.Subscribe(ctx)
	if err != nil {
		h.logger.Error("subscribing to scan events", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Event stream unavailable"})
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", "request_id", requestID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Debug("event stream opened", "request_id", requestID, "user_id", userID)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer cancel()
		h.readPump(conn, requestID)
	}()

	h.writePump(ctx, conn, stream, userID.String(), requestID)
	h.logger.Debug("event stream closed", "request_id", requestID, "user_id", userID)
}

// readPump discards client messages and returns once the peer goes away.
func (h *EventsHandler) readPump(conn *websocket.Conn, requestID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

func (h *EventsHandler) writePump(ctx context.Context, conn *websocket.Conn, stream <-chan events.Event, owner, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev, ok := <-stream:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream ended"))
				return
			}
			if ev.OwnerID.String() != owner {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event write failed", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
