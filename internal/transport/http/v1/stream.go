package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/hub"
	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
	"github.com/xiaot623/tenderwatch/policy"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// StreamEvents streams the agent's events via SSE until the client goes away.
// GET /v1/agents/:agent_id/events
//
// Reconnecting clients get no replay; they re-read status and history.
func (h *Handler) StreamEvents(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionSubscribe)
	if handled {
		return err
	}
	ctx := c.Request().Context()

	sub, err := h.service.Subscribe(ctx, agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	defer h.service.Unsubscribe(sub)

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil

		case event, ok := <-sub.Send:
			if !ok {
				// Dropped by the hub or shutting down.
				return nil
			}
			if err := writeSSEEvent(c, event); err != nil {
				h.logger.Warn("sse write failed",
					zap.Int64("agent_id", agentID),
					zap.String("subscriber_id", sub.ID),
					zap.Error(err))
				return nil
			}
		}
	}
}

// writeSSEEvent sends a single event in SSE format.
func writeSSEEvent(c echo.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Format: event: <event_type>\ndata: <json>\n\n
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// StreamWebSocket delivers the same events as StreamEvents over a WebSocket.
// GET /v1/agents/:agent_id/ws
func (h *Handler) StreamWebSocket(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionSubscribe)
	if handled {
		return err
	}

	sub, err := h.service.Subscribe(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.service.Unsubscribe(sub)
		h.logger.Warn("websocket upgrade failed",
			zap.Int64("agent_id", agentID),
			zap.String("subscriber_id", sub.ID),
			zap.Error(err))
		return nil
	}

	go h.readPump(ws, sub)
	h.writePump(ws, sub)
	return nil
}

// readPump discards client messages and unsubscribes once the peer is gone,
// which in turn ends writePump.
func (h *Handler) readPump(ws *websocket.Conn, sub *hub.Subscriber) {
	defer h.service.Unsubscribe(sub)

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes events and pings until the subscription ends or a write fails.
func (h *Handler) writePump(ws *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		h.service.Unsubscribe(sub)
		ws.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Send:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
