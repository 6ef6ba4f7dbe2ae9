package events

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/scaffolder/internal/logging"
)

// WebSocketHandler streams bus events to websocket clients as JSON frames.
type WebSocketHandler struct {
	bus            *Bus
	logger         logging.Logger
	originPatterns []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
}

// NewWebSocketHandler creates a handler serving events from bus. With no
// origin patterns only same-origin connections are accepted.
func NewWebSocketHandler(bus *Bus, logger logging.Logger, originPatterns ...string) *WebSocketHandler {
	return &WebSocketHandler{
		bus:            bus,
		logger:         logging.OrDiscard(logger).WithComponent("events"),
		originPatterns: originPatterns,
		writeTimeout:   5 * time.Second,
		pingInterval:   30 * time.Second,
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	events, cancel := h.bus.Subscribe()
	defer cancel()

	h.logger.Debug(ctx, "Event subscriber connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				h.logger.Debug(ctx, "Event subscriber write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, conn *websocket.Conn, event Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
