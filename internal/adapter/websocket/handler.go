package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/pscheid92/keyrelay/internal/platform/correlation"
)

const maxFrameSize = 64 * 1024

// Relay is the engine surface the transport drives.
type Relay interface {
	Ingest(ctx context.Context, conn domain.Connection, frame []byte) error
	Disconnect(ctx context.Context, conn domain.Connection) error
}

// HandlerConfig configures the upgrade handler.
type HandlerConfig struct {
	AllowedOrigins []string
	BufferSize     int
}

// Handler upgrades HTTP requests to WebSocket connections and pumps inbound
// frames into the relay.
type Handler struct {
	relay    Relay
	limits   *Limits
	upgrader websocket.Upgrader
	metrics  *metrics.WebSocketMetrics
	clock    clockwork.Clock
	buffer   int

	mu     sync.Mutex
	conns  map[string]*Conn
	active sync.WaitGroup
}

// NewHandler creates the upgrade handler.
func NewHandler(relay Relay, limits *Limits, cfg HandlerConfig, m *metrics.WebSocketMetrics, clock clockwork.Clock) *Handler {
	h := &Handler{
		relay:   relay,
		limits:  limits,
		metrics: m,
		clock:   clock,
		buffer:  cfg.BufferSize,
		conns:   make(map[string]*Conn),
	}
	checkOrigin := NewCheckOrigin(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin(r) {
				return true
			}
			m.ConnectionsRejected.WithLabelValues(string(LimitReasonOrigin)).Inc()
			return false
		},
	}
	return h
}

// Upgrade is the echo handler for the relay listener.
func (h *Handler) Upgrade(c echo.Context) error {
	ip := c.RealIP()

	reason, ok := h.limits.Acquire(ip)
	if !ok {
		h.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "remote_ip", ip, "reason", reason)
		if reason == LimitReasonRate {
			return c.String(http.StatusTooManyRequests, "Too many connection attempts")
		}
		return c.String(http.StatusServiceUnavailable, "Connection limit reached")
	}
	defer h.limits.Release(ip)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.Debug("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}
	ws.SetReadLimit(maxFrameSize)

	conn := newConn(ws, h.buffer, h.clock, h.metrics)
	ctx := correlation.WithID(context.WithoutCancel(c.Request().Context()), correlation.NewID())
	ctx = correlation.WithConn(ctx, conn.ID())

	h.register(conn)
	h.metrics.ActiveConnections.Inc()
	slog.DebugContext(ctx, "Client connected", "remote_ip", ip)

	h.readLoop(ctx, conn)

	if err := h.relay.Disconnect(ctx, conn); err != nil {
		slog.WarnContext(ctx, "Disconnect handling failed", "error", err)
	}
	conn.Close()
	h.unregister(conn)
	h.metrics.ActiveConnections.Dec()
	slog.DebugContext(ctx, "Client disconnected")
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *Conn) {
	for {
		messageType, frame, err := conn.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "error", err)
			}
			return
		}
		conn.touch()
		if messageType != websocket.TextMessage {
			continue
		}
		h.metrics.FramesReceived.Inc()

		err = h.relay.Ingest(ctx, conn, frame)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrMalformedMessage):
			slog.DebugContext(ctx, "Malformed frame", "error", err)
		case errors.Is(err, domain.ErrAuthorityDenied):
			slog.InfoContext(ctx, "Master message denied", "error", err)
		case errors.Is(err, domain.ErrEngineStopped):
			return
		default:
			slog.WarnContext(ctx, "Ingest failed", "error", err)
		}
	}
}

func (h *Handler) register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
	h.active.Add(1)
}

func (h *Handler) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.ID())
	h.active.Done()
}

// ActiveConnections returns the number of open connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a close frame to every open connection and waits until each
// has run disconnect handling.
func (h *Handler) CloseAll(reason string) {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.CloseGraceful(reason)
		}()
	}
	wg.Wait()
	h.active.Wait()
	slog.Info("Closed WebSocket connections", "count", len(conns), "reason", reason)
}
