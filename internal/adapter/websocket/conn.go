package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

// Conn is one client connection. Frames passed to Send are written by a
// dedicated writer goroutine in order; Send itself never blocks.
type Conn struct {
	id         string
	connection *websocket.Conn
	clock      clockwork.Clock
	metrics    *metrics.WebSocketMetrics

	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ domain.Connection = (*Conn)(nil)

func newConn(connection *websocket.Conn, bufferSize int, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		connection:  connection,
		clock:       clock,
		metrics:     m,
		sendChannel: make(chan []byte, bufferSize),
		doneChannel: make(chan struct{}),
	}
	c.configurePongHandler()
	c.wg.Add(1)
	go c.run()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Send queues frame for writing. A closed connection returns
// domain.ErrConnectionClosed. When the buffer is full the connection is
// evicted and domain.ErrSendBufferFull is returned.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.doneChannel:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.sendChannel <- frame:
		return nil
	default:
		c.metrics.SlowClientsEvicted.Inc()
		slog.Warn("Slow client evicted", "conn_id", c.id, "buffer", cap(c.sendChannel))
		go c.Close()
		return domain.ErrSendBufferFull
	}
}

// Done is closed once the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} { return c.doneChannel }

// Close stops the writer and closes the socket, which also ends the read loop.
func (c *Conn) Close() {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

// CloseGraceful sends a close frame with reason before closing the socket.
func (c *Conn) CloseGraceful(reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)

		// The writer must exit before the close frame is written; gorilla
		// allows only one concurrent writer.
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		c.updateWriteDeadline()
		_ = c.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

func (c *Conn) run() {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.sendChannel:
			start := c.clock.Now()
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("WebSocket write failed", "conn_id", c.id, "error", err)
				_ = c.connection.Close()
				return
			}
			c.metrics.SendDuration.Observe(c.clock.Since(start).Seconds())
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.metrics.PingFailures.Inc()
				_ = c.connection.Close()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

// touch extends the read deadline after inbound traffic.
func (c *Conn) touch() {
	c.updateReadDeadline()
}

func (c *Conn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Conn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(pongDeadline))
}
