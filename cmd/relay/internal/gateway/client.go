package gateway

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/hub"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/protocol"
	"github.com/shubham-shewale/stock-relay/pkg/config"
)

const (
	maxMessageSize = 512 * 1024
)

// ClientAdapter owns one websocket connection: a read pump for commands and a
// write pump fed by the send channel.
type ClientAdapter struct {
	id     string
	conn   net.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// Compile-time check to ensure ClientAdapter can be registered
var _ hub.Subscriber = (*ClientAdapter)(nil)

func NewClient(conn net.Conn, logger *zap.Logger, cfg config.GatewayConfig) *ClientAdapter {
	id := uuid.NewString()
	return &ClientAdapter{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, cfg.SendBuffer),
		logger:     logger.With(zap.String("conn_id", id)),
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PingPeriod,
	}
}

// Start runs the pumps. onCommand is called for every decoded request on the
// read goroutine; onClose runs once when the read side ends.
func (c *ClientAdapter) Start(onCommand func(protocol.WSRequest), onClose func()) {
	go c.writePump()
	go c.readPump(onCommand, onClose)
}

func (c *ClientAdapter) ID() string { return c.id }

// Close stops the write pump, which sends a close frame and closes the conn.
// Safe to call more than once.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}
	if err := c.SendBytes(b); err != nil {
		c.logger.Debug("Response dropped", zap.Error(err))
	}
}

// SendBytes queues b without blocking.
func (c *ClientAdapter) SendBytes(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return hub.ErrSubscriberClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		// Backpressure: a client this far behind is treated as unreachable
		return hub.ErrSendBufferFull
	}
}

// Reject ends a connection that never got past the handshake.
func (c *ClientAdapter) Reject(code ws.StatusCode, reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	if err := ws.WriteFrame(c.conn, frame); err != nil {
		c.logger.Debug("Failed to write close frame", zap.Error(err))
	}
	c.conn.Close()
}

func (c *ClientAdapter) readPump(onCommand func(protocol.WSRequest), onClose func()) {
	defer func() {
		onClose()
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		case ws.OpText:
			var req protocol.WSRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				c.SendJSON(protocol.WSResponse{Type: "error", Message: "Invalid JSON"})
				continue
			}
			onCommand(req)
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
