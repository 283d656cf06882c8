package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/registry"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

// conn owns one upgraded websocket. Reads happen on the handler goroutine,
// writes on writeLoop; Send only enqueues.
type conn struct {
	id   domain.ConnectionID
	ws   *websocket.Conn
	opts Options
	log  *slog.Logger

	send chan registry.Frame

	closeOnce sync.Once
	closed    chan struct{}
	closeCode int
	closeText string
}

func newConn(id domain.ConnectionID, ws *websocket.Conn, opts Options, l *slog.Logger) *conn {
	return &conn{
		id:        id,
		ws:        ws,
		opts:      opts,
		log:       l.With(logger.Conn(string(id))),
		send:      make(chan registry.Frame, opts.SendQueue),
		closed:    make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *conn) ID() domain.ConnectionID { return c.id }

// Send enqueues f. A full queue closes the connection instead of blocking the room.
func (c *conn) Send(f registry.Frame) error {
	select {
	case <-c.closed:
		return domain.ErrConnClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	default:
		c.log.Warn("ws send queue full, dropping connection", slog.Int("queue", cap(c.send)))
		c.shutdown(websocket.CloseTryAgainLater, "slow consumer")
		return domain.ErrSlowConsumer
	}
}

// shutdown asks writeLoop to send a close frame and tear the socket down.
func (c *conn) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.closed)
	})
}

func (c *conn) done() <-chan struct{} { return c.closed }

// readLoop blocks until the peer goes away or the connection is shut down.
func (c *conn) readLoop(handle func(kind int, data []byte)) error {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		handle(kind, data)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				c.log.Debug("ws write failed", logger.Err(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closed:
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			}
			return
		}
	}
}

func (c *conn) write(f registry.Frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	kind := websocket.TextMessage
	if f.Kind == registry.FrameBinary {
		kind = websocket.BinaryMessage
	}
	return c.ws.WriteMessage(kind, f.Data)
}
