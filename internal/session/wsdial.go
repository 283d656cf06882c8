package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/docsync/internal/domain"
)

const (
	clientWriteWait = 10 * time.Second
	// the relay pings well inside this window
	clientReadWait = 90 * time.Second
)

// WSDialer opens links against a relay: ChannelEvents on /ws, ChannelUpdates on /yjs/{room}.
type WSDialer struct {
	base   string
	header http.Header
	dialer *websocket.Dialer
}

// NewWSDialer accepts http(s) or ws(s) base URLs.
func NewWSDialer(baseURL string, header http.Header) *WSDialer {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	d := *websocket.DefaultDialer
	return &WSDialer{base: base, header: header, dialer: &d}
}

func (d *WSDialer) URL(ch Channel, roomID domain.RoomID) string {
	if ch == ChannelUpdates {
		return d.base + "/yjs/" + url.PathEscape(string(roomID))
	}
	return d.base + "/ws"
}

func (d *WSDialer) Dial(ctx context.Context, ch Channel, roomID domain.RoomID) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.URL(ch, roomID), d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSTransport(conn), nil
}

type wsTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(clientReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(clientReadWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(clientWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return t
}

func (t *wsTransport) ReadMessage() (bool, []byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return false, nil, ErrCleanClose
		}
		return false, nil, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(clientReadWait))
	return kind == websocket.BinaryMessage, data, nil
}

func (t *wsTransport) WriteMessage(binary bool, data []byte) error {
	kind := websocket.TextMessage
	if binary {
		kind = websocket.BinaryMessage
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return t.conn.WriteMessage(kind, data)
}

func (t *wsTransport) Close(clean bool) error {
	var err error
	t.closeOnce.Do(func() {
		if clean {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		err = t.conn.Close()
	})
	return err
}
