package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
	"github.com/cwrk-planet/docsync/internal/registry"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

type PresenceSvc interface {
	Join(conn registry.Conn, roomID domain.RoomID, displayName string) ([]domain.PresenceEntry, error)
	Leave(id domain.ConnectionID, roomID domain.RoomID)
	Disconnect(id domain.ConnectionID)
	Cursor(from domain.ConnectionID, p protocol.CursorPayload) error
}

type ChatSvc interface {
	Send(from domain.ConnectionID, p protocol.MessagePayload) (int, error)
}

type RelaySvc interface {
	Attach(conn registry.Conn, roomID domain.RoomID) error
	Forward(from domain.ConnectionID, roomID domain.RoomID, frame []byte) int
	Detach(id domain.ConnectionID)
}

type Server struct {
	upgrader websocket.Upgrader
	opts     Options

	presence PresenceSvc
	chat     ChatSvc
	relay    RelaySvc

	mu       sync.Mutex
	conns    map[*conn]struct{}
	draining bool
}

func NewServer(presence PresenceSvc, chat ChatSvc, relay RelaySvc, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:     opts,
		presence: presence,
		chat:     chat,
		relay:    relay,
		conns:    make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// HandleEvents serves the event channel: GET /ws
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer s.release(c)

	go c.writeLoop()

	c.log.Debug("event channel open")
	err := c.readLoop(func(kind int, data []byte) {
		if kind != websocket.TextMessage {
			s.reject(c, "", protocol.ErrMalformed)
			return
		}
		s.dispatch(c, data)
	})
	logClose(c.log, "event channel closed", err)

	s.presence.Disconnect(c.id)
}

// HandleUpdates serves the update channel: GET /yjs/{room}
func (s *Server) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(strings.TrimSpace(chi.URLParam(r, "room")))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	c, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer s.release(c)

	c.log = c.log.With(logger.Room(string(roomID)))

	if err := s.relay.Attach(c, roomID); err != nil {
		c.log.Warn("update channel attach failed", logger.Err(err))
		c.shutdown(websocket.CloseInternalServerErr, "attach failed")
		c.writeLoop()
		return
	}
	defer s.relay.Detach(c.id)

	go c.writeLoop()

	c.log.Debug("update channel open")
	err := c.readLoop(func(kind int, data []byte) {
		if kind != websocket.BinaryMessage {
			return
		}
		s.relay.Forward(c.id, roomID, data)
	})
	logClose(c.log, "update channel closed", err)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*conn, bool) {
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	l := logger.FromContext(r.Context())
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		l.Warn("ws upgrade failed", logger.Err(err))
		return nil, false
	}

	c := newConn(domain.ConnectionID(uuid.NewString()), wsConn, s.opts, l)

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		c.shutdown(websocket.CloseGoingAway, "shutting down")
		c.writeLoop()
		return nil, false
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	return c, true
}

func (s *Server) release(c *conn) {
	c.shutdown(websocket.CloseNormalClosure, "")
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Shutdown stops accepting sockets and closes the open ones with "going away",
// so clients reconnect to another instance.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.draining = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) dispatch(c *conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.reject(c, "", err)
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		var p protocol.JoinPayload
		if err = env.Into(&p); err == nil {
			if err = p.Validate(); err == nil {
				_, err = s.presence.Join(c, domain.RoomID(strings.TrimSpace(p.RoomID)), p.DisplayName)
			}
		}
	case protocol.TypeLeave:
		var p protocol.LeavePayload
		if err = env.Into(&p); err == nil {
			if err = p.Validate(); err == nil {
				s.presence.Leave(c.id, domain.RoomID(strings.TrimSpace(p.RoomID)))
			}
		}
	case protocol.TypeMessage:
		var p protocol.MessagePayload
		if err = env.Into(&p); err == nil {
			_, err = s.chat.Send(c.id, p)
		}
	case protocol.TypeCursor:
		var p protocol.CursorPayload
		if err = env.Into(&p); err == nil {
			err = s.presence.Cursor(c.id, p)
		}
	default:
		err = protocol.UnknownType(env.Type)
	}

	if err != nil {
		s.reject(c, env.Type, err)
	}
}

// reject answers the offending connection only; nothing is broadcast.
func (s *Server) reject(c *conn, ref string, err error) {
	if errors.Is(err, domain.ErrConnClosed) || errors.Is(err, domain.ErrSlowConsumer) {
		return
	}
	c.log.Debug("ws message rejected", slog.String("type", ref), logger.Err(err))
	_ = c.Send(registry.Text(protocol.MustEncode(protocol.TypeError, protocol.ErrorFor(ref, err))))
}

func logClose(l *slog.Logger, msg string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		l.Info(msg, logger.Err(err))
		return
	}
	l.Debug(msg)
}
