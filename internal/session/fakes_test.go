package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/docsync/internal/docstore"
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
)

var errDropped = errors.New("connection reset by peer")

type frame struct {
	binary bool
	data   []byte
}

// fakeConn is both ends of an in-memory socket.
type fakeConn struct {
	ch         Channel
	toClient   chan frame
	fromClient chan frame

	once    sync.Once
	closed  chan struct{}
	mu      sync.Mutex
	readErr error
	byUs    bool // closed by the client
	clean   bool
}

func newFakeConn(ch Channel) *fakeConn {
	return &fakeConn{
		ch:         ch,
		toClient:   make(chan frame, 64),
		fromClient: make(chan frame, 64),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (bool, []byte, error) {
	select {
	case f := <-c.toClient:
		return f.binary, f.data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return false, nil, c.readErr
	}
}

func (c *fakeConn) WriteMessage(binary bool, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	select {
	case c.fromClient <- frame{binary: binary, data: data}:
		return nil
	case <-c.closed:
		return errors.New("write on closed connection")
	}
}

func (c *fakeConn) Close(clean bool) error {
	c.closeWith(errors.New("use of closed network connection"), true, clean)
	return nil
}

func (c *fakeConn) closeWith(err error, byUs, clean bool) {
	c.once.Do(func() {
		c.mu.Lock()
		c.readErr = err
		c.byUs = byUs
		c.clean = clean
		c.mu.Unlock()
		close(c.closed)
	})
}

// server side helpers

func (c *fakeConn) drop()       { c.closeWith(errDropped, false, false) }
func (c *fakeConn) closeClean() { c.closeWith(ErrCleanClose, false, true) }

func (c *fakeConn) push(binary bool, data []byte) { c.toClient <- frame{binary: binary, data: data} }

func (c *fakeConn) pushEvent(typ string, payload any) { c.push(false, protocol.MustEncode(typ, payload)) }

func (c *fakeConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.fromClient:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame from client on %s", c.ch)
		return frame{}
	}
}

func (c *fakeConn) nextEvent(t *testing.T) protocol.Envelope {
	t.Helper()
	f := c.next(t)
	require.False(t, f.binary)
	env, err := protocol.Decode(f.data)
	require.NoError(t, err)
	return env
}

func (c *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-c.fromClient:
		t.Fatalf("unexpected frame on %s: %q", c.ch, f.data)
	case <-time.After(d):
	}
}

func (c *fakeConn) closedState() (closed, byUs, clean bool) {
	select {
	case <-c.closed:
		closed = true
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return closed, c.byUs, c.clean
}

type fakeDialer struct {
	mu      sync.Mutex
	failing map[Channel]bool
	dials   map[Channel]int
	conns   map[Channel]chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failing: map[Channel]bool{},
		dials:   map[Channel]int{},
		conns: map[Channel]chan *fakeConn{
			ChannelUpdates: make(chan *fakeConn, 16),
			ChannelEvents:  make(chan *fakeConn, 16),
		},
	}
}

func (d *fakeDialer) Dial(ctx context.Context, ch Channel, _ domain.RoomID) (Transport, error) {
	d.mu.Lock()
	d.dials[ch]++
	failing := d.failing[ch]
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn(ch)
	d.conns[ch] <- c
	return c, nil
}

func (d *fakeDialer) setFailing(ch Channel, v bool) {
	d.mu.Lock()
	d.failing[ch] = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount(ch Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[ch]
}

func (d *fakeDialer) accept(t *testing.T, ch Channel) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns[ch]:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s connection", ch)
		return nil
	}
}

type fakeStore struct {
	mu      sync.Mutex
	doc     docstore.Document
	err     error
	gate    chan struct{}
	fetches int
	saved   map[string]string
	saveErr error
}

func (s *fakeStore) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	s.mu.Lock()
	s.fetches++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return docstore.Document{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return docstore.Document{}, s.err
	}
	d := s.doc
	d.ID = id
	return d, nil
}

func (s *fakeStore) Save(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[id] = content
	return nil
}

func (s *fakeStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
