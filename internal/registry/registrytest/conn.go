// Package registrytest provides a recording registry.Conn for tests.
package registrytest

import (
	"sync"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/registry"
)

type Conn struct {
	id      domain.ConnectionID
	mu      sync.Mutex
	frames  []registry.Frame
	sendErr error
}

func NewConn(id string) *Conn {
	return &Conn{id: domain.ConnectionID(id)}
}

func (c *Conn) ID() domain.ConnectionID { return c.id }

func (c *Conn) Send(f registry.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

// FailWith makes every following Send return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) Frames() []registry.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]registry.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
