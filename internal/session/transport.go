package session

import (
	"context"

	"github.com/cwrk-planet/docsync/internal/domain"
)

// Transport is one open client socket. WriteMessage may be called concurrently
// with ReadMessage; Close may be called from any goroutine and more than once.
type Transport interface {
	ReadMessage() (binary bool, data []byte, err error)
	WriteMessage(binary bool, data []byte) error
	// Close ends the socket; clean sends a normal-closure frame first.
	Close(clean bool) error
}

type Dialer interface {
	Dial(ctx context.Context, ch Channel, roomID domain.RoomID) (Transport, error)
}
