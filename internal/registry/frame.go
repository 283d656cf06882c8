package registry

import "github.com/cwrk-planet/docsync/internal/domain"

type FrameKind uint8

const (
	FrameText FrameKind = iota + 1
	FrameBinary
)

// Frame is one outbound websocket message. Data is shared between receivers
// and must not be mutated after it is handed to Broadcast.
type Frame struct {
	Kind FrameKind
	Data []byte
}

func Text(data []byte) Frame   { return Frame{Kind: FrameText, Data: data} }
func Binary(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }

// Conn is the outbound side of a relay connection.
// Send must not block: it is called while a room's member set is read-locked.
type Conn interface {
	ID() domain.ConnectionID
	Send(f Frame) error
}
