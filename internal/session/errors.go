package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnectedRetrying is attached to Reconnecting state events.
	ErrDisconnectedRetrying = errors.New("disconnected, retrying")
	// ErrConnectionFailed is attached to Errored state events once retries are exhausted.
	ErrConnectionFailed = errors.New("connection failed")
	ErrLoadFailed       = errors.New("failed to load document")
	ErrSaveFailed       = errors.New("failed to save document")

	ErrNotConnected = errors.New("link not connected")
	ErrNotStarted   = errors.New("session not started")
	ErrStopped      = errors.New("session stopped")
	ErrNotErrored   = errors.New("session is not in an errored state")

	// ErrCleanClose is returned by Transport.ReadMessage when the peer closed normally.
	ErrCleanClose = errors.New("transport closed cleanly")
)

// ServerError is an error event sent by the relay for a rejected message.
type ServerError struct {
	Code    string
	Message string
	Ref     string
}

func (e *ServerError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("relay rejected %s: %s (%s)", e.Ref, e.Message, e.Code)
	}
	return fmt.Sprintf("relay error: %s (%s)", e.Message, e.Code)
}
