package domain

import "errors"

var (
	ErrMissingRoomID  = errors.New("missing room id")
	ErrNotMember      = errors.New("connection is not a member of the room")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")

	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send queue full")

	ErrDocumentNotFound = errors.New("document not found")
)
