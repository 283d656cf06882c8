package domain

type (
	RoomID       string
	ConnectionID string
)
