package domain

import "time"

// PresenceEntry is the display metadata of one connection inside a room.
type PresenceEntry struct {
	ConnectionID ConnectionID
	DisplayName  string
	JoinedAt     time.Time
}
