package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cwrk-planet/docsync/internal/domain"
)

// Event channel message types.
const (
	// client -> relay
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeMessage = "message" // also relay -> client (broadcast incl. sender)
	TypeCursor  = "cursor"  // also relay -> client (other members only)

	// relay -> client
	TypeMemberJoined    = "member-joined"
	TypeMemberLeft      = "member-left"
	TypeExistingMembers = "existing-members"
	TypeError           = "error"
)

// Error codes carried by TypeError.
const (
	CodeBadRequest     = "bad_request"
	CodeUnknownType    = "unknown_type"
	CodeMissingRoomID  = "missing_room_id"
	CodeNotMember      = "not_member"
	CodeInvalidMessage = "invalid_message"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

func (p JoinPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return domain.ErrMissingRoomID
	}
	return nil
}

type LeavePayload struct {
	RoomID string `json:"roomId"`
}

func (p LeavePayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return domain.ErrMissingRoomID
	}
	return nil
}

// MessagePayload: roomId may be omitted by clients, the relay then uses the sender's room.
type MessagePayload struct {
	RoomID            string `json:"roomId,omitempty"`
	Text              string `json:"text"`
	AuthorDisplayName string `json:"authorDisplayName"`
	Timestamp         int64  `json:"timestamp"` // unix ms
	ID                string `json:"id,omitempty"`
}

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type CursorPayload struct {
	RoomID       string    `json:"roomId"`
	ConnectionID string    `json:"connectionId,omitempty"` // set by the relay
	Position     int       `json:"position"`
	Selection    Selection `json:"selection"`
}

func (p CursorPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return domain.ErrMissingRoomID
	}
	return nil
}

type MemberJoinedPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Timestamp    int64  `json:"timestamp"`
}

type MemberLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// PresenceItem is one element of the existing-members list.
type PresenceItem struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Timestamp    int64  `json:"timestamp"` // joinedAt, unix ms
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"` // type of the rejected message
}

// --- conversions ---

func MessageFromDomain(roomID domain.RoomID, m domain.ChatMessage) MessagePayload {
	return MessagePayload{
		RoomID:            string(roomID),
		Text:              m.Text,
		AuthorDisplayName: m.AuthorDisplayName,
		Timestamp:         m.Timestamp.UnixMilli(),
		ID:                m.ID,
	}
}

func (p MessagePayload) ToDomain() domain.ChatMessage {
	return domain.ChatMessage{
		ID:                p.ID,
		Text:              p.Text,
		AuthorDisplayName: p.AuthorDisplayName,
		Timestamp:         time.UnixMilli(p.Timestamp),
	}
}

func PresenceFromDomain(entries []domain.PresenceEntry) []PresenceItem {
	out := make([]PresenceItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, PresenceItem{
			ConnectionID: string(e.ConnectionID),
			DisplayName:  e.DisplayName,
			Timestamp:    e.JoinedAt.UnixMilli(),
		})
	}
	return out
}

func (p PresenceItem) ToDomain() domain.PresenceEntry {
	return domain.PresenceEntry{
		ConnectionID: domain.ConnectionID(p.ConnectionID),
		DisplayName:  p.DisplayName,
		JoinedAt:     time.UnixMilli(p.Timestamp),
	}
}
