package service

import (
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
	"github.com/cwrk-planet/docsync/internal/registry"
)

// ChatService fans chat messages out to every member of a room, sender included.
// Message ids are passed through untouched; clients dedupe their own echo by id.
type ChatService struct {
	rooms *registry.Registry
}

func NewChatService(rooms *registry.Registry) *ChatService {
	return &ChatService{rooms: rooms}
}

// Send resolves the target room (the sender's current room when p has none),
// validates the text and broadcasts it.
func (s *ChatService) Send(from domain.ConnectionID, p protocol.MessagePayload) (int, error) {
	roomID := domain.RoomID(p.RoomID)
	if roomID == "" {
		current, ok := s.rooms.RoomOf(from)
		if !ok {
			return 0, domain.ErrMissingRoomID
		}
		roomID = current
	}
	if !s.rooms.IsMember(roomID, from) {
		return 0, domain.ErrNotMember
	}

	msg, err := p.ToDomain().Normalize()
	if err != nil {
		return 0, err
	}

	frame := protocol.MustEncode(protocol.TypeMessage, protocol.MessageFromDomain(roomID, msg))
	return s.rooms.Broadcast(roomID, "", registry.Text(frame)), nil
}
