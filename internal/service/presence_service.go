package service

import (
	"time"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
	"github.com/cwrk-planet/docsync/internal/registry"
)

// PresenceService announces membership changes of the event channel.
type PresenceService struct {
	rooms *registry.Registry
	now   func() time.Time
}

func NewPresenceService(rooms *registry.Registry) *PresenceService {
	return &PresenceService{rooms: rooms, now: time.Now}
}

// Join adds conn to the room, sends it the other members and tells them about the newcomer.
// A repeated join only resends the member list.
func (s *PresenceService) Join(conn registry.Conn, roomID domain.RoomID, displayName string) ([]domain.PresenceEntry, error) {
	res, err := s.rooms.Join(conn, roomID, displayName)
	if err != nil {
		return nil, err
	}

	if res.Previous != nil {
		s.announceLeft(*res.Previous)
	}

	existing := protocol.PresenceFromDomain(res.Existing)
	if err := conn.Send(registry.Text(protocol.MustEncode(protocol.TypeExistingMembers, existing))); err != nil {
		return res.Existing, err
	}

	if !res.AlreadyMember {
		joined := protocol.MemberJoinedPayload{
			ConnectionID: string(res.Entry.ConnectionID),
			DisplayName:  res.Entry.DisplayName,
			Timestamp:    res.Entry.JoinedAt.UnixMilli(),
		}
		s.rooms.Broadcast(roomID, conn.ID(), registry.Text(protocol.MustEncode(protocol.TypeMemberJoined, joined)))
	}

	return res.Existing, nil
}

// Leave is safe to call for rooms the connection is not in.
func (s *PresenceService) Leave(id domain.ConnectionID, roomID domain.RoomID) {
	if dep, ok := s.rooms.Leave(id, roomID); ok {
		s.announceLeft(dep)
	}
}

// Disconnect handles a closed event-channel connection.
func (s *PresenceService) Disconnect(id domain.ConnectionID) {
	if dep, ok := s.rooms.RemoveConnection(id); ok {
		s.announceLeft(dep)
	}
}

// Cursor relays a cursor update to the sender's room peers, stamped with the sender id.
func (s *PresenceService) Cursor(from domain.ConnectionID, p protocol.CursorPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	roomID := domain.RoomID(p.RoomID)
	if !s.rooms.IsMember(roomID, from) {
		return domain.ErrNotMember
	}
	p.ConnectionID = string(from)
	s.rooms.Broadcast(roomID, from, registry.Text(protocol.MustEncode(protocol.TypeCursor, p)))
	return nil
}

func (s *PresenceService) announceLeft(dep registry.Departure) {
	if dep.Remaining == 0 {
		return
	}
	left := protocol.MemberLeftPayload{
		ConnectionID: string(dep.Entry.ConnectionID),
		Timestamp:    s.now().UnixMilli(),
	}
	s.rooms.Broadcast(dep.RoomID, dep.Entry.ConnectionID, registry.Text(protocol.MustEncode(protocol.TypeMemberLeft, left)))
}
