package service

import (
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/registry"
)

// UpdateRelay forwards opaque document update frames between members of a room.
// It never inspects, merges or stores frames.
type UpdateRelay struct {
	rooms *registry.Registry
}

func NewUpdateRelay(rooms *registry.Registry) *UpdateRelay {
	return &UpdateRelay{rooms: rooms}
}

func (r *UpdateRelay) Attach(conn registry.Conn, roomID domain.RoomID) error {
	_, err := r.rooms.Join(conn, roomID, "")
	return err
}

// Forward hands frame, byte for byte, to every other member of roomID.
func (r *UpdateRelay) Forward(from domain.ConnectionID, roomID domain.RoomID, frame []byte) int {
	return r.rooms.Broadcast(roomID, from, registry.Binary(frame))
}

func (r *UpdateRelay) Detach(id domain.ConnectionID) {
	r.rooms.RemoveConnection(id)
}
