package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cwrk-planet/docsync/internal/domain"
)

const defaultShards = 32

type member struct {
	entry domain.PresenceEntry
	conn  Conn
}

type room struct {
	id      domain.RoomID
	mu      sync.RWMutex
	members map[domain.ConnectionID]*member
	dead    bool // set once the last member left; a dead room is never reused
}

type roomShard struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

// membership serializes join/leave/remove of a single connection.
type membership struct {
	mu   sync.Mutex
	room domain.RoomID
	gone bool
}

type connShard struct {
	mu    sync.Mutex
	conns map[domain.ConnectionID]*membership
}

// Registry maps room ids to their current members.
// Mutations of one room are serialized by that room's lock; unrelated rooms never contend.
type Registry struct {
	rooms []*roomShard
	conns []*connShard
	now   func() time.Time
}

type Option func(*Registry)

func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.rooms = newRoomShards(n)
			r.conns = newConnShards(n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		rooms: newRoomShards(defaultShards),
		conns: newConnShards(defaultShards),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newRoomShards(n int) []*roomShard {
	out := make([]*roomShard, n)
	for i := range out {
		out[i] = &roomShard{rooms: make(map[domain.RoomID]*room)}
	}
	return out
}

func newConnShards(n int) []*connShard {
	out := make([]*connShard, n)
	for i := range out {
		out[i] = &connShard{conns: make(map[domain.ConnectionID]*membership)}
	}
	return out
}

func (r *Registry) roomShard(id domain.RoomID) *roomShard {
	return r.rooms[xxhash.Sum64String(string(id))%uint64(len(r.rooms))]
}

func (r *Registry) connShard(id domain.ConnectionID) *connShard {
	return r.conns[xxhash.Sum64String(string(id))%uint64(len(r.conns))]
}

// JoinResult describes the outcome of Join.
type JoinResult struct {
	// Existing lists the other members of the room, ordered by join time.
	Existing []domain.PresenceEntry
	// Entry is the joiner's own presence entry.
	Entry domain.PresenceEntry
	// AlreadyMember is true when the join was a no-op.
	AlreadyMember bool
	// Previous is set when the connection left another room to join this one.
	Previous *Departure
}

// Departure describes a removed membership.
type Departure struct {
	RoomID    domain.RoomID
	Entry     domain.PresenceEntry
	Remaining int
}

// Join records conn as a member of roomID. Joining the current room again is a no-op;
// joining a different room leaves the previous one first.
func (r *Registry) Join(conn Conn, roomID domain.RoomID, displayName string) (JoinResult, error) {
	if roomID == "" {
		return JoinResult{}, domain.ErrMissingRoomID
	}
	id := conn.ID()

	ms := r.membership(id, true)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.gone {
		return JoinResult{}, domain.ErrConnClosed
	}

	if ms.room == roomID {
		if rm := r.lookup(roomID); rm != nil {
			rm.mu.RLock()
			m, ok := rm.members[id]
			existing := rm.snapshotLocked(id)
			rm.mu.RUnlock()
			if ok {
				return JoinResult{Existing: existing, Entry: m.entry, AlreadyMember: true}, nil
			}
		}
		// membership pointed at a room that no longer lists us; fall through and re-add
		ms.room = ""
	}

	var res JoinResult
	if ms.room != "" {
		if dep, ok := r.remove(id, ms.room); ok {
			res.Previous = &dep
		}
		ms.room = ""
	}

	entry := domain.PresenceEntry{
		ConnectionID: id,
		DisplayName:  displayName,
		JoinedAt:     r.now(),
	}
	res.Existing = r.add(roomID, &member{entry: entry, conn: conn})
	res.Entry = entry
	ms.room = roomID

	return res, nil
}

// Leave removes the connection from roomID. Unknown rooms and connections are fine.
func (r *Registry) Leave(id domain.ConnectionID, roomID domain.RoomID) (Departure, bool) {
	ms := r.membership(id, false)
	if ms == nil {
		return Departure{}, false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.room != roomID || roomID == "" {
		return Departure{}, false
	}
	dep, ok := r.remove(id, roomID)
	ms.room = ""
	return dep, ok
}

// RemoveConnection drops every trace of the connection. A Join racing with it fails
// with ErrConnClosed; a Join issued afterwards starts a fresh membership that
// remembers nothing of the old room. Connection ids are single use, so no tombstone
// is kept.
func (r *Registry) RemoveConnection(id domain.ConnectionID) (Departure, bool) {
	sh := r.connShard(id)
	sh.mu.Lock()
	ms := sh.conns[id]
	delete(sh.conns, id)
	sh.mu.Unlock()

	if ms == nil {
		return Departure{}, false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.gone = true

	if ms.room == "" {
		return Departure{}, false
	}
	dep, ok := r.remove(id, ms.room)
	ms.room = ""
	return dep, ok
}

// Broadcast sends f to every member of roomID except exclude and returns the number
// of members it was handed to. A missing room is a no-op.
func (r *Registry) Broadcast(roomID domain.RoomID, exclude domain.ConnectionID, f Frame) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	n := 0
	for id, m := range rm.members {
		if id == exclude {
			continue
		}
		// a failed send closes that connection; its own disconnect path cleans up
		if err := m.conn.Send(f); err == nil {
			n++
		}
	}
	return n
}

// Members returns the room's presence entries ordered by join time.
func (r *Registry) Members(roomID domain.RoomID) []domain.PresenceEntry {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.snapshotLocked("")
}

func (r *Registry) IsMember(roomID domain.RoomID, id domain.ConnectionID) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[id]
	return ok
}

// RoomOf returns the room the connection currently belongs to.
func (r *Registry) RoomOf(id domain.ConnectionID) (domain.RoomID, bool) {
	ms := r.membership(id, false)
	if ms == nil {
		return "", false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.room, ms.room != ""
}

// Stats is a diagnostic snapshot; shards are visited one after another.
func (r *Registry) Stats() (rooms, conns int) {
	for _, sh := range r.rooms {
		sh.mu.Lock()
		list := make([]*room, 0, len(sh.rooms))
		for _, rm := range sh.rooms {
			list = append(list, rm)
		}
		sh.mu.Unlock()

		for _, rm := range list {
			rm.mu.RLock()
			if !rm.dead {
				rooms++
				conns += len(rm.members)
			}
			rm.mu.RUnlock()
		}
	}
	return rooms, conns
}

// --- internals ---

func (r *Registry) membership(id domain.ConnectionID, create bool) *membership {
	sh := r.connShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ms, ok := sh.conns[id]
	if !ok && create {
		ms = &membership{}
		sh.conns[id] = ms
	}
	return ms
}

func (r *Registry) lookup(id domain.RoomID) *room {
	sh := r.roomShard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.rooms[id]
}

// add inserts m, creating the room lazily, and returns the other members.
func (r *Registry) add(roomID domain.RoomID, m *member) []domain.PresenceEntry {
	sh := r.roomShard(roomID)
	for {
		sh.mu.Lock()
		rm, ok := sh.rooms[roomID]
		if !ok {
			rm = &room{id: roomID, members: make(map[domain.ConnectionID]*member)}
			sh.rooms[roomID] = rm
		}
		sh.mu.Unlock()

		rm.mu.Lock()
		if rm.dead {
			// emptied between lookup and lock; the shard entry is gone or replaced
			rm.mu.Unlock()
			continue
		}
		id := m.entry.ConnectionID
		rm.members[id] = m
		existing := rm.snapshotLocked(id)
		rm.mu.Unlock()
		return existing
	}
}

func (r *Registry) remove(id domain.ConnectionID, roomID domain.RoomID) (Departure, bool) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Departure{}, false
	}

	rm.mu.Lock()
	m, ok := rm.members[id]
	if !ok {
		rm.mu.Unlock()
		return Departure{}, false
	}
	delete(rm.members, id)
	remaining := len(rm.members)
	if remaining == 0 {
		rm.dead = true
	}
	rm.mu.Unlock()

	if remaining == 0 {
		sh := r.roomShard(roomID)
		sh.mu.Lock()
		if sh.rooms[roomID] == rm {
			delete(sh.rooms, roomID)
		}
		sh.mu.Unlock()
	}

	return Departure{RoomID: roomID, Entry: m.entry, Remaining: remaining}, true
}

func (rm *room) snapshotLocked(exclude domain.ConnectionID) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(rm.members))
	for id, m := range rm.members {
		if id == exclude {
			continue
		}
		out = append(out, m.entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
