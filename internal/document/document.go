// Package document defines the replicated document the session controller drives.
//
// Merge semantics belong to the implementation; the session only needs to know
// whether the document is empty, how to handle a frame from a peer, how to ask
// peers for their current state, and how to insert persisted content as a local
// update that peers must receive.
package document

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
)

type Document interface {
	// Empty reports whether the document has no user content.
	Empty() bool
	Content() string
	// Insert writes content locally and returns the update frame to send to peers.
	Insert(content string) ([]byte, error)
	// SyncRequest returns the frame that asks peers in the room for their state.
	SyncRequest() []byte
	// Receive handles one frame from a peer.
	Receive(frame []byte) (Received, error)
}

// Received is the outcome of handling a peer frame.
type Received struct {
	// Changed is set when the visible content changed.
	Changed bool
	// Synced is set when the frame carried a peer's full state.
	Synced bool
	// Reply, when not nil, is sent back to the room.
	Reply []byte
}

var ErrBadFrame = errors.New("bad update frame")

// Frame kinds, first byte of every frame.
const (
	frameUpdate       byte = 1 // clock, site, text
	frameState        byte = 2 // same body as frameUpdate, answers a request
	frameStateRequest byte = 3 // requesting site
)

// Snapshot is a whole-text last-writer-wins document.
// Update and state frames: kind byte, uvarint clock, uvarint site length, site, text.
// A state request is the kind byte followed by the requesting site.
type Snapshot struct {
	mu    sync.RWMutex
	site  string
	clock uint64
	owner string // site of the last applied write
	text  string
}

func NewSnapshot(site string) *Snapshot {
	return &Snapshot{site: site}
}

func (s *Snapshot) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// a lone newline is what editors leave behind in a blank document
	return strings.TrimRight(s.text, "\n") == ""
}

func (s *Snapshot) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

func (s *Snapshot) Insert(content string) ([]byte, error) {
	return s.Edit(content), nil
}

// Edit replaces the text locally and returns the frame describing the write.
func (s *Snapshot) Edit(text string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	s.owner = s.site
	s.text = text
	return encode(frameUpdate, s.clock, s.site, text)
}

func (s *Snapshot) SyncRequest() []byte {
	return append([]byte{frameStateRequest}, s.site...)
}

// Receive answers state requests while it holds any write, and applies update
// and state frames. A state frame always counts as sync, even when it is older
// than the local state.
func (s *Snapshot) Receive(frame []byte) (Received, error) {
	if len(frame) == 0 {
		return Received{}, ErrBadFrame
	}

	switch frame[0] {
	case frameStateRequest:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.clock == 0 {
			// nothing to share; the requester falls back to its own timeout
			return Received{}, nil
		}
		return Received{Reply: encode(frameState, s.clock, s.owner, s.text)}, nil

	case frameUpdate, frameState:
		changed, err := s.apply(frame)
		if err != nil {
			return Received{}, err
		}
		return Received{Changed: changed, Synced: frame[0] == frameState}, nil
	}
	return Received{}, ErrBadFrame
}

// ApplyUpdate applies an update or state frame.
func (s *Snapshot) ApplyUpdate(frame []byte) error {
	_, err := s.apply(frame)
	return err
}

func (s *Snapshot) apply(frame []byte) (bool, error) {
	clock, site, text, err := decode(frame)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if clock < s.clock || (clock == s.clock && site <= s.owner) {
		return false, nil
	}
	changed := text != s.text
	s.clock = clock
	s.owner = site
	s.text = text
	return changed, nil
}

func encode(kind byte, clock uint64, site, text string) []byte {
	buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(site)+len(text))
	buf = append(buf, kind)
	buf = binary.AppendUvarint(buf, clock)
	buf = binary.AppendUvarint(buf, uint64(len(site)))
	buf = append(buf, site...)
	buf = append(buf, text...)
	return buf
}

func decode(frame []byte) (uint64, string, string, error) {
	r := bytes.NewReader(frame)
	kind, err := r.ReadByte()
	if err != nil || (kind != frameUpdate && kind != frameState) {
		return 0, "", "", ErrBadFrame
	}
	clock, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, "", "", ErrBadFrame
	}
	n, err := binary.ReadUvarint(r)
	if err != nil || n > uint64(r.Len()) {
		return 0, "", "", ErrBadFrame
	}
	rest := frame[len(frame)-r.Len():]
	return clock, string(rest[:n]), string(rest[n:]), nil
}
