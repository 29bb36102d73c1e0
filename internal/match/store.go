// internal/match/store.go
package match

import "sync"

// RoomStore tracks the live rooms of one process, keyed by room code. A peer
// normally participates in a single room, but teardown paths iterate the
// store so nothing leaks when that assumption changes.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRoomStore returns an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*Room)}
}

// Add registers a room under its code.
func (s *RoomStore) Add(code string, r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[code] = r
}

// Get returns the room for a code, or nil.
func (s *RoomStore) Get(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[code]
}

// Remove drops a room from the store.
func (s *RoomStore) Remove(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

// All returns a snapshot of the live rooms.
func (s *RoomStore) All() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}
