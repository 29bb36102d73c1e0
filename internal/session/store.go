// internal/session/store.go
package session

import (
	"context"
	"sync"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// Store is the key-value persistence surface behind reconnection and host
// recovery. Two independent records live here: the local participant's
// session binding, and the host's periodic room snapshot keyed by room code.
// Absent records load as (nil, nil); absence is not an error.
type Store interface {
	SaveSession(ctx context.Context, s *protocol.Session) error
	LoadSession(ctx context.Context) (*protocol.Session, error)
	ClearSession(ctx context.Context) error

	SaveSnapshot(ctx context.Context, snap *protocol.RoomSnapshot) error
	LoadSnapshot(ctx context.Context, roomCode string) (*protocol.RoomSnapshot, error)
	ClearSnapshot(ctx context.Context, roomCode string) error
}

// MemoryStore keeps records in process memory. It backs tests and peers
// running without redis; it survives room teardown but not process restarts,
// so host crash recovery needs the redis store.
type MemoryStore struct {
	mu        sync.Mutex
	session   *protocol.Session
	snapshots map[string]*protocol.RoomSnapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*protocol.RoomSnapshot)}
}

func (m *MemoryStore) SaveSession(_ context.Context, s *protocol.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context) (*protocol.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemoryStore) ClearSession(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap *protocol.RoomSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snap.RoomCode] = &cp
	return nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, roomCode string) (*protocol.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[roomCode]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (m *MemoryStore) ClearSnapshot(_ context.Context, roomCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, roomCode)
	return nil
}
