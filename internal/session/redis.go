// internal/session/redis.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

const (
	sessionKey        = "peerquiz:session"
	snapshotKeyPrefix = "peerquiz:room:"

	// recordTTL keeps stale rooms from accumulating forever. A match never
	// legitimately outlives a day.
	recordTTL = 24 * time.Hour
)

// RedisStore persists session and snapshot blobs in redis so a restarted
// host process can recover its room mid-round.
type RedisStore struct {
	rdb *redis.Client
}

// ConnectRedis dials redis and verifies the connection with a bounded ping.
func ConnectRedis(ctx context.Context, addr string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("session: connect redis at %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) SaveSession(ctx context.Context, s *protocol.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal session: %w", err)
	}
	return r.rdb.Set(ctx, sessionKey, data, recordTTL).Err()
}

func (r *RedisStore) LoadSession(ctx context.Context) (*protocol.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load session: %w", err)
	}
	var s protocol.Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt record is as good as no record.
		return nil, nil
	}
	return &s, nil
}

func (r *RedisStore) ClearSession(ctx context.Context) error {
	return r.rdb.Del(ctx, sessionKey).Err()
}

func (r *RedisStore) SaveSnapshot(ctx context.Context, snap *protocol.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	return r.rdb.Set(ctx, snapshotKeyPrefix+snap.RoomCode, data, recordTTL).Err()
}

func (r *RedisStore) LoadSnapshot(ctx context.Context, roomCode string) (*protocol.RoomSnapshot, error) {
	data, err := r.rdb.Get(ctx, snapshotKeyPrefix+roomCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load snapshot: %w", err)
	}
	var snap protocol.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	return &snap, nil
}

func (r *RedisStore) ClearSnapshot(ctx context.Context, roomCode string) error {
	return r.rdb.Del(ctx, snapshotKeyPrefix+roomCode).Err()
}
