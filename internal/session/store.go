package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/roomsync/internal/types"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

// Store keeps session records by id. Records outlive their ExpiresAt for the
// store's retention period so the guard can tell an expired session from a
// missing one.
type Store interface {
	Get(ctx context.Context, id string) (types.Session, error)
	Put(ctx context.Context, sess types.Session) error
	// Update overwrites an existing record. It returns ErrNotFound rather than
	// recreating a record that was deleted.
	Update(ctx context.Context, sess types.Session) error
	// Delete removes the record and reports whether it existed. Of several
	// concurrent deletes of one id, exactly one reports true.
	Delete(ctx context.Context, id string) (bool, error)
}

const DefaultRetention = 24 * time.Hour

type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(retention, 10*time.Minute),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (types.Session, error) {
	if x, found := s.cache.Get(id); found {
		return x.(types.Session), nil
	}
	return types.Session{}, ErrNotFound
}

func (s *MemoryStore) Put(_ context.Context, sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(sess.Id, sess, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Replace(sess.Id, sess, cache.DefaultExpiration); err != nil {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.cache.Get(id)
	s.cache.Delete(id)
	return found, nil
}

const redisKeyPrefix = "roomsync:session:"

// RedisStore shares sessions between server instances.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Get(ctx context.Context, id string) (types.Session, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Session{}, ErrNotFound
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("redis get session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return types.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(sess.Id), data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, sess types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// SET XX only writes a key that still exists
	ok, err := s.client.SetXX(ctx, redisKey(sess.Id), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete session: %w", err)
	}
	return n > 0, nil
}
