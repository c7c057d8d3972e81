// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MxHabob/safar-auth/pkg/identity"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key type segments within the store's key space.
const (
	keyTypeSession  = "sess"
	keyTypeUserSet  = "user:sessions"
	defaultScanSize = 100
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces the store's keys, e.g. "safar:auth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a shared Redis backend so that sessions
// survive process restarts and are visible to every frontend replica.
// Expiry is enforced twice: Redis TTLs reclaim memory, and the stored
// expires_at field guards against clock drift between writer and reader.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedSession is the serializable wrapper for a Session.
type storedSession struct {
	Token     string         `json:"token"`
	UserID    string         `json:"user_id"`
	User      *identity.User `json:"user"`
	ExpiresAt int64          `json:"expires_at"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

func (st *storedSession) toSession() *Session {
	return &Session{
		Token:     st.Token,
		UserID:    st.UserID,
		User:      st.User.Clone(),
		ExpiresAt: time.Unix(st.ExpiresAt, 0),
		CreatedAt: time.Unix(st.CreatedAt, 0),
		UpdatedAt: time.Unix(st.UpdatedAt, 0),
	}
}

// NewRedisStore creates a Redis-backed session store and verifies
// connectivity before returning.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return nil, errors.New("key prefix is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) sessionKey(token string) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, keyTypeSession, token)
}

func (s *RedisStore) userSetKey(userID string) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, keyTypeUserSet, userID)
}

// Create inserts a new session keyed by token and indexes it in the user's
// session set. SetNX makes the collision check atomic across replicas.
func (s *RedisStore) Create(
	ctx context.Context, token, userID string, user *identity.User, ttl time.Duration,
) (*Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	stored := storedSession{
		Token:     token,
		UserID:    userID,
		User:      user.Clone(),
		ExpiresAt: now.Add(ttl).Unix(),
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	key := s.sessionKey(token)
	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return nil, ErrTokenCollision
	}

	// Index the token under its user for bulk revocation. If indexing
	// fails, delete the session so no token exists outside the index.
	setKey := s.userSetKey(userID)
	if err := s.client.SAdd(ctx, setKey, token).Err(); err != nil {
		_ = s.client.Del(ctx, key).Err()
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	// Keep the set alive at least as long as its newest session. Stale
	// members are cleaned up lazily during ListForUser reads.
	if setTTL, err := s.client.TTL(ctx, setKey).Result(); err == nil && setTTL < ttl {
		_ = s.client.Expire(ctx, setKey, ttl).Err()
	}

	return stored.toSession(), nil
}

// Get returns a live session and touches its UpdatedAt. The write-back
// preserves the key's remaining TTL.
func (s *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	key := s.sessionKey(token)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	now := time.Now()
	sess := stored.toSession()
	if sess.Expired(now) {
		s.evict(ctx, token, stored.UserID)
		return nil, ErrNotFound
	}

	// Touch is best effort; a failed write-back must not hide a valid read.
	stored.UpdatedAt = now.Unix()
	if touched, err := json.Marshal(stored); err == nil {
		_ = s.client.Set(ctx, key, touched, redis.KeepTTL).Err()
	}

	sess.UpdatedAt = now
	return sess, nil
}

// Update merges the given fields into an existing live session. A new
// expiry also resets the key's Redis TTL.
func (s *RedisStore) Update(ctx context.Context, token string, update Update) (*Session, error) {
	key := s.sessionKey(token)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	now := time.Now()
	if !now.Before(time.Unix(stored.ExpiresAt, 0)) {
		s.evict(ctx, token, stored.UserID)
		return nil, ErrNotFound
	}

	if update.User != nil {
		stored.User = update.User.Clone()
	}
	ttl := time.Duration(redis.KeepTTL)
	if update.ExpiresAt != nil {
		stored.ExpiresAt = update.ExpiresAt.Unix()
		ttl = time.Until(*update.ExpiresAt)
		if ttl <= 0 {
			s.evict(ctx, token, stored.UserID)
			return nil, ErrNotFound
		}
	}
	stored.UpdatedAt = now.Unix()

	updated, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, key, updated, ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return stored.toSession(), nil
}

// Delete removes a session and its user-index membership.
func (s *RedisStore) Delete(ctx context.Context, token string) (bool, error) {
	key := s.sessionKey(token)

	// Read first to learn the owning user for index cleanup.
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	// Index cleanup is best effort.
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err == nil && stored.UserID != "" {
		_ = s.client.SRem(ctx, s.userSetKey(stored.UserID), token).Err()
	}

	return true, nil
}

// DeleteAllForUser removes every session of a user via the index set and
// returns the number of sessions that actually existed.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	setKey := s.userSetKey(userID)

	tokens, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, s.sessionKey(token))
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	_ = s.client.Del(ctx, setKey).Err()

	return int(removed), nil
}

// ListForUser returns the user's live sessions. Stale index members, left
// behind when Redis expired a session key, are removed on the way through.
func (s *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	setKey := s.userSetKey(userID)

	tokens, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	now := time.Now()
	var out []*Session
	for _, token := range tokens {
		data, err := s.client.Get(ctx, s.sessionKey(token)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				_ = s.client.SRem(ctx, setKey, token).Err()
				continue
			}
			return nil, fmt.Errorf("failed to get session: %w", err)
		}

		var stored storedSession
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}

		sess := stored.toSession()
		if sess.Expired(now) {
			continue
		}
		out = append(out, sess)
	}

	return out, nil
}

// Count returns the number of session keys currently held, scanning the
// store's key space in pages.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	pattern := fmt.Sprintf("%s%s:*", s.keyPrefix, keyTypeSession)

	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, defaultScanSize).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// evict removes a dead session and its index membership, best effort.
func (s *RedisStore) evict(ctx context.Context, token, userID string) {
	_ = s.client.Del(ctx, s.sessionKey(token)).Err()
	if userID != "" {
		_ = s.client.SRem(ctx, s.userSetKey(userID), token).Err()
	}
}

// Compile-time interface compliance check.
var _ Store = (*RedisStore)(nil)
