// Package session keeps the revocation list for reviewer tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedToken is what is kept for each revoked token id.
type RevokedToken struct {
	Subject   string    `json:"subject"`
	RevokedBy string    `json:"revoked_by"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Revocations records revoked token ids until the token would have expired
// anyway.
type Revocations interface {
	Revoke(ctx context.Context, jti string, token RevokedToken, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisStore shares revocations between every process using the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Revocations = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed revocation list
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "docgate:revoked:",
	}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}

// Revoke stores the token id with a TTL matching the token's remaining
// lifetime. Already-expired tokens need no entry.
func (s *RedisStore) Revoke(ctx context.Context, jti string, token RevokedToken, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if token.RevokedAt.IsZero() {
		token.RevokedAt = time.Now().UTC()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal revocation: %w", err)
	}
	if err := s.client.Set(ctx, s.key(jti), data, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, s.key(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revocation: %w", err)
	}
	return true, nil
}

// Lookup returns the stored revocation record.
func (s *RedisStore) Lookup(ctx context.Context, jti string) (RevokedToken, error) {
	raw, err := s.client.Get(ctx, s.key(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RevokedToken{}, fmt.Errorf("token %s is not revoked", jti)
	}
	if err != nil {
		return RevokedToken{}, fmt.Errorf("lookup revocation: %w", err)
	}
	var token RevokedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return RevokedToken{}, fmt.Errorf("unmarshal revocation: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is the single-process fallback used when Redis is not
// configured. Entries are dropped lazily once their token has expired.
type MemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

var _ Revocations = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{revoked: map[string]time.Time{}, now: time.Now}
}

func (m *MemoryStore) Revoke(_ context.Context, jti string, _ RevokedToken, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("token id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiresAt.After(m.now()) {
		m.revoked[jti] = expiresAt
	}
	return nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}
