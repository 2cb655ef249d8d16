package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	if _, err := NewRedisStore("redis://127.0.0.1:1"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestRevokeAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("IsRevoked() before revoke = %v, %v", revoked, err)
	}

	err = store.Revoke(ctx, "jti-1", RevokedToken{Subject: "reviewer:avery", RevokedBy: "admin"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsRevoked() after revoke = %v, %v", revoked, err)
	}

	record, err := store.Lookup(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if record.Subject != "reviewer:avery" || record.RevokedBy != "admin" || record.RevokedAt.IsZero() {
		t.Errorf("unexpected record: %+v", record)
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-2", RevokedToken{}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	// Fast-forward time in miniredis
	s.FastForward(2 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "jti-2")
	if err != nil || revoked {
		t.Fatalf("IsRevoked() after expiry = %v, %v", revoked, err)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.Revoke(context.Background(), "jti-3", RevokedToken{}, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if s.Exists(store.key("jti-3")) {
		t.Error("expired token should not be stored")
	}
}

func TestRevokeRequiresID(t *testing.T) {
	store, _ := setupTestRedis(t)
	for _, r := range []Revocations{store, NewMemoryStore()} {
		if err := r.Revoke(context.Background(), "", RevokedToken{}, time.Now().Add(time.Hour)); err == nil {
			t.Errorf("%T: expected error for empty id", r)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Revoke(ctx, "jti-1", RevokedToken{}, now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked, _ := m.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("expected revoked")
	}
	if revoked, _ := m.IsRevoked(ctx, "jti-other"); revoked {
		t.Fatal("unrelated token reported revoked")
	}

	now = now.Add(2 * time.Hour)
	if revoked, _ := m.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatal("revocation outlived the token")
	}
	if len(m.revoked) != 0 {
		t.Fatal("expired entry was not dropped")
	}
}
