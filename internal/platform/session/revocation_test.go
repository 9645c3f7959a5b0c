package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationStore(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, 1, s.Count())
}

func TestMemoryRevocationStore_Cleanup(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "old", time.Now().Add(-time.Minute)))
	require.NoError(t, s.Revoke(ctx, "fresh", time.Now().Add(time.Hour)))

	s.cleanup(time.Now())

	assert.Equal(t, 1, s.Count())
	revoked, _ := s.IsRevoked(ctx, "fresh")
	assert.True(t, revoked)
}

func TestMemoryRevocationStore_CloseTwice(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour)
	s.Close()
	s.Close()
}

func TestRedisRevocationStore(t *testing.T) {
	client, mr := setupRedis(t)
	s := NewRedisRevocationStore(client)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "jti-2", time.Now().Add(10*time.Minute)))

	revoked, err := s.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.TTL("revoked:jti-2") > 0)

	revoked, err = s.IsRevoked(ctx, "other")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevocationStore_ExpiresWithToken(t *testing.T) {
	client, mr := setupRedis(t)
	s := NewRedisRevocationStore(client)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "jti-3", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	revoked, err := s.IsRevoked(ctx, "jti-3")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevocationStore_AlreadyExpired(t *testing.T) {
	client, mr := setupRedis(t)
	s := NewRedisRevocationStore(client)

	require.NoError(t, s.Revoke(context.Background(), "gone", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("revoked:gone"))
}
