package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreSessionLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	rec := Record{ID: "sess-1", UserID: "user-1", Pending: true, CreatedAt: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, store.Save(ctx, rec, time.Hour))
	got, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, got.Pending)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	mr.FastForward(2 * time.Hour)
	_, err = store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreVerifiedMarker(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, Record{ID: "sess-1", UserID: "user-1"}, 24*time.Hour))

	until, err := store.VerifiedUntil(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	// The deadline comes from the caller's clock, not the wall clock.
	deadline := time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkVerified(ctx, "sess-1", deadline, time.Hour))
	until, err = store.VerifiedUntil(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, deadline.Equal(until))
	assert.Equal(t, time.Hour, mr.TTL(reverifyKey("sess-1")))

	require.NoError(t, store.ClearVerified(ctx, "sess-1"))
	until, err = store.VerifiedUntil(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	require.NoError(t, store.MarkVerified(ctx, "sess-1", deadline, time.Hour))
	require.NoError(t, store.Delete(ctx, "sess-1"))
	assert.False(t, mr.Exists(reverifyKey("sess-1")))
	_, err = store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreDeleteClearsMarker(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, Record{ID: "s", UserID: "u"}, time.Hour))
	require.NoError(t, store.MarkVerified(ctx, "s", time.Now().Add(time.Hour), time.Hour))
	require.NoError(t, store.Delete(ctx, "s"))

	until, err := store.VerifiedUntil(ctx, "s")
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}
