package collection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)
	ctx := context.Background()

	req := Request{
		ReferenceID: "ref-1",
		Amount:      decimal.RequireFromString("1250.50"),
		Currency:    "XAF",
		PayerID:     "242061234567",
		Status:      StatusPending,
		Attempts:    2,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, req))

	got, err := store.Load(ctx, "ref-1")
	require.NoError(t, err)
	assert.True(t, req.Amount.Equal(got.Amount))
	assert.Equal(t, req.Attempts, got.Attempts)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, mr.TTL(redisKeyPrefix+"ref-1") > 0)

	_, err = store.Load(ctx, "ref-2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "ref-1")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	require.NoError(t, store.Save(ctx, Request{ReferenceID: "ref-1", Status: StatusSuccessful}))
	got, err := store.Load(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, got.Status)
}
