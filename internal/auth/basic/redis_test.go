package basic

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreFromClient(client, "test:cred:")
}

func TestRedisStore_AddOrUpdateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "alice", RoleProducer)))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Key)
	assert.Equal(t, RoleProducer, got.Role)
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())

	// Update keeps the creation time.
	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "alice", RoleAdmin)))

	got2, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, got2.Role)
	assert.Equal(t, got.CreatedAt.Unix(), got2.CreatedAt.Unix())
}

func TestRedisStore_GetNotFound(t *testing.T) {
	t.Parallel()

	_, err := newTestRedisStore(t).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestRedisStore_Verify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestRedisStore(t)
	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "alice", RoleConsumer)))

	cred, err := store.Verify(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, RoleConsumer, cred.Role)

	_, err = store.Verify(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Verify(ctx, "ghost", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRedisStore_Revoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestRedisStore(t)
	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "alice", RoleAdmin)))

	require.NoError(t, store.Revoke(ctx, "alice"))

	_, err := store.Verify(ctx, "alice", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	assert.ErrorIs(t, store.Revoke(ctx, "ghost"), ErrCredentialNotFound)
}

func TestRedisStore_ListAndCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "alice", RoleProducer)))
	require.NoError(t, store.AddOrUpdate(ctx, testCredential(t, "bob", RoleReadOnly)))

	creds, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStoreFromClient(client, "test:cred:")
	mr.Close()

	_, err := store.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
