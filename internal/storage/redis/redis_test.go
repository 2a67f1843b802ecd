package redisstorage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenelink/scenelink/internal/config"
)

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	mr := setupMiniredis(t)

	b := New(config.RedisConfig{Addr: mr.Addr()}, "ar_experience_data")
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	_, found, err := b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Save(ctx, []byte(`[]`)))
	require.NoError(t, b.Save(ctx, []byte(`[{"id":"a"}]`)))

	data, found, err := b.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"id":"a"}]`, string(data))

	raw, err := mr.Get("ar_experience_data")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, raw)

	v, err := b.SavedVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestNewWithClient(t *testing.T) {
	mr := setupMiniredis(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	b := NewWithClient(client, "k")
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	v, err := b.SavedVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestInit_Unreachable(t *testing.T) {
	mr := setupMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	b := New(config.RedisConfig{Addr: addr}, "k")
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestNotConnected(t *testing.T) {
	b := New(config.RedisConfig{}, "k")
	_, _, err := b.Load(context.Background())
	assert.ErrorIs(t, err, errNotConnected)
	assert.ErrorIs(t, b.Save(context.Background(), nil), errNotConnected)
}

func TestServerError(t *testing.T) {
	mr := setupMiniredis(t)
	b := New(config.RedisConfig{Addr: mr.Addr()}, "k")
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	mr.SetError("READONLY")
	assert.Error(t, b.Save(context.Background(), []byte("[]")))
	mr.SetError("")
}
