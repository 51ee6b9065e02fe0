package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_SetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	set, err := m.SetNX(ctx, "webhook:apple:n1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = m.SetNX(ctx, "webhook:apple:n1", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, m.Del(ctx, "webhook:apple:n1"))
	set, err = m.SetNX(ctx, "webhook:apple:n1", "1", 0)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestNewRedis_RejectsBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url", "")
	require.Error(t, err)

	r, err := NewRedis("redis://localhost:6379/0", "entitler:")
	require.NoError(t, err)
	require.NoError(t, r.Close())
}
