package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if v, ok := m.values[key]; !ok || v != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	first, err := NewRedisLock(store, "vp:housekeeping:lock:test", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "vp:housekeeping:lock:test", 0)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "vp:housekeeping:lock:test", "a non-owner must not release the lease")

	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.values, "vp:housekeeping:lock:test")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockLeavesForeignLease(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	ctx := context.Background()
	lock, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// lease expired and another worker took it
	store.values["k"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values["k"])
}

func TestNewRedisLockRequirements(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	require.Error(t, err)
	_, err = NewRedisLock(&memoryLockStore{}, "", 0)
	require.Error(t, err)
}
