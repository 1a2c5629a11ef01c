package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usephedm/aurora-pro-ai/core"
)

func TestSetGetRoundTripsThroughMemory(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 1 << 20}, &core.NoOpLogger{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "ns", "key", []byte("value"), 0))
	v, ok := c.Get(context.Background(), "ns", "key")
	require.True(t, ok)
	assert.Equal(t, "value", string(v))
}

func TestMemoryTierEvictsOldestWhenOverLimit(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 10}, &core.NoOpLogger{}, nil)
	defer c.Close()

	c.setMemory("a", []byte("12345"), 0)
	c.setMemory("b", []byte("12345"), 0)
	c.setMemory("c", []byte("12345"), 0) // should evict "a"

	_, okA := c.getMemory("a", time.Now())
	_, okC := c.getMemory("c", time.Now())
	assert.False(t, okA)
	assert.True(t, okC)
}

func TestDiskTierSurvivesMemoryEviction(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 1, DiskDir: t.TempDir()}, &core.NoOpLogger{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "ns", "big", []byte("this value exceeds the memory budget"), 0))

	// memory tier evicted it immediately (budget of 1 byte); disk tier
	// still has it and Get promotes it back into memory.
	v, ok := c.Get(context.Background(), "ns", "big")
	require.True(t, ok)
	assert.Contains(t, string(v), "exceeds")
}

func TestRemoteTierViaMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := New(Config{MemoryLimitBytes: 1, RemoteAddr: mr.Addr()}, &core.NoOpLogger{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "ns", "remote-key", []byte("remote-value"), 0))

	// memory budget of 1 byte means memory alone can't satisfy; remote
	// must answer, and the value should then be promoted to memory.
	v, ok := c.Get(context.Background(), "ns", "remote-key")
	require.True(t, ok)
	assert.Equal(t, "remote-value", string(v))
}

func TestDeleteRemovesFromEveryTier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := New(Config{MemoryLimitBytes: 1 << 20, DiskDir: t.TempDir(), RemoteAddr: mr.Addr()}, &core.NoOpLogger{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "ns", "key", []byte("value"), 0))
	c.Delete(context.Background(), "ns", "key")

	_, ok := c.Get(context.Background(), "ns", "key")
	assert.False(t, ok)
}

func TestExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c := New(Config{MemoryLimitBytes: 1 << 20}, &core.NoOpLogger{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "ns", "key", []byte("value"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(context.Background(), "ns", "key")
	assert.False(t, ok)
}
