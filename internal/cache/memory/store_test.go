package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetFreshness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }

	s.Set("k", "v")

	v, ok := s.Get("k", 30*time.Second)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// Exactly at the TTL boundary the entry is stale.
	now = now.Add(30 * time.Second)
	_, ok = s.Get("k", 30*time.Second)
	assert.False(t, ok)

	// A longer per-read TTL still sees the same entry.
	v, ok = s.Get("k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestStoreLastIgnoresAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wrote := now
	s := NewStore()
	s.now = func() time.Time { return now }

	s.Set("k", 42)
	now = now.Add(24 * time.Hour)

	_, ok := s.Get("k", time.Minute)
	assert.False(t, ok)

	v, at, ok := s.Last("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, wrote, at)
}

func TestStoreMissingKey(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("nope", time.Minute)
	assert.False(t, ok)

	_, _, ok = s.Last("nope")
	assert.False(t, ok)
}

func TestStoreSetOverwritesTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }

	s.Set("k", "old")
	now = now.Add(time.Hour)
	s.Set("k", "new")

	v, ok := s.Get("k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestStoreInvalidate(t *testing.T) {
	s := NewStore()
	s.Set("k", "v")
	s.Invalidate("k")

	_, _, ok := s.Last("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStoreSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }

	s.Set("old", 1)
	now = now.Add(time.Hour)
	s.Set("fresh", 2)

	removed := s.Sweep(time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, _, ok := s.Last("old")
	assert.False(t, ok)
	_, _, ok = s.Last("fresh")
	assert.True(t, ok)
}
