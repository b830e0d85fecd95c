package lut

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphor3d/phosphor/core"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir, nil)
	require.NoError(t, err)

	p := core.GeometryParams{Width: 800, Height: 600, DPR: 2, K1: 0.08, K2: 0.02}
	tables := Compute(p)
	cache.Store(p, tables)

	got, ok := cache.Load(p)
	require.True(t, ok)
	assert.Equal(t, tables.Width, got.Width)
	assert.Equal(t, tables.Height, got.Height)

	// Half-precision storage: values survive within one binary16 ULP.
	for i := range tables.Inverse {
		assert.InDelta(t, tables.Inverse[i], got.Inverse[i], 1e-3, "inverse[%d]", i)
	}
}

func TestCacheMissForDifferentParams(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir(), nil)
	require.NoError(t, err)

	p := core.GeometryParams{Width: 800, Height: 600, K1: 0.08}
	cache.Store(p, Compute(p))

	other := p
	other.K1 = 0.09
	_, ok := cache.Load(other)
	assert.False(t, ok)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir, nil)
	require.NoError(t, err)

	p := core.GeometryParams{Width: 100, Height: 100, K1: 0.1}
	cache.Store(p, Compute(p))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("garbage"), 0o644))

	_, ok := cache.Load(p)
	assert.False(t, ok)
}

func TestControllerUsesCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir, nil)
	require.NoError(t, err)

	c := NewController(nil, cache)
	defer c.Dispose()

	p := core.GeometryParams{Width: 640, Height: 480, K1: 0.12, K2: 0.01}
	r := awaitResult(t, c.Request(p))
	require.NoError(t, r.Err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Second request is served from disk and matches.
	r2 := awaitResult(t, c.Request(p))
	require.NoError(t, r2.Err)
	assert.Equal(t, r.Tables.Width, r2.Tables.Width)
}
