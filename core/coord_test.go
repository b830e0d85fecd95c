package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordSpaceUpdateClampsInputs(t *testing.T) {
	cs := NewCoordSpace()

	snap := cs.Update(0, -5, 2, 0, 0)
	assert.Equal(t, 1, snap.LogicalWidth)
	assert.Equal(t, 1, snap.LogicalHeight)
	assert.Equal(t, 2.0, snap.DPR)
	assert.Equal(t, 2, snap.TextureWidth)
	assert.Equal(t, 2, snap.TextureHeight)

	// Non-positive dpr keeps the previous value.
	snap = cs.Update(100, 50, 0, 0, 0)
	assert.Equal(t, 2.0, snap.DPR)
	assert.Equal(t, 200, snap.TextureWidth)
	assert.Equal(t, 100, snap.TextureHeight)
}

func TestCoordSpaceFloorsFractionalSizes(t *testing.T) {
	cs := NewCoordSpace()
	snap := cs.Update(100.9, 50.2, 1, 0, 0)
	assert.Equal(t, 100, snap.LogicalWidth)
	assert.Equal(t, 50, snap.LogicalHeight)
}

func TestLogicalUVRoundTrip(t *testing.T) {
	cs := NewCoordSpace()
	snap := cs.Update(800, 600, 1.5, 0, 0)

	u, v := snap.ApplyLogicalToUV(400, 300)
	assert.InDelta(t, 0.5, u, 1e-12)
	assert.InDelta(t, 0.5, v, 1e-12)

	x, y := snap.ApplyUVToLogical(u, v)
	assert.InDelta(t, 400, x, 1e-9)
	assert.InDelta(t, 300, y, 1e-9)
}

func TestLogicalTextureRoundTrip(t *testing.T) {
	cs := NewCoordSpace()
	snap := cs.Update(801, 601, 2, 0, 0)

	for _, pt := range [][2]float64{{0, 0}, {801, 601}, {13.5, 599.25}, {400.5, 300.5}} {
		tx, ty := snap.ApplyLogicalToTexture(pt[0], pt[1])
		x, y := snap.ApplyTextureToLogical(tx, ty)
		assert.InDelta(t, pt[0], x, 1e-9)
		assert.InDelta(t, pt[1], y, 1e-9)
	}
}

func TestSnapshotIsConsistentAfterUpdate(t *testing.T) {
	cs := NewCoordSpace()
	cs.Update(100, 100, 1, 0, 0)
	old := cs.Snapshot()

	cs.Update(200, 100, 3, 0, 0)
	snap := cs.Snapshot()

	require.Equal(t, 200, snap.LogicalWidth)
	require.Equal(t, 600, snap.TextureWidth)
	require.Equal(t, 300, snap.TextureHeight)

	// The previously-read snapshot is a value copy; the update cannot have
	// partially rewritten it.
	assert.Equal(t, 100, old.LogicalWidth)
	assert.Equal(t, 100, old.TextureWidth)
}
