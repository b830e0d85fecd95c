package scene

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rect(x, y, w, h float32) Primitive {
	return Primitive{Kind: PrimitiveRect, X: x, Y: y, W: w, H: h}
}

func TestEndFrameWithoutChangesReturnsNil(t *testing.T) {
	c := NewComposer(nil)

	c.BeginFrame(FrameOptions{})
	assert.Nil(t, c.EndFrame())

	// A frame with content, then an untouched one.
	c.UpdateNode("a", []Primitive{rect(0, 0, 10, 10)}, nil)
	require.NotNil(t, c.EndFrame())

	c.BeginFrame(FrameOptions{})
	assert.Nil(t, c.EndFrame())
}

func TestAutoBeginOnMutation(t *testing.T) {
	c := NewComposer(nil)
	c.UpdateNode("a", nil, nil)
	u := c.EndFrame()
	require.NotNil(t, u)
	require.Len(t, u.Nodes, 1)
	assert.Equal(t, "a", u.Nodes[0].ID)
}

func TestUpdateThenRemoveSameFrame(t *testing.T) {
	c := NewComposer(nil)
	c.BeginFrame(FrameOptions{})
	c.UpdateNode("a", []Primitive{rect(0, 0, 1, 1)}, nil)
	c.RemoveNode("a")
	u := c.EndFrame()

	require.NotNil(t, u)
	assert.Empty(t, u.Nodes)
	assert.Equal(t, []string{"a"}, u.RemovedNodeIDs)
	assert.Zero(t, c.NodeCount())
}

func TestFrameIDsIncrease(t *testing.T) {
	c := NewComposer(nil)
	c.UpdateNode("a", nil, nil)
	u1 := c.EndFrame()
	c.UpdateNode("b", nil, nil)
	u2 := c.EndFrame()
	require.NotNil(t, u1)
	require.NotNil(t, u2)
	assert.Greater(t, u2.FrameID, u1.FrameID)
}

func TestDiffIsIsolatedFromTable(t *testing.T) {
	c := NewComposer(nil)
	c.UpdateNode("a", []Primitive{rect(0, 0, 5, 5)}, nil)
	u := c.EndFrame()
	require.NotNil(t, u)

	// Mutate the node in a later frame; the emitted diff must not change.
	c.UpdateNode("a", []Primitive{rect(9, 9, 9, 9)}, nil)
	assert.Equal(t, float32(0), u.Nodes[0].Primitives[0].X)
}

func TestNodeParamsDefaultAndOverride(t *testing.T) {
	c := NewComposer(nil)
	c.UpdateNode("a", nil, nil)
	u := c.EndFrame()
	require.NotNil(t, u)
	assert.Equal(t, IdentityParams(), u.Nodes[0].Params)

	p := NodeParams{Transform: [6]float32{2, 0, 0, 2, 5, 5}, Opacity: 0.5}
	c.UpdateNode("a", nil, &p)
	u = c.EndFrame()
	require.NotNil(t, u)
	assert.Equal(t, p, u.Nodes[0].Params)

	// nil params on a later update keeps the stored attributes.
	c.UpdateNode("a", []Primitive{rect(0, 0, 1, 1)}, nil)
	u = c.EndFrame()
	require.NotNil(t, u)
	assert.Equal(t, p, u.Nodes[0].Params)
}

func TestUploadBudget(t *testing.T) {
	c := NewComposer(nil)
	c.BeginFrame(FrameOptions{UploadBudget: 2})

	ran := 0
	task := func() UploadTask {
		return UploadTask{ID: uuid.New(), Label: "texture", Run: func() error { ran++; return nil }}
	}
	c.QueueUpload(task())
	c.QueueUpload(task())
	c.QueueUpload(task()) // over budget, dropped
	assert.Equal(t, 1, c.DroppedUploads())

	u := c.EndFrame()
	require.NotNil(t, u)
	require.Len(t, u.Uploads, 2)

	for _, up := range u.Uploads {
		require.NoError(t, up.Run())
	}
	assert.Equal(t, 2, ran)

	// Budget resets with the next frame.
	c.BeginFrame(FrameOptions{UploadBudget: 2})
	c.QueueUpload(task())
	assert.Equal(t, 0, c.DroppedUploads())
	require.NotNil(t, c.EndFrame())
}

func TestRemovalOfUnknownNodeStillRecorded(t *testing.T) {
	c := NewComposer(nil)
	c.RemoveNode("ghost")
	u := c.EndFrame()
	require.NotNil(t, u)
	assert.Equal(t, []string{"ghost"}, u.RemovedNodeIDs)
}

func TestReset(t *testing.T) {
	c := NewComposer(nil)
	c.UpdateNode("a", nil, nil)
	c.Reset()
	assert.Nil(t, c.EndFrame())
	assert.Zero(t, c.NodeCount())
}
