// Package scene accumulates per-frame node updates into immutable frame
// diffs, independent of any render backend.
package scene

import (
	"github.com/google/uuid"

	"github.com/phosphor3d/phosphor/core"
)

// PrimitiveKind enumerates the drawable primitives a node can carry.
type PrimitiveKind uint8

const (
	PrimitiveRect PrimitiveKind = iota
	PrimitiveImage
	PrimitiveText
)

// Primitive is one drawable unit inside a node.
type Primitive struct {
	Kind   PrimitiveKind
	X, Y   float32
	W, H   float32
	Color  [4]float32
	TexRef string
}

// NodeParams are the per-node attributes beyond the primitive list.
type NodeParams struct {
	// Transform is a 2D affine matrix in [a b c d tx ty] order.
	Transform [6]float32
	Opacity   float32
}

// IdentityParams returns the default node attributes.
func IdentityParams() NodeParams {
	return NodeParams{Transform: [6]float32{1, 0, 0, 1, 0, 0}, Opacity: 1}
}

// Node is an entry in the composer's node table. Nodes are owned by the
// composer and mutated only through UpdateNode; Update diffs carry copies.
type Node struct {
	ID         string
	Primitives []Primitive
	Params     NodeParams
}

// UploadTask is a deferred GPU upload staged for the renderer to execute
// during its next frame.
type UploadTask struct {
	ID    uuid.UUID
	Label string
	Run   func() error
}

// Update is the immutable diff produced by one open/close cycle. It is
// consumed by exactly one renderer and then discarded.
type Update struct {
	FrameID        uint64
	Nodes          []Node
	RemovedNodeIDs []string
	Uploads        []UploadTask
}

// FrameOptions configures one frame.
type FrameOptions struct {
	// UploadBudget caps queued uploads for this frame; zero means
	// unlimited. Tasks beyond the budget are dropped with a diagnostic,
	// not deferred: bounded memory wins over completeness here.
	UploadBudget int
}

// Composer maintains the persistent node table and the dirty/removed sets
// for the frame currently open. A frame is open between BeginFrame and
// EndFrame; mutating while closed implicitly opens one.
type Composer struct {
	log core.Logger

	nodes   map[string]*Node
	dirty   map[string]struct{}
	removed map[string]struct{}
	uploads []UploadTask
	dropped int

	open    bool
	opts    FrameOptions
	frameID uint64
}

func NewComposer(log core.Logger) *Composer {
	return &Composer{
		log:     core.EnsureLogger(log),
		nodes:   make(map[string]*Node),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// BeginFrame opens a frame. Opening an already-open frame is a no-op and
// keeps the original options.
func (c *Composer) BeginFrame(opts FrameOptions) {
	if c.open {
		return
	}
	c.open = true
	c.opts = opts
}

func (c *Composer) autoBegin() {
	if !c.open {
		c.BeginFrame(FrameOptions{})
	}
}

// UpdateNode applies primitives and params to a node immediately and marks
// it dirty for the open frame. Passing nil params keeps the node's current
// attributes (identity for a new node).
func (c *Composer) UpdateNode(id string, primitives []Primitive, params *NodeParams) {
	c.autoBegin()

	n, ok := c.nodes[id]
	if !ok {
		n = &Node{ID: id, Params: IdentityParams()}
		c.nodes[id] = n
	}
	n.Primitives = append(n.Primitives[:0], primitives...)
	if params != nil {
		n.Params = *params
	}

	c.dirty[id] = struct{}{}
	delete(c.removed, id)
}

// RemoveNode deletes a node from the table and records the removal. Any
// dirty state from the same frame is cleared: update-then-remove yields a
// frame where the id appears only among the removals.
func (c *Composer) RemoveNode(id string) {
	c.autoBegin()
	delete(c.nodes, id)
	delete(c.dirty, id)
	c.removed[id] = struct{}{}
}

// QueueUpload stages a GPU upload task for the open frame, subject to the
// frame's budget.
func (c *Composer) QueueUpload(task UploadTask) {
	c.autoBegin()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if c.opts.UploadBudget > 0 && len(c.uploads) >= c.opts.UploadBudget {
		c.dropped++
		c.log.Warnf("upload budget (%d) exceeded, dropping task %s (%s)",
			c.opts.UploadBudget, task.ID, task.Label)
		return
	}
	c.uploads = append(c.uploads, task)
}

// EndFrame closes the frame and returns its diff, or nil when nothing
// changed; callers treat nil as "reuse the previous frame".
func (c *Composer) EndFrame() *Update {
	if !c.open {
		return nil
	}
	c.open = false

	if len(c.dirty) == 0 && len(c.removed) == 0 && len(c.uploads) == 0 {
		c.dropped = 0
		return nil
	}

	c.frameID++
	u := &Update{FrameID: c.frameID}

	for id := range c.dirty {
		n := c.nodes[id]
		if n == nil {
			continue
		}
		// Copy out so the diff stays immutable while the table keeps
		// evolving.
		cp := Node{ID: n.ID, Params: n.Params}
		cp.Primitives = append([]Primitive(nil), n.Primitives...)
		u.Nodes = append(u.Nodes, cp)
	}
	for id := range c.removed {
		u.RemovedNodeIDs = append(u.RemovedNodeIDs, id)
	}
	u.Uploads = c.uploads

	c.dirty = make(map[string]struct{})
	c.removed = make(map[string]struct{})
	c.uploads = nil
	c.dropped = 0
	return u
}

// DroppedUploads reports how many tasks the open frame has discarded so
// far.
func (c *Composer) DroppedUploads() int { return c.dropped }

// NodeCount returns the size of the persistent node table.
func (c *Composer) NodeCount() int { return len(c.nodes) }

// Reset clears everything; used on full teardown.
func (c *Composer) Reset() {
	c.nodes = make(map[string]*Node)
	c.dirty = make(map[string]struct{})
	c.removed = make(map[string]struct{})
	c.uploads = nil
	c.dropped = 0
	c.open = false
	c.frameID = 0
}
