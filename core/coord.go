package core

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// CoordSnapshot captures one consistent set of mappings between the three
// coordinate spaces the pipeline works in: logical pixels (the space the
// source lays itself out in), normalized UV ([0,1]²), and physical texture
// pixels. All four matrices are pure scale transforms; they are rebuilt
// together whenever any input dimension changes, so a snapshot read by one
// component can never mix old and new dimensions.
type CoordSnapshot struct {
	LogicalWidth  int
	LogicalHeight int
	DPR           float64
	TextureWidth  int
	TextureHeight int

	LogicalToUV      mgl64.Mat3
	UVToLogical      mgl64.Mat3
	LogicalToTexture mgl64.Mat3
	TextureToLogical mgl64.Mat3
}

// CoordSpace owns the current snapshot. Update replaces it atomically;
// readers always see a fully consistent set of matrices.
type CoordSpace struct {
	mu   sync.Mutex
	snap CoordSnapshot
}

func NewCoordSpace() *CoordSpace {
	cs := &CoordSpace{}
	cs.Update(1, 1, 1, 0, 0)
	return cs
}

// Update recomputes the snapshot from new dimensions and returns it.
// Widths and heights are floored and clamped to at least 1. A non-positive
// dpr keeps the previous value. Zero texture dimensions derive from the
// logical size scaled by dpr.
func (cs *CoordSpace) Update(logicalW, logicalH float64, dpr float64, texW, texH int) CoordSnapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	lw := int(math.Floor(logicalW))
	lh := int(math.Floor(logicalH))
	if lw < 1 {
		lw = 1
	}
	if lh < 1 {
		lh = 1
	}
	if dpr <= 0 {
		dpr = cs.snap.DPR
		if dpr <= 0 {
			dpr = 1
		}
	}
	if texW < 1 {
		texW = int(math.Round(float64(lw) * dpr))
		if texW < 1 {
			texW = 1
		}
	}
	if texH < 1 {
		texH = int(math.Round(float64(lh) * dpr))
		if texH < 1 {
			texH = 1
		}
	}

	snap := CoordSnapshot{
		LogicalWidth:  lw,
		LogicalHeight: lh,
		DPR:           dpr,
		TextureWidth:  texW,
		TextureHeight: texH,

		LogicalToUV:      scaleMat(1/float64(lw), 1/float64(lh)),
		UVToLogical:      scaleMat(float64(lw), float64(lh)),
		LogicalToTexture: scaleMat(float64(texW)/float64(lw), float64(texH)/float64(lh)),
		TextureToLogical: scaleMat(float64(lw)/float64(texW), float64(lh)/float64(texH)),
	}
	cs.snap = snap
	return snap
}

// Snapshot returns the current snapshot.
func (cs *CoordSpace) Snapshot() CoordSnapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.snap
}

func scaleMat(sx, sy float64) mgl64.Mat3 {
	return mgl64.Mat3{
		sx, 0, 0,
		0, sy, 0,
		0, 0, 1,
	}
}

// apply performs a homogeneous multiply with perspective divide. A zero w
// is treated as 1 so degenerate matrices cannot produce NaNs.
func apply(m mgl64.Mat3, x, y float64) (float64, float64) {
	v := m.Mul3x1(mgl64.Vec3{x, y, 1})
	w := v.Z()
	if w == 0 {
		w = 1
	}
	return v.X() / w, v.Y() / w
}

func (s CoordSnapshot) ApplyLogicalToUV(x, y float64) (float64, float64) {
	return apply(s.LogicalToUV, x, y)
}

func (s CoordSnapshot) ApplyUVToLogical(x, y float64) (float64, float64) {
	return apply(s.UVToLogical, x, y)
}

func (s CoordSnapshot) ApplyLogicalToTexture(x, y float64) (float64, float64) {
	return apply(s.LogicalToTexture, x, y)
}

func (s CoordSnapshot) ApplyTextureToLogical(x, y float64) (float64, float64) {
	return apply(s.TextureToLogical, x, y)
}
