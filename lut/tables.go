// Package lut builds and owns the lens-distortion lookup tables.
//
// Table generation evaluates the inverse mapping for every cell, which is
// far too slow for the frame loop, so a Controller hands the work to a
// background worker goroutine and correlates replies by request id. Inputs
// and outputs cross the worker boundary by ownership handoff; the worker
// never touches a table again after sending it.
package lut

import (
	"errors"
	"fmt"

	"github.com/phosphor3d/phosphor/core"
)

// TableSize is the sampling resolution of both tables. 64 cells per axis
// keeps a table at 32 KiB of float32 data while the bilinear read stays well
// under a pixel of interpolation error at display sizes.
const TableSize = 64

var (
	ErrDisposed  = errors.New("lut: controller disposed")
	ErrBacklog   = errors.New("lut: request backlog full")
	errMalformed = errors.New("lut: malformed table payload")
)

// Tables holds the forward and inverse displacement grids. Offsets are
// stored normalized to the logical surface size, so a consumer multiplies
// by its own width/height: screen_uv = uv + forward[cell], and
// surface_uv = uv + inverse[cell]. Each grid is a dense row-major array of
// (dx, dy) pairs.
type Tables struct {
	Forward []float32
	Inverse []float32
	Width   int
	Height  int
}

func (t *Tables) valid() bool {
	if t == nil || t.Width <= 0 || t.Height <= 0 {
		return false
	}
	n := t.Width * t.Height * 2
	return len(t.Forward) == n && len(t.Inverse) == n
}

// SampleInverse bilinearly interpolates the inverse grid at a normalized
// UV position and returns the normalized (dx, dy) displacement.
func (t *Tables) SampleInverse(u, v float64) (float64, float64) {
	return t.sample(t.Inverse, u, v)
}

// SampleForward bilinearly interpolates the forward grid.
func (t *Tables) SampleForward(u, v float64) (float64, float64) {
	return t.sample(t.Forward, u, v)
}

func (t *Tables) sample(grid []float32, u, v float64) (float64, float64) {
	if !t.valid() {
		return 0, 0
	}

	fx := u*float64(t.Width) - 0.5
	fy := v*float64(t.Height) - 0.5

	x0 := int(fx)
	y0 := int(fy)
	if fx < 0 {
		x0 = 0
		fx = 0
	}
	if fy < 0 {
		y0 = 0
		fy = 0
	}
	if x0 > t.Width-2 {
		x0 = t.Width - 2
	}
	if y0 > t.Height-2 {
		y0 = t.Height - 2
	}

	tx := fx - float64(x0)
	ty := fy - float64(y0)
	if tx < 0 {
		tx = 0
	} else if tx > 1 {
		tx = 1
	}
	if ty < 0 {
		ty = 0
	} else if ty > 1 {
		ty = 1
	}

	at := func(x, y int) (float64, float64) {
		i := 2 * (y*t.Width + x)
		return float64(grid[i]), float64(grid[i+1])
	}

	x00, y00 := at(x0, y0)
	x10, y10 := at(x0+1, y0)
	x01, y01 := at(x0, y0+1)
	x11, y11 := at(x0+1, y0+1)

	top := lerp2(x00, y00, x10, y10, tx)
	bot := lerp2(x01, y01, x11, y11, tx)
	return top[0] + (bot[0]-top[0])*ty, top[1] + (bot[1]-top[1])*ty
}

func lerp2(ax, ay, bx, by, t float64) [2]float64 {
	return [2]float64{ax + (bx-ax)*t, ay + (by-ay)*t}
}

// Compute fills both tables for one geometry. Every cell center runs the
// closed-form forward mapping and the Newton inverse from core, so the
// table is bit-compatible with direct evaluation.
func Compute(p core.GeometryParams) *Tables {
	w, h := TableSize, TableSize
	t := &Tables{
		Forward: make([]float32, w*h*2),
		Inverse: make([]float32, w*h*2),
		Width:   w,
		Height:  h,
	}

	lw, lh := p.Width, p.Height
	if lw <= 0 || lh <= 0 {
		return t
	}

	for j := 0; j < h; j++ {
		v := (float64(j) + 0.5) / float64(h)
		y := v * lh
		for i := 0; i < w; i++ {
			u := (float64(i) + 0.5) / float64(w)
			x := u * lw

			idx := 2 * (j*w + i)

			sx, sy := core.MapSurfaceToScreen(x, y, p)
			t.Forward[idx] = float32((sx - x) / lw)
			t.Forward[idx+1] = float32((sy - y) / lh)

			dx, dy := core.MapScreenToSurface(x, y, p)
			t.Inverse[idx] = float32((dx - x) / lw)
			t.Inverse[idx+1] = float32((dy - y) / lh)
		}
	}
	return t
}

func validateTables(t *Tables) error {
	if !t.valid() {
		if t == nil {
			return fmt.Errorf("%w: nil tables", errMalformed)
		}
		return fmt.Errorf("%w: %dx%d with %d/%d entries", errMalformed,
			t.Width, t.Height, len(t.Forward), len(t.Inverse))
	}
	return nil
}
