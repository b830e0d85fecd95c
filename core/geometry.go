package core

import "math"

// GeometryParams describes the lens for one computation. Values are copied
// by the caller; nothing here is shared or mutated.
type GeometryParams struct {
	Width  float64
	Height float64
	DPR    float64
	K1     float64
	K2     float64
}

const (
	newtonMaxIterations = 8
	newtonDerivGuard    = 1e-6
)

// MapSurfaceToScreen applies the radial lens model to a point in surface
// (undistorted, logical-pixel) space and returns where it lands on the
// rendered screen. The point is normalized to [-1,1] with aspect correction,
// displaced by r' = r(1 + k1·r² + k2·r⁴), denormalized and clamped to the
// surface bounds.
func MapSurfaceToScreen(x, y float64, p GeometryParams) (float64, float64) {
	if p.Width <= 0 || p.Height <= 0 {
		return clamp(x, 0, math.Max(p.Width, 0)), clamp(y, 0, math.Max(p.Height, 0))
	}

	cx := p.Width / 2
	cy := p.Height / 2
	aspect := p.Width / p.Height

	nx := (x - cx) / cx * aspect
	ny := (y - cy) / cy

	r2 := nx*nx + ny*ny
	scale := 1 + p.K1*r2 + p.K2*r2*r2

	nx *= scale
	ny *= scale

	sx := nx/aspect*cx + cx
	sy := ny*cy + cy

	return clamp(sx, 0, p.Width), clamp(sy, 0, p.Height)
}

// MapScreenToSurface inverts MapSurfaceToScreen. The distortion is radially
// symmetric, so the inverse only needs a 1D root-find: Newton-Raphson solves
// r(1 + k1·r² + k2·r⁴) = r_d for the undistorted radius, then both axes are
// scaled by the same ratio. The screen-side rendering and input retargeting
// both route through this routine so a point on the rendered surface and the
// source point it reads from always agree.
func MapScreenToSurface(x, y float64, p GeometryParams) (float64, float64) {
	if p.Width <= 0 || p.Height <= 0 {
		return clamp(x, 0, math.Max(p.Width, 0)), clamp(y, 0, math.Max(p.Height, 0))
	}

	cx := p.Width / 2
	cy := p.Height / 2
	aspect := p.Width / p.Height

	nx := (x - cx) / cx * aspect
	ny := (y - cy) / cy

	rd := math.Sqrt(nx*nx + ny*ny)
	if rd == 0 {
		return cx, cy
	}

	r := invertRadius(rd, p.K1, p.K2)
	ratio := r / rd

	nx *= ratio
	ny *= ratio

	sx := nx/aspect*cx + cx
	sy := ny*cy + cy

	return clamp(sx, 0, p.Width), clamp(sy, 0, p.Height)
}

// invertRadius solves r·(1 + k1·r² + k2·r⁴) = rd by Newton-Raphson,
// starting from the distorted radius itself. Iteration stops when the
// derivative underflows the guard, which would otherwise blow up the step.
func invertRadius(rd, k1, k2 float64) float64 {
	r := rd
	for i := 0; i < newtonMaxIterations; i++ {
		r2 := r * r
		f := r*(1+k1*r2+k2*r2*r2) - rd
		df := 1 + 3*k1*r2 + 5*k2*r2*r2
		if math.Abs(df) < newtonDerivGuard {
			break
		}
		r -= f / df
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
