package capture

import "image"

// RasterizeOptions controls one rasterization pass.
type RasterizeOptions struct {
	// DPR is the device pixel ratio to rasterize at; the output should be
	// Size() scaled by this factor.
	DPR float64

	// IncludeFlagged includes nodes the source has flagged as
	// capture-opt-out. The driver always leaves this false.
	IncludeFlagged bool
}

// Source is a live surface the driver can snapshot. Implementations own
// their scene; the driver only ever sees finished bitmaps.
//
// Rasterize may be called from the driver's goroutine at any time between
// construction and Destroy; implementations that are not naturally
// goroutine-safe must synchronize internally. An error aborts only the
// current capture, never the driver.
type Source interface {
	// Size returns the current logical size in pixels.
	Size() (width, height int)

	// Rasterize draws the current state into a bitmap.
	Rasterize(opts RasterizeOptions) (image.Image, error)
}
