// Package gpu provides the render-backend abstraction and its three
// implementations: WebGPU, OpenGL 3.3 and a CPU software fallback.
//
// Backends register themselves via init() and are selected once through a
// probe chain; a session never switches backends except by tearing the
// pipeline down and re-initializing.
package gpu

import (
	"errors"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/lut"
	"github.com/phosphor3d/phosphor/perf"
)

var (
	// ErrBackendNotAvailable is returned when a requested backend cannot
	// run in this environment.
	ErrBackendNotAvailable = errors.New("gpu: backend not available")

	// ErrNotInitialized is returned when operations are called before
	// Init.
	ErrNotInitialized = errors.New("gpu: not initialized")
)

// WindowAPI tells the host what kind of client API the backend's window
// must be created with.
type WindowAPI int

const (
	// WindowAPINone requests a window without a client graphics context
	// (WebGPU manages its own surface).
	WindowAPINone WindowAPI = iota

	// WindowAPIOpenGL requests a core-profile OpenGL 3.3 context.
	WindowAPIOpenGL
)

// Surface is the presentation target handed to Init. Window may be nil for
// the software backend.
type Surface struct {
	Window *glfw.Window
}

// Backend is the common renderer contract. Implementations own their GPU
// resources exclusively; everything crossing the boundary is a plain value
// (bitmaps, flat float arrays, immutable table snapshots).
type Backend interface {
	// Name returns the backend identifier ("webgpu", "gl", "software").
	Name() string

	// WindowAPI reports the window kind Init expects.
	WindowAPI() WindowAPI

	// Probe cheaply checks availability without claiming a surface.
	Probe() error

	// Init claims the surface and builds all pipeline state. A failed
	// Init leaves the backend destroyable but unusable.
	Init(surface Surface) error

	// Resize updates the presentation size. Idempotent when the target
	// dimensions are unchanged.
	Resize(pixelW, pixelH, logicalW, logicalH int)

	// UpdateTexture uploads a captured frame. The backend closes the
	// frame exactly once after upload, success or not.
	UpdateTexture(frame *capture.Frame) error

	// UpdateGeometry installs new distortion parameters and, when
	// non-nil, the matching lookup tables.
	UpdateGeometry(params core.GeometryParams, tables *lut.Tables) error

	// Render writes the uniform block and issues one full-screen draw.
	Render(u *core.UniformState) (perf.FrameTimings, error)

	// Destroy releases all owned resources. Safe to call multiple times.
	Destroy()
}
