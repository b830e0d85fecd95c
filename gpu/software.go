package gpu

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/lut"
	"github.com/phosphor3d/phosphor/perf"
)

func init() {
	Register(BackendSoftware, func(log core.Logger) Backend { return newSoftwareBackend(log) })
}

// softwareBackend is the CPU fallback. It applies a degraded subset of the
// effect stack (lens warp through the inverse table, scanline darkening and
// vignette) to the captured frame and keeps the result readable through
// Output. It owns no GPU resources and never fails Probe, so backend
// selection always terminates.
type softwareBackend struct {
	log core.Logger

	mu       sync.Mutex
	scene    *image.RGBA
	out      *image.RGBA
	base     *image.RGBA // pre-warp scratch, rebuilt on resize
	vignette []float32   // per-pixel multiplier, rebuilt on resize
	tables   *lut.Tables

	pixelW, pixelH     int
	logicalW, logicalH int

	initialized bool
}

func newSoftwareBackend(log core.Logger) *softwareBackend {
	return &softwareBackend{log: core.EnsureLogger(log)}
}

func (b *softwareBackend) Name() string         { return BackendSoftware }
func (b *softwareBackend) WindowAPI() WindowAPI { return WindowAPINone }

func (b *softwareBackend) Probe() error { return nil }

func (b *softwareBackend) Init(surface Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pixelW, b.pixelH = 1, 1
	b.logicalW, b.logicalH = 1, 1
	if surface.Window != nil {
		b.pixelW, b.pixelH = surface.Window.GetFramebufferSize()
		b.logicalW, b.logicalH = surface.Window.GetSize()
	}
	b.rebuildLocked()
	b.initialized = true
	b.log.Infof("software backend initialized (%dx%d, degraded effects)", b.pixelW, b.pixelH)
	return nil
}

func (b *softwareBackend) rebuildLocked() {
	if b.pixelW < 1 {
		b.pixelW = 1
	}
	if b.pixelH < 1 {
		b.pixelH = 1
	}
	b.out = image.NewRGBA(image.Rect(0, 0, b.pixelW, b.pixelH))
	b.base = image.NewRGBA(image.Rect(0, 0, b.pixelW, b.pixelH))
	b.vignette = make([]float32, b.pixelW*b.pixelH)
	cx := float64(b.pixelW) / 2
	cy := float64(b.pixelH) / 2
	maxD := math.Hypot(cx, cy)
	for y := 0; y < b.pixelH; y++ {
		for x := 0; x < b.pixelW; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy) / maxD
			b.vignette[y*b.pixelW+x] = float32(1 - smoothstep(0.55, 1.0, d))
		}
	}
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := (x - edge0) / (edge1 - edge0)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return t * t * (3 - 2*t)
}

func (b *softwareBackend) Resize(pixelW, pixelH, logicalW, logicalH int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return
	}
	if pixelW == b.pixelW && pixelH == b.pixelH {
		b.logicalW, b.logicalH = logicalW, logicalH
		return
	}
	b.pixelW, b.pixelH = pixelW, pixelH
	b.logicalW, b.logicalH = logicalW, logicalH
	b.rebuildLocked()
}

func (b *softwareBackend) UpdateTexture(frame *capture.Frame) error {
	if frame == nil {
		return nil
	}
	defer frame.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	if frame.Pixels == nil {
		return nil
	}
	// Keep a private copy; the frame's buffer dies with Close.
	scene := image.NewRGBA(frame.Pixels.Bounds())
	copy(scene.Pix, frame.Pixels.Pix)
	b.scene = scene
	return nil
}

func (b *softwareBackend) UpdateGeometry(params core.GeometryParams, tables *lut.Tables) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	b.tables = tables
	return nil
}

// warpLocked resolves the scratch image into out, displacing every output
// pixel by the inverse table so the fallback shows the same lens geometry
// the shaders do. Pixels that map outside the source go black.
func (b *softwareBackend) warpLocked() {
	w, h := b.pixelW, b.pixelH
	for y := 0; y < h; y++ {
		v := (float64(y) + 0.5) / float64(h)
		row := b.out.Pix[y*b.out.Stride : y*b.out.Stride+w*4]
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5) / float64(w)
			du, dv := b.tables.SampleInverse(u, v)
			su, sv := u+du, v+dv
			o := x * 4
			if su < 0 || su >= 1 || sv < 0 || sv >= 1 {
				row[o+0], row[o+1], row[o+2], row[o+3] = 0, 0, 0, 0xff
				continue
			}
			so := int(sv*float64(h))*b.base.Stride + int(su*float64(w))*4
			copy(row[o:o+4], b.base.Pix[so:so+4])
		}
	}
}

func (b *softwareBackend) Render(u *core.UniformState) (perf.FrameTimings, error) {
	var t perf.FrameTimings
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return t, ErrNotInitialized
	}

	// Scale into the scratch image when a warp table is present; the warp
	// pass then resolves scratch into out. Without tables, out is written
	// directly.
	dst := b.out
	warp := b.tables != nil
	if warp {
		dst = b.base
	}
	if b.scene == nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	} else if b.scene.Bounds().Dx() == b.pixelW && b.scene.Bounds().Dy() == b.pixelH {
		copy(dst.Pix, b.scene.Pix)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), b.scene, b.scene.Bounds(), draw.Src, nil)
	}
	if warp {
		b.warpLocked()
	}
	scaleDone := time.Now()

	scanline := u.Get(core.UScanline)
	vignette := u.Get(core.UVignette)
	for y := 0; y < b.pixelH; y++ {
		// Darken every other device row in proportion to the scanline
		// intensity. The full shader modulates continuously; the
		// fallback only needs to read as a CRT.
		rowScale := float32(1)
		if scanline > 0 && y%2 == 1 {
			rowScale = 1 - 0.6*scanline
		}
		row := b.out.Pix[y*b.out.Stride : y*b.out.Stride+b.pixelW*4]
		for x := 0; x < b.pixelW; x++ {
			s := rowScale
			if vignette > 0 {
				v := b.vignette[y*b.pixelW+x]
				s *= 1 - vignette*(1-v)
			}
			if s >= 1 {
				continue
			}
			o := x * 4
			row[o+0] = uint8(float32(row[o+0]) * s)
			row[o+1] = uint8(float32(row[o+1]) * s)
			row[o+2] = uint8(float32(row[o+2]) * s)
		}
	}
	end := time.Now()

	t.Render = end.Sub(start).Seconds() * 1000
	t.GPU = 0
	t.GPUTrusted = false
	t.Stages = map[string]float64{
		"scale":   scaleDone.Sub(start).Seconds() * 1000,
		"effects": end.Sub(scaleDone).Seconds() * 1000,
	}
	return t, nil
}

// Output returns the most recently rendered frame. The caller must not
// retain the image across renders.
func (b *softwareBackend) Output() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out
}

func (b *softwareBackend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	b.scene = nil
	b.out = nil
	b.base = nil
	b.vignette = nil
	b.tables = nil
}
