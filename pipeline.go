// Package phosphor simulates a curved CRT display over a live UI surface:
// captured frames are warped through a barrel-distortion LUT, composited
// with scanline/bloom/vignette effects on the best available GPU backend,
// and input events are dewarped back so interaction still lands where the
// user sees it.
package phosphor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/gpu"
	"github.com/phosphor3d/phosphor/input"
	"github.com/phosphor3d/phosphor/lut"
	"github.com/phosphor3d/phosphor/perf"
	"github.com/phosphor3d/phosphor/scene"
)

// EffectConfig carries the effect intensities copied into the uniform
// buffer each frame. Plain values, owned by the caller.
type EffectConfig struct {
	Scanline   float32
	SlotMask   float32
	Vignette   float32
	Bloom      float32
	Aberration float32
	Noise      float32

	BloomThreshold float32
	BloomSoftness  float32

	K1 float64
	K2 float64
}

// Options configures a Pipeline.
type Options struct {
	Logger  core.Logger
	Source  capture.Source
	HitTest input.HitTester

	LogicalWidth  int
	LogicalHeight int
	DPR           float64
	Title         string

	Effects  EffectConfig
	Throttle time.Duration

	// CacheDir enables the LUT disk cache when non-empty.
	CacheDir string

	// Backend, when set, is used directly and no window is created.
	// Otherwise a window is opened and the backend chain is probed.
	Backend gpu.Backend
}

// Pipeline is the owning context for one rendered surface. Every
// collaborator is an explicit field; nothing lives in package globals.
type Pipeline struct {
	log       core.Logger
	sessionID uuid.UUID

	window   *windowState
	backend  gpu.Backend
	lutCtl   *lut.Controller
	driver   *capture.Driver
	proxy    *input.Proxy
	composer *scene.Composer
	monitor  *perf.Monitor
	coords   *core.CoordSpace

	effects     EffectConfig
	cursorX     float32
	cursorY     float32
	cursorState float32
	cursorMeta  float32

	start time.Time

	pendingLUT <-chan lut.Result
	lutParams  core.GeometryParams

	inputLatencyMs float64

	closed bool
}

// New builds and wires a pipeline. The LUT for the initial geometry is
// requested immediately; until it resolves the surface renders unwarped.
func New(opts Options) (*Pipeline, error) {
	log := core.EnsureLogger(opts.Logger)
	if opts.Source == nil {
		return nil, fmt.Errorf("phosphor: a capture source is required")
	}
	if opts.LogicalWidth < 1 {
		opts.LogicalWidth = 800
	}
	if opts.LogicalHeight < 1 {
		opts.LogicalHeight = 600
	}
	if opts.DPR <= 0 {
		opts.DPR = 1
	}

	p := &Pipeline{
		log:       log,
		sessionID: uuid.New(),
		effects:   opts.Effects,
		coords:    core.NewCoordSpace(),
		monitor:   perf.NewMonitor(perf.DefaultCapacity),
		composer:  scene.NewComposer(log),
		start:     time.Now(),
	}
	log.Infof("pipeline session %s starting", p.sessionID)

	backend := opts.Backend
	if backend == nil {
		var win *windowState
		selected, _, err := gpu.SelectAndInit(log, func(api gpu.WindowAPI) (gpu.Surface, func(), error) {
			w, werr := openWindow(opts.LogicalWidth, opts.LogicalHeight, opts.Title, api)
			if werr != nil {
				return gpu.Surface{}, nil, werr
			}
			win = w
			return gpu.Surface{Window: w.win}, w.close, nil
		})
		if err != nil {
			return nil, err
		}
		p.window = win
		backend = selected
	}
	p.backend = backend

	var cache *lut.DiskCache
	if opts.CacheDir != "" {
		var err error
		cache, err = lut.NewDiskCache(opts.CacheDir, log)
		if err != nil {
			log.Warnf("lut disk cache unavailable: %v", err)
		}
	}
	p.lutCtl = lut.NewController(log, cache)

	p.driver = capture.NewDriver(opts.Source, capture.Options{
		Throttle: opts.Throttle,
		DPR:      opts.DPR,
		Logger:   log,
	})

	p.proxy = input.NewProxy(input.ProxyConfig{
		Log:     log,
		HitTest: opts.HitTest,
		OnLatency: func(ms float64) {
			p.inputLatencyMs += ms
		},
	})

	if p.window != nil {
		p.window.attachInput(p.proxy)
	}

	p.Resize(float64(opts.LogicalWidth), float64(opts.LogicalHeight), opts.DPR)
	p.driver.CaptureImmediate()
	return p, nil
}

// SessionID identifies this pipeline instance in logs and diagnostics.
func (p *Pipeline) SessionID() uuid.UUID { return p.sessionID }

// Composer exposes the scene composer for staged node updates.
func (p *Pipeline) Composer() *scene.Composer { return p.composer }

// Capture exposes the capture driver for trigger/pause control.
func (p *Pipeline) Capture() *capture.Driver { return p.driver }

// Input exposes the event proxy so the host can feed pointer events.
func (p *Pipeline) Input() *input.Proxy { return p.proxy }

// Stats returns the current rolling performance snapshot.
func (p *Pipeline) Stats() perf.Snapshot { return p.monitor.GetSnapshot() }

// ShouldClose reports whether the user asked the window to close. Always
// false for headless pipelines.
func (p *Pipeline) ShouldClose() bool {
	return p.window != nil && p.window.shouldClose()
}

// SetEffects replaces the effect configuration. A change in distortion
// coefficients kicks off a fresh LUT computation.
func (p *Pipeline) SetEffects(cfg EffectConfig) {
	geomChanged := cfg.K1 != p.effects.K1 || cfg.K2 != p.effects.K2
	p.effects = cfg
	if geomChanged {
		p.requestLUT()
	}
}

// SetCursor updates the cursor overlay uniforms.
func (p *Pipeline) SetCursor(x, y, state, meta float32) {
	p.cursorX, p.cursorY = x, y
	p.cursorState, p.cursorMeta = state, meta
}

// Resize propagates a new logical size and pixel ratio everywhere a
// dimension matters and schedules a LUT rebuild for the new geometry.
func (p *Pipeline) Resize(logicalW, logicalH, dpr float64) {
	snap := p.coords.Update(logicalW, logicalH, dpr, 0, 0)
	if p.backend != nil {
		p.backend.Resize(snap.TextureWidth, snap.TextureHeight, snap.LogicalWidth, snap.LogicalHeight)
	}
	p.proxy.Resize(float64(snap.LogicalWidth), float64(snap.LogicalHeight))
	p.driver.SetDPR(snap.DPR)
	p.requestLUT()
	p.driver.Trigger()
}

func (p *Pipeline) requestLUT() {
	snap := p.coords.Snapshot()
	params := core.GeometryParams{
		Width:  float64(snap.LogicalWidth),
		Height: float64(snap.LogicalHeight),
		DPR:    snap.DPR,
		K1:     p.effects.K1,
		K2:     p.effects.K2,
	}
	if p.pendingLUT != nil && params == p.lutParams {
		return
	}
	p.lutParams = params
	p.pendingLUT = p.lutCtl.Request(params)
}

// Frame advances the pipeline by one frame: stage scene uploads, apply
// the newest captured bitmap and newest completed LUT, fill uniforms,
// draw, and record timings. Stale intermediates are never mixed with
// fresh ones inside a single frame.
func (p *Pipeline) Frame(now time.Time) error {
	if p.closed {
		return fmt.Errorf("phosphor: pipeline closed")
	}
	p.proxy.Tick()

	var t perf.FrameTimings

	uploadStart := time.Now()
	if update := p.composer.EndFrame(); update != nil {
		for _, task := range update.Uploads {
			if task.Run == nil {
				continue
			}
			if err := task.Run(); err != nil {
				p.log.Warnf("upload task %s (%s) failed: %v", task.ID, task.Label, err)
			}
		}
	}
	t.Upload = time.Since(uploadStart).Seconds() * 1000

	captureStart := time.Now()
	select {
	case frame := <-p.driver.Frames():
		if err := p.backend.UpdateTexture(frame); err != nil {
			p.log.Warnf("texture update failed, keeping previous frame: %v", err)
		}
	default:
	}
	t.Capture = time.Since(captureStart).Seconds() * 1000

	if p.pendingLUT != nil {
		select {
		case res := <-p.pendingLUT:
			p.pendingLUT = nil
			if res.Err != nil {
				p.log.Warnf("lut computation failed, keeping previous tables: %v", res.Err)
			} else {
				if err := p.backend.UpdateGeometry(p.lutParams, res.Tables); err != nil {
					p.log.Warnf("lut upload failed: %v", err)
				}
				p.proxy.UpdateLUT(res.Tables)
			}
		default:
		}
	}

	var u core.UniformState
	p.fillUniforms(&u, now)

	timings, err := p.backend.Render(&u)
	if err != nil {
		return err
	}
	t.Render = timings.Render
	t.GPU = timings.GPU
	t.GPUTrusted = timings.GPUTrusted
	t.Stages = timings.Stages
	t.Input = p.inputLatencyMs
	p.inputLatencyMs = 0
	p.monitor.Record(t)

	if p.window != nil {
		p.window.poll()
	}
	return nil
}

func (p *Pipeline) fillUniforms(u *core.UniformState, now time.Time) {
	snap := p.coords.Snapshot()
	fillUniforms(u, snap, p.effects, now.Sub(p.start),
		p.cursorX, p.cursorY, p.cursorState, p.cursorMeta)
}

// fillUniforms copies one frame's configuration into the fixed-offset
// uniform block. Pure so it can be checked without a backend.
func fillUniforms(u *core.UniformState, snap core.CoordSnapshot, cfg EffectConfig,
	elapsed time.Duration, cx, cy, cstate, cmeta float32) {

	u.SetResolution(float32(snap.TextureWidth), float32(snap.TextureHeight))
	u.SetLogicalSize(float32(snap.LogicalWidth), float32(snap.LogicalHeight))
	u.SetTime(float32(elapsed.Seconds()))
	u.SetDPR(float32(snap.DPR))
	u.SetDistortion(float32(cfg.K1), float32(cfg.K2))
	u.SetEffects(cfg.Scanline, cfg.SlotMask, cfg.Vignette, cfg.Bloom, cfg.Aberration, cfg.Noise)
	u.SetBloomShape(cfg.BloomThreshold, cfg.BloomSoftness)
	u.SetCursor(cx, cy, cstate, cmeta)
}

// Close tears the pipeline down in reverse construction order. Safe to
// call more than once.
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true

	p.proxy.Destroy()
	p.driver.Destroy()
	p.lutCtl.Dispose()
	p.composer.Reset()
	if p.backend != nil {
		p.backend.Destroy()
	}
	if p.window != nil {
		p.window.close()
	}
	p.log.Infof("pipeline session %s closed", p.sessionID)
}
