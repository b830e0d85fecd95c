package input

import (
	"sync"
	"time"

	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/lut"
)

// pointerState tracks one active pointer from down to up/cancel/leave:
// the target captured on press, the last remapped position, and the
// button mask seen there.
type pointerState struct {
	target  Target
	lastX   float64
	lastY   float64
	buttons int
}

// ProxyConfig wires a Proxy's collaborators. HitTest is required;
// Surface and OnLatency are optional.
type ProxyConfig struct {
	Log     core.Logger
	HitTest HitTester
	Surface SurfaceControl

	// OnLatency receives per-event processing time in milliseconds.
	OnLatency func(ms float64)
}

// Proxy dewarps interaction coming in on the rendered (distorted)
// surface back onto the undistorted source and re-dispatches it there.
// Coordinates are remapped through the current inverse LUT; target
// resolution honors pointer capture, so a drag keeps delivering to the
// element pressed on even when the cursor drifts elsewhere.
type Proxy struct {
	log core.Logger

	mu        sync.Mutex
	hitTest   HitTester
	surface   SurfaceControl
	onLatency func(ms float64)

	tables   *lut.Tables
	logicalW float64
	logicalH float64

	pointers    map[int]*pointerState
	bypassArmed bool
	destroyed   bool
}

func NewProxy(cfg ProxyConfig) *Proxy {
	return &Proxy{
		log:       core.EnsureLogger(cfg.Log),
		hitTest:   cfg.HitTest,
		surface:   cfg.Surface,
		onLatency: cfg.OnLatency,
		pointers:  make(map[int]*pointerState),
		logicalW:  1,
		logicalH:  1,
	}
}

// UpdateLUT swaps the inverse displacement table used for remapping.
// A nil table means identity (no warp yet).
func (p *Proxy) UpdateLUT(tables *lut.Tables) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = tables
}

// Resize tells the proxy the current logical surface size, needed to
// convert event coordinates to and from normalized LUT space.
func (p *Proxy) Resize(logicalW, logicalH float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if logicalW >= 1 {
		p.logicalW = logicalW
	}
	if logicalH >= 1 {
		p.logicalH = logicalH
	}
}

// Tick restores surface hit-test interception disabled during the
// previous frame's event handling. Multiple bypasses within one frame
// collapse into this single restore.
func (p *Proxy) Tick() {
	p.mu.Lock()
	armed := p.bypassArmed
	p.bypassArmed = false
	surface := p.surface
	p.mu.Unlock()
	if armed && surface != nil {
		surface.SetHitTestBypass(false)
	}
}

// Handle remaps and re-dispatches one event. The return value tells the
// caller whether the original event's default processing should be
// suppressed; false means the proxy did not act (no hit tester, or
// destroyed) and the event should flow through untouched.
func (p *Proxy) Handle(ev PointerEvent) bool {
	start := time.Now()

	p.mu.Lock()
	if p.destroyed || p.hitTest == nil {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	dispatched := false
	if ev.Type == EventPointerMove && len(ev.Coalesced) > 0 {
		for _, sub := range ev.Coalesced {
			if p.handleOne(sub) {
				dispatched = true
			}
		}
	} else {
		dispatched = p.handleOne(ev)
	}

	if p.onLatency != nil {
		p.onLatency(time.Since(start).Seconds() * 1000)
	}
	return dispatched
}

func (p *Proxy) handleOne(ev PointerEvent) bool {
	x, y := p.remap(ev.X, ev.Y)

	// Fallback previous position for deltas when no state is tracked yet:
	// the host's raw delta walked back through the warp, so the synthetic
	// delta is always a difference of remapped points.
	prevX, prevY := p.remap(ev.X-ev.DX, ev.Y-ev.DY)

	synthetic := ev
	synthetic.X = x
	synthetic.Y = y
	synthetic.Coalesced = nil

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return false
	}
	state := p.pointers[ev.PointerID]

	var target Target
	switch ev.Type {
	case EventPointerDown:
		target = p.resolveLocked(x, y)
		if target != nil {
			p.pointers[ev.PointerID] = &pointerState{
				target:  target,
				lastX:   x,
				lastY:   y,
				buttons: ev.Buttons,
			}
		}
	case EventPointerUp, EventPointerCancel, EventPointerLeave:
		if state != nil {
			target = state.target
			synthetic.DX = x - state.lastX
			synthetic.DY = y - state.lastY
			delete(p.pointers, ev.PointerID)
		} else {
			target = p.resolveLocked(x, y)
		}
	case EventPointerEnter:
		target = p.resolveLocked(x, y)
		if target != nil {
			p.pointers[ev.PointerID] = &pointerState{
				target:  target,
				lastX:   x,
				lastY:   y,
				buttons: ev.Buttons,
			}
		}
		synthetic.DX = 0
		synthetic.DY = 0
	case EventPointerMove:
		if state != nil && state.buttons != 0 {
			// Captured drag: keep the press target regardless of where
			// the cursor drifted.
			target = state.target
		} else {
			target = p.resolveLocked(x, y)
		}
		if state != nil {
			synthetic.DX = x - state.lastX
			synthetic.DY = y - state.lastY
			state.lastX = x
			state.lastY = y
			state.buttons = ev.Buttons
		} else {
			// First sample for this pointer: deltas from the walked-back
			// previous point, then start tracking for the next one.
			synthetic.DX = x - prevX
			synthetic.DY = y - prevY
			if target != nil {
				p.pointers[ev.PointerID] = &pointerState{
					target:  target,
					lastX:   x,
					lastY:   y,
					buttons: ev.Buttons,
				}
			}
		}
	default:
		// wheel, click, dblclick, contextmenu: hover semantics.
		target = p.resolveLocked(x, y)
	}
	p.mu.Unlock()

	if target == nil {
		return false
	}
	target.Handle(synthetic)
	return true
}

// resolveLocked hit-tests at a dewarped point with the render surface
// punched through. p.mu must be held.
func (p *Proxy) resolveLocked(x, y float64) Target {
	if p.surface != nil && !p.bypassArmed {
		p.surface.SetHitTestBypass(true)
		p.bypassArmed = true
	}
	return p.hitTest.TargetAt(x, y)
}

// remap converts rendered-surface coordinates to source coordinates via
// the inverse LUT, bilinear-interpolated. Identity when no table is set.
func (p *Proxy) remap(x, y float64) (float64, float64) {
	p.mu.Lock()
	tables := p.tables
	w := p.logicalW
	h := p.logicalH
	p.mu.Unlock()

	if tables == nil {
		return x, y
	}
	u := x / w
	v := y / h
	du, dv := tables.SampleInverse(u, v)
	return (u + du) * w, (v + dv) * h
}

// Destroy drops all pointer state and stops handling. Idempotent.
func (p *Proxy) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.pointers = make(map[int]*pointerState)
	p.tables = nil
	armed := p.bypassArmed
	p.bypassArmed = false
	surface := p.surface
	p.mu.Unlock()

	if armed && surface != nil {
		surface.SetHitTestBypass(false)
	}
}
