package capture

import (
	"image"
	"image/draw"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/phosphor3d/phosphor/core"
)

const (
	// DefaultThrottle bounds how often mutation-driven captures run.
	DefaultThrottle = 80 * time.Millisecond

	// animationInterval paces the continuous loop that runs while at least
	// one animation is active.
	animationInterval = 16 * time.Millisecond
)

// Driver turns invalidation signals (mutations, resizes, animation
// activity) into throttled raster snapshots of a Source.
//
// All state lives on a single goroutine; the public methods post commands
// to it, so Trigger and friends are safe from any goroutine and never
// block on a capture in flight. Captures coalesce: at most one is running
// and at most one is scheduled, and a trigger landing inside the throttle
// window is rescheduled to the window's end rather than dropped.
type Driver struct {
	src    Source
	log    core.Logger
	frames chan *Frame
	cmds   chan func()
	quit   chan struct{}
	done   chan struct{}

	destroyOnce sync.Once

	// Loop-owned state. Only the run goroutine touches these.
	throttle    time.Duration
	dpr         float64
	paused      bool
	dirty       bool
	lastCapture time.Time
	timer       *time.Timer
	animRefs    int
	anim        *time.Ticker
}

// Options configures a Driver. Zero values pick defaults.
type Options struct {
	Throttle time.Duration
	DPR      float64
	Logger   core.Logger
}

func NewDriver(src Source, opts Options) *Driver {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.DPR <= 0 {
		opts.DPR = 1
	}
	d := &Driver{
		src:      src,
		log:      core.EnsureLogger(opts.Logger),
		frames:   make(chan *Frame, 1),
		cmds:     make(chan func(), 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		throttle: opts.Throttle,
		dpr:      opts.DPR,
	}
	go d.run()
	return d
}

// Frames delivers captured frames, newest first: when the consumer lags,
// the stale frame is closed and replaced rather than queued.
func (d *Driver) Frames() <-chan *Frame { return d.frames }

// Trigger requests a capture opportunistically. Call it on any mutation or
// resize of the source.
func (d *Driver) Trigger() {
	d.post(func() { d.requestCapture() })
}

// CaptureImmediate forces a capture, ignoring the throttle window and the
// paused state.
func (d *Driver) CaptureImmediate() {
	d.post(func() { d.capture() })
}

// SetPaused suspends or resumes capture scheduling. Pausing cancels the
// animation loop but keeps the dirty signal: the first trigger seen while
// paused produces exactly one capture after resume.
func (d *Driver) SetPaused(paused bool) {
	d.post(func() {
		if d.paused == paused {
			return
		}
		d.paused = paused
		if paused {
			d.stopTimer()
			d.stopAnim()
			return
		}
		if d.animRefs > 0 {
			d.startAnim()
		}
		if d.dirty {
			d.dirty = false
			d.requestCapture()
		}
	})
}

// UpdateThrottle changes the minimum spacing between scheduled captures.
func (d *Driver) UpdateThrottle(throttle time.Duration) {
	d.post(func() {
		if throttle > 0 {
			d.throttle = throttle
		}
	})
}

// SetDPR sets the device pixel ratio used for subsequent captures.
func (d *Driver) SetDPR(dpr float64) {
	d.post(func() {
		if dpr > 0 {
			d.dpr = dpr
		}
	})
}

// AnimationStarted increments the active-animation count; while it is
// positive the driver keeps a continuous capture loop running so animated
// content stays live without idle polling.
func (d *Driver) AnimationStarted() {
	d.post(func() {
		d.animRefs++
		if d.animRefs == 1 && !d.paused {
			d.startAnim()
		}
	})
}

// AnimationEnded decrements the active-animation count.
func (d *Driver) AnimationEnded() {
	d.post(func() {
		if d.animRefs > 0 {
			d.animRefs--
		}
		if d.animRefs == 0 {
			d.stopAnim()
		}
	})
}

// Destroy stops all scheduled and looping captures. Safe to call multiple
// times and safe while a capture is in flight; an in-flight result is
// discarded.
func (d *Driver) Destroy() {
	d.destroyOnce.Do(func() { close(d.quit) })
	<-d.done
}

func (d *Driver) post(fn func()) {
	select {
	case d.cmds <- fn:
	case <-d.quit:
	}
}

func (d *Driver) run() {
	defer close(d.done)
	for {
		var timerC, animC <-chan time.Time
		if d.timer != nil {
			timerC = d.timer.C
		}
		if d.anim != nil {
			animC = d.anim.C
		}

		select {
		case <-d.quit:
			d.stopTimer()
			d.stopAnim()
			d.drainFrames()
			return
		case fn := <-d.cmds:
			fn()
		case <-timerC:
			d.timer = nil
			d.capture()
		case <-animC:
			d.requestCapture()
		}
	}
}

// requestCapture applies pause and throttle policy. Inside the throttle
// window the capture is deferred to the window's end; a second request in
// the same window coalesces into the already-armed timer.
func (d *Driver) requestCapture() {
	if d.paused {
		d.dirty = true
		return
	}
	if d.timer != nil {
		return
	}
	remaining := d.throttle - time.Since(d.lastCapture)
	if remaining <= 0 {
		d.capture()
		return
	}
	d.timer = time.NewTimer(remaining)
}

func (d *Driver) capture() {
	d.stopTimer()
	d.lastCapture = time.Now()

	w, h := d.src.Size()
	if w < 1 || h < 1 {
		return
	}

	img, err := d.src.Rasterize(RasterizeOptions{DPR: d.dpr})
	if err != nil {
		// Capture failures never break the pipeline; the renderer keeps
		// the previous frame and the next trigger retries.
		d.log.Warnf("capture failed: %v", err)
		return
	}

	select {
	case <-d.quit:
		// Destroyed while rasterizing; discard.
		return
	default:
	}

	frame := newFrame(d.toRGBA(img, w, h), d.dpr, nil)
	d.publish(frame)
}

// toRGBA normalizes the source's output to a tightly-packed RGBA bitmap at
// physical resolution, rescaling when the source rendered at a different
// size.
func (d *Driver) toRGBA(img image.Image, logicalW, logicalH int) *image.RGBA {
	pw := int(float64(logicalW)*d.dpr + 0.5)
	ph := int(float64(logicalH)*d.dpr + 0.5)
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}

	if rgba, ok := img.(*image.RGBA); ok {
		b := rgba.Bounds()
		if b.Min == (image.Point{}) && b.Dx() == pw && b.Dy() == ph {
			return rgba
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	if img.Bounds().Dx() == pw && img.Bounds().Dy() == ph {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	}
	return dst
}

func (d *Driver) publish(f *Frame) {
	for {
		select {
		case d.frames <- f:
			return
		default:
		}
		select {
		case stale := <-d.frames:
			stale.Close()
		default:
		}
	}
}

func (d *Driver) drainFrames() {
	for {
		select {
		case f := <-d.frames:
			f.Close()
		default:
			return
		}
	}
}

func (d *Driver) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Driver) startAnim() {
	if d.anim == nil {
		d.anim = time.NewTicker(animationInterval)
	}
}

func (d *Driver) stopAnim() {
	if d.anim != nil {
		d.anim.Stop()
		d.anim = nil
	}
}
