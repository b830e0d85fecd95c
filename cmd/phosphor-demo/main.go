// Command phosphor-demo renders a synthetic test card through the full
// CRT pipeline: capture, distortion LUT, GPU composition and dewarped
// input. Click anywhere to log which cell of the card the pointer really
// landed on after remapping.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"runtime"
	"time"

	"github.com/phosphor3d/phosphor"
	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/input"
)

func init() {
	runtime.LockOSThread()
}

// testCard rasterizes a color-bar pattern with a cell grid, standing in
// for a live UI surface.
type testCard struct {
	w, h int
}

func (t *testCard) Size() (int, int) { return t.w, t.h }

func (t *testCard) Rasterize(opts capture.RasterizeOptions) (image.Image, error) {
	w := int(float64(t.w) * opts.DPR)
	h := int(float64(t.h) * opts.DPR)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bars := []color.RGBA{
		{235, 235, 235, 255}, {235, 235, 20, 255}, {20, 235, 235, 255},
		{20, 235, 20, 255}, {235, 20, 235, 255}, {235, 20, 20, 255},
		{20, 20, 235, 255},
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bars[x*len(bars)/w]
			if y%64 < 2 || x%64 < 2 {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

type cellTarget struct {
	log core.Logger
}

func (c *cellTarget) Handle(ev input.PointerEvent) bool {
	if ev.Type == input.EventPointerDown {
		c.log.Infof("pointerdown landed at cell (%d,%d), logical (%.1f,%.1f)",
			int(ev.X)/64, int(ev.Y)/64, ev.X, ev.Y)
	}
	return true
}

type cardHitTester struct {
	target *cellTarget
}

func (c *cardHitTester) TargetAt(x, y float64) input.Target { return c.target }

func main() {
	width := flag.Int("width", 1024, "window width")
	height := flag.Int("height", 768, "window height")
	k1 := flag.Float64("k1", 0.08, "primary distortion coefficient")
	k2 := flag.Float64("k2", 0.012, "secondary distortion coefficient")
	debug := flag.Bool("debug", false, "enable debug logging")
	cacheDir := flag.String("lut-cache", "", "directory for the LUT disk cache")
	flag.Parse()

	log := core.NewDefaultLogger("phosphor-demo", *debug)
	target := &cellTarget{log: log}

	p, err := phosphor.New(phosphor.Options{
		Logger:        log,
		Source:        &testCard{w: *width, h: *height},
		HitTest:       &cardHitTester{target: target},
		LogicalWidth:  *width,
		LogicalHeight: *height,
		DPR:           1,
		Title:         "phosphor demo",
		CacheDir:      *cacheDir,
		Effects: phosphor.EffectConfig{
			Scanline:       0.35,
			SlotMask:       0.2,
			Vignette:       0.4,
			Bloom:          0.25,
			Aberration:     0.15,
			Noise:          0.05,
			BloomThreshold: 0.6,
			BloomSoftness:  0.25,
			K1:             *k1,
			K2:             *k2,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "phosphor-demo: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	lastStats := time.Now()

	for !p.ShouldClose() {
		now := <-ticker.C
		if err := p.Frame(now); err != nil {
			log.Errorf("frame failed: %v", err)
			break
		}
		if time.Since(lastStats) >= 5*time.Second {
			s := p.Stats()
			log.Infof("render mean %.2fms p95 %.2fms over %d frames",
				s.Render.Mean, s.Render.P95, s.Frames)
			lastStats = time.Now()
		}
	}
}
