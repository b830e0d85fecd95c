package capture

import (
	"image"
	"sync"
)

// Frame is the atomic unit handed from capture to a renderer: one bitmap at
// physical resolution plus the device pixel ratio it was rasterized at.
// The consumer must Close a frame exactly once after upload; Close is
// guarded so a stray double release stays harmless.
type Frame struct {
	Pixels *image.RGBA
	Width  int
	Height int
	DPR    float64

	once    sync.Once
	release func()
}

func newFrame(img *image.RGBA, dpr float64, release func()) *Frame {
	b := img.Bounds()
	return &Frame{
		Pixels:  img,
		Width:   b.Dx(),
		Height:  b.Dy(),
		DPR:     dpr,
		release: release,
	}
}

// Close releases the bitmap. Idempotent.
func (f *Frame) Close() {
	f.once.Do(func() {
		f.Pixels = nil
		if f.release != nil {
			f.release()
		}
	})
}
