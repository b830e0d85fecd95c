package gpu

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/lut"
)

func newTestSoftware(t *testing.T, w, h int) *softwareBackend {
	t.Helper()
	b := newSoftwareBackend(core.NewNopLogger())
	require.NoError(t, b.Init(Surface{}))
	b.Resize(w, h, w, h)
	return b
}

func solidFrame(w, h int, r, g, bl uint8) *capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = bl
		img.Pix[i+3] = 255
	}
	return &capture.Frame{Pixels: img, Width: w, Height: h, DPR: 1}
}

func TestSoftwareRenderWithoutSceneIsBlack(t *testing.T) {
	b := newTestSoftware(t, 8, 8)
	defer b.Destroy()

	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	require.NotNil(t, out)
	r, g, bl, _ := out.At(4, 4).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, bl)
}

func TestSoftwareRenderPassesThroughWhenEffectsOff(t *testing.T) {
	b := newTestSoftware(t, 8, 8)
	defer b.Destroy()

	require.NoError(t, b.UpdateTexture(solidFrame(8, 8, 200, 100, 50)))

	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	assert.Equal(t, uint8(200), out.Pix[0])
	assert.Equal(t, uint8(100), out.Pix[1])
	assert.Equal(t, uint8(50), out.Pix[2])
}

func TestSoftwareScanlinesDarkenOddRows(t *testing.T) {
	b := newTestSoftware(t, 4, 4)
	defer b.Destroy()

	require.NoError(t, b.UpdateTexture(solidFrame(4, 4, 200, 200, 200)))

	var u core.UniformState
	u.SetEffects(1, 0, 0, 0, 0, 0)
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	evenRow := out.Pix[0*out.Stride]
	oddRow := out.Pix[1*out.Stride]
	assert.Equal(t, uint8(200), evenRow)
	assert.Less(t, oddRow, evenRow, "odd rows must be darker with scanlines on")
}

func TestSoftwareVignetteDarkensCorners(t *testing.T) {
	b := newTestSoftware(t, 32, 32)
	defer b.Destroy()

	require.NoError(t, b.UpdateTexture(solidFrame(32, 32, 200, 200, 200)))

	var u core.UniformState
	u.SetEffects(0, 0, 1, 0, 0, 0)
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	corner := out.Pix[0]
	center := out.Pix[16*out.Stride+16*4]
	assert.Less(t, corner, center, "corner must be darker than center with vignette on")
}

func TestSoftwareScalesMismatchedFrame(t *testing.T) {
	b := newTestSoftware(t, 16, 16)
	defer b.Destroy()

	require.NoError(t, b.UpdateTexture(solidFrame(8, 8, 10, 20, 30)))

	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	require.Equal(t, 16, out.Bounds().Dx())
	assert.Equal(t, uint8(10), out.Pix[0])
}

func offsetTables(du, dv float32) *lut.Tables {
	n := lut.TableSize * lut.TableSize
	t := &lut.Tables{
		Width:   lut.TableSize,
		Height:  lut.TableSize,
		Forward: make([]float32, n*2),
		Inverse: make([]float32, n*2),
	}
	for i := 0; i < n; i++ {
		t.Inverse[i*2] = du
		t.Inverse[i*2+1] = dv
	}
	return t
}

func TestSoftwareWarpDisplacesThroughInverseTable(t *testing.T) {
	b := newTestSoftware(t, 8, 8)
	defer b.Destroy()

	// Left half red, right half blue.
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			o := y*img.Stride + x*4
			if x < 4 {
				img.Pix[o+0] = 255
			} else {
				img.Pix[o+2] = 255
			}
			img.Pix[o+3] = 255
		}
	}
	require.NoError(t, b.UpdateTexture(&capture.Frame{Pixels: img, Width: 8, Height: 8, DPR: 1}))
	require.NoError(t, b.UpdateGeometry(core.GeometryParams{Width: 8, Height: 8}, offsetTables(0.25, 0)))

	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	// A quarter-width shift pulls the blue half two pixels left: column 2
	// now reads source column 4.
	o := 4*out.Stride + 2*4
	assert.Equal(t, uint8(0), out.Pix[o+0])
	assert.Equal(t, uint8(255), out.Pix[o+2])

	// Columns that map past the right edge go black, not wrap.
	o = 4*out.Stride + 7*4
	assert.Equal(t, uint8(0), out.Pix[o+0])
	assert.Equal(t, uint8(0), out.Pix[o+2])
	assert.Equal(t, uint8(255), out.Pix[o+3])
}

func TestSoftwareZeroTableIsIdentity(t *testing.T) {
	b := newTestSoftware(t, 8, 8)
	defer b.Destroy()

	require.NoError(t, b.UpdateTexture(solidFrame(8, 8, 200, 100, 50)))
	require.NoError(t, b.UpdateGeometry(core.GeometryParams{Width: 8, Height: 8}, offsetTables(0, 0)))

	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)

	out := b.Output()
	assert.Equal(t, uint8(200), out.Pix[0])
	assert.Equal(t, uint8(100), out.Pix[1])
	assert.Equal(t, uint8(50), out.Pix[2])
}

func TestSoftwareUpdateTextureClosesFrame(t *testing.T) {
	b := newTestSoftware(t, 4, 4)
	defer b.Destroy()

	f := solidFrame(4, 4, 1, 2, 3)
	require.NoError(t, b.UpdateTexture(f))
	assert.Nil(t, f.Pixels, "backend must release the frame after upload")
}

func TestSoftwareRenderAfterDestroy(t *testing.T) {
	b := newTestSoftware(t, 4, 4)
	b.Destroy()

	var u core.UniformState
	_, err := b.Render(&u)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSoftwareResizeRebuildsOutput(t *testing.T) {
	b := newTestSoftware(t, 4, 4)
	defer b.Destroy()

	b.Resize(9, 7, 9, 7)
	var u core.UniformState
	_, err := b.Render(&u)
	require.NoError(t, err)
	out := b.Output()
	assert.Equal(t, 9, out.Bounds().Dx())
	assert.Equal(t, 7, out.Bounds().Dy())
}
