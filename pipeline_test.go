package phosphor

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/gpu"
	"github.com/phosphor3d/phosphor/input"
	"github.com/phosphor3d/phosphor/scene"
)

type stubSource struct {
	w, h int
}

func (s *stubSource) Size() (int, int) { return s.w, s.h }

func (s *stubSource) Rasterize(opts capture.RasterizeOptions) (image.Image, error) {
	w := int(float64(s.w) * opts.DPR)
	h := int(float64(s.h) * opts.DPR)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

type stubTarget struct{ hits int }

func (s *stubTarget) Handle(input.PointerEvent) bool { s.hits++; return true }

type stubHitTester struct{ target *stubTarget }

func (s *stubHitTester) TargetAt(x, y float64) input.Target { return s.target }

func newTestPipeline(t *testing.T, effects EffectConfig) *Pipeline {
	t.Helper()
	backend := gpu.Get(gpu.BackendSoftware, core.NewNopLogger())
	require.NotNil(t, backend)
	require.NoError(t, backend.Init(gpu.Surface{}))

	p, err := New(Options{
		Logger:        core.NewNopLogger(),
		Source:        &stubSource{w: 64, h: 48},
		HitTest:       &stubHitTester{target: &stubTarget{}},
		LogicalWidth:  64,
		LogicalHeight: 48,
		DPR:           1,
		Effects:       effects,
		Backend:       backend,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipelineFrameRecordsTimings(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{Scanline: 0.5})

	require.NoError(t, p.Frame(time.Now()))
	require.NoError(t, p.Frame(time.Now()))

	snap := p.Stats()
	assert.Equal(t, 2, snap.Frames)
}

func TestPipelineAppliesNewestLUT(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{K1: 0.08, K2: 0.01})

	require.NotNil(t, p.pendingLUT, "construction must request the initial lut")
	deadline := time.After(5 * time.Second)
	for p.pendingLUT != nil {
		select {
		case <-deadline:
			t.Fatal("lut computation did not complete")
		default:
		}
		require.NoError(t, p.Frame(time.Now()))
		time.Sleep(time.Millisecond)
	}
}

func TestPipelineResizeSchedulesLUTRebuild(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{K1: 0.05})

	before := p.lutParams
	p.Resize(128, 96, 2)
	assert.NotEqual(t, before, p.lutParams)
	assert.Equal(t, 128.0, p.lutParams.Width)
	assert.Equal(t, 2.0, p.lutParams.DPR)
}

func TestPipelineSetEffectsWithSameGeometryKeepsLUT(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{K1: 0.05})

	params := p.lutParams
	cfg := p.effects
	cfg.Scanline = 0.9
	p.SetEffects(cfg)
	assert.Equal(t, params, p.lutParams, "intensity-only change must not recompute geometry")
}

func TestPipelineRunsUploadTasks(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{})

	ran := 0
	p.Composer().QueueUpload(scene.UploadTask{
		Label: "atlas",
		Run:   func() error { ran++; return nil },
	})
	require.NoError(t, p.Frame(time.Now()))
	assert.Equal(t, 1, ran)
}

func TestPipelineCloseIdempotentAndFrameAfterCloseFails(t *testing.T) {
	p := newTestPipeline(t, EffectConfig{})

	p.Close()
	p.Close()
	assert.Error(t, p.Frame(time.Now()))
}

func TestPipelineSessionIDsUnique(t *testing.T) {
	a := newTestPipeline(t, EffectConfig{})
	b := newTestPipeline(t, EffectConfig{})
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestFillUniformsLayout(t *testing.T) {
	cs := core.NewCoordSpace()
	snap := cs.Update(800, 600, 2, 0, 0)

	cfg := EffectConfig{
		Scanline:       0.1,
		SlotMask:       0.2,
		Vignette:       0.3,
		Bloom:          0.4,
		Aberration:     0.5,
		Noise:          0.6,
		BloomThreshold: 0.7,
		BloomSoftness:  0.8,
		K1:             0.05,
		K2:             -0.01,
	}

	var u core.UniformState
	fillUniforms(&u, snap, cfg, 1500*time.Millisecond, 10, 20, 1, 2)

	assert.Equal(t, float32(1600), u.Get(core.UResolutionX))
	assert.Equal(t, float32(1200), u.Get(core.UResolutionY))
	assert.InDelta(t, 1.0/1600, u.Get(core.UInvResolutionX), 1e-9)
	assert.Equal(t, float32(800), u.Get(core.ULogicalWidth))
	assert.Equal(t, float32(600), u.Get(core.ULogicalHeight))
	assert.Equal(t, float32(1.5), u.Get(core.UTime))
	assert.Equal(t, float32(2), u.Get(core.UDPR))
	assert.Equal(t, float32(0.05), u.Get(core.UK1))
	assert.Equal(t, float32(-0.01), u.Get(core.UK2))
	assert.Equal(t, float32(0.1), u.Get(core.UScanline))
	assert.Equal(t, float32(0.2), u.Get(core.USlotMask))
	assert.Equal(t, float32(0.3), u.Get(core.UVignette))
	assert.Equal(t, float32(0.4), u.Get(core.UBloom))
	assert.Equal(t, float32(0.5), u.Get(core.UAberration))
	assert.Equal(t, float32(0.6), u.Get(core.UNoise))
	assert.Equal(t, float32(0.7), u.Get(core.UBloomThreshold))
	assert.Equal(t, float32(0.8), u.Get(core.UBloomSoftness))
	assert.Equal(t, float32(10), u.Get(core.UCursorX))
	assert.Equal(t, float32(20), u.Get(core.UCursorY))
	assert.Equal(t, float32(1), u.Get(core.UCursorState))
	assert.Equal(t, float32(2), u.Get(core.UCursorMeta))
}
