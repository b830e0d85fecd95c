package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/lut"
	"github.com/phosphor3d/phosphor/perf"
)

type fakeBackend struct {
	name      string
	probeErr  error
	initErr   error
	api       WindowAPI
	inited    bool
	destroyed bool
}

func (f *fakeBackend) Name() string         { return f.name }
func (f *fakeBackend) WindowAPI() WindowAPI { return f.api }
func (f *fakeBackend) Probe() error         { return f.probeErr }
func (f *fakeBackend) Init(Surface) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.inited = true
	return nil
}
func (f *fakeBackend) Resize(_, _, _, _ int) {}
func (f *fakeBackend) UpdateTexture(fr *capture.Frame) error {
	if fr != nil {
		fr.Close()
	}
	return nil
}
func (f *fakeBackend) UpdateGeometry(core.GeometryParams, *lut.Tables) error { return nil }
func (f *fakeBackend) Render(*core.UniformState) (perf.FrameTimings, error) {
	return perf.FrameTimings{}, nil
}
func (f *fakeBackend) Destroy() { f.destroyed = true }

// swapFactories replaces the priority-chain factories for the duration of
// the test and restores the init-registered ones afterwards.
func swapFactories(t *testing.T, fakes map[string]Factory) {
	t.Helper()
	registryMu.Lock()
	saved := make(map[string]Factory, len(backends))
	for name, f := range backends {
		saved[name] = f
	}
	for name := range backends {
		delete(backends, name)
	}
	for name, f := range fakes {
		backends[name] = f
	}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		for name := range backends {
			delete(backends, name)
		}
		for name, f := range saved {
			backends[name] = f
		}
		registryMu.Unlock()
	})
}

func TestSelectPrefersFirstAvailable(t *testing.T) {
	swapFactories(t, map[string]Factory{
		BackendWebGPU:   func(core.Logger) Backend { return &fakeBackend{name: BackendWebGPU} },
		BackendGL:       func(core.Logger) Backend { return &fakeBackend{name: BackendGL} },
		BackendSoftware: func(core.Logger) Backend { return &fakeBackend{name: BackendSoftware} },
	})

	b, err := Select(core.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, BackendWebGPU, b.Name())
}

func TestSelectFallsThroughFailedProbes(t *testing.T) {
	probeFail := errors.New("no adapter")
	var webgpuFake, glFake *fakeBackend
	swapFactories(t, map[string]Factory{
		BackendWebGPU: func(core.Logger) Backend {
			webgpuFake = &fakeBackend{name: BackendWebGPU, probeErr: probeFail}
			return webgpuFake
		},
		BackendGL: func(core.Logger) Backend {
			glFake = &fakeBackend{name: BackendGL, probeErr: probeFail}
			return glFake
		},
		BackendSoftware: func(core.Logger) Backend { return &fakeBackend{name: BackendSoftware} },
	})

	b, err := Select(core.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, b.Name())
	assert.True(t, webgpuFake.destroyed, "failed probe must release the backend")
	assert.True(t, glFake.destroyed)
}

func TestSelectAndInitFallsThroughFailedInit(t *testing.T) {
	initFail := errors.New("shader build failed")
	var webgpuFake, glFake, softwareFake *fakeBackend
	swapFactories(t, map[string]Factory{
		BackendWebGPU: func(core.Logger) Backend {
			webgpuFake = &fakeBackend{name: BackendWebGPU, initErr: initFail}
			return webgpuFake
		},
		BackendGL: func(core.Logger) Backend {
			glFake = &fakeBackend{name: BackendGL, api: WindowAPIOpenGL, initErr: initFail}
			return glFake
		},
		BackendSoftware: func(core.Logger) Backend {
			softwareFake = &fakeBackend{name: BackendSoftware}
			return softwareFake
		},
	})

	cleanups := 0
	var apis []WindowAPI
	b, cleanup, err := SelectAndInit(core.NewNopLogger(), func(api WindowAPI) (Surface, func(), error) {
		apis = append(apis, api)
		return Surface{}, func() { cleanups++ }, nil
	})
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, b.Name())
	assert.True(t, softwareFake.inited)
	assert.True(t, webgpuFake.destroyed, "failed init must release the backend")
	assert.True(t, glFake.destroyed)
	assert.Equal(t, 2, cleanups, "each failed init must release its surface")
	assert.Equal(t, []WindowAPI{WindowAPINone, WindowAPIOpenGL, WindowAPINone}, apis,
		"each attempt gets a surface matching its own window requirements")
	require.NotNil(t, cleanup, "the winning surface cleanup is handed back")
}

func TestSelectAndInitAllBackendsFail(t *testing.T) {
	initFail := errors.New("no context")
	swapFactories(t, map[string]Factory{
		BackendGL: func(core.Logger) Backend {
			return &fakeBackend{name: BackendGL, initErr: initFail}
		},
		BackendSoftware: func(core.Logger) Backend {
			return &fakeBackend{name: BackendSoftware, initErr: initFail}
		},
	})

	_, _, err := SelectAndInit(core.NewNopLogger(), func(WindowAPI) (Surface, func(), error) {
		return Surface{}, nil, nil
	})
	assert.ErrorIs(t, err, ErrBackendNotAvailable)
}

func TestSelectAndInitSkipsBackendWithoutSurface(t *testing.T) {
	surfaceFail := errors.New("no display")
	var glFake *fakeBackend
	swapFactories(t, map[string]Factory{
		BackendGL: func(core.Logger) Backend {
			glFake = &fakeBackend{name: BackendGL, api: WindowAPIOpenGL}
			return glFake
		},
		BackendSoftware: func(core.Logger) Backend {
			return &fakeBackend{name: BackendSoftware}
		},
	})

	b, _, err := SelectAndInit(core.NewNopLogger(), func(api WindowAPI) (Surface, func(), error) {
		if api == WindowAPIOpenGL {
			return Surface{}, nil, surfaceFail
		}
		return Surface{}, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, b.Name())
	assert.True(t, glFake.destroyed)
	assert.False(t, glFake.inited)
}

func TestSelectEmptyRegistry(t *testing.T) {
	swapFactories(t, map[string]Factory{})
	_, err := Select(core.NewNopLogger())
	assert.ErrorIs(t, err, ErrBackendNotAvailable)
}

func TestGetUnknownBackend(t *testing.T) {
	assert.Nil(t, Get("no-such-backend", core.NewNopLogger()))
}

func TestAvailableListsRegistered(t *testing.T) {
	swapFactories(t, map[string]Factory{
		BackendGL:       func(core.Logger) Backend { return &fakeBackend{name: BackendGL} },
		BackendSoftware: func(core.Logger) Backend { return &fakeBackend{name: BackendSoftware} },
	})
	names := Available()
	assert.ElementsMatch(t, []string{BackendGL, BackendSoftware}, names)
}
