package gpu

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/phosphor3d/phosphor/capture"
	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/half"
	"github.com/phosphor3d/phosphor/lut"
	"github.com/phosphor3d/phosphor/perf"
	"github.com/phosphor3d/phosphor/shaders"
)

func init() {
	Register(BackendGL, func(log core.Logger) Backend { return newGLBackend(log) })
}

const glTimerQueryCount = 4

// glBackend renders the CRT pass on an OpenGL 3.3 core context. The
// window's context must be current on the calling goroutine for every
// method after Init.
type glBackend struct {
	log    core.Logger
	window *glfw.Window

	program    uint32
	vao        uint32
	uniformBuf uint32
	sceneTex   uint32
	lutTex     uint32

	sceneW, sceneH int
	lutW, lutH     int

	// Timer query ring. Queries resolve a frame or two late, so results
	// are polled rather than waited on.
	queries      [glTimerQueryCount]uint32
	queryIssued  [glTimerQueryCount]bool
	queryCursor  int
	lastGPUMs    float64
	lastGPUValid bool

	pixelW, pixelH     int
	logicalW, logicalH int

	initialized bool
}

func newGLBackend(log core.Logger) *glBackend {
	return &glBackend{log: core.EnsureLogger(log)}
}

func (b *glBackend) Name() string         { return BackendGL }
func (b *glBackend) WindowAPI() WindowAPI { return WindowAPIOpenGL }

// Probe cannot create a context without a window, so it only verifies the
// bindings load. Context-level failures surface from Init and the
// selector falls through to the software backend.
func (b *glBackend) Probe() error {
	return nil
}

func (b *glBackend) Init(surface Surface) error {
	if surface.Window == nil {
		return fmt.Errorf("%w: gl needs a window surface", ErrBackendNotAvailable)
	}
	b.window = surface.Window
	b.window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		return fmt.Errorf("%w: gl init: %v", ErrBackendNotAvailable, err)
	}
	version := gl.GoStr(gl.GetString(gl.VERSION))

	program, err := b.buildProgram(shaders.CRTVertexGLSL, shaders.CRTFragmentGLSL)
	if err != nil {
		return err
	}
	b.program = program

	// Core profile requires a bound VAO even for attribute-less draws.
	gl.GenVertexArrays(1, &b.vao)

	gl.GenBuffers(1, &b.uniformBuf)
	gl.BindBuffer(gl.UNIFORM_BUFFER, b.uniformBuf)
	gl.BufferData(gl.UNIFORM_BUFFER, core.UniformByteSize, nil, gl.DYNAMIC_DRAW)
	gl.BindBufferBase(gl.UNIFORM_BUFFER, 0, b.uniformBuf)
	blockIndex := gl.GetUniformBlockIndex(b.program, gl.Str("Uniforms\x00"))
	if blockIndex != gl.INVALID_INDEX {
		gl.UniformBlockBinding(b.program, blockIndex, 0)
	}

	gl.UseProgram(b.program)
	if loc := gl.GetUniformLocation(b.program, gl.Str("scene_tex\x00")); loc >= 0 {
		gl.Uniform1i(loc, 0)
	}
	if loc := gl.GetUniformLocation(b.program, gl.Str("lut_tex\x00")); loc >= 0 {
		gl.Uniform1i(loc, 1)
	}

	b.allocSceneTexture(1, 1, []byte{0, 0, 0, 255})
	b.allocLUTTexture(lut.TableSize, lut.TableSize,
		make([]uint16, lut.TableSize*lut.TableSize*2))

	gl.GenQueries(glTimerQueryCount, &b.queries[0])

	b.pixelW, b.pixelH = b.window.GetFramebufferSize()
	b.logicalW, b.logicalH = b.window.GetSize()
	b.initialized = true
	b.log.Infof("gl backend initialized (%s, %dx%d)", version, b.pixelW, b.pixelH)
	return nil
}

func (b *glBackend) buildProgram(vertSrc, fragSrc string) (uint32, error) {
	vert, err := compileShader(gl.VERTEX_SHADER, vertSrc)
	if err != nil {
		return 0, fmt.Errorf("gpu: vertex %w", err)
	}
	defer gl.DeleteShader(vert)
	frag, err := compileShader(gl.FRAGMENT_SHADER, fragSrc)
	if err != nil {
		return 0, fmt.Errorf("gpu: fragment %w", err)
	}
	defer gl.DeleteShader(frag)

	program := gl.CreateProgram()
	gl.AttachShader(program, vert)
	gl.AttachShader(program, frag)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		infoLog := strings.Repeat("\x00", int(logLen)+1)
		gl.GetProgramInfoLog(program, logLen, nil, gl.Str(infoLog))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("gpu: program link failed: %s", strings.TrimRight(infoLog, "\x00"))
	}
	return program, nil
}

func compileShader(kind uint32, source string) (uint32, error) {
	shader := gl.CreateShader(kind)
	csrc, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csrc, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		infoLog := strings.Repeat("\x00", int(logLen)+1)
		gl.GetShaderInfoLog(shader, logLen, nil, gl.Str(infoLog))
		gl.DeleteShader(shader)
		return 0, annotateShaderError("shader", source,
			fmt.Errorf("%s", strings.TrimRight(infoLog, "\x00")))
	}
	return shader, nil
}

func (b *glBackend) allocSceneTexture(w, h int, pixels []byte) {
	if b.sceneTex == 0 {
		gl.GenTextures(1, &b.sceneTex)
	}
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, b.sceneTex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	var ptr unsafe.Pointer
	if len(pixels) > 0 {
		ptr = gl.Ptr(pixels)
	}
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(w), int32(h), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, ptr)
	b.sceneW, b.sceneH = w, h
}

func (b *glBackend) allocLUTTexture(w, h int, halves []uint16) {
	if b.lutTex == 0 {
		gl.GenTextures(1, &b.lutTex)
	}
	gl.ActiveTexture(gl.TEXTURE1)
	gl.BindTexture(gl.TEXTURE_2D, b.lutTex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RG16F, int32(w), int32(h), 0,
		gl.RG, gl.HALF_FLOAT, gl.Ptr(halves))
	b.lutW, b.lutH = w, h
}

func (b *glBackend) Resize(pixelW, pixelH, logicalW, logicalH int) {
	if !b.initialized {
		return
	}
	if pixelW < 1 {
		pixelW = 1
	}
	if pixelH < 1 {
		pixelH = 1
	}
	b.pixelW, b.pixelH = pixelW, pixelH
	b.logicalW, b.logicalH = logicalW, logicalH
}

func (b *glBackend) UpdateTexture(frame *capture.Frame) error {
	if frame == nil {
		return nil
	}
	defer frame.Close()
	if !b.initialized {
		return ErrNotInitialized
	}
	if frame.Pixels == nil {
		return fmt.Errorf("gpu: frame already released")
	}

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, b.sceneTex)
	if frame.Width == b.sceneW && frame.Height == b.sceneH {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0,
			int32(frame.Width), int32(frame.Height),
			gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(frame.Pixels.Pix))
	} else {
		b.allocSceneTexture(frame.Width, frame.Height, frame.Pixels.Pix)
	}
	return b.checkError("scene upload")
}

func (b *glBackend) UpdateGeometry(params core.GeometryParams, tables *lut.Tables) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if tables == nil {
		return nil
	}
	halves := half.Encode(tables.Inverse)
	if tables.Width == b.lutW && tables.Height == b.lutH {
		gl.ActiveTexture(gl.TEXTURE1)
		gl.BindTexture(gl.TEXTURE_2D, b.lutTex)
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0,
			int32(tables.Width), int32(tables.Height),
			gl.RG, gl.HALF_FLOAT, gl.Ptr(halves))
	} else {
		b.allocLUTTexture(tables.Width, tables.Height, halves)
	}
	return b.checkError("lut upload")
}

func (b *glBackend) Render(u *core.UniformState) (perf.FrameTimings, error) {
	var t perf.FrameTimings
	if !b.initialized {
		return t, ErrNotInitialized
	}
	start := time.Now()

	b.pollTimerQueries()

	gl.Viewport(0, 0, int32(b.pixelW), int32(b.pixelH))
	gl.BindBuffer(gl.UNIFORM_BUFFER, b.uniformBuf)
	floats := u.Floats()
	gl.BufferSubData(gl.UNIFORM_BUFFER, 0, core.UniformByteSize, gl.Ptr(floats[:]))

	timed := !b.queryIssued[b.queryCursor]
	if timed {
		gl.BeginQuery(gl.TIME_ELAPSED, b.queries[b.queryCursor])
	}

	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.UseProgram(b.program)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, b.sceneTex)
	gl.ActiveTexture(gl.TEXTURE1)
	gl.BindTexture(gl.TEXTURE_2D, b.lutTex)
	gl.BindVertexArray(b.vao)
	gl.DrawArrays(gl.TRIANGLES, 0, 3)
	gl.BindVertexArray(0)

	if timed {
		gl.EndQuery(gl.TIME_ELAPSED)
		b.queryIssued[b.queryCursor] = true
		b.queryCursor = (b.queryCursor + 1) % glTimerQueryCount
	}

	drawDone := time.Now()
	b.window.SwapBuffers()
	end := time.Now()

	if err := b.checkError("render"); err != nil {
		return t, err
	}

	t.Render = end.Sub(start).Seconds() * 1000
	if b.lastGPUValid {
		t.GPU = b.lastGPUMs
		t.GPUTrusted = true
	} else {
		t.GPU = end.Sub(drawDone).Seconds() * 1000
		t.GPUTrusted = false
	}
	t.Stages = map[string]float64{
		"draw": drawDone.Sub(start).Seconds() * 1000,
		"swap": end.Sub(drawDone).Seconds() * 1000,
	}
	return t, nil
}

// pollTimerQueries harvests any finished GL_TIME_ELAPSED queries. A GL
// error raised since the last poll invalidates the reading, because the
// counter may span a faulted stretch of work; the previous trusted value
// is kept and the result discarded.
func (b *glBackend) pollTimerQueries() {
	faulted := gl.GetError() != gl.NO_ERROR
	for i := 0; i < glTimerQueryCount; i++ {
		if !b.queryIssued[i] {
			continue
		}
		var available int32
		gl.GetQueryObjectiv(b.queries[i], gl.QUERY_RESULT_AVAILABLE, &available)
		if available == 0 {
			continue
		}
		var nanos uint64
		gl.GetQueryObjectui64v(b.queries[i], gl.QUERY_RESULT, &nanos)
		b.queryIssued[i] = false
		if faulted {
			continue
		}
		b.lastGPUMs = float64(nanos) / 1e6
		b.lastGPUValid = true
	}
	if faulted {
		b.log.Warnf("gl error pending, discarding timer query results this frame")
	}
}

func (b *glBackend) checkError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gpu: gl error 0x%04x during %s", code, op)
	}
	return nil
}

func (b *glBackend) Destroy() {
	if !b.initialized {
		return
	}
	b.initialized = false
	gl.DeleteQueries(glTimerQueryCount, &b.queries[0])
	if b.lutTex != 0 {
		gl.DeleteTextures(1, &b.lutTex)
		b.lutTex = 0
	}
	if b.sceneTex != 0 {
		gl.DeleteTextures(1, &b.sceneTex)
		b.sceneTex = 0
	}
	if b.uniformBuf != 0 {
		gl.DeleteBuffers(1, &b.uniformBuf)
		b.uniformBuf = 0
	}
	if b.vao != 0 {
		gl.DeleteVertexArrays(1, &b.vao)
		b.vao = 0
	}
	if b.program != 0 {
		gl.DeleteProgram(b.program)
		b.program = 0
	}
	b.window = nil
}
