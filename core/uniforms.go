package core

// UniformState is the fixed-layout numeric block shared by every render
// backend. The float offsets below are the single source of truth: the WGSL
// uniform struct, the GLSL std140 block and the software path all read the
// same indices, and the block is padded so scalar/vec2 alignment works out
// identically under WGSL layout rules and std140.
//
// Byte layout (4 bytes per float, 128 bytes total):
//
//	 0  vec2 resolution          (physical pixels)
//	 8  vec2 inv_resolution
//	16  f32  time                (seconds)
//	20  f32  dpr
//	24  f32  k1
//	28  f32  k2
//	32  f32  scanline
//	36  f32  slot_mask
//	40  f32  vignette
//	44  f32  bloom
//	48  f32  aberration
//	52  f32  noise
//	56  f32  bloom_threshold
//	60  f32  bloom_softness
//	64  vec2 logical_size
//	72  vec2 cursor_pos          (logical pixels)
//	80  f32  cursor_state
//	84  f32  cursor_meta
//	88  ..   padding to 128
const (
	UniformFloatCount = 32
	UniformByteSize   = UniformFloatCount * 4

	UResolutionX    = 0
	UResolutionY    = 1
	UInvResolutionX = 2
	UInvResolutionY = 3
	UTime           = 4
	UDPR            = 5
	UK1             = 6
	UK2             = 7
	UScanline       = 8
	USlotMask       = 9
	UVignette       = 10
	UBloom          = 11
	UAberration     = 12
	UNoise          = 13
	UBloomThreshold = 14
	UBloomSoftness  = 15
	ULogicalWidth   = 16
	ULogicalHeight  = 17
	UCursorX        = 18
	UCursorY        = 19
	UCursorState    = 20
	UCursorMeta     = 21
)

type UniformState struct {
	data [UniformFloatCount]float32
}

// Floats exposes the raw block for upload. Callers must not retain the
// pointer across frames.
func (u *UniformState) Floats() *[UniformFloatCount]float32 { return &u.data }

func (u *UniformState) Set(index int, v float32) {
	u.data[index] = v
}

func (u *UniformState) Get(index int) float32 {
	return u.data[index]
}

func (u *UniformState) SetResolution(w, h float32) {
	u.data[UResolutionX] = w
	u.data[UResolutionY] = h
	if w > 0 {
		u.data[UInvResolutionX] = 1 / w
	} else {
		u.data[UInvResolutionX] = 0
	}
	if h > 0 {
		u.data[UInvResolutionY] = 1 / h
	} else {
		u.data[UInvResolutionY] = 0
	}
}

func (u *UniformState) SetLogicalSize(w, h float32) {
	u.data[ULogicalWidth] = w
	u.data[ULogicalHeight] = h
}

func (u *UniformState) SetTime(t float32) { u.data[UTime] = t }

func (u *UniformState) SetDPR(dpr float32) { u.data[UDPR] = dpr }

func (u *UniformState) SetDistortion(k1, k2 float32) {
	u.data[UK1] = k1
	u.data[UK2] = k2
}

// SetEffects copies the per-effect intensity set in one call; the values
// come straight from whatever configuration surface the host exposes.
func (u *UniformState) SetEffects(scanline, slotMask, vignette, bloom, aberration, noise float32) {
	u.data[UScanline] = scanline
	u.data[USlotMask] = slotMask
	u.data[UVignette] = vignette
	u.data[UBloom] = bloom
	u.data[UAberration] = aberration
	u.data[UNoise] = noise
}

func (u *UniformState) SetBloomShape(threshold, softness float32) {
	u.data[UBloomThreshold] = threshold
	u.data[UBloomSoftness] = softness
}

func (u *UniformState) SetCursor(x, y, state, meta float32) {
	u.data[UCursorX] = x
	u.data[UCursorY] = y
	u.data[UCursorState] = state
	u.data[UCursorMeta] = meta
}
