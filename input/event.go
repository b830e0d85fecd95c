package input

// EventType names a pointer or wheel interaction.
type EventType string

const (
	EventPointerDown   EventType = "pointerdown"
	EventPointerMove   EventType = "pointermove"
	EventPointerUp     EventType = "pointerup"
	EventPointerCancel EventType = "pointercancel"
	EventPointerEnter  EventType = "pointerenter"
	EventPointerLeave  EventType = "pointerleave"
	EventWheel         EventType = "wheel"
	EventClick         EventType = "click"
	EventDoubleClick   EventType = "dblclick"
	EventContextMenu   EventType = "contextmenu"
)

// Modifier key bitmask, glfw-compatible values.
const (
	ModShift = 1 << iota
	ModControl
	ModAlt
	ModSuper
)

// Button bitmask.
const (
	ButtonPrimary = 1 << iota
	ButtonSecondary
	ButtonMiddle
)

// PointerEvent is an immutable value record of one interaction sample on
// the render surface, in logical coordinates. Physical-device fields
// (pressure, tilt, twist) pass through remapping untouched; only
// coordinates, movement and target change.
type PointerEvent struct {
	Type      EventType
	PointerID int

	X, Y   float64
	DX, DY float64

	Button   int
	Buttons  int
	Mods     int
	Pressure float64
	TiltX    float64
	TiltY    float64
	Twist    float64

	WheelX float64
	WheelY float64

	// Coalesced carries high-frequency sub-samples batched into this
	// event. Each is remapped and dispatched individually, in order.
	Coalesced []PointerEvent
}

// Target receives remapped synthetic events. Handle reports whether the
// event was consumed; an unconsumed dispatch still suppresses the
// original so input is never double-applied.
type Target interface {
	Handle(ev PointerEvent) bool
}

// HitTester resolves the interactive target under a logical point.
type HitTester interface {
	TargetAt(x, y float64) Target
}

// SurfaceControl lets the proxy punch through the render surface during
// hit-testing. Interception is disabled before resolving a target and
// restored on the next frame tick, debounced across events.
type SurfaceControl interface {
	SetHitTestBypass(bypass bool)
}
