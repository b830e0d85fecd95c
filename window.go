package phosphor

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/phosphor3d/phosphor/gpu"
	"github.com/phosphor3d/phosphor/input"
)

// windowState owns the glfw window and translates its callbacks into
// pointer events for the proxy.
type windowState struct {
	win    *glfw.Window
	width  int
	height int

	proxy   *input.Proxy
	lastX   float64
	lastY   float64
	buttons int
	mods    int
}

func openWindow(width, height int, title string, api gpu.WindowAPI) (*windowState, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("phosphor: glfw init: %w", err)
	}

	if api == gpu.WindowAPIOpenGL {
		glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLAPI)
		glfw.WindowHint(glfw.ContextVersionMajor, 3)
		glfw.WindowHint(glfw.ContextVersionMinor, 3)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
		glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	} else {
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	}
	glfw.WindowHint(glfw.Resizable, glfw.True)

	if title == "" {
		title = "phosphor"
	}
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("phosphor: create window: %w", err)
	}

	return &windowState{win: win, width: width, height: height}, nil
}

// attachInput routes cursor, button and scroll callbacks into the proxy.
func (w *windowState) attachInput(proxy *input.Proxy) {
	w.proxy = proxy

	w.win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		ev := input.PointerEvent{
			Type:      input.EventPointerMove,
			PointerID: 0,
			X:         x,
			Y:         y,
			DX:        x - w.lastX,
			DY:        y - w.lastY,
			Buttons:   w.buttons,
			Mods:      w.mods,
		}
		w.lastX, w.lastY = x, y
		w.proxy.Handle(ev)
	})

	w.win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		w.mods = translateMods(mods)
		bit := buttonBit(button)
		evType := input.EventPointerUp
		if action == glfw.Press {
			evType = input.EventPointerDown
			w.buttons |= bit
		} else {
			w.buttons &^= bit
		}
		w.proxy.Handle(input.PointerEvent{
			Type:      evType,
			PointerID: 0,
			X:         w.lastX,
			Y:         w.lastY,
			Button:    int(button),
			Buttons:   w.buttons,
			Mods:      w.mods,
			Pressure:  pressureFor(action),
		})
		if evType == input.EventPointerUp && button == glfw.MouseButtonRight {
			w.proxy.Handle(input.PointerEvent{
				Type:      input.EventContextMenu,
				PointerID: 0,
				X:         w.lastX,
				Y:         w.lastY,
				Mods:      w.mods,
			})
		}
	})

	w.win.SetScrollCallback(func(_ *glfw.Window, xoff, yoff float64) {
		w.proxy.Handle(input.PointerEvent{
			Type:      input.EventWheel,
			PointerID: 0,
			X:         w.lastX,
			Y:         w.lastY,
			Buttons:   w.buttons,
			Mods:      w.mods,
			WheelX:    xoff,
			WheelY:    yoff,
		})
	})

	w.win.SetCursorEnterCallback(func(_ *glfw.Window, entered bool) {
		evType := input.EventPointerLeave
		if entered {
			evType = input.EventPointerEnter
		}
		w.proxy.Handle(input.PointerEvent{
			Type:      evType,
			PointerID: 0,
			X:         w.lastX,
			Y:         w.lastY,
			Buttons:   w.buttons,
		})
	})
}

func buttonBit(button glfw.MouseButton) int {
	switch button {
	case glfw.MouseButtonLeft:
		return input.ButtonPrimary
	case glfw.MouseButtonRight:
		return input.ButtonSecondary
	case glfw.MouseButtonMiddle:
		return input.ButtonMiddle
	default:
		return 1 << (3 + uint(button))
	}
}

func translateMods(mods glfw.ModifierKey) int {
	out := 0
	if mods&glfw.ModShift != 0 {
		out |= input.ModShift
	}
	if mods&glfw.ModControl != 0 {
		out |= input.ModControl
	}
	if mods&glfw.ModAlt != 0 {
		out |= input.ModAlt
	}
	if mods&glfw.ModSuper != 0 {
		out |= input.ModSuper
	}
	return out
}

// pressureFor synthesizes a binary pressure value for mouse input; real
// stylus pressure would come from a platform tablet API.
func pressureFor(action glfw.Action) float64 {
	if action == glfw.Press {
		return 0.5
	}
	return 0
}

// ShouldClose reports whether the user asked the window to close.
func (w *windowState) shouldClose() bool { return w.win.ShouldClose() }

func (w *windowState) poll() { glfw.PollEvents() }

func (w *windowState) close() {
	if w.win != nil {
		w.win.Destroy()
		w.win = nil
	}
	glfw.Terminate()
}
