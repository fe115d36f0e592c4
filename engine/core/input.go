package core

import "sync"

// Key code definitions, values follow the virtual-key table.
type KeyCode uint16

const (
	KEY_SPACE  KeyCode = 0x20
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SHIFT  KeyCode = 0x10
	KEY_A      KeyCode = 0x41
	KEY_D      KeyCode = 0x44
	KEY_E      KeyCode = 0x45
	KEY_Q      KeyCode = 0x51
	KEY_S      KeyCode = 0x53
	KEY_W      KeyCode = 0x57
	KEYS_MAX_KEYS
)

// Mouse state structure
type MouseState struct {
	X, Y float64
}

// Keyboard state structure
type KeyboardState struct {
	Keys [256]bool
}

// Input holds current and previous states for keyboard and mouse. Key and
// mouse changes are also fired on the bus.
type Input struct {
	mu               sync.Mutex
	bus              *EventBus
	keyboardCurrent  KeyboardState
	keyboardPrevious KeyboardState
	mouseCurrent     MouseState
	mousePrevious    MouseState
}

func NewInput(bus *EventBus) *Input {
	return &Input{bus: bus}
}

// Update copies current states to previous states. Call once per frame after
// input has been consumed.
func (in *Input) Update() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.keyboardPrevious = in.keyboardCurrent
	in.mousePrevious = in.mouseCurrent
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.keyboardCurrent.Keys[uint8(key)]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.keyboardPrevious.Keys[uint8(key)]
}

// MouseDelta returns the movement since the last Update.
func (in *Input) MouseDelta() (float64, float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.mouseCurrent.X - in.mousePrevious.X, in.mouseCurrent.Y - in.mousePrevious.Y
}

func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	in.mu.Lock()
	changed := in.keyboardCurrent.Keys[uint8(key)] != pressed
	in.keyboardCurrent.Keys[uint8(key)] = pressed
	in.mu.Unlock()

	// Only fire if the state actually changed.
	if !changed || in.bus == nil {
		return
	}
	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	ctx := EventContext{}
	ctx.U16[0] = uint16(key)
	in.bus.Fire(code, in, ctx)
}

func (in *Input) ProcessMouseMove(x, y float64) {
	in.mu.Lock()
	in.mouseCurrent.X = x
	in.mouseCurrent.Y = y
	in.mu.Unlock()

	if in.bus == nil {
		return
	}
	ctx := EventContext{}
	ctx.F64[0] = x
	ctx.F64[1] = y
	in.bus.Fire(EVENT_CODE_MOUSE_MOVED, in, ctx)
}
