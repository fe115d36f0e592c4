package components

import (
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

const (
	// 89 degrees, the pitch limit that keeps the view away from the up axis.
	pitchLimit float32 = 1.55334306

	DefaultMoveSpeed float32 = 1.5
	// radians per second for the Q/E keys
	DefaultTurnSpeed float32 = 1.2
	// radians per pixel of mouse movement
	DefaultMouseSensitivity float32 = 0.003
)

/**
 * @brief A fly camera in a Z-up world. Yaw turns about +Z starting at +X,
 * pitch tilts towards +Z. The view matrix is rebuilt lazily.
 */
type Camera struct {
	position math.Vec3
	// yaw and pitch in radians
	yaw   float32
	pitch float32

	MoveSpeed        float32
	TurnSpeed        float32
	MouseSensitivity float32
	// MouseLook turns mouse movement into yaw and pitch.
	MouseLook bool

	isDirty    bool
	viewMatrix math.Mat4
}

// NewCamera returns a camera at (2, 2, 2) looking at the origin.
func NewCamera() *Camera {
	c := &Camera{
		MoveSpeed:        DefaultMoveSpeed,
		TurnSpeed:        DefaultTurnSpeed,
		MouseSensitivity: DefaultMouseSensitivity,
	}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.LookAt(math.NewVec3(2, 2, 2), math.NewVec3Zero())
}

// LookAt places the camera at position facing target.
func (c *Camera) LookAt(position, target math.Vec3) {
	c.position = position
	d := target.Sub(position).Normalized()
	c.yaw = float32(stdmath.Atan2(float64(d.Y), float64(d.X)))
	c.pitch = math.Clamp(float32(stdmath.Asin(float64(d.Z))), -pitchLimit, pitchLimit)
	c.isDirty = true
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

// GetRotation returns yaw and pitch in radians.
func (c *Camera) GetRotation() (yaw, pitch float32) {
	return c.yaw, c.pitch
}

func (c *Camera) GetView() math.Mat4 {
	if c.isDirty {
		c.viewMatrix = math.NewMat4LookAt(c.position, c.position.Add(c.Forward()), math.NewVec3Up())
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) Forward() math.Vec3 {
	cy, sy := stdmath.Cos(float64(c.yaw)), stdmath.Sin(float64(c.yaw))
	cp, sp := stdmath.Cos(float64(c.pitch)), stdmath.Sin(float64(c.pitch))
	return math.NewVec3(float32(cp*cy), float32(cp*sy), float32(sp))
}

func (c *Camera) Right() math.Vec3 {
	return c.Forward().Cross(math.NewVec3Up()).Normalized()
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.position = c.position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Forward(), -amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Right(), -amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up(), amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Up(), -amount)
}

func (c *Camera) Yaw(amount float32) {
	c.yaw += amount
	if c.yaw > math.K_PI {
		c.yaw -= math.K_PI_2
	} else if c.yaw < -math.K_PI {
		c.yaw += math.K_PI_2
	}
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp to avoid Gimbal lock.
	c.pitch = math.Clamp(c.pitch+amount, -pitchLimit, pitchLimit)
	c.isDirty = true
}

// Update applies the held keys for a frame of deltaTime seconds: WASD moves
// in the view plane, Space and Shift move along Z, Q and E turn.
func (c *Camera) Update(input *core.Input, deltaTime float64) {
	step := c.MoveSpeed * float32(deltaTime)
	turn := c.TurnSpeed * float32(deltaTime)
	if input.IsKeyDown(core.KEY_W) {
		c.MoveForward(step)
	}
	if input.IsKeyDown(core.KEY_S) {
		c.MoveBackward(step)
	}
	if input.IsKeyDown(core.KEY_A) {
		c.MoveLeft(step)
	}
	if input.IsKeyDown(core.KEY_D) {
		c.MoveRight(step)
	}
	if input.IsKeyDown(core.KEY_SPACE) {
		c.MoveUp(step)
	}
	if input.IsKeyDown(core.KEY_SHIFT) {
		c.MoveDown(step)
	}
	if input.IsKeyDown(core.KEY_Q) {
		c.Yaw(turn)
	}
	if input.IsKeyDown(core.KEY_E) {
		c.Yaw(-turn)
	}
	if c.MouseLook {
		dx, dy := input.MouseDelta()
		if dx != 0 || dy != 0 {
			c.Yaw(-float32(dx) * c.MouseSensitivity)
			c.Pitch(-float32(dy) * c.MouseSensitivity)
		}
	}
}
