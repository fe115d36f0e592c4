package components

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

func TestDefaultCameraMatchesLookAt(t *testing.T) {
	c := NewCamera()
	want := math.NewMat4LookAt(math.NewVec3(2, 2, 2), math.NewVec3Zero(), math.NewVec3Up())
	if got := c.GetView(); !got.Compare(want, 1e-5) {
		t.Fatalf("view = %v, want %v", got, want)
	}
}

func TestPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	if _, pitch := c.GetRotation(); pitch != pitchLimit {
		t.Errorf("pitch = %v", pitch)
	}
	c.Pitch(-20)
	if _, pitch := c.GetRotation(); pitch != -pitchLimit {
		t.Errorf("pitch = %v", pitch)
	}
}

func TestYawWraps(t *testing.T) {
	c := NewCamera()
	for i := 0; i < 20; i++ {
		c.Yaw(1)
	}
	if yaw, _ := c.GetRotation(); yaw > math.K_PI || yaw < -math.K_PI {
		t.Errorf("yaw = %v", yaw)
	}
}

func TestUpdateMovesWithHeldKeys(t *testing.T) {
	tests := []struct {
		key  core.KeyCode
		want math.Vec3
	}{
		{core.KEY_W, math.NewVec3(1, 0, 0)},
		{core.KEY_S, math.NewVec3(-1, 0, 0)},
		{core.KEY_A, math.NewVec3(0, 1, 0)},
		{core.KEY_D, math.NewVec3(0, -1, 0)},
		{core.KEY_SPACE, math.NewVec3(0, 0, 1)},
		{core.KEY_SHIFT, math.NewVec3(0, 0, -1)},
	}
	for _, tt := range tests {
		c := NewCamera()
		c.MoveSpeed = 1
		// face +X from the origin
		c.LookAt(math.NewVec3Zero(), math.NewVec3(1, 0, 0))
		input := core.NewInput(nil)
		input.ProcessKey(tt.key, true)

		c.Update(input, 1)
		if got := c.GetPosition(); !got.Compare(tt.want, 1e-5) {
			t.Errorf("key %#x moved to %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestUpdateTurns(t *testing.T) {
	c := NewCamera()
	c.LookAt(math.NewVec3Zero(), math.NewVec3(1, 0, 0))
	c.TurnSpeed = math.K_HALF_PI
	input := core.NewInput(nil)
	input.ProcessKey(core.KEY_Q, true)

	before := c.GetView()
	c.Update(input, 1)
	if got := c.Forward(); !got.Compare(math.NewVec3(0, 1, 0), 1e-5) {
		t.Fatalf("forward after a quarter turn = %v", got)
	}
	if c.GetView().Compare(before, 1e-5) {
		t.Fatal("view matrix was not rebuilt")
	}
}

func TestMouseLook(t *testing.T) {
	c := NewCamera()
	c.LookAt(math.NewVec3Zero(), math.NewVec3(1, 0, 0))
	input := core.NewInput(nil)
	input.ProcessMouseMove(0, 100)
	input.Update()
	input.ProcessMouseMove(0, 0)

	c.Update(input, 0)
	if _, pitch := c.GetRotation(); pitch != 0 {
		t.Fatalf("mouse moved the camera without MouseLook: pitch %v", pitch)
	}
	c.MouseLook = true
	c.Update(input, 0)
	if _, pitch := c.GetRotation(); pitch <= 0 {
		t.Fatalf("moving the mouse up gave pitch %v", pitch)
	}
}
