package renderer

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

// SpinDegreesPerSecond is how fast dynamic objects turn about +Z.
const SpinDegreesPerSecond = 10

// SceneModels returns the model matrix of every submesh at time seconds.
// All submeshes but the last are dynamic: stood up by a quarter turn about
// +X, then spun about +Z. The last one is the static backdrop.
func SceneModels(seconds float64, count int) []math.Mat4 {
	angle := float32(seconds*SpinDegreesPerSecond) * math.K_DEG2RAD_MULTIPLIER
	dynamic := math.NewMat4EulerX(math.K_HALF_PI).Mul(math.NewMat4EulerZ(angle))
	models := make([]math.Mat4, count)
	for i := range models {
		models[i] = dynamic
	}
	if count > 0 {
		models[count-1] = math.NewMat4Identity()
	}
	return models
}

// InstanceTransforms reduces model matrices to instance transforms.
func InstanceTransforms(models []math.Mat4) []math.Mat3x4 {
	out := make([]math.Mat3x4, len(models))
	for i, m := range models {
		out[i] = m.ToMat3x4()
	}
	return out
}
