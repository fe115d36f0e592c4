package metadata

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/lumen/engine/math"
)

// Light is a point light as laid out in the light storage buffer (std430).
type Light struct {
	/** @brief xyz position, w is 1. */
	Position math.Vec4
	/** @brief rgb colour, a is unused. */
	Colour math.Vec4
}

const LightSize = 32

func EncodeLights(lights []Light) []byte {
	out := make([]byte, len(lights)*LightSize)
	for i, l := range lights {
		o := out[i*LightSize:]
		putVec4(o, l.Position)
		putVec4(o[16:], l.Colour)
	}
	return out
}

func DecodeLights(src []byte) []Light {
	out := make([]Light, len(src)/LightSize)
	for i := range out {
		o := src[i*LightSize:]
		out[i] = Light{Position: getVec4(o), Colour: getVec4(o[16:])}
	}
	return out
}

// MeshPushConstants is the per-draw model matrix.
type MeshPushConstants struct {
	Model math.Mat4
}

const MeshPushConstantsSize = 64

func (p MeshPushConstants) Bytes() []byte {
	out := make([]byte, MeshPushConstantsSize)
	putMat4(out, p.Model)
	return out
}

func DecodeMeshPushConstants(src []byte) MeshPushConstants {
	return MeshPushConstants{Model: getMat4(src)}
}

// UniformBufferObject holds the camera matrices of one frame slot.
type UniformBufferObject struct {
	Model math.Mat4
	View  math.Mat4
	Proj  math.Mat4
}

const UniformBufferObjectSize = 192

func (u UniformBufferObject) Bytes() []byte {
	out := make([]byte, UniformBufferObjectSize)
	putMat4(out, u.Model)
	putMat4(out[64:], u.View)
	putMat4(out[128:], u.Proj)
	return out
}

func DecodeUniformBufferObject(src []byte) UniformBufferObject {
	return UniformBufferObject{
		Model: getMat4(src),
		View:  getMat4(src[64:]),
		Proj:  getMat4(src[128:]),
	}
}

// FrameSlotState tracks where a frame slot is in its reuse cycle.
type FrameSlotState int

const (
	FrameSlotIdle FrameSlotState = iota
	FrameSlotRecording
	FrameSlotSubmitted
	FrameSlotPresentPending
)

func (s FrameSlotState) String() string {
	switch s {
	case FrameSlotIdle:
		return "idle"
	case FrameSlotRecording:
		return "recording"
	case FrameSlotSubmitted:
		return "submitted"
	case FrameSlotPresentPending:
		return "present pending"
	}
	return "unknown"
}

func putVec4(dst []byte, v math.Vec4) {
	binary.LittleEndian.PutUint32(dst, m.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:], m.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:], m.Float32bits(v.Z))
	binary.LittleEndian.PutUint32(dst[12:], m.Float32bits(v.W))
}

func getVec4(src []byte) math.Vec4 {
	return math.Vec4{
		X: m.Float32frombits(binary.LittleEndian.Uint32(src)),
		Y: m.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		Z: m.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
		W: m.Float32frombits(binary.LittleEndian.Uint32(src[12:])),
	}
}

func putMat4(dst []byte, mat math.Mat4) {
	for i, f := range mat.Data {
		binary.LittleEndian.PutUint32(dst[i*4:], m.Float32bits(f))
	}
}

func getMat4(src []byte) math.Mat4 {
	var out math.Mat4
	for i := range out.Data {
		out.Data[i] = m.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out
}

// EncodeVertices packs vertices with the Vertex3D layout.
func EncodeVertices(vertices []math.Vertex3D) []byte {
	out := make([]byte, len(vertices)*math.Vertex3DSize)
	for i, v := range vertices {
		o := out[i*math.Vertex3DSize:]
		floats := [12]float32{
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Normal.X, v.Normal.Y, v.Normal.Z,
			v.Texcoord.X, v.Texcoord.Y,
			v.Colour.X, v.Colour.Y, v.Colour.Z, v.Colour.W,
		}
		for j, f := range floats {
			binary.LittleEndian.PutUint32(o[j*4:], m.Float32bits(f))
		}
	}
	return out
}

// DecodeVertex reads the vertex at the start of src.
func DecodeVertex(src []byte) math.Vertex3D {
	f := func(i int) float32 {
		return m.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return math.Vertex3D{
		Position: math.Vec3{X: f(0), Y: f(1), Z: f(2)},
		Normal:   math.Vec3{X: f(3), Y: f(4), Z: f(5)},
		Texcoord: math.Vec2{X: f(6), Y: f(7)},
		Colour:   math.Vec4{X: f(8), Y: f(9), Z: f(10), W: f(11)},
	}
}

func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}
