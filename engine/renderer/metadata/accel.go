package metadata

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/lumen/engine/math"
)

type AccelerationStructureType int

const (
	AccelerationStructureBottomLevel AccelerationStructureType = iota
	AccelerationStructureTopLevel
)

func (t AccelerationStructureType) String() string {
	if t == AccelerationStructureTopLevel {
		return "top-level"
	}
	return "bottom-level"
}

type BuildMode int

const (
	// BuildModeBuild creates the structure from scratch.
	BuildModeBuild BuildMode = iota
	// BuildModeUpdate refits a previously built structure in place.
	BuildModeUpdate
)

func (b BuildMode) String() string {
	if b == BuildModeUpdate {
		return "update"
	}
	return "build"
}

type BuildFlags uint32

const (
	BuildAllowUpdate BuildFlags = 1 << iota
	BuildPreferFastTrace
	BuildPreferFastBuild
)

type GeometryFlags uint32

const (
	GeometryOpaque GeometryFlags = 1 << iota
)

type InstanceFlags uint8

const (
	InstanceTriangleCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFlipFacing
	InstanceForceOpaque
	InstanceForceNoOpaque
)

type IndexType int

const (
	IndexTypeUint32 IndexType = iota
)

// TrianglesGeometry describes indexed triangles by device address.
type TrianglesGeometry struct {
	VertexFormat  Format
	VertexAddress uint64
	VertexStride  uint64
	MaxVertex     uint32
	IndexType     IndexType
	IndexAddress  uint64
	Flags         GeometryFlags
}

// InstancesGeometry points at a packed array of Instance records.
type InstancesGeometry struct {
	DataAddress uint64
	Flags       GeometryFlags
}

type AccelerationStructureBuildInfo struct {
	Type  AccelerationStructureType
	Flags BuildFlags
	Mode  BuildMode
	// Src is only read in update mode and may equal Dst.
	Src            AccelerationStructureHandle
	Dst            AccelerationStructureHandle
	Triangles      *TrianglesGeometry
	Instances      *InstancesGeometry
	PrimitiveCount uint32
	ScratchAddress uint64
}

type AccelerationStructureBuildSizes struct {
	StructureSize     uint64
	BuildScratchSize  uint64
	UpdateScratchSize uint64
}

// AccelerationStructureDesc places a structure inside a caller owned buffer.
type AccelerationStructureDesc struct {
	Type   AccelerationStructureType
	Buffer BufferHandle
	Offset uint64
	Size   uint64
}

// InstanceSize is the packed size of one instance record.
const InstanceSize = 64

// Instance is one entry of a top-level structure. It packs to the
// 64-byte record the device reads: a row-major 3x4 transform, the 24-bit
// custom index with an 8-bit mask, the 24-bit binding table offset with 8
// flag bits, then the 64-bit address of a bottom-level structure.
type Instance struct {
	Transform   math.Mat3x4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       InstanceFlags
	Reference   uint64
}

func (in Instance) Encode(dst []byte) {
	for i, f := range in.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], m.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], in.CustomIndex&0xFFFFFF|uint32(in.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], in.SBTOffset&0xFFFFFF|uint32(in.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], in.Reference)
}

func DecodeInstance(src []byte) Instance {
	var in Instance
	for i := range in.Transform {
		in.Transform[i] = m.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	w := binary.LittleEndian.Uint32(src[48:])
	in.CustomIndex = w & 0xFFFFFF
	in.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(src[52:])
	in.SBTOffset = w & 0xFFFFFF
	in.Flags = InstanceFlags(w >> 24)
	in.Reference = binary.LittleEndian.Uint64(src[56:])
	return in
}

func EncodeInstances(instances []Instance) []byte {
	out := make([]byte, len(instances)*InstanceSize)
	for i, in := range instances {
		in.Encode(out[i*InstanceSize:])
	}
	return out
}

func DecodeInstances(src []byte) []Instance {
	out := make([]Instance, len(src)/InstanceSize)
	for i := range out {
		out[i] = DecodeInstance(src[i*InstanceSize:])
	}
	return out
}
