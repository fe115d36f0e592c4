package metadata

// Opaque backend object handles. The zero value never names a live object.
type (
	BufferHandle                uint64
	ImageHandle                 uint64
	AccelerationStructureHandle uint64
	PipelineHandle              uint64
	BindGroupHandle             uint64
	FenceHandle                 uint64
	SemaphoreHandle             uint64
)

const InvalidHandle = 0

type Format int

const (
	FormatUndefined Format = iota
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatD32Sfloat
)

func (f Format) String() string {
	switch f {
	case FormatR32G32Sfloat:
		return "R32G32Sfloat"
	case FormatR32G32B32Sfloat:
		return "R32G32B32Sfloat"
	case FormatR32G32B32A32Sfloat:
		return "R32G32B32A32Sfloat"
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8Unorm"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8Unorm"
	case FormatB8G8R8A8Srgb:
		return "B8G8R8A8Srgb"
	case FormatD32Sfloat:
		return "D32Sfloat"
	}
	return "Undefined"
}

// IsDepth reports whether the format has a depth aspect.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
)

type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	// Host visible memory is always allocated coherent.
	MemoryHostVisible
)

type BufferDesc struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryProperty
}

type ImageUsage uint32

const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageDepthStencilAttachment
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either side is zero, as for a minimised window.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type ImageDesc struct {
	Extent Extent2D
	Format Format
	Usage  ImageUsage
}
