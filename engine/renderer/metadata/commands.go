package metadata

import "github.com/spaghettifunk/lumen/engine/math"

type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type ColorAttachment struct {
	Image  ImageHandle
	Layout ImageLayout
	Load   LoadOp
	Store  StoreOp
	Clear  math.Vec4
}

type DepthAttachment struct {
	Image      ImageHandle
	Layout     ImageLayout
	Load       LoadOp
	Store      StoreOp
	ClearDepth float32
}

// RenderingInfo describes one raster pass over a set of attachments.
type RenderingInfo struct {
	Extent Extent2D
	Colors []ColorAttachment
	Depth  *DepthAttachment
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect2D struct {
	X, Y   int32
	Extent Extent2D
}

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// BlitInfo copies the whole source extent onto the whole destination extent.
type BlitInfo struct {
	Src       ImageHandle
	SrcLayout ImageLayout
	SrcExtent Extent2D
	Dst       ImageHandle
	DstLayout ImageLayout
	DstExtent Extent2D
	Filter    Filter
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

/**
 * @brief A recorded sequence of device commands. Recording calls do not
 * return errors; the first recording error is reported by End.
 */
type CommandBuffer interface {
	/** @brief Starts recording. Resets the buffer first. */
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	PipelineBarrier(dep Dependency)
	UpdateBuffer(dst BufferHandle, offset uint64, data []byte)
	CopyBuffer(src, dst BufferHandle, regions ...BufferCopy)
	BuildAccelerationStructure(info AccelerationStructureBuildInfo)

	BeginRendering(info RenderingInfo)
	EndRendering()
	BindPipeline(p PipelineHandle)
	BindGroup(p PipelineHandle, g BindGroupHandle)
	BindVertexBuffer(b BufferHandle, offset uint64)
	BindIndexBuffer(b BufferHandle, offset uint64, t IndexType)
	SetViewport(v Viewport)
	SetScissor(r Rect2D)
	PushConstants(p PipelineHandle, stages ShaderStageFlags, offset uint32, data []byte)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)
	BlitImage(info BlitInfo)
}
