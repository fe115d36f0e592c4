package renderer

import (
	"context"
	stdmath "math"
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// WaitForever disables the fence wait timeout.
const WaitForever = time.Duration(stdmath.MaxInt64)

// CommandBuffer is recorded by the core and executed by a Device.
type CommandBuffer = metadata.CommandBuffer

// Device is everything the renderer needs from a graphics backend. All
// methods are called from the render goroutine.
type Device interface {
	CreateBuffer(desc metadata.BufferDesc) (metadata.BufferHandle, error)
	DestroyBuffer(h metadata.BufferHandle)
	// WriteBuffer copies data into host visible memory.
	WriteBuffer(h metadata.BufferHandle, offset uint64, data []byte) error
	BufferAddress(h metadata.BufferHandle) uint64

	CreateImage(desc metadata.ImageDesc) (metadata.ImageHandle, error)
	DestroyImage(h metadata.ImageHandle)

	AccelerationStructureBuildSizes(info metadata.AccelerationStructureBuildInfo) metadata.AccelerationStructureBuildSizes
	CreateAccelerationStructure(desc metadata.AccelerationStructureDesc) (metadata.AccelerationStructureHandle, error)
	DestroyAccelerationStructure(h metadata.AccelerationStructureHandle)
	AccelerationStructureAddress(h metadata.AccelerationStructureHandle) uint64

	CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (metadata.PipelineHandle, error)
	CreateComputePipeline(desc metadata.ComputePipelineDesc) (metadata.PipelineHandle, error)
	DestroyPipeline(h metadata.PipelineHandle)
	CreateBindGroup(p metadata.PipelineHandle, bindings []metadata.Binding) (metadata.BindGroupHandle, error)
	UpdateBindGroup(g metadata.BindGroupHandle, bindings []metadata.Binding) error
	DestroyBindGroup(g metadata.BindGroupHandle)

	CreateFence(signaled bool) (metadata.FenceHandle, error)
	// WaitForFence blocks until the fence signals, the timeout elapses or
	// ctx is done. A timeout is an error.
	WaitForFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error
	ResetFence(h metadata.FenceHandle) error
	FenceStatus(h metadata.FenceHandle) (bool, error)
	DestroyFence(h metadata.FenceHandle)
	CreateSemaphore() (metadata.SemaphoreHandle, error)
	DestroySemaphore(h metadata.SemaphoreHandle)

	AllocateCommandBuffer() (CommandBuffer, error)
	FreeCommandBuffer(cb CommandBuffer)
	Submit(info metadata.SubmitInfo) error
	WaitIdle() error

	// CreateSwapchain replaces any existing swapchain. The extent is clamped
	// to what the surface supports.
	CreateSwapchain(width, height uint32) (metadata.SwapchainInfo, error)
	DestroySwapchain()
	AcquireNextImage(ctx context.Context, signal metadata.SemaphoreHandle) (uint32, metadata.SwapchainStatus, error)
	Present(image uint32, wait metadata.SemaphoreHandle) (metadata.SwapchainStatus, error)

	Shutdown() error
}
