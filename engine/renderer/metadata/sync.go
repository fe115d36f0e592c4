package metadata

import "strings"

type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthAttachmentOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutGeneral:
		return "General"
	case ImageLayoutColorAttachmentOptimal:
		return "ColorAttachmentOptimal"
	case ImageLayoutDepthAttachmentOptimal:
		return "DepthAttachmentOptimal"
	case ImageLayoutShaderReadOnlyOptimal:
		return "ShaderReadOnlyOptimal"
	case ImageLayoutTransferSrcOptimal:
		return "TransferSrcOptimal"
	case ImageLayoutTransferDstOptimal:
		return "TransferDstOptimal"
	case ImageLayoutPresentSrc:
		return "PresentSrc"
	}
	return "Undefined"
}

type AccessFlags uint32

const AccessNone AccessFlags = 0

const (
	AccessIndexRead AccessFlags = 1 << iota
	AccessVertexAttributeRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessAccelerationStructureRead
	AccessAccelerationStructureWrite
	AccessMemoryRead
	AccessMemoryWrite
)

var accessNames = []string{
	"IndexRead", "VertexAttributeRead", "UniformRead", "ShaderRead", "ShaderWrite",
	"ColorAttachmentRead", "ColorAttachmentWrite", "DepthStencilRead", "DepthStencilWrite",
	"TransferRead", "TransferWrite", "HostRead", "HostWrite",
	"AccelerationStructureRead", "AccelerationStructureWrite", "MemoryRead", "MemoryWrite",
}

func (a AccessFlags) String() string {
	return flagString(uint32(a), accessNames)
}

// Covers reports whether a includes every bit of other. The memory
// read/write bits stand for all reads/writes.
func (a AccessFlags) Covers(other AccessFlags) bool {
	if a&AccessMemoryRead != 0 {
		a |= readAccesses
	}
	if a&AccessMemoryWrite != 0 {
		a |= writeAccesses
	}
	return a&other == other
}

const readAccesses = AccessIndexRead | AccessVertexAttributeRead | AccessUniformRead | AccessShaderRead |
	AccessColorAttachmentRead | AccessDepthStencilRead | AccessTransferRead | AccessHostRead |
	AccessAccelerationStructureRead | AccessMemoryRead

const writeAccesses = AccessShaderWrite | AccessColorAttachmentWrite | AccessDepthStencilWrite |
	AccessTransferWrite | AccessHostWrite | AccessAccelerationStructureWrite | AccessMemoryWrite

// IsWrite reports whether any write bit is set.
func (a AccessFlags) IsWrite() bool {
	return a&writeAccesses != 0
}

type PipelineStageFlags uint32

const PipelineStageNone PipelineStageFlags = 0

const (
	PipelineStageTopOfPipe PipelineStageFlags = 1 << iota
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageHost
	PipelineStageAccelerationStructureBuild
	PipelineStageAllCommands
)

var stageNames = []string{
	"TopOfPipe", "VertexInput", "VertexShader", "FragmentShader", "EarlyFragmentTests",
	"LateFragmentTests", "ColorAttachmentOutput", "ComputeShader", "Transfer", "BottomOfPipe",
	"Host", "AccelerationStructureBuild", "AllCommands",
}

func (s PipelineStageFlags) String() string {
	return flagString(uint32(s), stageNames)
}

// Intersects reports whether the two stage masks share a stage.
func (s PipelineStageFlags) Intersects(other PipelineStageFlags) bool {
	if s&PipelineStageAllCommands != 0 || other&PipelineStageAllCommands != 0 {
		return s != 0 && other != 0
	}
	return s&other != 0
}

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "None"
	}
	var parts []string
	for i, n := range names {
		if v&(1<<uint(i)) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

type ImageAspect int

const (
	ImageAspectColor ImageAspect = iota
	ImageAspectDepth
)

// MemoryBarrier orders every resource written in the source scope against
// accesses in the destination scope.
type MemoryBarrier struct {
	SrcStage  PipelineStageFlags
	SrcAccess AccessFlags
	DstStage  PipelineStageFlags
	DstAccess AccessFlags
}

type BufferBarrier struct {
	Buffer    BufferHandle
	SrcStage  PipelineStageFlags
	SrcAccess AccessFlags
	DstStage  PipelineStageFlags
	DstAccess AccessFlags
}

// ImageBarrier orders accesses to one image and optionally transitions its layout.
type ImageBarrier struct {
	Image     ImageHandle
	Aspect    ImageAspect
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStageFlags
	SrcAccess AccessFlags
	DstStage  PipelineStageFlags
	DstAccess AccessFlags
}

// Dependency groups the barriers recorded by one pipeline barrier command.
type Dependency struct {
	MemoryBarriers []MemoryBarrier
	BufferBarriers []BufferBarrier
	ImageBarriers  []ImageBarrier
}

// SwapchainStatus is the non-fatal outcome of acquire and present.
type SwapchainStatus int

const (
	SwapchainOK SwapchainStatus = iota
	SwapchainSuboptimal
	SwapchainOutOfDate
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainOK:
		return "ok"
	case SwapchainSuboptimal:
		return "suboptimal"
	case SwapchainOutOfDate:
		return "out of date"
	}
	return "unknown"
}

type SwapchainInfo struct {
	Format Format
	Extent Extent2D
	Images []ImageHandle
}

type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []SemaphoreHandle
	WaitStages       []PipelineStageFlags
	SignalSemaphores []SemaphoreHandle
	Fence            FenceHandle
}
