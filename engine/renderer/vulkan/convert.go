package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

var formats = []struct {
	m metadata.Format
	v vk.Format
}{
	{metadata.FormatUndefined, vk.FormatUndefined},
	{metadata.FormatR32G32Sfloat, vk.FormatR32g32Sfloat},
	{metadata.FormatR32G32B32Sfloat, vk.FormatR32g32b32Sfloat},
	{metadata.FormatR32G32B32A32Sfloat, vk.FormatR32g32b32a32Sfloat},
	{metadata.FormatR8G8B8A8Unorm, vk.FormatR8g8b8a8Unorm},
	{metadata.FormatB8G8R8A8Unorm, vk.FormatB8g8r8a8Unorm},
	{metadata.FormatB8G8R8A8Srgb, vk.FormatB8g8r8a8Srgb},
	{metadata.FormatD32Sfloat, vk.FormatD32Sfloat},
}

func vkFormat(f metadata.Format) vk.Format {
	for _, e := range formats {
		if e.m == f {
			return e.v
		}
	}
	return vk.FormatUndefined
}

// metadataFormat maps a surface format back. Formats the renderer does not
// know come back undefined.
func metadataFormat(f vk.Format) metadata.Format {
	for _, e := range formats {
		if e.v == f {
			return e.m
		}
	}
	return metadata.FormatUndefined
}

// vkBufferUsage maps usage bits. Structure storage is written by transfer
// commands and read as a storage buffer; device addresses and build inputs
// are resolved on the host and need no bits of their own.
func vkBufferUsage(u metadata.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&metadata.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&metadata.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&metadata.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&metadata.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&metadata.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&metadata.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&metadata.BufferUsageAccelerationStructureStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(out)
}

// needsShadow reports whether the host keeps a copy of a buffer's bytes.
// Build inputs and copy sources are read back on the host when a structure
// is built.
func needsShadow(desc metadata.BufferDesc) bool {
	return desc.Usage&(metadata.BufferUsageAccelerationStructureBuildInput|metadata.BufferUsageTransferSrc) != 0 ||
		desc.Memory&metadata.MemoryHostVisible != 0
}

func vkImageUsage(u metadata.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&metadata.ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&metadata.ImageUsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&metadata.ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&metadata.ImageUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&metadata.ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&metadata.ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

func vkImageLayout(l metadata.ImageLayout) vk.ImageLayout {
	switch l {
	case metadata.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case metadata.ImageLayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.ImageLayoutDepthAttachmentOptimal:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case metadata.ImageLayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.ImageLayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ImageLayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkAspect(a metadata.ImageAspect) vk.ImageAspectFlags {
	if a == metadata.ImageAspectDepth {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func aspectForFormat(f metadata.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

var accessBits = []struct {
	m metadata.AccessFlags
	v vk.AccessFlagBits
}{
	{metadata.AccessIndexRead, vk.AccessIndexReadBit},
	{metadata.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
	{metadata.AccessUniformRead, vk.AccessUniformReadBit},
	{metadata.AccessShaderRead, vk.AccessShaderReadBit},
	{metadata.AccessShaderWrite, vk.AccessShaderWriteBit},
	{metadata.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{metadata.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{metadata.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{metadata.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{metadata.AccessTransferRead, vk.AccessTransferReadBit},
	{metadata.AccessTransferWrite, vk.AccessTransferWriteBit},
	{metadata.AccessHostRead, vk.AccessHostReadBit},
	{metadata.AccessHostWrite, vk.AccessHostWriteBit},
	// structures are written by transfers and read as storage buffers
	{metadata.AccessAccelerationStructureRead, vk.AccessShaderReadBit | vk.AccessTransferReadBit},
	{metadata.AccessAccelerationStructureWrite, vk.AccessTransferWriteBit},
	{metadata.AccessMemoryRead, vk.AccessMemoryReadBit},
	{metadata.AccessMemoryWrite, vk.AccessMemoryWriteBit},
}

func vkAccess(a metadata.AccessFlags) vk.AccessFlags {
	var out vk.AccessFlagBits
	for _, e := range accessBits {
		if a&e.m != 0 {
			out |= e.v
		}
	}
	return vk.AccessFlags(out)
}

var stageBits = []struct {
	m metadata.PipelineStageFlags
	v vk.PipelineStageFlagBits
}{
	{metadata.PipelineStageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{metadata.PipelineStageVertexInput, vk.PipelineStageVertexInputBit},
	{metadata.PipelineStageVertexShader, vk.PipelineStageVertexShaderBit},
	{metadata.PipelineStageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{metadata.PipelineStageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{metadata.PipelineStageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{metadata.PipelineStageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{metadata.PipelineStageComputeShader, vk.PipelineStageComputeShaderBit},
	{metadata.PipelineStageTransfer, vk.PipelineStageTransferBit},
	{metadata.PipelineStageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	{metadata.PipelineStageHost, vk.PipelineStageHostBit},
	// structure builds are recorded as buffer updates
	{metadata.PipelineStageAccelerationStructureBuild, vk.PipelineStageTransferBit},
	{metadata.PipelineStageAllCommands, vk.PipelineStageAllCommandsBit},
}

// vkStages maps a stage mask. An empty source scope waits on nothing and an
// empty destination scope blocks nothing.
func vkStages(s metadata.PipelineStageFlags, src bool) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	for _, e := range stageBits {
		if s&e.m != 0 {
			out |= e.v
		}
	}
	if out == 0 {
		if src {
			out = vk.PipelineStageTopOfPipeBit
		} else {
			out = vk.PipelineStageBottomOfPipeBit
		}
	}
	return vk.PipelineStageFlags(out)
}

func vkShaderStages(s metadata.ShaderStageFlags) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&metadata.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&metadata.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&metadata.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

// vkDescriptorType maps a binding type. Sampled images pair with the
// nearest sampler and structures are bound as storage buffers.
func vkDescriptorType(t metadata.DescriptorType) vk.DescriptorType {
	switch t {
	case metadata.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case metadata.DescriptorSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	}
	return vk.DescriptorTypeStorageBuffer
}

func vkLoadOp(op metadata.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case metadata.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

func vkStoreOp(op metadata.StoreOp) vk.AttachmentStoreOp {
	if op == metadata.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func vkFilter(f metadata.Filter) vk.Filter {
	if f == metadata.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

type stagePair struct {
	src, dst vk.PipelineStageFlags
}

// barrierGroup holds the barriers sharing one pair of stage masks, which
// is what a single vkCmdPipelineBarrier call accepts.
type barrierGroup struct {
	stagePair
	memory  []metadata.MemoryBarrier
	buffers []metadata.BufferBarrier
	images  []metadata.ImageBarrier
}

// groupBarriers splits dep by mapped stage masks, keeping the order in
// which each pair first appears.
func groupBarriers(dep metadata.Dependency) []barrierGroup {
	var groups []barrierGroup
	index := map[stagePair]int{}
	at := func(src, dst metadata.PipelineStageFlags) *barrierGroup {
		key := stagePair{vkStages(src, true), vkStages(dst, false)}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, barrierGroup{stagePair: key})
		}
		return &groups[i]
	}
	for _, b := range dep.MemoryBarriers {
		g := at(b.SrcStage, b.DstStage)
		g.memory = append(g.memory, b)
	}
	for _, b := range dep.BufferBarriers {
		g := at(b.SrcStage, b.DstStage)
		g.buffers = append(g.buffers, b)
	}
	for _, b := range dep.ImageBarriers {
		g := at(b.SrcStage, b.DstStage)
		g.images = append(g.images, b)
	}
	return groups
}
