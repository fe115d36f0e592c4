package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestFormatRoundTrip(t *testing.T) {
	for _, e := range formats {
		if got := metadataFormat(vkFormat(e.m)); got != e.m {
			t.Errorf("%s came back as %s", e.m, got)
		}
	}
	if got := metadataFormat(vk.FormatR16g16b16a16Sfloat); got != metadata.FormatUndefined {
		t.Errorf("unknown surface format mapped to %s", got)
	}
}

func TestStructureAccessMapsToTransferAndShader(t *testing.T) {
	tests := []struct {
		name string
		in   metadata.AccessFlags
		want vk.AccessFlagBits
	}{
		{"none", 0, 0},
		{"read", metadata.AccessAccelerationStructureRead, vk.AccessShaderReadBit | vk.AccessTransferReadBit},
		{"write", metadata.AccessAccelerationStructureWrite, vk.AccessTransferWriteBit},
		{"host write and uniform", metadata.AccessHostWrite | metadata.AccessUniformRead, vk.AccessHostWriteBit | vk.AccessUniformReadBit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vkAccess(tt.in); got != vk.AccessFlags(tt.want) {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestStagesDefaultWhenEmpty(t *testing.T) {
	if got := vkStages(0, true); got != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Errorf("empty source: %#x", got)
	}
	if got := vkStages(0, false); got != vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit) {
		t.Errorf("empty destination: %#x", got)
	}
	got := vkStages(metadata.PipelineStageAccelerationStructureBuild|metadata.PipelineStageComputeShader, false)
	want := vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageComputeShaderBit)
	if got != want {
		t.Errorf("build and compute: got %#x, want %#x", got, want)
	}
}

func TestLayoutMapping(t *testing.T) {
	tests := []struct {
		in   metadata.ImageLayout
		want vk.ImageLayout
	}{
		{metadata.ImageLayoutUndefined, vk.ImageLayoutUndefined},
		{metadata.ImageLayoutGeneral, vk.ImageLayoutGeneral},
		{metadata.ImageLayoutDepthAttachmentOptimal, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{metadata.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutShaderReadOnlyOptimal},
		{metadata.ImageLayoutPresentSrc, vk.ImageLayoutPresentSrc},
	}
	for _, tt := range tests {
		if got := vkImageLayout(tt.in); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDescriptorTypes(t *testing.T) {
	tests := []struct {
		in   metadata.DescriptorType
		want vk.DescriptorType
	}{
		{metadata.DescriptorUniformBuffer, vk.DescriptorTypeUniformBuffer},
		{metadata.DescriptorStorageBuffer, vk.DescriptorTypeStorageBuffer},
		{metadata.DescriptorSampledImage, vk.DescriptorTypeCombinedImageSampler},
		{metadata.DescriptorStorageImage, vk.DescriptorTypeStorageImage},
		{metadata.DescriptorAccelerationStructure, vk.DescriptorTypeStorageBuffer},
	}
	for _, tt := range tests {
		if got := vkDescriptorType(tt.in); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStructureStorageIsWritableByTransfers(t *testing.T) {
	got := vkBufferUsage(metadata.BufferUsageAccelerationStructureStorage)
	want := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestNeedsShadow(t *testing.T) {
	tests := []struct {
		name string
		desc metadata.BufferDesc
		want bool
	}{
		{"device local vertex", metadata.BufferDesc{Usage: metadata.BufferUsageVertex}, false},
		{"build input", metadata.BufferDesc{Usage: metadata.BufferUsageAccelerationStructureBuildInput}, true},
		{"staging", metadata.BufferDesc{Usage: metadata.BufferUsageTransferSrc}, true},
		{"host visible uniform", metadata.BufferDesc{Usage: metadata.BufferUsageUniform, Memory: metadata.MemoryHostVisible}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsShadow(tt.desc); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupBarriersByStagePair(t *testing.T) {
	dep := metadata.Dependency{
		MemoryBarriers: []metadata.MemoryBarrier{{
			SrcStage: metadata.PipelineStageAccelerationStructureBuild,
			DstStage: metadata.PipelineStageComputeShader,
		}},
		BufferBarriers: []metadata.BufferBarrier{
			{Buffer: 1, SrcStage: metadata.PipelineStageHost, DstStage: metadata.PipelineStageAccelerationStructureBuild},
			// the build stage maps to transfer, so this shares the first pair
			{Buffer: 2, SrcStage: metadata.PipelineStageTransfer, DstStage: metadata.PipelineStageComputeShader},
		},
		ImageBarriers: []metadata.ImageBarrier{
			{Image: 3, SrcStage: metadata.PipelineStageHost, DstStage: metadata.PipelineStageAccelerationStructureBuild},
		},
	}
	groups := groupBarriers(dep)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	first, second := groups[0], groups[1]
	if len(first.memory) != 1 || len(first.buffers) != 1 || first.buffers[0].Buffer != 2 || len(first.images) != 0 {
		t.Errorf("first group: %+v", first)
	}
	if len(second.memory) != 0 || len(second.buffers) != 1 || second.buffers[0].Buffer != 1 || len(second.images) != 1 {
		t.Errorf("second group: %+v", second)
	}
	if second.src != vk.PipelineStageFlags(vk.PipelineStageHostBit) || second.dst != vk.PipelineStageFlags(vk.PipelineStageTransferBit) {
		t.Errorf("second group stages %#x -> %#x", second.src, second.dst)
	}
}

func TestGroupBarriersEmpty(t *testing.T) {
	if groups := groupBarriers(metadata.Dependency{}); len(groups) != 0 {
		t.Fatalf("got %d groups", len(groups))
	}
}
