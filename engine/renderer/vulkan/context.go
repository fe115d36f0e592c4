package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VulkanContext holds the instance level objects and the device state shared
// by every resource.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugCallback vk.DebugReportCallback

	Device    *VulkanDevice
	Swapchain *VulkanSwapchain

	// NearestSampler backs every sampled image binding.
	NearestSampler vk.Sampler
	DescriptorPool vk.DescriptorPool

	locks *VulkanLockPool
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every bit of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	memory := vc.Device.Memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocate backs requirements with memory of the given properties.
func (vc *VulkanContext) allocate(req vk.MemoryRequirements, props vk.MemoryPropertyFlags, what string) (vk.DeviceMemory, error) {
	req.Deref()
	index := vc.FindMemoryIndex(req.MemoryTypeBits, props)
	if index < 0 {
		return nil, errors.Wrapf(core.ErrAllocationFailed, "%s: no memory type with properties %#x", what, uint32(props))
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: uint32(index),
	}
	var mem vk.DeviceMemory
	if err := resultError(vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &mem), "allocating %s", what); err != nil {
		return nil, err
	}
	return mem, nil
}

func memoryFlags(m metadata.MemoryProperty) vk.MemoryPropertyFlags {
	var out vk.MemoryPropertyFlags
	if m&metadata.MemoryDeviceLocal != 0 {
		out |= vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	}
	if m&metadata.MemoryHostVisible != 0 {
		out |= vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return out
}

// createNearestSampler makes the clamped, unfiltered sampler used to read
// G-buffer texels.
func (vc *VulkanContext) createNearestSampler() error {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	var sampler vk.Sampler
	if err := resultError(vk.CreateSampler(vc.Device.LogicalDevice, &info, vc.Allocator, &sampler), "creating sampler"); err != nil {
		return err
	}
	vc.NearestSampler = sampler
	return nil
}

// Pool limits. Lumen allocates one set per pipeline and frame slot, so
// these leave ample room for resizes.
const (
	maxDescriptorSets    = 64
	maxDescriptorsOfType = 128
)

func (vc *VulkanContext) createDescriptorPool() error {
	types := []vk.DescriptorType{
		vk.DescriptorTypeUniformBuffer,
		vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeCombinedImageSampler,
		vk.DescriptorTypeStorageImage,
	}
	sizes := make([]vk.DescriptorPoolSize, len(types))
	for i, t := range types {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: maxDescriptorsOfType}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxDescriptorSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := resultError(vk.CreateDescriptorPool(vc.Device.LogicalDevice, &info, vc.Allocator, &pool), "creating descriptor pool"); err != nil {
		return err
	}
	vc.DescriptorPool = pool
	return nil
}
