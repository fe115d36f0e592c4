package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VulkanBindGroup is one descriptor set allocated for a pipeline's layout.
type VulkanBindGroup struct {
	Set      vk.DescriptorSet
	pipeline *VulkanPipeline
}

func (d *Device) CreateBindGroup(ph metadata.PipelineHandle, bindings []metadata.Binding) (metadata.BindGroupHandle, error) {
	p, err := d.pipeline(ph)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	layouts := []vk.DescriptorSetLayout{p.SetLayout}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.context.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, 1)
	err = d.context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.AllocateDescriptorSets(d.context.Device.LogicalDevice, &info, &sets[0]), "allocating descriptor set for %s", p.Name)
	})
	if err != nil {
		return metadata.InvalidHandle, err
	}
	g := &VulkanBindGroup{Set: sets[0], pipeline: p}
	if err := d.writeBindGroup(g, bindings); err != nil {
		d.freeBindGroup(g)
		return metadata.InvalidHandle, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.BindGroupHandle(d.nextHandle())
	d.groups[h] = g
	return h, nil
}

func (d *Device) UpdateBindGroup(h metadata.BindGroupHandle, bindings []metadata.Binding) error {
	g, err := d.bindGroup(h)
	if err != nil {
		return err
	}
	return d.writeBindGroup(g, bindings)
}

func (d *Device) DestroyBindGroup(h metadata.BindGroupHandle) {
	d.mu.Lock()
	g, ok := d.groups[h]
	delete(d.groups, h)
	d.mu.Unlock()
	if ok {
		d.freeBindGroup(g)
	}
}

func (d *Device) freeBindGroup(g *VulkanBindGroup) {
	_ = d.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.FreeDescriptorSets(d.context.Device.LogicalDevice, d.context.DescriptorPool, 1, &g.Set)
		return nil
	})
}

func (d *Device) bindGroup(h metadata.BindGroupHandle) (*VulkanBindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[h]
	if !ok {
		return nil, errors.Wrapf(core.ErrValidation, "unknown bind group %d", h)
	}
	return g, nil
}

// writeBindGroup points the slots of g at the resources in bindings.
func (d *Device) writeBindGroup(g *VulkanBindGroup, bindings []metadata.Binding) error {
	writes := make([]vk.WriteDescriptorSet, 0, len(bindings))
	for _, b := range bindings {
		layout, ok := g.pipeline.binding(b.Binding)
		if !ok {
			return errors.Wrapf(core.ErrValidation, "%s has no binding %d", g.pipeline.Name, b.Binding)
		}
		if layout.Type != b.Type {
			return errors.Wrapf(core.ErrValidation, "%s binding %d is a %s, not a %s", g.pipeline.Name, b.Binding, layout.Type, b.Type)
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          g.Set,
			DstBinding:      b.Binding,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(b.Type),
		}
		switch b.Type {
		case metadata.DescriptorUniformBuffer, metadata.DescriptorStorageBuffer:
			buf, err := d.buffer(b.Buffer)
			if err != nil {
				return err
			}
			size := b.Range
			if size == 0 {
				size = buf.Desc.Size - b.Offset
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.Handle,
				Offset: vk.DeviceSize(b.Offset),
				Range:  vk.DeviceSize(size),
			}}
		case metadata.DescriptorAccelerationStructure:
			as, err := d.structure(b.AccelerationStructure)
			if err != nil {
				return err
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: as.buffer.Handle,
				Offset: vk.DeviceSize(as.Desc.Offset),
				Range:  vk.DeviceSize(as.Desc.Size),
			}}
		case metadata.DescriptorSampledImage, metadata.DescriptorStorageImage:
			img, err := d.image(b.Image)
			if err != nil {
				return err
			}
			info := vk.DescriptorImageInfo{
				ImageView:   img.View,
				ImageLayout: vkImageLayout(b.ImageLayout),
			}
			if b.Type == metadata.DescriptorSampledImage {
				info.Sampler = d.context.NearestSampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		default:
			return errors.Wrapf(core.ErrValidation, "binding %d has unknown type %s", b.Binding, b.Type)
		}
		writes = append(writes, write)
	}
	if len(writes) == 0 {
		return nil
	}
	return d.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
		return nil
	})
}
