package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// maxUpdateSize is the largest write vkCmdUpdateBuffer takes.
const maxUpdateSize = 65536

// VulkanCommandBuffer records into a primary command buffer. Recording
// calls keep the first error and End reports it.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState

	device *Device
	err    error
}

var _ metadata.CommandBuffer = (*VulkanCommandBuffer)(nil)

func NewVulkanCommandBuffer(device *Device, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := device.context.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError(vk.AllocateCommandBuffers(device.context.Device.LogicalDevice, &info, handles), "allocating command buffer")
	})
	if err != nil {
		return nil, err
	}
	return &VulkanCommandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
		device: device,
	}, nil
}

func (v *VulkanCommandBuffer) Free(pool vk.CommandPool) {
	if v.Handle == nil {
		return
	}
	ctx := v.device.context
	_ = ctx.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(ctx.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) fail(err error) {
	if err != nil && v.err == nil {
		core.LogDebug("command recording failed: %s", err)
		v.err = err
	}
}

func (v *VulkanCommandBuffer) recording() bool {
	if v.State != COMMAND_BUFFER_STATE_RECORDING && v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "command recorded outside Begin/End"))
		return false
	}
	return v.err == nil
}

func (v *VulkanCommandBuffer) Begin(oneTimeSubmit bool) error {
	if v.Handle == nil {
		return errors.Wrap(core.ErrValidation, "begin on a freed command buffer")
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := resultError(vk.BeginCommandBuffer(v.Handle, &info), "beginning command buffer"); err != nil {
		return err
	}
	v.err = nil
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "End inside a render pass"))
		vk.CmdEndRenderPass(v.Handle)
	}
	err := resultError(vk.EndCommandBuffer(v.Handle), "ending command buffer")
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	if v.err != nil {
		return v.err
	}
	return err
}

func (v *VulkanCommandBuffer) Reset() error {
	if err := resultError(vk.ResetCommandBuffer(v.Handle, 0), "resetting command buffer"); err != nil {
		return err
	}
	v.err = nil
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) PipelineBarrier(dep metadata.Dependency) {
	if !v.recording() {
		return
	}
	for _, g := range groupBarriers(dep) {
		memory := make([]vk.MemoryBarrier, len(g.memory))
		for i, b := range g.memory {
			memory[i] = vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vkAccess(b.SrcAccess),
				DstAccessMask: vkAccess(b.DstAccess),
			}
		}
		buffers := make([]vk.BufferMemoryBarrier, len(g.buffers))
		for i, b := range g.buffers {
			buf, err := v.device.buffer(b.Buffer)
			if err != nil {
				v.fail(err)
				return
			}
			buffers[i] = vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       vkAccess(b.SrcAccess),
				DstAccessMask:       vkAccess(b.DstAccess),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              buf.Handle,
				Offset:              0,
				Size:                vk.DeviceSize(buf.Desc.Size),
			}
		}
		images := make([]vk.ImageMemoryBarrier, len(g.images))
		for i, b := range g.images {
			img, err := v.device.image(b.Image)
			if err != nil {
				v.fail(err)
				return
			}
			images[i] = vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       vkAccess(b.SrcAccess),
				DstAccessMask:       vkAccess(b.DstAccess),
				OldLayout:           vkImageLayout(b.OldLayout),
				NewLayout:           vkImageLayout(b.NewLayout),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               img.Handle,
				SubresourceRange:    subresourceRange(vkAspect(b.Aspect)),
			}
		}
		vk.CmdPipelineBarrier(v.Handle, g.src, g.dst, 0,
			uint32(len(memory)), memory,
			uint32(len(buffers)), buffers,
			uint32(len(images)), images)
	}
}

// updateBuffer records writes of at most maxUpdateSize bytes each.
func (v *VulkanCommandBuffer) updateBuffer(b *VulkanBuffer, u bufferUpdate) {
	if u.offset%4 != 0 || len(u.data)%4 != 0 {
		v.fail(errors.Wrapf(core.ErrValidation, "buffer update of %d bytes at %d is not 4-byte aligned", len(u.data), u.offset))
		return
	}
	if !b.inRange(u.offset, uint64(len(u.data))) {
		v.fail(errors.Wrapf(core.ErrValidation, "update of %d bytes at %d overflows buffer of %d", len(u.data), u.offset, b.Desc.Size))
		return
	}
	for _, c := range updateChunks(u) {
		vk.CmdUpdateBuffer(v.Handle, b.Handle, vk.DeviceSize(c.offset), vk.DeviceSize(len(c.data)), c.words())
	}
	b.shadowWrite(u.offset, u.data)
}

func (v *VulkanCommandBuffer) UpdateBuffer(dst metadata.BufferHandle, offset uint64, data []byte) {
	if !v.recording() || len(data) == 0 {
		return
	}
	b, err := v.device.buffer(dst)
	if err != nil {
		v.fail(err)
		return
	}
	v.updateBuffer(b, bufferUpdate{offset: offset, data: data})
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst metadata.BufferHandle, regions ...metadata.BufferCopy) {
	if !v.recording() || len(regions) == 0 {
		return
	}
	s, err := v.device.buffer(src)
	if err != nil {
		v.fail(err)
		return
	}
	d, err := v.device.buffer(dst)
	if err != nil {
		v.fail(err)
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		if !s.inRange(r.SrcOffset, r.Size) || !d.inRange(r.DstOffset, r.Size) {
			v.fail(errors.Wrapf(core.ErrValidation, "copy of %d bytes from %d to %d is out of range", r.Size, r.SrcOffset, r.DstOffset))
			return
		}
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, uint32(len(copies)), copies)
	if d.shadow == nil {
		return
	}
	if s.shadow == nil {
		v.fail(errors.Wrapf(core.ErrValidation, "copy into host shadowed buffer %d from buffer %d without one", dst, src))
		return
	}
	for _, r := range regions {
		d.shadowWrite(r.DstOffset, s.shadow[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

// BuildAccelerationStructure builds on the host now and records the writes
// that store the result.
func (v *VulkanCommandBuffer) BuildAccelerationStructure(info metadata.AccelerationStructureBuildInfo) {
	if !v.recording() {
		return
	}
	dst, err := v.device.structure(info.Dst)
	if err != nil {
		v.fail(err)
		return
	}
	updates, err := v.device.hostBuild(info)
	if err != nil {
		v.fail(errors.Wrapf(err, "%s %s", info.Type, info.Mode))
		return
	}
	for _, u := range updates {
		v.updateBuffer(dst.buffer, u)
	}
}

func (v *VulkanCommandBuffer) BeginRendering(info metadata.RenderingInfo) {
	if !v.recording() {
		return
	}
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "nested BeginRendering"))
		return
	}
	images := make([]metadata.ImageHandle, 0, len(info.Colors)+1)
	for _, c := range info.Colors {
		images = append(images, c.Image)
	}
	if info.Depth != nil {
		images = append(images, info.Depth.Image)
	}
	var lookupErr error
	key, err := renderingKey(info, func(h metadata.ImageHandle) metadata.Format {
		img, err := v.device.image(h)
		if err != nil {
			lookupErr = err
			return metadata.FormatUndefined
		}
		return img.Desc.Format
	})
	if err == nil {
		err = lookupErr
	}
	if err != nil {
		v.fail(err)
		return
	}
	rp, err := v.device.renderpass(key)
	if err != nil {
		v.fail(err)
		return
	}
	fb, err := v.device.framebuffer(rp, images, info.Extent)
	if err != nil {
		v.fail(err)
		return
	}
	values := clearValues(info)
	begin := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(v.Handle, &begin, vk.SubpassContentsInline)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRendering() {
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "EndRendering without BeginRendering"))
		return
	}
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) BindPipeline(ph metadata.PipelineHandle) {
	if !v.recording() {
		return
	}
	p, err := v.device.pipeline(ph)
	if err != nil {
		v.fail(err)
		return
	}
	vk.CmdBindPipeline(v.Handle, p.BindPoint, p.Handle)
}

func (v *VulkanCommandBuffer) BindGroup(ph metadata.PipelineHandle, gh metadata.BindGroupHandle) {
	if !v.recording() {
		return
	}
	p, err := v.device.pipeline(ph)
	if err != nil {
		v.fail(err)
		return
	}
	g, err := v.device.bindGroup(gh)
	if err != nil {
		v.fail(err)
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, p.BindPoint, p.PipelineLayout, 0, 1, []vk.DescriptorSet{g.Set}, 0, nil)
}

func (v *VulkanCommandBuffer) BindVertexBuffer(bh metadata.BufferHandle, offset uint64) {
	if !v.recording() {
		return
	}
	b, err := v.device.buffer(bh)
	if err != nil {
		v.fail(err)
		return
	}
	vk.CmdBindVertexBuffers(v.Handle, 0, 1, []vk.Buffer{b.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (v *VulkanCommandBuffer) BindIndexBuffer(bh metadata.BufferHandle, offset uint64, t metadata.IndexType) {
	if !v.recording() {
		return
	}
	b, err := v.device.buffer(bh)
	if err != nil {
		v.fail(err)
		return
	}
	if t != metadata.IndexTypeUint32 {
		v.fail(errors.Wrapf(core.ErrValidation, "index type %d", t))
		return
	}
	vk.CmdBindIndexBuffer(v.Handle, b.Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (v *VulkanCommandBuffer) SetViewport(vp metadata.Viewport) {
	if !v.recording() {
		return
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(r metadata.Rect2D) {
	if !v.recording() {
		return
	}
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}})
}

// PushConstants writes into the pipeline's single range. The stages of
// that range are used whatever stages the caller names, since Vulkan
// requires an exact match.
func (v *VulkanCommandBuffer) PushConstants(ph metadata.PipelineHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	if !v.recording() || len(data) == 0 {
		return
	}
	p, err := v.device.pipeline(ph)
	if err != nil {
		v.fail(err)
		return
	}
	if p.PushSize == 0 || uint64(offset)+uint64(len(data)) > uint64(p.PushSize) {
		v.fail(errors.Wrapf(core.ErrValidation, "push of %d bytes at %d exceeds the %d byte range of %s", len(data), offset, p.PushSize, p.Name))
		return
	}
	if vkShaderStages(stages)&p.PushStages == 0 {
		core.LogDebug("push constants for %s name stages %#x, range has %#x", p.Name, uint32(stages), uint32(p.PushStages))
	}
	vk.CmdPushConstants(v.Handle, p.PipelineLayout, p.PushStages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !v.recording() {
		return
	}
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "draw outside a render pass"))
		return
	}
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	if !v.recording() {
		return
	}
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail(errors.Wrap(core.ErrValidation, "dispatch inside a render pass"))
		return
	}
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) BlitImage(info metadata.BlitInfo) {
	if !v.recording() {
		return
	}
	src, err := v.device.image(info.Src)
	if err != nil {
		v.fail(err)
		return
	}
	dst, err := v.device.image(info.Dst)
	if err != nil {
		v.fail(err)
		return
	}
	layers := vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	region := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(info.SrcExtent.Width), Y: int32(info.SrcExtent.Height), Z: 1},
		},
		DstSubresource: layers,
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(info.DstExtent.Width), Y: int32(info.DstExtent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(v.Handle, src.Handle, vkImageLayout(info.SrcLayout), dst.Handle, vkImageLayout(info.DstLayout),
		1, []vk.ImageBlit{region}, vkFilter(info.Filter))
}
