package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const maxColorAttachments = 4

type attachmentKey struct {
	format vk.Format
	layout vk.ImageLayout
	load   vk.AttachmentLoadOp
	store  vk.AttachmentStoreOp
}

// renderpassKey identifies a single subpass render pass. Attachments start
// and end in the layout they are rendered in; transitions are recorded as
// barriers by the caller.
type renderpassKey struct {
	colors     [maxColorAttachments]attachmentKey
	colorCount int
	depth      attachmentKey
	hasDepth   bool
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	key    renderpassKey
}

// renderingKey derives the render pass for one BeginRendering call.
func renderingKey(info metadata.RenderingInfo, formatOf func(metadata.ImageHandle) metadata.Format) (renderpassKey, error) {
	var key renderpassKey
	if len(info.Colors) > maxColorAttachments {
		return key, errors.Wrapf(core.ErrValidation, "%d color attachments, at most %d", len(info.Colors), maxColorAttachments)
	}
	for i, c := range info.Colors {
		key.colors[i] = attachmentKey{
			format: vkFormat(formatOf(c.Image)),
			layout: vkImageLayout(c.Layout),
			load:   vkLoadOp(c.Load),
			store:  vkStoreOp(c.Store),
		}
	}
	key.colorCount = len(info.Colors)
	if info.Depth != nil {
		key.hasDepth = true
		key.depth = attachmentKey{
			format: vkFormat(formatOf(info.Depth.Image)),
			layout: vkImageLayout(info.Depth.Layout),
			load:   vkLoadOp(info.Depth.Load),
			store:  vkStoreOp(info.Depth.Store),
		}
	}
	return key, nil
}

// pipelineKey is a render pass compatible with any pass rendering to the
// given formats.
func pipelineKey(colors []metadata.Format, depth metadata.Format) (renderpassKey, error) {
	var key renderpassKey
	if len(colors) > maxColorAttachments {
		return key, errors.Wrapf(core.ErrValidation, "%d color formats, at most %d", len(colors), maxColorAttachments)
	}
	for i, f := range colors {
		key.colors[i] = attachmentKey{
			format: vkFormat(f),
			layout: vk.ImageLayoutColorAttachmentOptimal,
			load:   vk.AttachmentLoadOpClear,
			store:  vk.AttachmentStoreOpStore,
		}
	}
	key.colorCount = len(colors)
	if depth != metadata.FormatUndefined {
		key.hasDepth = true
		key.depth = attachmentKey{
			format: vkFormat(depth),
			layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			load:   vk.AttachmentLoadOpClear,
			store:  vk.AttachmentStoreOpStore,
		}
	}
	return key, nil
}

func attachmentDescription(a attachmentKey) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         a.format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         a.load,
		StoreOp:        a.store,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  a.layout,
		FinalLayout:    a.layout,
	}
}

func RenderpassCreate(context *VulkanContext, key renderpassKey) (*VulkanRenderpass, error) {
	attachments := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorRefs := make([]vk.AttachmentReference, key.colorCount)
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, attachmentDescription(key.colors[i]))
		colorRefs[i] = vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayoutColorAttachmentOptimal}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(key.colorCount),
		PColorAttachments:    colorRefs,
	}
	if key.hasDepth {
		attachments = append(attachments, attachmentDescription(key.depth))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.colorCount),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageLateFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var handle vk.RenderPass
	if err := resultError(vk.CreateRenderPass(context.Device.LogicalDevice, &info, context.Allocator, &handle), "creating render pass"); err != nil {
		return nil, err
	}
	return &VulkanRenderpass{Handle: handle, key: key}, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}

// renderpass returns the cached pass for key, creating it on first use.
func (d *Device) renderpass(key renderpassKey) (*VulkanRenderpass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.renderpasses[key]; ok {
		return rp, nil
	}
	rp, err := RenderpassCreate(d.context, key)
	if err != nil {
		return nil, err
	}
	d.renderpasses[key] = rp
	return rp, nil
}

// clearValues lists the clear value of every attachment of info in
// attachment order.
func clearValues(info metadata.RenderingInfo) []vk.ClearValue {
	values := make([]vk.ClearValue, 0, len(info.Colors)+1)
	for _, c := range info.Colors {
		var v vk.ClearValue
		v.SetColor([]float32{c.Clear.X, c.Clear.Y, c.Clear.Z, c.Clear.W})
		values = append(values, v)
	}
	if info.Depth != nil {
		var v vk.ClearValue
		v.SetDepthStencil(info.Depth.ClearDepth, 0)
		values = append(values, v)
	}
	return values
}
