package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type framebufferKey struct {
	pass   vk.RenderPass
	images [maxColorAttachments + 1]metadata.ImageHandle
	count  int
	width  uint32
	height uint32
}

type VulkanFramebuffer struct {
	Handle vk.Framebuffer
	key    framebufferKey
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if err := resultError(vk.CreateFramebuffer(context.Device.LogicalDevice, &info, context.Allocator, &handle), "creating framebuffer"); err != nil {
		return nil, err
	}
	return &VulkanFramebuffer{Handle: handle}, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
		vfb.Handle = vk.NullFramebuffer
	}
}

func (k framebufferKey) uses(h metadata.ImageHandle) bool {
	for i := 0; i < k.count; i++ {
		if k.images[i] == h {
			return true
		}
	}
	return false
}

// framebuffer returns the cached framebuffer over images for pass.
func (d *Device) framebuffer(pass *VulkanRenderpass, images []metadata.ImageHandle, extent metadata.Extent2D) (*VulkanFramebuffer, error) {
	key := framebufferKey{pass: pass.Handle, count: len(images), width: extent.Width, height: extent.Height}
	copy(key.images[:], images)

	d.mu.Lock()
	defer d.mu.Unlock()
	if fb, ok := d.framebuffers[key]; ok {
		return fb, nil
	}
	views := make([]vk.ImageView, len(images))
	for i, h := range images {
		img, ok := d.images[h]
		if !ok {
			return nil, unknownImage(h)
		}
		views[i] = img.View
	}
	fb, err := FramebufferCreate(d.context, pass, extent.Width, extent.Height, views)
	if err != nil {
		return nil, err
	}
	fb.key = key
	d.framebuffers[key] = fb
	return fb, nil
}

// releaseFramebuffers destroys every framebuffer with h as an attachment.
func (d *Device) releaseFramebuffers(h metadata.ImageHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, fb := range d.framebuffers {
		if key.uses(h) {
			fb.Destroy(d.context)
			delete(d.framebuffers, key)
		}
	}
}
