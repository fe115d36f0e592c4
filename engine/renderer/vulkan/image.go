package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// VulkanImage is a single mip, single layer 2D image with one view.
// Swapchain images are not owned and keep a null memory handle.
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Desc   metadata.ImageDesc

	owned bool
}

func newVulkanImage(context *VulkanContext, desc metadata.ImageDesc) (*VulkanImage, error) {
	if desc.Extent.IsZero() {
		return nil, errors.Wrap(core.ErrValidation, "image extent is zero")
	}
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, errors.Wrapf(core.ErrValidation, "image format %s", desc.Format)
	}
	dev := context.Device.LogicalDevice
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := resultError(vk.CreateImage(dev, &info, context.Allocator, &handle), "creating %s image", desc.Format); err != nil {
		return nil, err
	}
	img := &VulkanImage{Handle: handle, Desc: desc, owned: true}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, handle, &req)
	mem, err := context.allocate(req, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), "image memory")
	if err != nil {
		img.destroy(context)
		return nil, err
	}
	img.Memory = mem
	if err := resultError(vk.BindImageMemory(dev, handle, mem, 0), "binding image memory"); err != nil {
		img.destroy(context)
		return nil, err
	}
	if img.View, err = createImageView(context, handle, format, aspectForFormat(desc.Format)); err != nil {
		img.destroy(context)
		return nil, err
	}
	return img, nil
}

// wrapSwapchainImage gives a presentable image a view without taking
// ownership of it.
func wrapSwapchainImage(context *VulkanContext, handle vk.Image, desc metadata.ImageDesc, format vk.Format) (*VulkanImage, error) {
	view, err := createImageView(context, handle, format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return nil, err
	}
	return &VulkanImage{Handle: handle, View: view, Desc: desc}, nil
}

func createImageView(context *VulkanContext, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(aspect),
	}
	var view vk.ImageView
	if err := resultError(vk.CreateImageView(context.Device.LogicalDevice, &info, context.Allocator, &view), "creating image view"); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func subresourceRange(aspect vk.ImageAspectFlags) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     aspect,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (img *VulkanImage) destroy(context *VulkanContext) {
	dev := context.Device.LogicalDevice
	if img.View != vk.NullImageView {
		vk.DestroyImageView(dev, img.View, context.Allocator)
		img.View = vk.NullImageView
	}
	if !img.owned {
		img.Handle = vk.NullImage
		return
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(dev, img.Handle, context.Allocator)
		img.Handle = vk.NullImage
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, img.Memory, context.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
}

func (d *Device) CreateImage(desc metadata.ImageDesc) (metadata.ImageHandle, error) {
	var img *VulkanImage
	err := d.context.locks.SafeCall(ResourceManagement, func() error {
		var err error
		img, err = newVulkanImage(d.context, desc)
		return err
	})
	if err != nil {
		return metadata.InvalidHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.ImageHandle(d.nextHandle())
	d.images[h] = img
	return h, nil
}

// DestroyImage releases the image and every framebuffer built on it.
func (d *Device) DestroyImage(h metadata.ImageHandle) {
	d.mu.Lock()
	img, ok := d.images[h]
	delete(d.images, h)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.releaseFramebuffers(h)
	_ = d.context.locks.SafeCall(ResourceManagement, func() error {
		img.destroy(d.context)
		return nil
	})
}

func (d *Device) image(h metadata.ImageHandle) (*VulkanImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return nil, unknownImage(h)
	}
	return img, nil
}

func unknownImage(h metadata.ImageHandle) error {
	return errors.Wrapf(core.ErrValidation, "unknown image %d", h)
}
