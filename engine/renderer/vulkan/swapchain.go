package vulkan

import (
	"context"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// acquireSlice bounds one vkAcquireNextImageKHR so ctx is checked between
// attempts.
const acquireSlice = uint64(10_000_000)

// minSwapchainImages keeps one image presenting, one queued and one being
// rendered.
const minSwapchainImages = 3

type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	// Images are registered with the device so they can be blitted into
	// and transitioned like any other image.
	Images []metadata.ImageHandle
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func chooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount
	if count < minSwapchainImages {
		count = minSwapchainImages
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func chooseExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  clampU32(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clampU32(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// CreateSwapchain builds a swapchain for the surface, retiring the previous
// one. Callers must not have work in flight that touches the old images.
func (d *Device) CreateSwapchain(width, height uint32) (metadata.SwapchainInfo, error) {
	ctx := d.context
	if width == 0 || height == 0 {
		return metadata.SwapchainInfo{}, errors.Wrapf(core.ErrSwapchainBooting, "surface is %dx%d", width, height)
	}
	support := &ctx.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(ctx.Device.PhysicalDevice, ctx.Surface, support); err != nil {
		return metadata.SwapchainInfo{}, err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return metadata.SwapchainInfo{}, errors.Wrap(core.ErrSurfaceOutOfDate, "surface reports no formats or present modes")
	}
	caps := support.Capabilities
	extent := chooseExtent(caps, width, height)
	if extent.Width == 0 || extent.Height == 0 {
		return metadata.SwapchainInfo{}, errors.Wrap(core.ErrSwapchainBooting, "surface extent is zero")
	}
	format := chooseSurfaceFormat(support.Formats)

	old := ctx.Swapchain
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          ctx.Surface,
		MinImageCount:    chooseImageCount(caps),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(support.PresentModes),
		Clipped:          vk.True,
	}
	if old != nil {
		info.OldSwapchain = old.Handle
	}

	var handle vk.Swapchain
	err := ctx.locks.SafeCall(SwapchainManagement, func() error {
		return resultError(vk.CreateSwapchain(ctx.Device.LogicalDevice, &info, ctx.Allocator, &handle), "creating swapchain")
	})
	if err != nil {
		return metadata.SwapchainInfo{}, err
	}
	d.DestroySwapchain()

	sc := &VulkanSwapchain{Handle: handle, ImageFormat: format, Extent: extent}
	ctx.Swapchain = sc

	var count uint32
	if err := resultError(vk.GetSwapchainImages(ctx.Device.LogicalDevice, handle, &count, nil), "getting swapchain images"); err != nil {
		return metadata.SwapchainInfo{}, err
	}
	raw := make([]vk.Image, count)
	if err := resultError(vk.GetSwapchainImages(ctx.Device.LogicalDevice, handle, &count, raw), "getting swapchain images"); err != nil {
		return metadata.SwapchainInfo{}, err
	}

	desc := metadata.ImageDesc{
		Extent: metadata.Extent2D{Width: extent.Width, Height: extent.Height},
		Format: metadataFormat(format.Format),
		Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferDst,
	}
	for _, img := range raw[:count] {
		wrapped, err := wrapSwapchainImage(ctx, img, desc, format.Format)
		if err != nil {
			return metadata.SwapchainInfo{}, err
		}
		d.mu.Lock()
		h := metadata.ImageHandle(d.nextHandle())
		d.images[h] = wrapped
		d.mu.Unlock()
		sc.Images = append(sc.Images, h)
	}

	core.LogInfo("Swapchain created: %dx%d, %d images, %s.", extent.Width, extent.Height, len(sc.Images), desc.Format)
	return metadata.SwapchainInfo{
		Format: desc.Format,
		Extent: desc.Extent,
		Images: append([]metadata.ImageHandle(nil), sc.Images...),
	}, nil
}

// DestroySwapchain releases the image views, the framebuffers that use them
// and the swapchain itself. A swapchain created with this one as its old
// swapchain keeps working.
func (d *Device) DestroySwapchain() {
	ctx := d.context
	sc := ctx.Swapchain
	if sc == nil {
		return
	}
	for _, h := range sc.Images {
		d.DestroyImage(h)
	}
	if sc.Handle != vk.NullSwapchain {
		_ = ctx.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(ctx.Device.LogicalDevice, sc.Handle, ctx.Allocator)
			return nil
		})
	}
	if ctx.Swapchain == sc {
		ctx.Swapchain = nil
	}
}

// AcquireNextImage waits for a presentable image in short slices until ctx
// is done.
func (d *Device) AcquireNextImage(c context.Context, signal metadata.SemaphoreHandle) (uint32, metadata.SwapchainStatus, error) {
	ctx := d.context
	sc := ctx.Swapchain
	if sc == nil {
		return 0, metadata.SwapchainOutOfDate, nil
	}
	sem, err := d.semaphore(signal)
	if err != nil {
		return 0, metadata.SwapchainOK, err
	}
	for {
		var index uint32
		result := vk.AcquireNextImage(ctx.Device.LogicalDevice, sc.Handle, acquireSlice, sem, vk.Fence(vk.NullHandle), &index)
		switch result {
		case vk.Success:
			return index, metadata.SwapchainOK, nil
		case vk.Suboptimal:
			return index, metadata.SwapchainSuboptimal, nil
		case vk.ErrorOutOfDate:
			return 0, metadata.SwapchainOutOfDate, nil
		case vk.Timeout, vk.NotReady:
			if err := c.Err(); err != nil {
				return 0, metadata.SwapchainOK, errors.Wrap(err, "acquiring swapchain image")
			}
		default:
			return 0, metadata.SwapchainOK, resultError(result, "acquiring swapchain image")
		}
	}
}

func (d *Device) Present(image uint32, wait metadata.SemaphoreHandle) (metadata.SwapchainStatus, error) {
	ctx := d.context
	sc := ctx.Swapchain
	if sc == nil {
		return metadata.SwapchainOutOfDate, nil
	}
	if int(image) >= len(sc.Images) {
		return metadata.SwapchainOK, errors.Wrapf(core.ErrValidation, "present of image %d, swapchain has %d", image, len(sc.Images))
	}
	sem, err := d.semaphore(wait)
	if err != nil {
		return metadata.SwapchainOK, err
	}
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{image},
	}
	var result vk.Result
	_ = ctx.locks.SafeQueueCall(ctx.Device.QueueIndex, func() error {
		result = vk.QueuePresent(ctx.Device.Queue, &info)
		return nil
	})
	switch result {
	case vk.Success:
		return metadata.SwapchainOK, nil
	case vk.Suboptimal:
		return metadata.SwapchainSuboptimal, nil
	case vk.ErrorOutOfDate:
		return metadata.SwapchainOutOfDate, nil
	}
	return metadata.SwapchainOK, resultError(result, "presenting image %d", image)
}
