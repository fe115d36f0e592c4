package reference

import (
	"context"
	stdimage "image"
	"image/color"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type swapchain struct {
	info     metadata.SwapchainInfo
	images   []*image
	acquired []bool
	next     int
}

// PresentRecord describes one executed present.
type PresentRecord struct {
	Image  uint32
	Extent metadata.Extent2D
}

// SetSurfaceExtent simulates a window resize. Acquire and present report an
// out of date swapchain until one with this extent is created.
func (d *Device) SetSurfaceExtent(e metadata.Extent2D) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surface = e
}

func (d *Device) surfaceMismatch() bool {
	if d.surface == (metadata.Extent2D{}) || d.swapchain == nil {
		return false
	}
	return d.surface != d.swapchain.info.Extent
}

func (d *Device) CreateSwapchain(width, height uint32) (metadata.SwapchainInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return metadata.SwapchainInfo{}, core.ErrDeviceLost
	}
	if width == 0 || height == 0 {
		return metadata.SwapchainInfo{}, errors.Wrapf(core.ErrSwapchainBooting, "swapchain extent %dx%d", width, height)
	}
	d.destroySwapchain()

	sc := &swapchain{info: metadata.SwapchainInfo{
		Format: metadata.FormatB8G8R8A8Srgb,
		Extent: metadata.Extent2D{Width: width, Height: height},
	}}
	for i := 0; i < d.cfg.SwapchainImages; i++ {
		img := d.newImage(metadata.ImageDesc{
			Extent: sc.info.Extent,
			Format: sc.info.Format,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferDst,
		}, true)
		sc.images = append(sc.images, img)
		sc.info.Images = append(sc.info.Images, img.h)
	}
	sc.acquired = make([]bool, len(sc.images))
	d.swapchain = sc
	return sc.info, nil
}

func (d *Device) DestroySwapchain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroySwapchain()
}

func (d *Device) destroySwapchain() {
	if d.swapchain == nil {
		return
	}
	for _, img := range d.swapchain.images {
		if s := d.pendingUser(img.key()); s != nil {
			d.violate(ViolationLifetime, "swapchain image %d destroyed while submission %d uses it", img.h, s.seq)
		}
		for _, q := range d.queue {
			if q.present != nil && q.present.image == img {
				d.violate(ViolationLifetime, "swapchain image %d destroyed with a present queued", img.h)
			}
		}
		delete(d.images, img.h)
	}
	d.swapchain = nil
}

func (d *Device) AcquireNextImage(ctx context.Context, signal metadata.SemaphoreHandle) (uint32, metadata.SwapchainStatus, error) {
	if err := ctx.Err(); err != nil {
		return 0, metadata.SwapchainOK, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return 0, metadata.SwapchainOK, core.ErrDeviceLost
	}
	if d.swapchain == nil {
		return 0, metadata.SwapchainOK, errors.Wrap(core.ErrNotInitialized, "acquire without a swapchain")
	}
	ordinal := d.acquires
	d.acquires++

	status, injected := d.acquireFault[ordinal]
	if !injected && d.surfaceMismatch() {
		status = metadata.SwapchainOutOfDate
	}
	if status == metadata.SwapchainOutOfDate {
		return 0, status, nil
	}

	sc := d.swapchain
	for n := 0; n < len(sc.images); n++ {
		i := (sc.next + n) % len(sc.images)
		if sc.acquired[i] {
			continue
		}
		s, err := d.signal(signal)
		if s == nil || err != nil {
			return 0, metadata.SwapchainOK, err
		}
		s.image = sc.images[i]
		sc.acquired[i] = true
		sc.next = (i + 1) % len(sc.images)
		return uint32(i), status, nil
	}
	return 0, metadata.SwapchainOK, errors.New("every swapchain image is acquired; acquire would block forever")
}

func (d *Device) Present(index uint32, waitSem metadata.SemaphoreHandle) (metadata.SwapchainStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return metadata.SwapchainOK, core.ErrDeviceLost
	}
	sc := d.swapchain
	if sc == nil || int(index) >= len(sc.images) {
		return metadata.SwapchainOK, errors.Errorf("present of unknown swapchain image %d", index)
	}
	var firstErr error
	if !sc.acquired[index] {
		firstErr = d.violate(ViolationUsage, "present of swapchain image %d that was not acquired", index)
	}
	if s, err := d.consume(waitSem); s == nil {
		return metadata.SwapchainOK, err
	} else if err != nil && firstErr == nil {
		firstErr = err
	}
	sc.acquired[index] = false

	ordinal := d.presents
	d.presents++
	d.queue = append(d.queue, queued{present: &presentOp{image: sc.images[index], index: index}})
	for len(d.queue) > d.cfg.MaxPending {
		d.executeNext()
	}
	if err := d.takePendingErr(); err != nil && firstErr == nil {
		firstErr = err
	}

	status, injected := d.presentFault[ordinal]
	if !injected && d.surfaceMismatch() {
		status = metadata.SwapchainOutOfDate
	}
	return status, firstErr
}

func (d *Device) executePresent(p *presentOp) {
	if p.image.layout != metadata.ImageLayoutPresentSrc {
		d.execViolate(ViolationLayout, "swapchain image %d presented in layout %s", p.index, p.image.layout)
	}
	d.stats.Presents++
	e := p.image.desc.Extent
	d.presented = append(d.presented, PresentRecord{Image: p.index, Extent: e})
	d.lastFrame = toRGBA(p.image)
}

// execViolate records a violation found while executing queued work. In
// strict mode the next call that drains the queue reports it.
func (d *Device) execViolate(kind ViolationKind, format string, args ...interface{}) {
	if err := d.violate(kind, format, args...); err != nil && d.pendingErr == nil {
		d.pendingErr = err
	}
}

// Presented lists every present executed so far.
func (d *Device) Presented() []PresentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PresentRecord(nil), d.presented...)
}

// LastFrame returns the most recently presented image, or nil.
func (d *Device) LastFrame() *stdimage.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFrame
}

func toRGBA(img *image) *stdimage.RGBA {
	w, h := int(img.desc.Extent.Width), int(img.desc.Extent.Height)
	out := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.texel(x, y)
			out.SetRGBA(x, y, color.RGBA{unorm8(c.X), unorm8(c.Y), unorm8(c.Z), unorm8(c.W)})
		}
	}
	return out
}

func unorm8(f float32) uint8 {
	return uint8(math.Clamp(f, 0, 1)*255 + 0.5)
}
