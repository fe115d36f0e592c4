package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// SlotTargets are the swap dependent images of one frame slot and the
// lighting bind group that reads them.
type SlotTargets struct {
	Albedo   *Image
	Position *Image
	Normal   *Image
	Depth    *Image
	Storage  *Image
	Lighting *BindGroup
}

// Targets owns everything whose size follows the swapchain: the swapchain
// itself, one render-finished semaphore per swap image and the per-slot
// render targets. The top-level structures are not part of it.
type Targets struct {
	Swapchain      metadata.SwapchainInfo
	RenderFinished []metadata.SemaphoreHandle
	Slots          []*SlotTargets

	device  Device
	pool    *ResourcePool
	lights  *Buffer
	tlas    *TopLevelIndex
	slots   int
	timeout time.Duration
}

func NewTargets(device Device, pool *ResourcePool, lights *Buffer, tlas *TopLevelIndex, slots int, timeout time.Duration) *Targets {
	return &Targets{
		device:  device,
		pool:    pool,
		lights:  lights,
		tlas:    tlas,
		slots:   slots,
		timeout: timeout,
	}
}

// Extent is the size of the current swapchain.
func (t *Targets) Extent() metadata.Extent2D {
	return t.Swapchain.Extent
}

// Ready reports whether the targets exist.
func (t *Targets) Ready() bool {
	return len(t.Slots) > 0
}

/**
 * Rebuilds the swapchain and every swap dependent resource at width x
 * height. The device must be idle. A zero extent destroys the old targets
 * and reports ErrSwapchainBooting.
 */
func (t *Targets) Create(ctx context.Context, lighting *Pipeline, width, height uint32) error {
	t.Destroy()
	if width == 0 || height == 0 {
		return errors.Wrapf(core.ErrSwapchainBooting, "framebuffer is %dx%d", width, height)
	}
	sc, err := t.device.CreateSwapchain(width, height)
	if err != nil {
		if errors.Cause(err) != core.ErrSwapchainBooting {
			core.LogError("creating swapchain: %s", err)
		}
		return errors.Wrap(err, "creating swapchain")
	}
	t.Swapchain = sc
	for range sc.Images {
		s, err := t.device.CreateSemaphore()
		if err != nil {
			t.Destroy()
			return errors.Wrap(err, "creating render finished semaphore")
		}
		t.RenderFinished = append(t.RenderFinished, s)
	}
	for i := 0; i < t.slots; i++ {
		st, err := t.createSlot(i, sc.Extent)
		if err != nil {
			t.Destroy()
			return err
		}
		t.Slots = append(t.Slots, st)
	}
	if err := t.Bind(lighting, false); err != nil {
		t.Destroy()
		return err
	}

	// the lighting pass expects its output in General from the first frame
	err = SubmitOnce(ctx, t.device, t.timeout, func(cb CommandBuffer) {
		dep := metadata.Dependency{}
		for _, st := range t.Slots {
			dep.ImageBarriers = append(dep.ImageBarriers, metadata.ImageBarrier{
				Image:     st.Storage.Handle,
				OldLayout: metadata.ImageLayoutUndefined,
				NewLayout: metadata.ImageLayoutGeneral,
				SrcStage:  metadata.PipelineStageTopOfPipe,
				DstStage:  metadata.PipelineStageComputeShader,
				DstAccess: metadata.AccessShaderWrite,
			})
		}
		cb.PipelineBarrier(dep)
	})
	if err != nil {
		t.Destroy()
		return err
	}
	core.LogInfo("swapchain ready: %dx%d, %d images", sc.Extent.Width, sc.Extent.Height, len(sc.Images))
	return nil
}

func (t *Targets) createSlot(i int, extent metadata.Extent2D) (*SlotTargets, error) {
	st := &SlotTargets{}
	images := []struct {
		dst  **Image
		name string
		desc metadata.ImageDesc
	}{
		{&st.Albedo, "albedo", metadata.ImageDesc{Extent: extent, Format: GBufferFormat, Usage: gbufferUsage}},
		{&st.Position, "position", metadata.ImageDesc{Extent: extent, Format: GBufferFormat, Usage: gbufferUsage}},
		{&st.Normal, "normal", metadata.ImageDesc{Extent: extent, Format: GBufferFormat, Usage: gbufferUsage}},
		{&st.Depth, "depth", metadata.ImageDesc{Extent: extent, Format: DepthFormat, Usage: metadata.ImageUsageDepthStencilAttachment}},
		{&st.Storage, "storage", metadata.ImageDesc{Extent: extent, Format: StorageFormat, Usage: metadata.ImageUsageStorage | metadata.ImageUsageTransferSrc}},
	}
	for _, img := range images {
		made, err := t.pool.AllocateImage(fmt.Sprintf("slot.%d.%s", i, img.name), img.desc)
		if err != nil {
			st.free(t.pool)
			return nil, err
		}
		*img.dst = made
	}
	return st, nil
}

const gbufferUsage = metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled | metadata.ImageUsageStorage

func (st *SlotTargets) free(pool *ResourcePool) {
	if st.Lighting != nil {
		pool.Free(st.Lighting.ID)
	}
	for _, img := range []*Image{st.Storage, st.Depth, st.Normal, st.Position, st.Albedo} {
		if img != nil {
			pool.Free(img.ID)
		}
	}
}

func (t *Targets) lightingBindings(slot int) ([]metadata.Binding, error) {
	st := t.Slots[slot]
	scene, err := t.tlas.Handle(slot)
	if err != nil {
		return nil, err
	}
	sampled := func(b uint32, img *Image) metadata.Binding {
		return metadata.Binding{
			Binding:     b,
			Type:        metadata.DescriptorSampledImage,
			Image:       img.Handle,
			ImageLayout: metadata.ImageLayoutShaderReadOnlyOptimal,
		}
	}
	return []metadata.Binding{
		sampled(LightingBindingPosition, st.Position),
		sampled(LightingBindingNormal, st.Normal),
		sampled(LightingBindingAlbedo, st.Albedo),
		{Binding: LightingBindingLights, Type: metadata.DescriptorStorageBuffer, Buffer: t.lights.Handle, Range: t.lights.Desc.Size},
		{Binding: LightingBindingOutput, Type: metadata.DescriptorStorageImage, Image: st.Storage.Handle, ImageLayout: metadata.ImageLayoutGeneral},
		{Binding: LightingBindingScene, Type: metadata.DescriptorAccelerationStructure, AccelerationStructure: scene},
	}, nil
}

// Bind points every slot's lighting group at its targets for pipeline.
// With retire set the previous groups are retired instead of freed.
func (t *Targets) Bind(pipeline *Pipeline, retire bool) error {
	groups := make([]*BindGroup, len(t.Slots))
	for i := range t.Slots {
		bindings, err := t.lightingBindings(i)
		if err == nil {
			groups[i], err = t.pool.CreateBindGroup(fmt.Sprintf("slot.%d.lighting", i), pipeline, bindings)
		}
		if err != nil {
			for _, g := range groups[:i] {
				t.pool.Free(g.ID)
			}
			return err
		}
	}
	for i, st := range t.Slots {
		if st.Lighting != nil {
			if retire {
				if err := t.pool.Retire(st.Lighting.ID); err != nil {
					core.LogWarn("retiring lighting group of slot %d: %s", i, err)
				}
			} else {
				t.pool.Free(st.Lighting.ID)
			}
		}
		st.Lighting = groups[i]
	}
	return nil
}

// Destroy frees the targets. The device must be idle.
func (t *Targets) Destroy() {
	for _, st := range t.Slots {
		st.free(t.pool)
	}
	t.Slots = nil
	for _, s := range t.RenderFinished {
		t.device.DestroySemaphore(s)
	}
	t.RenderFinished = nil
	if len(t.Swapchain.Images) > 0 {
		t.device.DestroySwapchain()
	}
	t.Swapchain = metadata.SwapchainInfo{}
}
