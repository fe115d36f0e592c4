package renderer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// DefaultFramesInFlight is the number of frames the host may record ahead
// of the device.
const DefaultFramesInFlight = 2

type FrameStatus int

const (
	FramePresented FrameStatus = iota
	// FrameSkipped means no work was submitted and the slot was not consumed.
	FrameSkipped
)

func (s FrameStatus) String() string {
	if s == FrameSkipped {
		return "skipped"
	}
	return "presented"
}

type FrameInput struct {
	View   math.Mat4
	Models []math.Mat4
}

type FrameResult struct {
	Slot   int
	Image  uint32
	Status FrameStatus
	// Recreated is set when the swap dependent targets were rebuilt during
	// this call.
	Recreated bool
}

// frameSlot is what one frame in flight owns exclusively.
type frameSlot struct {
	fence          metadata.FenceHandle
	commands       CommandBuffer
	imageAvailable metadata.SemaphoreHandle
	state          metadata.FrameSlotState
}

// FrameController runs the per-frame protocol: wait for the slot's fence,
// acquire, record, submit, present, advance. Only the render goroutine may
// call it.
type FrameController struct {
	device    Device
	pool      *ResourcePool
	targets   *Targets
	uniforms  *CameraUniforms
	pipelines *Pipelines
	recorder  *Recorder
	slots     *containers.Ring[*frameSlot]
	timeout   time.Duration

	// SurfaceSize, when set, reports the current framebuffer size and takes
	// precedence over Resize.
	SurfaceSize func() metadata.Extent2D

	width, height  uint32
	generation     uint64
	lastGeneration uint64
	presented      uint64
}

type FrameControllerConfig struct {
	Device    Device
	Pool      *ResourcePool
	Targets   *Targets
	Uniforms  *CameraUniforms
	Pipelines *Pipelines
	Recorder  *Recorder
	Slots     int
	Width     uint32
	Height    uint32
	Timeout   time.Duration
}

func NewFrameController(cfg FrameControllerConfig) (*FrameController, error) {
	if cfg.Slots < 1 {
		return nil, errors.Wrapf(core.ErrValidation, "%d frames in flight", cfg.Slots)
	}
	c := &FrameController{
		device:    cfg.Device,
		pool:      cfg.Pool,
		targets:   cfg.Targets,
		uniforms:  cfg.Uniforms,
		pipelines: cfg.Pipelines,
		recorder:  cfg.Recorder,
		timeout:   cfg.Timeout,
		width:     cfg.Width,
		height:    cfg.Height,
	}
	if c.timeout <= 0 {
		c.timeout = WaitForever
	}
	slots := make([]*frameSlot, 0, cfg.Slots)
	for i := 0; i < cfg.Slots; i++ {
		s, err := c.createSlot()
		if err != nil {
			c.destroySlots(slots)
			return nil, errors.Wrapf(err, "creating frame slot %d", i)
		}
		slots = append(slots, s)
	}
	c.slots = containers.NewRing(slots)
	core.LogDebug("frame controller created with %d frames in flight", cfg.Slots)
	return c, nil
}

func (c *FrameController) createSlot() (*frameSlot, error) {
	s := &frameSlot{}
	var err error
	// signaled so the first wait on every slot returns at once
	if s.fence, err = c.device.CreateFence(true); err != nil {
		return nil, err
	}
	if s.imageAvailable, err = c.device.CreateSemaphore(); err != nil {
		c.device.DestroyFence(s.fence)
		return nil, err
	}
	if s.commands, err = c.device.AllocateCommandBuffer(); err != nil {
		c.device.DestroySemaphore(s.imageAvailable)
		c.device.DestroyFence(s.fence)
		return nil, err
	}
	return s, nil
}

func (c *FrameController) destroySlots(slots []*frameSlot) {
	for _, s := range slots {
		c.device.FreeCommandBuffer(s.commands)
		c.device.DestroySemaphore(s.imageAvailable)
		c.device.DestroyFence(s.fence)
	}
}

// Slots is the number of frames in flight.
func (c *FrameController) Slots() int {
	return c.slots.Len()
}

// Current is the slot the next DrawFrame will use.
func (c *FrameController) Current() int {
	return c.slots.Index()
}

// Presented counts frames handed to the presentation engine.
func (c *FrameController) Presented() uint64 {
	return c.presented
}

// SlotState reports where slot i is in its reuse cycle. A submitted slot
// whose fence already signaled is idle.
func (c *FrameController) SlotState(i int) (metadata.FrameSlotState, error) {
	if i < 0 || i >= c.slots.Len() {
		return metadata.FrameSlotIdle, errors.Wrapf(core.ErrInvalidFrameSlot, "slot %d of %d", i, c.slots.Len())
	}
	s := c.slots.At(i)
	if s.state == metadata.FrameSlotSubmitted || s.state == metadata.FrameSlotPresentPending {
		if done, err := c.device.FenceStatus(s.fence); err == nil && done {
			return metadata.FrameSlotIdle, nil
		}
	}
	return s.state, nil
}

// Resize records a new framebuffer size. The targets are rebuilt at the
// start of the next frame.
func (c *FrameController) Resize(width, height uint32) {
	c.width, c.height = width, height
	c.generation++
	core.LogInfo("framebuffer resized: w/h/gen: %d/%d/%d", width, height, c.generation)
}

func (c *FrameController) surfaceSize() (uint32, uint32) {
	if c.SurfaceSize != nil {
		e := c.SurfaceSize()
		return e.Width, e.Height
	}
	return c.width, c.height
}

/**
 * Waits for the device, then rebuilds the swapchain and everything sized by
 * it. A zero surface keeps the targets torn down and returns
 * ErrSwapchainBooting so the caller can try again on a later frame.
 */
func (c *FrameController) Recreate(ctx context.Context) error {
	if err := c.device.WaitIdle(); err != nil {
		err = errors.Wrap(err, "waiting for device before swapchain recreation")
		core.LogError(err.Error())
		return err
	}
	w, h := c.surfaceSize()
	if err := c.targets.Create(ctx, c.pipelines.Lighting, w, h); err != nil {
		if errors.Cause(err) == core.ErrSwapchainBooting {
			core.LogInfo("recreating swapchain, booting")
		}
		return err
	}
	c.lastGeneration = c.generation
	return nil
}

/**
 * Renders and presents one frame using the current slot. The slot's fence is
 * waited on before any of its resources are touched. An out of date surface
 * at acquire rebuilds the targets and skips the frame without consuming the
 * slot; an out of date or suboptimal present rebuilds them after the frame.
 */
func (c *FrameController) DrawFrame(ctx context.Context, in FrameInput) (FrameResult, error) {
	index := c.slots.Index()
	slot := c.slots.Current()
	res := FrameResult{Slot: index, Status: FrameSkipped}

	if err := c.device.WaitForFence(ctx, slot.fence, c.timeout); err != nil {
		err = errors.Wrapf(err, "waiting for frame slot %d", index)
		core.LogError(err.Error())
		return res, err
	}
	slot.state = metadata.FrameSlotIdle
	if n := c.pool.DrainRetired(index); n > 0 {
		core.LogDebug("destroyed %d retired resources after slot %d", n, index)
	}

	if !c.targets.Ready() || c.generation != c.lastGeneration {
		if err := c.Recreate(ctx); err != nil {
			return res, err
		}
		res.Recreated = true
	}

	image, acquired, err := c.device.AcquireNextImage(ctx, slot.imageAvailable)
	if err != nil {
		err = errors.Wrap(err, "acquiring swap image")
		core.LogError(err.Error())
		return res, err
	}
	if acquired == metadata.SwapchainOutOfDate {
		core.LogDebug("swap image acquire out of date, recreating")
		if err := c.Recreate(ctx); err != nil {
			return res, err
		}
		res.Recreated = true
		return res, nil
	}
	res.Image = image

	extent := c.targets.Extent()
	if err := c.uniforms.Write(index, CameraMatrices(in.View, extent)); err != nil {
		return res, errors.Wrap(err, "writing camera uniforms")
	}

	slot.state = metadata.FrameSlotRecording
	if err := c.record(slot, index, image, extent, in.Models); err != nil {
		core.LogError(err.Error())
		return res, err
	}

	// the fence is reset only once a submission that signals it is certain
	if err := c.device.ResetFence(slot.fence); err != nil {
		return res, errors.Wrapf(err, "resetting fence of slot %d", index)
	}
	err = c.device.Submit(metadata.SubmitInfo{
		CommandBuffers:   []CommandBuffer{slot.commands},
		WaitSemaphores:   []metadata.SemaphoreHandle{slot.imageAvailable},
		WaitStages:       []metadata.PipelineStageFlags{metadata.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []metadata.SemaphoreHandle{c.targets.RenderFinished[image]},
		Fence:            slot.fence,
	})
	if err != nil {
		err = errors.Wrapf(err, "submitting frame slot %d", index)
		core.LogError(err.Error())
		return res, err
	}
	slot.state = metadata.FrameSlotSubmitted

	presented, err := c.device.Present(image, c.targets.RenderFinished[image])
	if err != nil {
		err = errors.Wrapf(err, "presenting swap image %d", image)
		core.LogError(err.Error())
		return res, err
	}
	slot.state = metadata.FrameSlotPresentPending
	res.Status = FramePresented
	c.presented++
	c.slots.Advance()

	if presented != metadata.SwapchainOK || acquired == metadata.SwapchainSuboptimal || c.generation != c.lastGeneration {
		core.LogDebug("swapchain %s after present, recreating", presented)
		if err := c.Recreate(ctx); err != nil {
			return res, err
		}
		res.Recreated = true
	}
	return res, nil
}

func (c *FrameController) record(slot *frameSlot, index int, image uint32, extent metadata.Extent2D, models []math.Mat4) error {
	cb := slot.commands
	if err := cb.Begin(false); err != nil {
		return errors.Wrapf(err, "beginning command buffer of slot %d", index)
	}
	err := c.recorder.Record(cb, FrameCommands{
		Slot:      index,
		SwapImage: c.targets.Swapchain.Images[image],
		Extent:    extent,
		Targets:   c.targets.Slots[index],
		Camera:    c.uniforms.Group(index),
		Models:    models,
	})
	if err != nil {
		return errors.Wrapf(err, "recording frame slot %d", index)
	}
	if err := cb.End(); err != nil {
		return errors.Wrapf(err, "ending command buffer of slot %d", index)
	}
	return nil
}

// Destroy waits for the device and releases the slot objects.
func (c *FrameController) Destroy() {
	if err := c.device.WaitIdle(); err != nil {
		core.LogWarn("waiting for device before frame teardown: %s", err)
	}
	for i := 0; i < c.slots.Len(); i++ {
		c.destroySlots([]*frameSlot{c.slots.At(i)})
	}
	c.slots = containers.NewRing[*frameSlot](nil)
}
