package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// SurfaceSource is the window the device presents to.
type SurfaceSource interface {
	RequiredInstanceExtensions() []string
	// CreateSurface returns the raw VkSurfaceKHR for instance.
	CreateSurface(instance interface{}) (uintptr, error)
	FramebufferSize() (uint32, uint32)
}

type Config struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and routes its
	// reports to the engine log.
	Validation bool
}

// Device implements renderer.Device on a Vulkan 1.0 instance with a single
// graphics, compute and present queue.
type Device struct {
	context *VulkanContext
	surface SurfaceSource

	mu         sync.Mutex
	handles    uint64
	buffers    map[metadata.BufferHandle]*VulkanBuffer
	images     map[metadata.ImageHandle]*VulkanImage
	structures map[metadata.AccelerationStructureHandle]*VulkanAccelerationStructure
	pipelines  map[metadata.PipelineHandle]*VulkanPipeline
	groups     map[metadata.BindGroupHandle]*VulkanBindGroup
	fences     map[metadata.FenceHandle]*VulkanFence
	semaphores map[metadata.SemaphoreHandle]vk.Semaphore

	renderpasses map[renderpassKey]*VulkanRenderpass
	framebuffers map[framebufferKey]*VulkanFramebuffer
}

var _ renderer.Device = (*Device)(nil)

// nextHandle is called with d.mu held. Handles are unique across every
// resource type.
func (d *Device) nextHandle() uint64 {
	d.handles++
	return d.handles
}

func NewDevice(surface SurfaceSource, cfg Config) (*Device, error) {
	d := &Device{
		context:      &VulkanContext{},
		surface:      surface,
		buffers:      make(map[metadata.BufferHandle]*VulkanBuffer),
		images:       make(map[metadata.ImageHandle]*VulkanImage),
		structures:   make(map[metadata.AccelerationStructureHandle]*VulkanAccelerationStructure),
		pipelines:    make(map[metadata.PipelineHandle]*VulkanPipeline),
		groups:       make(map[metadata.BindGroupHandle]*VulkanBindGroup),
		fences:       make(map[metadata.FenceHandle]*VulkanFence),
		semaphores:   make(map[metadata.SemaphoreHandle]vk.Semaphore),
		renderpasses: make(map[renderpassKey]*VulkanRenderpass),
		framebuffers: make(map[framebufferKey]*VulkanFramebuffer),
	}
	d.context.locks = NewVulkanLockPool()
	if err := d.initialize(cfg); err != nil {
		if shutdownErr := d.Shutdown(); shutdownErr != nil {
			core.LogWarn("cleanup after failed initialization: %s", shutdownErr)
		}
		return nil, err
	}
	return d, nil
}

func (d *Device) initialize(cfg Config) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return errors.Wrap(core.ErrNotInitialized, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return errors.Wrap(err, "initializing vulkan loader")
	}

	if err := d.createInstance(cfg); err != nil {
		return err
	}
	if cfg.Validation {
		if err := d.createDebugCallback(); err != nil {
			return err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := d.surface.CreateSurface(d.context.Instance)
	if err != nil {
		return errors.Wrap(err, "creating presentation surface")
	}
	if surface == 0 {
		return errors.Wrap(core.ErrNotInitialized, "platform returned a null surface")
	}
	d.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(d.context); err != nil {
		return err
	}
	if err := d.context.createNearestSampler(); err != nil {
		return err
	}
	if err := d.context.createDescriptorPool(); err != nil {
		return err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return nil
}

func (d *Device) createInstance(cfg Config) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Lumen"),
	}
	info := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, d.surface.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		info.Flags |= 1
	}

	var layers []string
	if cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(core.ErrNotInitialized, "required validation layer %s is missing", validationLayer)
		}
		layers = append(layers, validationLayer)
		core.LogInfo("Validation layers enabled.")
	}
	for _, e := range extensions {
		core.LogDebug("Required extension: %s", e)
	}

	info.EnabledExtensionCount = uint32(len(extensions))
	info.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	info.EnabledLayerCount = uint32(len(layers))
	info.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := resultError(vk.CreateInstance(&info, d.context.Allocator, &instance), "creating instance"); err != nil {
		return err
	}
	d.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrap(err, "loading instance functions")
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, nil), "enumerating instance layers"); err != nil {
		return false, err
	}
	available := make([]vk.LayerProperties, count)
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, available), "enumerating instance layers"); err != nil {
		return false, err
	}
	for i := range available {
		available[i].Deref()
		if fixedString(available[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var cb vk.DebugReportCallback
	if err := resultError(vk.CreateDebugReportCallback(d.context.Instance, &info, d.context.Allocator, &cb), "creating debug report callback"); err != nil {
		return err
	}
	d.context.debugCallback = cb
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("performance [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

func (d *Device) AllocateCommandBuffer() (renderer.CommandBuffer, error) {
	return NewVulkanCommandBuffer(d, d.context.Device.CommandPool)
}

func (d *Device) FreeCommandBuffer(cb renderer.CommandBuffer) {
	if v, ok := cb.(*VulkanCommandBuffer); ok {
		v.Free(d.context.Device.CommandPool)
	}
}

func (d *Device) Submit(info metadata.SubmitInfo) error {
	if len(info.WaitSemaphores) != len(info.WaitStages) {
		return errors.Wrapf(core.ErrValidation, "%d wait semaphores with %d wait stages", len(info.WaitSemaphores), len(info.WaitStages))
	}
	buffers := make([]vk.CommandBuffer, len(info.CommandBuffers))
	recorded := make([]*VulkanCommandBuffer, len(info.CommandBuffers))
	for i, cb := range info.CommandBuffers {
		v, ok := cb.(*VulkanCommandBuffer)
		if !ok {
			return errors.Wrapf(core.ErrValidation, "command buffer %T was not allocated by this device", cb)
		}
		if v.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return errors.Wrap(core.ErrValidation, "submitting a command buffer that has not ended")
		}
		buffers[i] = v.Handle
		recorded[i] = v
	}
	waits := make([]vk.Semaphore, len(info.WaitSemaphores))
	stages := make([]vk.PipelineStageFlags, len(info.WaitStages))
	for i, h := range info.WaitSemaphores {
		s, err := d.semaphore(h)
		if err != nil {
			return err
		}
		waits[i] = s
		stages[i] = vkStages(info.WaitStages[i], false)
	}
	signals := make([]vk.Semaphore, len(info.SignalSemaphores))
	for i, h := range info.SignalSemaphores {
		s, err := d.semaphore(h)
		if err != nil {
			return err
		}
		signals[i] = s
	}
	fence := vk.NullFence
	if info.Fence != metadata.InvalidHandle {
		f, err := d.fence(info.Fence)
		if err != nil {
			return err
		}
		fence = f.Handle
		f.IsSignaled = false
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	err := d.context.locks.SafeQueueCall(d.context.Device.QueueIndex, func() error {
		return resultError(vk.QueueSubmit(d.context.Device.Queue, 1, []vk.SubmitInfo{submit}, fence), "queue submit")
	})
	if err != nil {
		return err
	}
	for _, v := range recorded {
		v.UpdateSubmitted()
	}
	return nil
}

func (d *Device) WaitIdle() error {
	if d.context.Device == nil || d.context.Device.LogicalDevice == nil {
		return nil
	}
	return d.context.locks.SafeQueueCall(d.context.Device.QueueIndex, func() error {
		return resultError(vk.DeviceWaitIdle(d.context.Device.LogicalDevice), "waiting for device idle")
	})
}

// Shutdown waits for the queue and destroys everything still registered in
// the reverse order of creation. It tolerates a partly initialized device.
func (d *Device) Shutdown() error {
	ctx := d.context
	var waitErr error
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		waitErr = d.WaitIdle()

		d.DestroySwapchain()

		d.mu.Lock()
		for h, g := range d.groups {
			d.freeBindGroup(g)
			delete(d.groups, h)
		}
		for h, p := range d.pipelines {
			p.Destroy(ctx)
			delete(d.pipelines, h)
		}
		for h := range d.structures {
			delete(d.structures, h)
		}
		for h, b := range d.buffers {
			b.destroy(ctx)
			delete(d.buffers, h)
		}
		for k, fb := range d.framebuffers {
			fb.Destroy(ctx)
			delete(d.framebuffers, k)
		}
		for h, img := range d.images {
			img.destroy(ctx)
			delete(d.images, h)
		}
		for k, rp := range d.renderpasses {
			rp.RenderpassDestroy(ctx)
			delete(d.renderpasses, k)
		}
		for h, f := range d.fences {
			f.FenceDestroy(ctx)
			delete(d.fences, h)
		}
		for h, s := range d.semaphores {
			vk.DestroySemaphore(ctx.Device.LogicalDevice, s, ctx.Allocator)
			delete(d.semaphores, h)
		}
		d.mu.Unlock()

		if ctx.DescriptorPool != vk.DescriptorPool(vk.NullHandle) {
			vk.DestroyDescriptorPool(ctx.Device.LogicalDevice, ctx.DescriptorPool, ctx.Allocator)
			ctx.DescriptorPool = vk.DescriptorPool(vk.NullHandle)
		}
		if ctx.NearestSampler != vk.Sampler(vk.NullHandle) {
			vk.DestroySampler(ctx.Device.LogicalDevice, ctx.NearestSampler, ctx.Allocator)
			ctx.NearestSampler = vk.Sampler(vk.NullHandle)
		}
		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(ctx)
	}
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugCallback, ctx.Allocator)
		ctx.debugCallback = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	return waitErr
}
