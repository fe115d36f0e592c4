package vulkan

import (
	"context"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// fenceWaitSlice bounds a single vkWaitForFences call so a cancelled
// context is noticed.
const fenceWaitSlice = 10 * time.Millisecond

// Timeouts this long never expire.
const maxFenceTimeout = time.Duration(1<<62)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := resultError(vk.CreateFence(context.Device.LogicalDevice, &info, context.Allocator, &handle), "creating fence"); err != nil {
		return nil, err
	}
	return &VulkanFence{Handle: handle, IsSignaled: createSignaled}, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// FenceWait waits until the fence signals, ctx is done or timeout passes.
func (vf *VulkanFence) FenceWait(ctx context.Context, vc *VulkanContext, timeout time.Duration) error {
	if vf.IsSignaled {
		return nil
	}
	forever := timeout >= maxFenceTimeout
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "fence wait")
		}
		slice := fenceWaitSlice
		if !forever {
			if left := time.Until(deadline); left < slice {
				slice = left
			}
			if slice < 0 {
				slice = 0
			}
		}
		res := vk.WaitForFences(vc.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(slice.Nanoseconds()))
		switch res {
		case vk.Success:
			vf.IsSignaled = true
			return nil
		case vk.Timeout:
			if !forever && time.Until(deadline) <= 0 {
				return errors.Errorf("fence wait timed out after %s", timeout)
			}
		default:
			return resultError(res, "fence wait")
		}
	}
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if err := resultError(vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}), "resetting fence"); err != nil {
		return err
	}
	vf.IsSignaled = false
	return nil
}

// FenceStatus polls the fence without blocking.
func (vf *VulkanFence) FenceStatus(context *VulkanContext) (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	res := vk.GetFenceStatus(context.Device.LogicalDevice, vf.Handle)
	switch res {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	}
	return false, resultError(res, "fence status")
}

func (d *Device) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	var f *VulkanFence
	err := d.context.locks.SafeCall(SynchronizationManagement, func() error {
		var err error
		f, err = NewFence(d.context, signaled)
		return err
	})
	if err != nil {
		return metadata.InvalidHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.FenceHandle(d.nextHandle())
	d.fences[h] = f
	return h, nil
}

func (d *Device) fence(h metadata.FenceHandle) (*VulkanFence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return nil, errors.Wrapf(core.ErrValidation, "unknown fence %d", h)
	}
	return f, nil
}

func (d *Device) WaitForFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return f.FenceWait(ctx, d.context, timeout)
}

func (d *Device) ResetFence(h metadata.FenceHandle) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return d.context.locks.SafeCall(SynchronizationManagement, func() error {
		return f.FenceReset(d.context)
	})
}

func (d *Device) FenceStatus(h metadata.FenceHandle) (bool, error) {
	f, err := d.fence(h)
	if err != nil {
		return false, err
	}
	return f.FenceStatus(d.context)
}

func (d *Device) DestroyFence(h metadata.FenceHandle) {
	d.mu.Lock()
	f, ok := d.fences[h]
	delete(d.fences, h)
	d.mu.Unlock()
	if ok {
		f.FenceDestroy(d.context)
	}
}

func (d *Device) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if err := resultError(vk.CreateSemaphore(d.context.Device.LogicalDevice, &info, d.context.Allocator, &sem), "creating semaphore"); err != nil {
		return metadata.InvalidHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.SemaphoreHandle(d.nextHandle())
	d.semaphores[h] = sem
	return h, nil
}

func (d *Device) DestroySemaphore(h metadata.SemaphoreHandle) {
	d.mu.Lock()
	sem, ok := d.semaphores[h]
	delete(d.semaphores, h)
	d.mu.Unlock()
	if ok {
		vk.DestroySemaphore(d.context.Device.LogicalDevice, sem, d.context.Allocator)
	}
}

func (d *Device) semaphore(h metadata.SemaphoreHandle) (vk.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.semaphores[h]
	if !ok {
		return vk.NullSemaphore, errors.Wrapf(core.ErrValidation, "unknown semaphore %d", h)
	}
	return sem, nil
}
