package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// addressShift splits a device address into buffer handle and offset.
const addressShift = 32

// VulkanBuffer is a buffer with its own memory. Host visible memory stays
// mapped for the buffer's lifetime.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Desc   metadata.BufferDesc

	mapped unsafe.Pointer
	// shadow mirrors the contents on the host for buffers read back by
	// structure builds.
	shadow []byte
}

func newVulkanBuffer(context *VulkanContext, desc metadata.BufferDesc) (*VulkanBuffer, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(core.ErrValidation, "buffer size is zero")
	}
	dev := context.Device.LogicalDevice
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := resultError(vk.CreateBuffer(dev, &info, context.Allocator, &handle), "creating buffer of %d bytes", desc.Size); err != nil {
		return nil, err
	}
	b := &VulkanBuffer{Handle: handle, Desc: desc}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, handle, &req)
	mem, err := context.allocate(req, memoryFlags(desc.Memory), "buffer memory")
	if err != nil {
		b.destroy(context)
		return nil, err
	}
	b.Memory = mem
	if err := resultError(vk.BindBufferMemory(dev, handle, mem, 0), "binding buffer memory"); err != nil {
		b.destroy(context)
		return nil, err
	}

	if desc.Memory&metadata.MemoryHostVisible != 0 {
		var ptr unsafe.Pointer
		if err := resultError(vk.MapMemory(dev, mem, 0, vk.DeviceSize(desc.Size), 0, &ptr), "mapping buffer memory"); err != nil {
			b.destroy(context)
			return nil, err
		}
		b.mapped = ptr
	}
	if needsShadow(desc) {
		b.shadow = make([]byte, desc.Size)
	}
	return b, nil
}

func (b *VulkanBuffer) destroy(context *VulkanContext) {
	dev := context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(dev, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(dev, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	b.shadow = nil
}

func (b *VulkanBuffer) inRange(offset, size uint64) bool {
	return offset <= b.Desc.Size && size <= b.Desc.Size-offset
}

// write copies data into the mapped memory and the shadow.
func (b *VulkanBuffer) write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return errors.Wrap(core.ErrValidation, "buffer is not host visible")
	}
	if !b.inRange(offset, uint64(len(data))) {
		return errors.Wrapf(core.ErrValidation, "write of %d bytes at %d overflows buffer of %d", len(data), offset, b.Desc.Size)
	}
	if len(data) == 0 {
		return nil
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	b.shadowWrite(offset, data)
	return nil
}

func (b *VulkanBuffer) shadowWrite(offset uint64, data []byte) {
	if b.shadow != nil {
		copy(b.shadow[offset:], data)
	}
}

// hostBytes returns size bytes at offset from the shadow.
func (b *VulkanBuffer) hostBytes(offset, size uint64) ([]byte, error) {
	if b.shadow == nil {
		return nil, errors.Wrap(core.ErrValidation, "buffer contents are not visible to the host")
	}
	if !b.inRange(offset, size) {
		return nil, errors.Wrapf(core.ErrValidation, "read of %d bytes at %d overflows buffer of %d", size, offset, b.Desc.Size)
	}
	return b.shadow[offset : offset+size], nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (metadata.BufferHandle, error) {
	var b *VulkanBuffer
	err := d.context.locks.SafeCall(ResourceManagement, func() error {
		var err error
		b, err = newVulkanBuffer(d.context, desc)
		return err
	})
	if err != nil {
		return metadata.InvalidHandle, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.BufferHandle(d.nextHandle())
	d.buffers[h] = b
	return h, nil
}

func (d *Device) DestroyBuffer(h metadata.BufferHandle) {
	d.mu.Lock()
	b, ok := d.buffers[h]
	delete(d.buffers, h)
	d.mu.Unlock()
	if !ok {
		return
	}
	_ = d.context.locks.SafeCall(ResourceManagement, func() error {
		b.destroy(d.context)
		return nil
	})
}

func (d *Device) WriteBuffer(h metadata.BufferHandle, offset uint64, data []byte) error {
	b, err := d.buffer(h)
	if err != nil {
		return err
	}
	return b.write(offset, data)
}

func (d *Device) BufferAddress(h metadata.BufferHandle) uint64 {
	return uint64(h) << addressShift
}

func (d *Device) buffer(h metadata.BufferHandle) (*VulkanBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return nil, errors.Wrapf(core.ErrValidation, "unknown buffer %d", h)
	}
	return b, nil
}

// resolveAddress finds the buffer an address points into.
func (d *Device) resolveAddress(addr uint64) (*VulkanBuffer, uint64, error) {
	h := metadata.BufferHandle(addr >> addressShift)
	b, err := d.buffer(h)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "address %#x", addr)
	}
	return b, addr & (1<<addressShift - 1), nil
}
