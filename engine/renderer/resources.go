package renderer

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// maxRetired bounds the deferred destruction queue.
const maxRetired = 1024

type ResourceKind int

const (
	ResourceBuffer ResourceKind = iota
	ResourceImage
	ResourceAccelerationStructure
	ResourcePipeline
	ResourceBindGroup
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "buffer"
	case ResourceImage:
		return "image"
	case ResourceAccelerationStructure:
		return "acceleration structure"
	case ResourcePipeline:
		return "pipeline"
	case ResourceBindGroup:
		return "bind group"
	}
	return "unknown"
}

type Buffer struct {
	ID      uuid.UUID
	Name    string
	Handle  metadata.BufferHandle
	Desc    metadata.BufferDesc
	Address uint64
}

type Image struct {
	ID     uuid.UUID
	Name   string
	Handle metadata.ImageHandle
	Desc   metadata.ImageDesc
}

// AccelerationStructure owns the buffer it lives in.
type AccelerationStructure struct {
	ID      uuid.UUID
	Name    string
	Handle  metadata.AccelerationStructureHandle
	Type    metadata.AccelerationStructureType
	Buffer  *Buffer
	Address uint64
}

type Pipeline struct {
	ID     uuid.UUID
	Name   string
	Handle metadata.PipelineHandle
}

type BindGroup struct {
	ID     uuid.UUID
	Name   string
	Handle metadata.BindGroupHandle
}

// ResourceInfo describes one live allocation.
type ResourceInfo struct {
	ID   uuid.UUID
	Name string
	Kind ResourceKind
}

type poolEntry struct {
	info    ResourceInfo
	destroy func()
	// owned entries are destroyed together with their parent
	owned []uuid.UUID
}

type retirement struct {
	id      uuid.UUID
	pending uint64
}

// ResourcePool owns every device object the renderer creates. Release is the
// single teardown point; Free and Retire give objects back early.
type ResourcePool struct {
	device  Device
	slots   int
	entries map[uuid.UUID]*poolEntry
	order   []uuid.UUID
	retired *containers.RingQueue[retirement]
}

func NewResourcePool(device Device, framesInFlight int) *ResourcePool {
	return &ResourcePool{
		device:  device,
		slots:   framesInFlight,
		entries: make(map[uuid.UUID]*poolEntry),
		retired: containers.NewRingQueue[retirement](maxRetired),
	}
}

func (p *ResourcePool) track(name string, kind ResourceKind, destroy func()) uuid.UUID {
	id := uuid.New()
	p.entries[id] = &poolEntry{
		info:    ResourceInfo{ID: id, Name: name, Kind: kind},
		destroy: destroy,
	}
	p.order = append(p.order, id)
	return id
}

func allocationError(err error, kind ResourceKind, name string) error {
	if errors.Cause(err) != core.ErrAllocationFailed {
		err = errors.Wrap(core.ErrAllocationFailed, err.Error())
	}
	err = errors.Wrapf(err, "creating %s %q", kind, name)
	core.LogError(err.Error())
	return err
}

func (p *ResourcePool) AllocateBuffer(name string, desc metadata.BufferDesc) (*Buffer, error) {
	h, err := p.device.CreateBuffer(desc)
	if err != nil {
		return nil, allocationError(err, ResourceBuffer, name)
	}
	b := &Buffer{Name: name, Handle: h, Desc: desc}
	if desc.Usage&metadata.BufferUsageShaderDeviceAddress != 0 {
		b.Address = p.device.BufferAddress(h)
	}
	b.ID = p.track(name, ResourceBuffer, func() { p.device.DestroyBuffer(h) })
	return b, nil
}

func (p *ResourcePool) AllocateImage(name string, desc metadata.ImageDesc) (*Image, error) {
	h, err := p.device.CreateImage(desc)
	if err != nil {
		return nil, allocationError(err, ResourceImage, name)
	}
	img := &Image{Name: name, Handle: h, Desc: desc}
	img.ID = p.track(name, ResourceImage, func() { p.device.DestroyImage(h) })
	return img, nil
}

// CreateAccelerationStructure allocates a device local backing buffer of
// size bytes and places a structure of type t at its start.
func (p *ResourcePool) CreateAccelerationStructure(name string, t metadata.AccelerationStructureType, size uint64) (*AccelerationStructure, error) {
	buf, err := p.AllocateBuffer(name+".buffer", metadata.BufferDesc{
		Size:   size,
		Usage:  metadata.BufferUsageAccelerationStructureStorage | metadata.BufferUsageShaderDeviceAddress,
		Memory: metadata.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	h, err := p.device.CreateAccelerationStructure(metadata.AccelerationStructureDesc{
		Type:   t,
		Buffer: buf.Handle,
		Size:   size,
	})
	if err != nil {
		p.Free(buf.ID)
		return nil, allocationError(err, ResourceAccelerationStructure, name)
	}
	as := &AccelerationStructure{
		Name:    name,
		Handle:  h,
		Type:    t,
		Buffer:  buf,
		Address: p.device.AccelerationStructureAddress(h),
	}
	as.ID = p.track(name, ResourceAccelerationStructure, func() { p.device.DestroyAccelerationStructure(h) })
	p.adopt(as.ID, buf.ID)
	return as, nil
}

func (p *ResourcePool) CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (*Pipeline, error) {
	h, err := p.device.CreateGraphicsPipeline(desc)
	if err != nil {
		err = errors.Wrapf(err, "creating graphics pipeline %q", desc.Name)
		core.LogError(err.Error())
		return nil, err
	}
	pl := &Pipeline{Name: desc.Name, Handle: h}
	pl.ID = p.track(desc.Name, ResourcePipeline, func() { p.device.DestroyPipeline(h) })
	return pl, nil
}

func (p *ResourcePool) CreateComputePipeline(desc metadata.ComputePipelineDesc) (*Pipeline, error) {
	h, err := p.device.CreateComputePipeline(desc)
	if err != nil {
		err = errors.Wrapf(err, "creating compute pipeline %q", desc.Name)
		core.LogError(err.Error())
		return nil, err
	}
	pl := &Pipeline{Name: desc.Name, Handle: h}
	pl.ID = p.track(desc.Name, ResourcePipeline, func() { p.device.DestroyPipeline(h) })
	return pl, nil
}

func (p *ResourcePool) CreateBindGroup(name string, pipeline *Pipeline, bindings []metadata.Binding) (*BindGroup, error) {
	h, err := p.device.CreateBindGroup(pipeline.Handle, bindings)
	if err != nil {
		err = errors.Wrapf(err, "creating bind group %q", name)
		core.LogError(err.Error())
		return nil, err
	}
	g := &BindGroup{Name: name, Handle: h}
	g.ID = p.track(name, ResourceBindGroup, func() { p.device.DestroyBindGroup(h) })
	return g, nil
}

// adopt makes child part of parent: it is no longer released on its own.
func (p *ResourcePool) adopt(parent, child uuid.UUID) {
	p.entries[parent].owned = append(p.entries[parent].owned, child)
	for i, id := range p.order {
		if id == child {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Upload writes data into a host visible buffer.
func (p *ResourcePool) Upload(b *Buffer, offset uint64, data []byte) error {
	if b.Desc.Memory&metadata.MemoryHostVisible == 0 {
		return errors.Errorf("buffer %q is not host visible", b.Name)
	}
	if offset+uint64(len(data)) > b.Desc.Size {
		return errors.Errorf("upload of %d bytes at %d overflows buffer %q (%d bytes)", len(data), offset, b.Name, b.Desc.Size)
	}
	if err := p.device.WriteBuffer(b.Handle, offset, data); err != nil {
		return errors.Wrapf(err, "uploading to %q", b.Name)
	}
	return nil
}

// Free destroys a resource now. The caller guarantees the device no longer
// uses it.
func (p *ResourcePool) Free(id uuid.UUID) error {
	e, ok := p.entries[id]
	if !ok {
		return errors.Errorf("unknown resource %s", id)
	}
	p.destroy(e)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

func (p *ResourcePool) destroy(e *poolEntry) {
	e.destroy()
	delete(p.entries, e.info.ID)
	for i := len(e.owned) - 1; i >= 0; i-- {
		if child, ok := p.entries[e.owned[i]]; ok {
			p.destroy(child)
		}
	}
}

// Retire schedules a resource for destruction once every frame slot has
// waited on its fence again, so no in-flight frame can still reference it.
// A full queue is flushed after WaitIdle instead.
func (p *ResourcePool) Retire(id uuid.UUID) error {
	if _, ok := p.entries[id]; !ok {
		return errors.Errorf("unknown resource %s", id)
	}
	if err := p.retired.Enqueue(retirement{id: id, pending: 1<<uint(p.slots) - 1}); err == nil {
		return nil
	}
	// queue full: nothing in flight can reference what is queued once the
	// device is idle
	core.LogWarn("retire queue full (%d), waiting for the device to free %d resources", maxRetired, p.retired.Len()+1)
	if err := p.device.WaitIdle(); err != nil {
		return errors.Wrapf(err, "retiring %s", id)
	}
	p.flushRetired()
	return p.Free(id)
}

func (p *ResourcePool) flushRetired() {
	for p.retired.Len() > 0 {
		r, err := p.retired.Dequeue()
		if err != nil {
			return
		}
		_ = p.Free(r.id)
	}
}

// DrainRetired is called right after the fence of slot was observed
// signaled. It destroys every retired resource no slot still waits for.
func (p *ResourcePool) DrainRetired(slot int) int {
	destroyed := 0
	for n := p.retired.Len(); n > 0; n-- {
		r, err := p.retired.Dequeue()
		if err != nil {
			break
		}
		r.pending &^= 1 << uint(slot)
		if r.pending != 0 {
			// cannot overflow, an element was just removed
			_ = p.retired.Enqueue(r)
			continue
		}
		if err := p.Free(r.id); err == nil {
			destroyed++
		}
	}
	return destroyed
}

// PendingRetired is the number of resources waiting in the retire queue.
func (p *ResourcePool) PendingRetired() int {
	return p.retired.Len()
}

// Live lists every resource not yet destroyed, in creation order.
func (p *ResourcePool) Live() []ResourceInfo {
	out := make([]ResourceInfo, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id].info)
	}
	return out
}

// Release destroys every remaining resource in reverse creation order. It
// may be called more than once.
func (p *ResourcePool) Release() {
	for !p.retired.IsEmpty() {
		p.retired.Dequeue()
	}
	if len(p.order) > 0 {
		core.LogDebug("releasing %d device resources", len(p.order))
	}
	for i := len(p.order) - 1; i >= 0; i-- {
		if e, ok := p.entries[p.order[i]]; ok {
			p.destroy(e)
		}
	}
	p.order = nil
}
