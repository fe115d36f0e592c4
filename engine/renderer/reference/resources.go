package reference

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// addressShift places every buffer in its own 4GiB window of the fake
// device address space.
const addressShift = 32

type resKind uint8

const (
	kindBuffer resKind = iota
	kindImage
	kindStructure
	kindGroup
	kindPipeline
)

type resKey struct {
	kind resKind
	h    uint64
}

type buffer struct {
	h    metadata.BufferHandle
	desc metadata.BufferDesc
	data []byte
	sync hazard
}

func (b *buffer) key() resKey { return resKey{kindBuffer, uint64(b.h)} }

func (b *buffer) address() uint64 { return uint64(b.h) << addressShift }

type image struct {
	h      metadata.ImageHandle
	desc   metadata.ImageDesc
	layout metadata.ImageLayout
	color  []math.Vec4
	depth  []float32
	swap   bool
	sync   hazard
}

func (i *image) key() resKey { return resKey{kindImage, uint64(i.h)} }

func (i *image) texel(x, y int) math.Vec4 {
	return i.color[y*int(i.desc.Extent.Width)+x]
}

type structure struct {
	h          metadata.AccelerationStructureHandle
	desc       metadata.AccelerationStructureDesc
	buf        *buffer
	built      bool
	flags      metadata.BuildFlags
	primitives uint32
	mesh       *accel.Mesh
	scene      *accel.Scene
	instances  []metadata.Instance
	sync       hazard
}

func (s *structure) key() resKey { return resKey{kindStructure, uint64(s.h)} }

func (s *structure) address() uint64 { return s.buf.address() + s.desc.Offset }

type pipeline struct {
	h        metadata.PipelineHandle
	name     string
	graphics bool
	kind     metadata.PipelineKind
	bindings []metadata.BindingLayout
	pushSize uint32
	local    [3]uint32
	stride   uint32
	colors   []metadata.Format
	depth    metadata.Format
}

type bindGroup struct {
	h        metadata.BindGroupHandle
	pipeline metadata.PipelineHandle
	bindings []metadata.Binding
}

func (g *bindGroup) key() resKey { return resKey{kindGroup, uint64(g.h)} }

func (d *Device) CreateBuffer(desc metadata.BufferDesc) (metadata.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Size == 0 {
		return 0, errors.New("zero sized buffer")
	}
	if err := d.allocate("buffer"); err != nil {
		return 0, err
	}
	b := &buffer{h: metadata.BufferHandle(d.handle()), desc: desc, data: make([]byte, desc.Size)}
	d.buffers[b.h] = b
	return b.h, nil
}

func (d *Device) DestroyBuffer(h metadata.BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		d.violate(ViolationLifetime, "destroying unknown buffer %d", h)
		return
	}
	d.checkIdle(b.key(), "buffer")
	delete(d.buffers, h)
}

func (d *Device) WriteBuffer(h metadata.BufferHandle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return errors.Errorf("write to unknown buffer %d", h)
	}
	if b.desc.Memory&metadata.MemoryHostVisible == 0 {
		return errors.Errorf("buffer %d is not host visible", h)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return errors.Errorf("write of %d bytes at %d overflows buffer %d", len(data), offset, h)
	}
	if s := d.pendingUser(b.key()); s != nil {
		if err := d.violate(ViolationHostWrite, "host write to buffer %d still used by submission %d", h, s.seq); err != nil {
			return err
		}
	}
	copy(b.data[offset:], data)
	b.sync.reset()
	return nil
}

func (d *Device) BufferAddress(h metadata.BufferHandle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return 0
	}
	if b.desc.Usage&metadata.BufferUsageShaderDeviceAddress == 0 {
		d.violate(ViolationUsage, "address of buffer %d without device address usage", h)
	}
	return b.address()
}

// resolve maps a device address back to a buffer and offset.
func (d *Device) resolve(addr uint64) (*buffer, uint64, bool) {
	b, ok := d.buffers[metadata.BufferHandle(addr>>addressShift)]
	if !ok {
		return nil, 0, false
	}
	off := addr & (1<<addressShift - 1)
	if off > uint64(len(b.data)) {
		return nil, 0, false
	}
	return b, off, true
}

func (d *Device) CreateImage(desc metadata.ImageDesc) (metadata.ImageHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Extent.IsZero() {
		return 0, errors.New("zero sized image")
	}
	if err := d.allocate("image"); err != nil {
		return 0, err
	}
	return d.newImage(desc, false).h, nil
}

func (d *Device) newImage(desc metadata.ImageDesc, swap bool) *image {
	img := &image{h: metadata.ImageHandle(d.handle()), desc: desc, swap: swap}
	n := int(desc.Extent.Width * desc.Extent.Height)
	if desc.Format.IsDepth() {
		img.depth = make([]float32, n)
	} else {
		img.color = make([]math.Vec4, n)
	}
	d.images[img.h] = img
	return img
}

func (d *Device) DestroyImage(h metadata.ImageHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		d.violate(ViolationLifetime, "destroying unknown image %d", h)
		return
	}
	if img.swap {
		d.violate(ViolationUsage, "destroying swapchain image %d", h)
		return
	}
	d.checkIdle(img.key(), "image")
	delete(d.images, h)
}

func (d *Device) AccelerationStructureBuildSizes(info metadata.AccelerationStructureBuildInfo) metadata.AccelerationStructureBuildSizes {
	n := info.PrimitiveCount
	if info.Type == metadata.AccelerationStructureBottomLevel {
		s := metadata.AccelerationStructureBuildSizes{
			StructureSize:    accel.MeshSize(n),
			BuildScratchSize: accel.MeshScratchSize(n),
		}
		if info.Flags&metadata.BuildAllowUpdate != 0 {
			s.UpdateScratchSize = s.BuildScratchSize
		}
		return s
	}
	return metadata.AccelerationStructureBuildSizes{
		StructureSize:     accel.SceneSize(n, 0),
		BuildScratchSize:  accel.SceneScratchSize(n),
		UpdateScratchSize: accel.SceneUpdateScratchSize(n),
	}
}

func (d *Device) CreateAccelerationStructure(desc metadata.AccelerationStructureDesc) (metadata.AccelerationStructureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[desc.Buffer]
	if !ok {
		return 0, errors.Errorf("acceleration structure on unknown buffer %d", desc.Buffer)
	}
	if b.desc.Usage&metadata.BufferUsageAccelerationStructureStorage == 0 {
		d.violate(ViolationUsage, "buffer %d lacks acceleration structure storage usage", desc.Buffer)
	}
	if desc.Offset+desc.Size > b.desc.Size {
		return 0, errors.Errorf("structure of %d bytes at %d does not fit buffer %d", desc.Size, desc.Offset, desc.Buffer)
	}
	if err := d.allocate("acceleration structure"); err != nil {
		return 0, err
	}
	s := &structure{h: metadata.AccelerationStructureHandle(d.handle()), desc: desc, buf: b}
	d.structures[s.h] = s
	d.byAddress[s.address()] = s
	return s.h, nil
}

func (d *Device) DestroyAccelerationStructure(h metadata.AccelerationStructureHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.structures[h]
	if !ok {
		d.violate(ViolationLifetime, "destroying unknown acceleration structure %d", h)
		return
	}
	d.checkIdle(s.key(), "acceleration structure")
	delete(d.byAddress, s.address())
	delete(d.structures, h)
}

func (d *Device) AccelerationStructureAddress(h metadata.AccelerationStructureHandle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.structures[h]; ok {
		return s.address()
	}
	return 0
}

func checkCode(code []uint32) error {
	if len(code) == 0 {
		return nil
	}
	if code[0] != loaders.SPIRVMagic {
		return errors.Errorf("bad spir-v magic %#08x", code[0])
	}
	return nil
}

func (d *Device) CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (metadata.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkCode(desc.VertexCode); err != nil {
		return 0, errors.Wrap(err, desc.Name)
	}
	if err := checkCode(desc.FragmentCode); err != nil {
		return 0, errors.Wrap(err, desc.Name)
	}
	if desc.Kind != metadata.PipelineGBuffer {
		return 0, errors.Errorf("%s: no built-in raster program for kind %d", desc.Name, desc.Kind)
	}
	if desc.VertexStride < 12 || len(desc.ColorFormats) != 3 {
		return 0, errors.Errorf("%s: G-buffer program needs a vertex stride of at least 12 and 3 colour targets", desc.Name)
	}
	p := &pipeline{
		h:        metadata.PipelineHandle(d.handle()),
		name:     desc.Name,
		graphics: true,
		kind:     desc.Kind,
		bindings: desc.Bindings,
		pushSize: desc.PushConstantSize,
		stride:   desc.VertexStride,
		colors:   desc.ColorFormats,
		depth:    desc.DepthFormat,
	}
	d.pipelines[p.h] = p
	return p.h, nil
}

func (d *Device) CreateComputePipeline(desc metadata.ComputePipelineDesc) (metadata.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkCode(desc.Code); err != nil {
		return 0, errors.Wrap(err, desc.Name)
	}
	if desc.Kind != metadata.PipelineLighting {
		return 0, errors.Errorf("%s: no built-in compute program for kind %d", desc.Name, desc.Kind)
	}
	p := &pipeline{
		h:        metadata.PipelineHandle(d.handle()),
		name:     desc.Name,
		kind:     desc.Kind,
		bindings: desc.Bindings,
		pushSize: desc.PushConstantSize,
		local:    desc.LocalSize,
	}
	for i, n := range p.local {
		if n == 0 {
			p.local[i] = 1
		}
	}
	d.pipelines[p.h] = p
	return p.h, nil
}

func (d *Device) DestroyPipeline(h metadata.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipelines[h]; !ok {
		d.violate(ViolationLifetime, "destroying unknown pipeline %d", h)
		return
	}
	d.checkIdle(resKey{kindPipeline, uint64(h)}, "pipeline")
	delete(d.pipelines, h)
}

func (d *Device) validateBindings(p *pipeline, bindings []metadata.Binding) error {
	if len(bindings) != len(p.bindings) {
		return errors.Errorf("pipeline %s declares %d bindings, got %d", p.name, len(p.bindings), len(bindings))
	}
	layout := make(map[uint32]metadata.DescriptorType, len(p.bindings))
	for _, l := range p.bindings {
		layout[l.Binding] = l.Type
	}
	for _, b := range bindings {
		t, ok := layout[b.Binding]
		if !ok {
			return errors.Errorf("pipeline %s has no binding %d", p.name, b.Binding)
		}
		if t != b.Type {
			return errors.Errorf("binding %d of %s is a %s, got %s", b.Binding, p.name, t, b.Type)
		}
		switch b.Type {
		case metadata.DescriptorUniformBuffer, metadata.DescriptorStorageBuffer:
			if _, ok := d.buffers[b.Buffer]; !ok {
				return errors.Errorf("binding %d: unknown buffer %d", b.Binding, b.Buffer)
			}
		case metadata.DescriptorSampledImage, metadata.DescriptorStorageImage:
			if _, ok := d.images[b.Image]; !ok {
				return errors.Errorf("binding %d: unknown image %d", b.Binding, b.Image)
			}
		case metadata.DescriptorAccelerationStructure:
			if _, ok := d.structures[b.AccelerationStructure]; !ok {
				return errors.Errorf("binding %d: unknown acceleration structure %d", b.Binding, b.AccelerationStructure)
			}
		}
	}
	return nil
}

func (d *Device) CreateBindGroup(ph metadata.PipelineHandle, bindings []metadata.Binding) (metadata.BindGroupHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[ph]
	if !ok {
		return 0, errors.Errorf("bind group for unknown pipeline %d", ph)
	}
	if err := d.validateBindings(p, bindings); err != nil {
		return 0, err
	}
	g := &bindGroup{
		h:        metadata.BindGroupHandle(d.handle()),
		pipeline: ph,
		bindings: append([]metadata.Binding(nil), bindings...),
	}
	d.groups[g.h] = g
	return g.h, nil
}

func (d *Device) UpdateBindGroup(h metadata.BindGroupHandle, bindings []metadata.Binding) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[h]
	if !ok {
		return errors.Errorf("update of unknown bind group %d", h)
	}
	p, ok := d.pipelines[g.pipeline]
	if !ok {
		return errors.Errorf("bind group %d outlived its pipeline", h)
	}
	if err := d.validateBindings(p, bindings); err != nil {
		return err
	}
	if s := d.pendingUser(g.key()); s != nil {
		if err := d.violate(ViolationLifetime, "bind group %d updated while submission %d uses it", h, s.seq); err != nil {
			return err
		}
	}
	g.bindings = append(g.bindings[:0], bindings...)
	return nil
}

func (d *Device) DestroyBindGroup(h metadata.BindGroupHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[h]
	if !ok {
		d.violate(ViolationLifetime, "destroying unknown bind group %d", h)
		return
	}
	d.checkIdle(g.key(), "bind group")
	delete(d.groups, h)
}

// checkIdle flags destruction of an object a pending submission still uses.
func (d *Device) checkIdle(k resKey, what string) {
	if s := d.pendingUser(k); s != nil {
		d.violate(ViolationLifetime, "%s %d destroyed while submission %d uses it", what, k.h, s.seq)
	}
}
