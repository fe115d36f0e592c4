package vulkan

import (
	"encoding/binary"
	stdmath "math"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Mesh blobs embedded in a top-level structure start on this boundary.
const blobAlignment = 16

// VulkanAccelerationStructure is a range of a storage buffer holding a
// packed BVH. Bottom-level structures pack a mesh. Top-level structures
// pack the scene header, its instance records and a copy of every mesh
// they reference, so one storage buffer binding is enough to trace rays.
type VulkanAccelerationStructure struct {
	Desc   metadata.AccelerationStructureDesc
	buffer *VulkanBuffer

	built      bool
	flags      metadata.BuildFlags
	primitives uint32

	mesh *accel.Mesh
	blob []byte

	scene  *accel.Scene
	layout sceneLayout
}

// bufferUpdate is a write into a buffer recorded as a command.
type bufferUpdate struct {
	offset uint64
	data   []byte
}

// sceneLayout places mesh blobs after the records of a scene.
type sceneLayout struct {
	meshes  []*accel.Mesh
	offsets []uint64
	size    uint64
}

func layoutScene(scene *accel.Scene) sceneLayout {
	l := sceneLayout{meshes: scene.Meshes()}
	at := metadata.GetAligned(scene.RecordsSize(), blobAlignment)
	l.offsets = make([]uint64, len(l.meshes))
	for i, m := range l.meshes {
		l.offsets[i] = at
		at = metadata.GetAligned(at+accel.MeshSize(m.PrimitiveCount()), blobAlignment)
	}
	l.size = at
	return l
}

func (l sceneLayout) offset(m *accel.Mesh) uint64 {
	for i, mm := range l.meshes {
		if mm == m {
			return l.offsets[i]
		}
	}
	return 0
}

// sameMeshes reports whether both layouts embed the same meshes at the
// same offsets.
func (l sceneLayout) sameMeshes(o sceneLayout) bool {
	if len(l.meshes) != len(o.meshes) || l.size != o.size {
		return false
	}
	for i := range l.meshes {
		if l.meshes[i] != o.meshes[i] || l.offsets[i] != o.offsets[i] {
			return false
		}
	}
	return true
}

// updateChunks splits a write into pieces vkCmdUpdateBuffer accepts.
func updateChunks(u bufferUpdate) []bufferUpdate {
	var out []bufferUpdate
	for _, r := range metadata.SplitRange(uint64(len(u.data)), maxUpdateSize) {
		out = append(out, bufferUpdate{offset: u.offset + r.Offset, data: u.data[r.Offset : r.Offset+r.Size]})
	}
	return out
}

// words is the chunk as vkCmdUpdateBuffer takes it. Chunks are never empty.
func (u bufferUpdate) words() *uint32 {
	return (*uint32)(unsafe.Pointer(&u.data[0]))
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
	// room for a copy of every bottom-level structure alive now
	var meshBytes uint64
	d.mu.Lock()
	for _, s := range d.structures {
		if s.Desc.Type == metadata.AccelerationStructureBottomLevel {
			meshBytes += metadata.GetAligned(s.Desc.Size, blobAlignment)
		}
	}
	d.mu.Unlock()
	return metadata.AccelerationStructureBuildSizes{
		StructureSize:     accel.SceneSize(n, meshBytes),
		BuildScratchSize:  accel.SceneScratchSize(n),
		UpdateScratchSize: accel.SceneUpdateScratchSize(n),
	}
}

func (d *Device) CreateAccelerationStructure(desc metadata.AccelerationStructureDesc) (metadata.AccelerationStructureHandle, error) {
	b, err := d.buffer(desc.Buffer)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	if b.Desc.Usage&metadata.BufferUsageAccelerationStructureStorage == 0 {
		return metadata.InvalidHandle, errors.Wrapf(core.ErrValidation, "buffer %d lacks acceleration structure storage usage", desc.Buffer)
	}
	if desc.Offset%4 != 0 || !b.inRange(desc.Offset, desc.Size) {
		return metadata.InvalidHandle, errors.Wrapf(core.ErrValidation, "structure of %d bytes at %d does not fit buffer %d", desc.Size, desc.Offset, desc.Buffer)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.AccelerationStructureHandle(d.nextHandle())
	d.structures[h] = &VulkanAccelerationStructure{Desc: desc, buffer: b}
	return h, nil
}

func (d *Device) DestroyAccelerationStructure(h metadata.AccelerationStructureHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.structures, h)
}

func (d *Device) AccelerationStructureAddress(h metadata.AccelerationStructureHandle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.structures[h]
	if !ok {
		return 0
	}
	return d.BufferAddress(s.Desc.Buffer) + s.Desc.Offset
}

func (d *Device) structure(h metadata.AccelerationStructureHandle) (*VulkanAccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.structures[h]
	if !ok {
		return nil, errors.Wrapf(core.ErrValidation, "unknown acceleration structure %d", h)
	}
	return s, nil
}

func (d *Device) structureAt(addr uint64) (*VulkanAccelerationStructure, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.structures {
		if d.BufferAddress(s.Desc.Buffer)+s.Desc.Offset == addr {
			return s, true
		}
	}
	return nil, false
}

// hostBuild builds the structure of info on the host from the shadows of
// its input buffers and returns the writes that store it on the device.
func (d *Device) hostBuild(info metadata.AccelerationStructureBuildInfo) ([]bufferUpdate, error) {
	dst, err := d.structure(info.Dst)
	if err != nil {
		return nil, err
	}
	if dst.Desc.Type != info.Type {
		return nil, errors.Wrapf(core.ErrValidation, "%s build into %s structure %d", info.Type, dst.Desc.Type, info.Dst)
	}
	src := dst
	if info.Mode == metadata.BuildModeUpdate {
		if src, err = d.structure(info.Src); err != nil {
			return nil, err
		}
		switch {
		case !src.built:
			return nil, errors.Wrapf(core.ErrValidation, "update from structure %d that was never built", info.Src)
		case src.flags&metadata.BuildAllowUpdate == 0:
			return nil, errors.Wrapf(core.ErrValidation, "update from structure %d built without AllowUpdate", info.Src)
		case src.primitives != info.PrimitiveCount:
			return nil, errors.Wrapf(core.ErrValidation, "update with %d primitives, source was built with %d", info.PrimitiveCount, src.primitives)
		}
	}
	if _, _, err := d.resolveAddress(info.ScratchAddress); err != nil {
		return nil, errors.Wrap(err, "scratch")
	}

	var updates []bufferUpdate
	if info.Type == metadata.AccelerationStructureBottomLevel {
		updates, err = d.buildMesh(dst, info)
	} else {
		updates, err = d.buildScene(dst, src, info)
	}
	if err != nil {
		return nil, err
	}
	dst.built = true
	dst.flags = info.Flags
	dst.primitives = info.PrimitiveCount
	return updates, nil
}

func (d *Device) input(addr, size uint64, what string) ([]byte, error) {
	b, off, err := d.resolveAddress(addr)
	if err != nil {
		return nil, errors.Wrap(err, what)
	}
	if b.Desc.Usage&metadata.BufferUsageAccelerationStructureBuildInput == 0 {
		return nil, errors.Wrapf(core.ErrValidation, "%s buffer lacks build input usage", what)
	}
	data, err := b.hostBytes(off, size)
	return data, errors.Wrap(err, what)
}

func (d *Device) buildMesh(dst *VulkanAccelerationStructure, info metadata.AccelerationStructureBuildInfo) ([]bufferUpdate, error) {
	geo := info.Triangles
	if geo == nil {
		return nil, errors.Wrap(core.ErrValidation, "bottom-level build without triangles")
	}
	if geo.VertexFormat != metadata.FormatR32G32B32Sfloat || geo.IndexType != metadata.IndexTypeUint32 {
		return nil, errors.Wrapf(core.ErrValidation, "unsupported vertex format %s", geo.VertexFormat)
	}
	n := info.PrimitiveCount
	indices, err := d.input(geo.IndexAddress, uint64(n)*12, "index")
	if err != nil {
		return nil, err
	}
	vertices, err := d.input(geo.VertexAddress, uint64(geo.MaxVertex)*geo.VertexStride+12, "vertex")
	if err != nil {
		return nil, err
	}
	tris := make([]accel.Triangle, n)
	for t := range tris {
		var v [3]math.Vec3
		for k := range v {
			idx := binary.LittleEndian.Uint32(indices[(t*3+k)*4:])
			if idx > geo.MaxVertex {
				return nil, errors.Wrapf(core.ErrValidation, "index %d of triangle %d exceeds max vertex %d", idx, t, geo.MaxVertex)
			}
			o := vertices[uint64(idx)*geo.VertexStride:]
			v[k] = math.Vec3{
				X: stdmath.Float32frombits(binary.LittleEndian.Uint32(o)),
				Y: stdmath.Float32frombits(binary.LittleEndian.Uint32(o[4:])),
				Z: stdmath.Float32frombits(binary.LittleEndian.Uint32(o[8:])),
			}
		}
		tris[t] = accel.Triangle{V0: v[0], V1: v[1], V2: v[2]}
	}
	mesh := accel.NewMesh(tris, geo.Flags&metadata.GeometryOpaque != 0)
	blob := mesh.Encode()
	if uint64(len(blob)) > dst.Desc.Size {
		return nil, errors.Wrapf(core.ErrValidation, "mesh needs %d bytes, structure has %d", len(blob), dst.Desc.Size)
	}
	dst.mesh = mesh
	dst.blob = blob
	return []bufferUpdate{{offset: dst.Desc.Offset, data: blob}}, nil
}

func (d *Device) buildScene(dst, src *VulkanAccelerationStructure, info metadata.AccelerationStructureBuildInfo) ([]bufferUpdate, error) {
	if info.Instances == nil {
		return nil, errors.Wrap(core.ErrValidation, "top-level build without instances")
	}
	data, err := d.input(info.Instances.DataAddress, uint64(info.PrimitiveCount)*metadata.InstanceSize, "instance")
	if err != nil {
		return nil, err
	}
	records := metadata.DecodeInstances(data)
	instances := make([]accel.Instance, len(records))
	blobs := make(map[*accel.Mesh][]byte, len(records))
	for i, r := range records {
		blas, ok := d.structureAt(r.Reference)
		if !ok || blas.Desc.Type != metadata.AccelerationStructureBottomLevel {
			return nil, errors.Wrapf(core.ErrValidation, "instance %d references %#x, which is not a bottom-level structure", i, r.Reference)
		}
		if !blas.built {
			return nil, errors.Wrapf(core.ErrValidation, "instance %d references a bottom-level structure before it was built", i)
		}
		instances[i] = accel.Instance{
			Transform:   r.Transform,
			CustomIndex: r.CustomIndex,
			Mask:        r.Mask,
			Mesh:        blas.mesh,
		}
		blobs[blas.mesh] = blas.blob
	}

	scene := dst.scene
	update := info.Mode == metadata.BuildModeUpdate && src == dst && scene != nil
	if update {
		err = scene.Update(instances)
	} else {
		scene, err = accel.NewScene(instances)
	}
	if err != nil {
		return nil, errors.Wrapf(core.ErrValidation, "top-level %s: %v", info.Mode, err)
	}

	layout := layoutScene(scene)
	if layout.size > dst.Desc.Size {
		return nil, errors.Wrapf(core.ErrValidation, "scene needs %d bytes, structure has %d", layout.size, dst.Desc.Size)
	}
	updates := []bufferUpdate{{offset: dst.Desc.Offset, data: scene.EncodeHeader(layout.offset)}}
	if !update || !layout.sameMeshes(dst.layout) {
		for i, m := range layout.meshes {
			updates = append(updates, bufferUpdate{offset: dst.Desc.Offset + layout.offsets[i], data: blobs[m]})
		}
	}
	dst.scene = scene
	dst.layout = layout
	return updates, nil
}
