package reference

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// build executes an acceleration structure build or update. The BVH is
// built on the host and its packed form is written into the backing buffer.
func (x *executor) build(info metadata.AccelerationStructureBuildInfo) {
	dst := x.structure(info.Dst)
	if dst == nil {
		return
	}
	if dst.desc.Type != info.Type {
		x.fail(ViolationBuild, "%s build into %s structure %d", info.Type, dst.desc.Type, dst.h)
		return
	}

	var src *structure
	if info.Mode == metadata.BuildModeUpdate {
		if src = x.structure(info.Src); src == nil {
			return
		}
		switch {
		case !src.built:
			x.fail(ViolationBuild, "update of structure %d from source %d that was never built", dst.h, src.h)
			return
		case src.flags&metadata.BuildAllowUpdate == 0:
			x.fail(ViolationBuild, "update from structure %d built without AllowUpdate", src.h)
			return
		case src.primitives != info.PrimitiveCount:
			x.fail(ViolationBuild, "update of structure %d with %d primitives, source was built with %d", dst.h, info.PrimitiveCount, src.primitives)
			return
		}
		if src != dst {
			x.access(&src.sync, "update source structure", metadata.PipelineStageAccelerationStructureBuild, metadata.AccessAccelerationStructureRead)
		}
	}

	if !x.scratch(info) {
		return
	}

	var ok bool
	if info.Type == metadata.AccelerationStructureBottomLevel {
		ok = x.buildMesh(dst, info)
	} else {
		ok = x.buildScene(dst, src, info)
	}
	if !ok {
		return
	}
	x.access(&dst.sync, "structure", metadata.PipelineStageAccelerationStructureBuild, metadata.AccessAccelerationStructureWrite)
	dst.built = true
	dst.flags = info.Flags
	dst.primitives = info.PrimitiveCount
}

func (x *executor) scratch(info metadata.AccelerationStructureBuildInfo) bool {
	b, off, ok := x.d.resolve(info.ScratchAddress)
	if !ok {
		x.fail(ViolationBuild, "scratch address %#x does not name a live buffer", info.ScratchAddress)
		return false
	}
	sizes := x.d.AccelerationStructureBuildSizes(info)
	need := sizes.BuildScratchSize
	if info.Mode == metadata.BuildModeUpdate {
		need = sizes.UpdateScratchSize
	}
	if uint64(len(b.data))-off < need {
		x.fail(ViolationBuild, "scratch of %d bytes, %s of %d primitives needs %d", uint64(len(b.data))-off, info.Mode, info.PrimitiveCount, need)
		return false
	}
	x.access(&b.sync, "scratch buffer", metadata.PipelineStageAccelerationStructureBuild, metadata.AccessAccelerationStructureWrite)
	return true
}

func (x *executor) input(addr, size uint64, what string) []byte {
	b, off, ok := x.d.resolve(addr)
	if !ok {
		x.fail(ViolationBuild, "%s address %#x does not name a live buffer", what, addr)
		return nil
	}
	if b.desc.Usage&metadata.BufferUsageAccelerationStructureBuildInput == 0 {
		x.fail(ViolationUsage, "%s buffer %d lacks build input usage", what, b.h)
	}
	if off+size > uint64(len(b.data)) {
		x.fail(ViolationBuild, "%s of %d bytes at %#x overflows buffer %d", what, size, addr, b.h)
		return nil
	}
	x.access(&b.sync, what, metadata.PipelineStageAccelerationStructureBuild, metadata.AccessAccelerationStructureRead)
	return b.data[off : off+size]
}

func (x *executor) buildMesh(dst *structure, info metadata.AccelerationStructureBuildInfo) bool {
	geo := info.Triangles
	if geo == nil {
		x.fail(ViolationBuild, "bottom-level build of %d without triangles", dst.h)
		return false
	}
	if geo.VertexFormat != metadata.FormatR32G32B32Sfloat || geo.IndexType != metadata.IndexTypeUint32 {
		x.fail(ViolationBuild, "unsupported vertex format %s", geo.VertexFormat)
		return false
	}
	n := info.PrimitiveCount
	indices := x.input(geo.IndexAddress, uint64(n)*12, "index")
	vertices := x.input(geo.VertexAddress, uint64(geo.MaxVertex)*geo.VertexStride+12, "vertex")
	if indices == nil || vertices == nil {
		return false
	}
	tris := make([]accel.Triangle, n)
	for t := range tris {
		var v [3]math.Vec3
		for k := range v {
			idx := binary.LittleEndian.Uint32(indices[(t*3+k)*4:])
			if idx > geo.MaxVertex {
				x.fail(ViolationBuild, "index %d of triangle %d exceeds max vertex %d", idx, t, geo.MaxVertex)
				return false
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
	if !x.store(dst, mesh.Encode()) {
		return false
	}
	dst.mesh = mesh
	x.d.stats.Builds++
	return true
}

func (x *executor) buildScene(dst, src *structure, info metadata.AccelerationStructureBuildInfo) bool {
	if info.Instances == nil {
		x.fail(ViolationBuild, "top-level build of %d without instances", dst.h)
		return false
	}
	n := info.PrimitiveCount
	data := x.input(info.Instances.DataAddress, uint64(n)*metadata.InstanceSize, "instance")
	if data == nil {
		return false
	}
	records := metadata.DecodeInstances(data)
	instances := make([]accel.Instance, len(records))
	addresses := make(map[*accel.Mesh]uint64, len(records))
	for i, r := range records {
		blas, ok := x.d.byAddress[r.Reference]
		if !ok || blas.desc.Type != metadata.AccelerationStructureBottomLevel {
			x.fail(ViolationBuild, "instance %d references %#x, which is not a bottom-level structure", i, r.Reference)
			return false
		}
		if !blas.built {
			x.fail(ViolationBuild, "instance %d references bottom-level structure %d before it was built", i, blas.h)
			return false
		}
		x.access(&blas.sync, "bottom-level structure", metadata.PipelineStageAccelerationStructureBuild, metadata.AccessAccelerationStructureRead)
		instances[i] = accel.Instance{
			Transform:   r.Transform,
			CustomIndex: r.CustomIndex,
			Mask:        r.Mask,
			Mesh:        blas.mesh,
		}
		addresses[blas.mesh] = r.Reference
	}

	scene := dst.scene
	var err error
	if info.Mode == metadata.BuildModeUpdate && src == dst {
		err = scene.Update(instances)
	} else {
		scene, err = accel.NewScene(instances)
	}
	if err != nil {
		x.fail(ViolationBuild, "top-level %s of %d: %v", info.Mode, dst.h, err)
		return false
	}
	if !x.store(dst, scene.EncodeHeader(func(m *accel.Mesh) uint64 { return addresses[m] })) {
		return false
	}
	dst.scene = scene
	dst.instances = records
	if info.Mode == metadata.BuildModeUpdate {
		x.d.stats.TopUpdates++
	} else {
		x.d.stats.TopBuilds++
	}
	return true
}

func (x *executor) store(dst *structure, packed []byte) bool {
	if uint64(len(packed)) > dst.desc.Size {
		x.fail(ViolationBuild, "structure %d needs %d bytes, was created with %d", dst.h, len(packed), dst.desc.Size)
		return false
	}
	copy(dst.buf.data[dst.desc.Offset:], packed)
	return true
}

// TopLevelInstances returns the instance records of the last build or update
// of a top-level structure.
func (d *Device) TopLevelInstances(h metadata.AccelerationStructureHandle) ([]metadata.Instance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.structures[h]
	if !ok || !s.built || s.scene == nil {
		return nil, false
	}
	return append([]metadata.Instance(nil), s.instances...), true
}

// RayQuery traces a ray against a built structure of either level. Work
// still queued is not run first.
func (d *Device) RayQuery(h metadata.AccelerationStructureHandle, origin, dir math.Vec3, tMax float32) (accel.Hit, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.structures[h]
	if !ok || !s.built {
		return accel.Hit{}, false
	}
	if s.scene != nil {
		return s.scene.Intersect(origin, dir, tMax, 0xFF)
	}
	return s.mesh.Intersect(origin, dir, tMax)
}
