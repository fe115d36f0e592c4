package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// BottomLevel is the static structure built over one submesh.
type BottomLevel struct {
	Submesh   int
	Structure *AccelerationStructure
}

// ValidateSubmesh rejects index ranges that are not whole triangles.
func ValidateSubmesh(s metadata.Submesh) error {
	if s.IndexCount < 3 || s.IndexCount%3 != 0 {
		return errors.Wrapf(core.ErrValidation, "submesh %q has %d indices, want a positive multiple of 3", s.Name, s.IndexCount)
	}
	return nil
}

// bottomLevelInfo describes the triangles of one submesh by device address.
func bottomLevelInfo(g *Geometry, s metadata.Submesh) metadata.AccelerationStructureBuildInfo {
	flags := metadata.GeometryOpaque
	if s.AlphaCut {
		flags = 0
	}
	return metadata.AccelerationStructureBuildInfo{
		Type:  metadata.AccelerationStructureBottomLevel,
		Flags: metadata.BuildPreferFastTrace,
		Mode:  metadata.BuildModeBuild,
		Triangles: &metadata.TrianglesGeometry{
			VertexFormat:  metadata.FormatR32G32B32Sfloat,
			VertexAddress: g.Vertices.Address,
			VertexStride:  uint64(g.VertexStride()),
			MaxVertex:     s.MaxVertexIndex,
			IndexType:     metadata.IndexTypeUint32,
			IndexAddress:  g.Indices.Address + uint64(s.IndexOffset)*4,
			Flags:         flags,
		},
		PrimitiveCount: s.PrimitiveCount(),
	}
}

/**
 * Builds one bottom-level structure per submesh. Every structure and scratch
 * buffer is allocated before anything is submitted, then all builds run in a
 * single command buffer that is waited on. On failure everything allocated
 * here is freed and nothing is submitted.
 */
func BuildBottomLevel(ctx context.Context, device Device, pool *ResourcePool, g *Geometry, timeout time.Duration) ([]*BottomLevel, error) {
	for _, s := range g.Mesh.Submeshes {
		if err := ValidateSubmesh(s); err != nil {
			core.LogError(err.Error())
			return nil, err
		}
	}

	var (
		out     []*BottomLevel
		scratch []*Buffer
		infos   []metadata.AccelerationStructureBuildInfo
	)
	freeAll := func() {
		for _, b := range scratch {
			pool.Free(b.ID)
		}
		for _, bl := range out {
			pool.Free(bl.Structure.ID)
		}
	}

	for i, s := range g.Mesh.Submeshes {
		info := bottomLevelInfo(g, s)
		sizes := device.AccelerationStructureBuildSizes(info)
		if sizes.StructureSize == 0 || sizes.BuildScratchSize == 0 {
			freeAll()
			err := errors.Wrapf(core.ErrAllocationFailed, "device reported no build sizes for submesh %d", i)
			core.LogError(err.Error())
			return nil, err
		}
		name := fmt.Sprintf("blas.%d", i)
		as, err := pool.CreateAccelerationStructure(name, metadata.AccelerationStructureBottomLevel, sizes.StructureSize)
		if err != nil {
			freeAll()
			return nil, err
		}
		out = append(out, &BottomLevel{Submesh: i, Structure: as})

		sb, err := pool.AllocateBuffer(name+".scratch", metadata.BufferDesc{
			Size:   sizes.BuildScratchSize,
			Usage:  metadata.BufferUsageStorage | metadata.BufferUsageShaderDeviceAddress,
			Memory: metadata.MemoryDeviceLocal,
		})
		if err != nil {
			freeAll()
			return nil, err
		}
		scratch = append(scratch, sb)

		info.Dst = as.Handle
		info.ScratchAddress = sb.Address
		infos = append(infos, info)
	}

	err := SubmitOnce(ctx, device, timeout, func(cb CommandBuffer) {
		for _, info := range infos {
			cb.BuildAccelerationStructure(info)
		}
	})
	if err != nil {
		freeAll()
		return nil, errors.Wrap(err, "building bottom-level structures")
	}
	for _, b := range scratch {
		pool.Free(b.ID)
	}
	core.LogDebug("built %d bottom-level structures", len(out))
	return out, nil
}
