package renderer

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Geometry is a loaded mesh resident in device memory: one vertex buffer
// and one index buffer shared by every submesh.
type Geometry struct {
	Mesh     *metadata.MeshData
	Vertices *Buffer
	Indices  *Buffer
}

const geometryUsage = metadata.BufferUsageShaderDeviceAddress | metadata.BufferUsageAccelerationStructureBuildInput

// UploadGeometry copies the mesh into buffers readable both by the raster
// pass and by acceleration structure builds.
func UploadGeometry(pool *ResourcePool, mesh *metadata.MeshData) (*Geometry, error) {
	if len(mesh.Vertices) == 0 || len(mesh.Indices) == 0 || len(mesh.Submeshes) == 0 {
		return nil, errors.New("cannot upload an empty mesh")
	}
	vertices := metadata.EncodeVertices(mesh.Vertices)
	vb, err := pool.AllocateBuffer("geometry.vertices", metadata.BufferDesc{
		Size:   uint64(len(vertices)),
		Usage:  metadata.BufferUsageVertex | geometryUsage,
		Memory: metadata.MemoryHostVisible,
	})
	if err != nil {
		return nil, err
	}
	if err := pool.Upload(vb, 0, vertices); err != nil {
		pool.Free(vb.ID)
		return nil, err
	}

	indices := metadata.EncodeIndices(mesh.Indices)
	ib, err := pool.AllocateBuffer("geometry.indices", metadata.BufferDesc{
		Size:   uint64(len(indices)),
		Usage:  metadata.BufferUsageIndex | geometryUsage,
		Memory: metadata.MemoryHostVisible,
	})
	if err != nil {
		pool.Free(vb.ID)
		return nil, err
	}
	if err := pool.Upload(ib, 0, indices); err != nil {
		pool.Free(ib.ID)
		pool.Free(vb.ID)
		return nil, err
	}
	return &Geometry{Mesh: mesh, Vertices: vb, Indices: ib}, nil
}

// VertexStride is the size of one packed vertex.
func (g *Geometry) VertexStride() uint32 {
	return math.Vertex3DSize
}
