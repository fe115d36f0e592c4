package metadata

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

/**
 * @brief A contiguous range of the shared index buffer drawn with one call
 * and indexed by one bottom-level structure. Immutable after load.
 */
type Submesh struct {
	Name string
	/** @brief First index inside the shared index buffer. */
	IndexOffset uint32
	/** @brief Number of indices, a multiple of 3. */
	IndexCount uint32
	/** @brief Highest vertex id referenced by the range. */
	MaxVertexIndex uint32
	/** @brief Geometry needs any-hit style alpha testing; never treated as opaque. */
	AlphaCut bool
}

// PrimitiveCount is the number of triangles in the range.
func (s Submesh) PrimitiveCount() uint32 {
	return s.IndexCount / 3
}

/**
 * @brief The CPU side of a loaded model: one vertex array and one index
 * array shared by every submesh.
 */
type MeshData struct {
	Vertices  []math.Vertex3D
	Indices   []uint32
	Submeshes []Submesh
}

// Append adds vertices and indices as a new submesh. Indices are relative to
// the appended vertices.
func (m *MeshData) Append(name string, vertices []math.Vertex3D, indices []uint32, alphaCut bool) {
	base := uint32(len(m.Vertices))
	sub := Submesh{
		Name:        name,
		IndexOffset: uint32(len(m.Indices)),
		IndexCount:  uint32(len(indices)),
		AlphaCut:    alphaCut,
	}
	m.Vertices = append(m.Vertices, vertices...)
	for _, idx := range indices {
		v := base + idx
		if v > sub.MaxVertexIndex {
			sub.MaxVertexIndex = v
		}
		m.Indices = append(m.Indices, v)
	}
	m.Submeshes = append(m.Submeshes, sub)
}

// SubmeshIndices returns the index range of one submesh.
func (m *MeshData) SubmeshIndices(i int) []uint32 {
	s := m.Submeshes[i]
	return m.Indices[s.IndexOffset : s.IndexOffset+s.IndexCount]
}
