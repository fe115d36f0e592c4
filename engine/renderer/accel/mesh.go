package accel

import (
	"encoding/binary"

	"github.com/spaghettifunk/lumen/engine/math"
)

// TriangleSize is the packed size of one triangle: three vec4 positions.
const TriangleSize = 48

const (
	kindMesh  = 1
	kindScene = 2
)

type Triangle struct {
	V0, V1, V2 math.Vec3
}

func (t Triangle) Bounds() math.Extents3D {
	return math.NewExtentsEmpty().Grow(t.V0).Grow(t.V1).Grow(t.V2)
}

// Intersect is the Möller-Trumbore test. Both faces are hit.
func (t Triangle) Intersect(origin, dir math.Vec3, tMax float32) (float32, float32, float32, bool) {
	const eps = 1e-8
	e1 := t.V1.Sub(t.V0)
	e2 := t.V2.Sub(t.V0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := origin.Sub(t.V0)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	d := e2.Dot(q) * inv
	if d <= 1e-5 || d >= tMax {
		return 0, 0, 0, false
	}
	return d, u, v, true
}

type Hit struct {
	T float32
	// Instance is the position in the top-level instance array, -1 for mesh queries.
	Instance    int
	CustomIndex uint32
	Primitive   uint32
	U, V        float32
}

// Mesh is a bottom-level structure over static triangles.
type Mesh struct {
	Triangles []Triangle
	Opaque    bool
	bvh       *BVH
}

func NewMesh(triangles []Triangle, opaque bool) *Mesh {
	bounds := make([]math.Extents3D, len(triangles))
	for i, t := range triangles {
		bounds[i] = t.Bounds()
	}
	return &Mesh{Triangles: triangles, Opaque: opaque, bvh: Build(bounds)}
}

func (m *Mesh) Bounds() math.Extents3D {
	return m.bvh.Nodes[0].Bounds
}

func (m *Mesh) PrimitiveCount() uint32 {
	return uint32(len(m.Triangles))
}

// Intersect returns the closest hit before tMax in object space.
func (m *Mesh) Intersect(origin, dir math.Vec3, tMax float32) (Hit, bool) {
	best := Hit{Instance: -1}
	found := false
	m.bvh.Traverse(origin, dir, tMax, func(prim uint32, limit float32) float32 {
		t, u, v, ok := m.Triangles[prim].Intersect(origin, dir, limit)
		if !ok {
			return limit
		}
		best = Hit{T: t, Instance: -1, Primitive: prim, U: u, V: v}
		found = true
		return t
	})
	return best, found
}

// MeshSize is the encoded size of a mesh over n triangles.
func MeshSize(n uint32) uint64 {
	return HeaderSize + maxNodes(n)*NodeSize + uint64(n)*TriangleSize
}

// MeshScratchSize is the scratch space a build over n triangles needs.
func MeshScratchSize(n uint32) uint64 {
	return 64 + uint64(n)*16
}

// Encode packs the mesh: header, nodes, then triangles in leaf order so a
// leaf's First indexes the triangle array directly.
func (m *Mesh) Encode() []byte {
	n := uint32(len(m.Triangles))
	out := make([]byte, MeshSize(n))
	writeHeader(out, kindMesh, uint32(len(m.bvh.Nodes)), n)
	m.bvh.EncodeNodes(out[HeaderSize:])
	tris := out[HeaderSize+maxNodes(n)*NodeSize:]
	for i, id := range m.bvh.Order {
		t := m.Triangles[id]
		o := tris[i*TriangleSize:]
		for j, v := range [3]math.Vec3{t.V0, t.V1, t.V2} {
			putF(o[j*16:], v.X)
			putF(o[j*16+4:], v.Y)
			putF(o[j*16+8:], v.Z)
			binary.LittleEndian.PutUint32(o[j*16+12:], id)
		}
	}
	return out
}

func writeHeader(dst []byte, kind, nodes, prims uint32) {
	binary.LittleEndian.PutUint32(dst, kind)
	binary.LittleEndian.PutUint32(dst[4:], nodes)
	binary.LittleEndian.PutUint32(dst[8:], prims)
}
