package accel

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/math"
)

// SceneInstanceSize is the packed size of an instance inside an encoded
// scene: the world-to-object transform, custom index, mask, and the byte
// offset of the referenced mesh blob.
const SceneInstanceSize = 64

var ErrInstanceCountMismatch = errors.New("update instance count differs from build")

type Instance struct {
	Transform   math.Mat3x4
	CustomIndex uint32
	Mask        uint8
	Mesh        *Mesh

	inverse math.Mat3x4
}

// Scene is a top-level structure over mesh instances.
type Scene struct {
	Instances []Instance
	bvh       *BVH
}

// NewScene builds a top-level hierarchy. Instances with a singular transform
// are kept but can never be hit.
func NewScene(instances []Instance) (*Scene, error) {
	s := &Scene{Instances: append([]Instance(nil), instances...)}
	bounds, err := s.prepare()
	if err != nil {
		return nil, err
	}
	s.bvh = Build(bounds)
	return s, nil
}

// Update refits the hierarchy for new instance data. The instance count must
// not change.
func (s *Scene) Update(instances []Instance) error {
	if len(instances) != len(s.Instances) {
		return errors.Wrapf(ErrInstanceCountMismatch, "have %d, got %d", len(s.Instances), len(instances))
	}
	copy(s.Instances, instances)
	bounds, err := s.prepare()
	if err != nil {
		return err
	}
	s.bvh.Refit(bounds)
	return nil
}

func (s *Scene) prepare() ([]math.Extents3D, error) {
	bounds := make([]math.Extents3D, len(s.Instances))
	for i := range s.Instances {
		in := &s.Instances[i]
		if in.Mesh == nil {
			return nil, errors.Errorf("instance %d has no mesh", i)
		}
		inv, ok := in.Transform.Inverse()
		if !ok {
			bounds[i] = math.NewExtentsEmpty()
			in.inverse = math.Mat3x4{}
			continue
		}
		in.inverse = inv
		bounds[i] = in.Mesh.Bounds().Transformed(in.Transform)
	}
	return bounds, nil
}

func (s *Scene) Bounds() math.Extents3D {
	return s.bvh.Nodes[0].Bounds
}

// Intersect returns the closest hit of a world space ray against instances
// whose mask shares a bit with mask.
func (s *Scene) Intersect(origin, dir math.Vec3, tMax float32, mask uint8) (Hit, bool) {
	best := Hit{Instance: -1}
	found := false
	s.bvh.Traverse(origin, dir, tMax, func(id uint32, limit float32) float32 {
		in := s.Instances[id]
		if in.Mask&mask == 0 || in.inverse == (math.Mat3x4{}) {
			return limit
		}
		// the direction is not renormalised so t stays in world units
		o := in.inverse.TransformPoint(origin)
		d := in.inverse.TransformDirection(dir)
		h, ok := in.Mesh.Intersect(o, d, limit)
		if !ok {
			return limit
		}
		h.Instance = int(id)
		h.CustomIndex = in.CustomIndex
		best = h
		found = true
		return h.T
	})
	return best, found
}

// Occluded reports whether anything lies on the segment from origin to
// origin+dir*tMax.
func (s *Scene) Occluded(origin, dir math.Vec3, tMax float32, mask uint8) bool {
	_, hit := s.Intersect(origin, dir, tMax, mask)
	return hit
}

// SceneSize is the encoded size of a scene over n instances with embedded
// mesh blobs totalling meshBytes.
func SceneSize(n uint32, meshBytes uint64) uint64 {
	return HeaderSize + maxNodes(n)*NodeSize + uint64(n)*SceneInstanceSize + meshBytes
}

func SceneScratchSize(n uint32) uint64 {
	return 64 + uint64(n)*32
}

// SceneUpdateScratchSize is smaller than a build since topology is reused.
func SceneUpdateScratchSize(n uint32) uint64 {
	return 64 + uint64(n)*8
}

// EncodeHeader writes the header, nodes and instance records. meshOffset
// gives the byte offset of each mesh blob inside the same buffer; blobs are
// placed after the instance records by the caller.
func (s *Scene) EncodeHeader(meshOffset func(*Mesh) uint64) []byte {
	n := uint32(len(s.Instances))
	nodesEnd := HeaderSize + maxNodes(n)*NodeSize
	out := make([]byte, nodesEnd+uint64(n)*SceneInstanceSize)
	writeHeader(out, kindScene, uint32(len(s.bvh.Nodes)), n)
	binary.LittleEndian.PutUint32(out[12:], uint32(nodesEnd))
	s.bvh.EncodeNodes(out[HeaderSize:])
	for i, id := range s.bvh.Order {
		in := s.Instances[id]
		o := out[nodesEnd+uint64(i)*SceneInstanceSize:]
		for j, f := range in.inverse {
			putF(o[j*4:], f)
		}
		binary.LittleEndian.PutUint32(o[48:], in.CustomIndex)
		binary.LittleEndian.PutUint32(o[52:], uint32(in.Mask))
		binary.LittleEndian.PutUint64(o[56:], meshOffset(in.Mesh))
	}
	return out
}

// RecordsSize returns the length EncodeHeader produces, which is also where
// mesh blobs may start.
func (s *Scene) RecordsSize() uint64 {
	n := uint32(len(s.Instances))
	return HeaderSize + maxNodes(n)*NodeSize + uint64(n)*SceneInstanceSize
}

// Meshes lists each referenced mesh once, in first-use order.
func (s *Scene) Meshes() []*Mesh {
	seen := map[*Mesh]bool{}
	var out []*Mesh
	for _, in := range s.Instances {
		if !seen[in.Mesh] {
			seen[in.Mesh] = true
			out = append(out, in.Mesh)
		}
	}
	return out
}
