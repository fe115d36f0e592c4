package accel

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"golang.org/x/exp/slices"
)

const (
	// NodeSize is the packed size of one node: min.xyz plus a link word,
	// then max.xyz plus a second link word.
	NodeSize = 32
	// HeaderSize precedes the nodes in every encoded structure.
	HeaderSize = 16

	sahBins     = 12
	maxLeafSize = 4
)

// Node is a bounding volume. Interior nodes have Count == 0 and two children;
// leaves reference Count primitives starting at First in the BVH order.
type Node struct {
	Bounds      math.Extents3D
	Left, Right uint32
	First       uint32
	Count       uint32
}

func (n Node) IsLeaf() bool {
	return n.Count > 0
}

// BVH is a binary bounding volume hierarchy over primitive boxes. Nodes are
// stored in depth-first order, so a child always follows its parent.
type BVH struct {
	Nodes []Node
	// Order maps leaf slots to primitive ids.
	Order []uint32
}

type buildItem struct {
	bounds math.Extents3D
	centre math.Vec3
	id     uint32
}

// Build creates a hierarchy with a binned surface area heuristic.
func Build(bounds []math.Extents3D) *BVH {
	b := &BVH{}
	if len(bounds) == 0 {
		b.Nodes = []Node{{Bounds: math.NewExtentsEmpty()}}
		return b
	}
	items := make([]buildItem, len(bounds))
	for i, e := range bounds {
		items[i] = buildItem{bounds: e, centre: e.Centre(), id: uint32(i)}
	}
	b.Nodes = make([]Node, 0, 2*len(bounds))
	b.Order = make([]uint32, 0, len(bounds))
	b.build(items)
	return b
}

func (b *BVH) build(items []buildItem) uint32 {
	idx := uint32(len(b.Nodes))
	b.Nodes = append(b.Nodes, Node{})

	box := math.NewExtentsEmpty()
	centres := math.NewExtentsEmpty()
	for _, it := range items {
		box = box.Union(it.bounds)
		centres = centres.Grow(it.centre)
	}

	split := -1
	if len(items) > maxLeafSize {
		split = partition(items, centres)
	}
	if split <= 0 || split >= len(items) {
		b.Nodes[idx] = Node{Bounds: box, First: uint32(len(b.Order)), Count: uint32(len(items))}
		for _, it := range items {
			b.Order = append(b.Order, it.id)
		}
		return idx
	}

	left := b.build(items[:split])
	right := b.build(items[split:])
	b.Nodes[idx] = Node{Bounds: box, Left: left, Right: right}
	return idx
}

// partition reorders items and returns the split position, or -1 when the
// items should stay in one leaf.
func partition(items []buildItem, centres math.Extents3D) int {
	extent := centres.Max.Sub(centres.Min)
	axis := 0
	if extent.Y > extent.Axis(axis) {
		axis = 1
	}
	if extent.Z > extent.Axis(axis) {
		axis = 2
	}
	span := extent.Axis(axis)
	if span <= 0 {
		// all centres coincide, split in the middle to bound leaf size
		return len(items) / 2
	}

	type bin struct {
		bounds math.Extents3D
		count  int
	}
	var bins [sahBins]bin
	for i := range bins {
		bins[i].bounds = math.NewExtentsEmpty()
	}
	binOf := func(c math.Vec3) int {
		k := int(float32(sahBins) * (c.Axis(axis) - centres.Min.Axis(axis)) / span)
		return math.Clamp(k, 0, sahBins-1)
	}
	for _, it := range items {
		k := binOf(it.centre)
		bins[k].bounds = bins[k].bounds.Union(it.bounds)
		bins[k].count++
	}

	best, bestCost := -1, float32(m.MaxFloat32)
	for s := 1; s < sahBins; s++ {
		lb, rb := math.NewExtentsEmpty(), math.NewExtentsEmpty()
		lc, rc := 0, 0
		for i := 0; i < s; i++ {
			lb = lb.Union(bins[i].bounds)
			lc += bins[i].count
		}
		for i := s; i < sahBins; i++ {
			rb = rb.Union(bins[i].bounds)
			rc += bins[i].count
		}
		if lc == 0 || rc == 0 {
			continue
		}
		cost := lb.SurfaceArea()*float32(lc) + rb.SurfaceArea()*float32(rc)
		if cost < bestCost {
			best, bestCost = s, cost
		}
	}
	if best < 0 {
		return len(items) / 2
	}

	slices.SortStableFunc(items, func(a, b buildItem) int {
		return binOf(a.centre) - binOf(b.centre)
	})
	split := 0
	for split < len(items) && binOf(items[split].centre) < best {
		split++
	}
	return split
}

// Refit recomputes every node's bounds for new primitive boxes while keeping
// the topology.
func (b *BVH) Refit(bounds []math.Extents3D) {
	for i := len(b.Nodes) - 1; i >= 0; i-- {
		n := &b.Nodes[i]
		if n.IsLeaf() {
			box := math.NewExtentsEmpty()
			for _, id := range b.Order[n.First : n.First+n.Count] {
				box = box.Union(bounds[id])
			}
			n.Bounds = box
			continue
		}
		if n.Left == 0 && n.Right == 0 {
			continue
		}
		n.Bounds = b.Nodes[n.Left].Bounds.Union(b.Nodes[n.Right].Bounds)
	}
}

// Traverse visits the primitives of every leaf whose box the ray enters
// before tMax. visit returns the new tMax.
func (b *BVH) Traverse(origin, dir math.Vec3, tMax float32, visit func(prim uint32, tMax float32) float32) {
	if len(b.Order) == 0 {
		return
	}
	inv := invert(dir)
	stack := make([]uint32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := b.Nodes[i]
		if _, hit := n.Bounds.IntersectRay(origin, inv, tMax); !hit {
			continue
		}
		if n.IsLeaf() {
			for _, id := range b.Order[n.First : n.First+n.Count] {
				tMax = visit(id, tMax)
			}
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
}

func invert(d math.Vec3) math.Vec3 {
	f := func(x float32) float32 {
		if x == 0 {
			return math.K_INFINITY
		}
		return 1 / x
	}
	return math.Vec3{X: f(d.X), Y: f(d.Y), Z: f(d.Z)}
}

// EncodeNodes writes the nodes in their packed form. Interior nodes store
// their child indices; leaves store -first and -count so that a link word
// greater than zero always means interior.
func (b *BVH) EncodeNodes(dst []byte) {
	for i, n := range b.Nodes {
		o := dst[i*NodeSize:]
		putF(o, n.Bounds.Min.X)
		putF(o[4:], n.Bounds.Min.Y)
		putF(o[8:], n.Bounds.Min.Z)
		putF(o[16:], n.Bounds.Max.X)
		putF(o[20:], n.Bounds.Max.Y)
		putF(o[24:], n.Bounds.Max.Z)
		if n.IsLeaf() {
			binary.LittleEndian.PutUint32(o[12:], uint32(-int32(n.First)))
			binary.LittleEndian.PutUint32(o[28:], uint32(-int32(n.Count)))
		} else {
			binary.LittleEndian.PutUint32(o[12:], n.Left)
			binary.LittleEndian.PutUint32(o[28:], n.Right)
		}
	}
}

func putF(dst []byte, f float32) {
	binary.LittleEndian.PutUint32(dst, m.Float32bits(f))
}

// maxNodes bounds the node count of a hierarchy over n primitives.
func maxNodes(n uint32) uint64 {
	if n == 0 {
		return 1
	}
	return uint64(2*n - 1)
}
