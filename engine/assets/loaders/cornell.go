package loaders

import (
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const CornellBoxName = "cornell_box"

// CornellBoxHalfExtent is half the edge length of the room.
const CornellBoxHalfExtent = 1.0

// AppendCornellBox adds the room around the origin as the last submesh. The
// +X side stays open; every wall faces inwards.
func AppendCornellBox(mesh *metadata.MeshData) {
	const h = CornellBoxHalfExtent
	white := math.NewVec4(0.8, 0.8, 0.8, 1)
	red := math.NewVec4(0.8, 0.1, 0.1, 1)
	green := math.NewVec4(0.1, 0.8, 0.1, 1)

	p := math.NewVec3
	var vertices []math.Vertex3D
	var indices []uint32
	quad := func(a, b, c, d math.Vec3, colour math.Vec4) {
		n := b.Sub(a).Cross(c.Sub(a)).Normalized()
		base := uint32(len(vertices))
		for _, q := range [4]math.Vec3{a, b, c, d} {
			vertices = append(vertices, math.Vertex3D{Position: q, Normal: n, Colour: colour})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}

	// floor and ceiling
	quad(p(-h, -h, -h), p(h, -h, -h), p(h, h, -h), p(-h, h, -h), white)
	quad(p(-h, -h, h), p(-h, h, h), p(h, h, h), p(h, -h, h), white)
	// back wall
	quad(p(-h, -h, -h), p(-h, h, -h), p(-h, h, h), p(-h, -h, h), white)
	// left (red) and right (green)
	quad(p(-h, -h, -h), p(-h, -h, h), p(h, -h, h), p(h, -h, -h), red)
	quad(p(-h, h, -h), p(h, h, -h), p(h, h, h), p(-h, h, h), green)

	mesh.Append(CornellBoxName, vertices, indices, false)
}
