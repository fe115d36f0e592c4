package reference

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// G-buffer attachment order written by the raster program.
const (
	attachmentAlbedo = iota
	attachmentPosition
	attachmentNormal
)

type rasterVertex struct {
	clip   math.Vec4
	world  math.Vec3
	normal math.Vec3
	colour math.Vec4
}

// bufferBinding returns the buffer bound at slot n of a bind group.
func (x *executor) bufferBinding(g *bindGroup, n uint32, t metadata.DescriptorType) (*buffer, []byte) {
	for _, b := range g.bindings {
		if b.Binding != n {
			continue
		}
		if b.Type != t {
			x.fail(ViolationUsage, "binding %d of group %d is a %s, want %s", n, g.h, b.Type, t)
			return nil, nil
		}
		buf := x.buffer(b.Buffer)
		if buf == nil {
			return nil, nil
		}
		end := uint64(len(buf.data))
		if b.Range != 0 && b.Offset+b.Range < end {
			end = b.Offset + b.Range
		}
		if b.Offset > end {
			x.fail(ViolationUsage, "binding %d of group %d starts past the end of buffer %d", n, g.h, buf.h)
			return nil, nil
		}
		return buf, buf.data[b.Offset:end]
	}
	x.fail(ViolationUsage, "group %d has no binding %d", g.h, n)
	return nil, nil
}

func (x *executor) drawIndexed(st drawState, indexCount, instanceCount, firstIndex uint32, vertexOffset int32) {
	pass := x.pass
	if pass == nil {
		return
	}
	p, ok := x.d.pipelines[st.pipeline]
	if !ok {
		x.fail(ViolationLifetime, "draw with destroyed pipeline %d", st.pipeline)
		return
	}
	g, ok := x.d.groups[st.group]
	if !ok {
		x.fail(ViolationLifetime, "draw with destroyed bind group %d", st.group)
		return
	}
	if len(pass.colors) != len(p.colors) || pass.depth == nil {
		x.fail(ViolationUsage, "pipeline %s needs %d colour targets and depth", p.name, len(p.colors))
		return
	}
	vb, ib := x.buffer(st.vertex.buffer), x.buffer(st.index.buffer)
	if vb == nil || ib == nil {
		return
	}
	x.access(&vb.sync, "vertex buffer", metadata.PipelineStageVertexInput, metadata.AccessVertexAttributeRead)
	x.access(&ib.sync, "index buffer", metadata.PipelineStageVertexInput, metadata.AccessIndexRead)
	ubo, data := x.bufferBinding(g, 0, metadata.DescriptorUniformBuffer)
	if ubo == nil {
		return
	}
	x.access(&ubo.sync, "uniform buffer", metadata.PipelineStageVertexShader, metadata.AccessUniformRead)
	if len(data) < metadata.UniformBufferObjectSize || len(st.push) < metadata.MeshPushConstantsSize {
		x.fail(ViolationUsage, "draw without camera uniforms or model push constants")
		return
	}
	camera := metadata.DecodeUniformBufferObject(data)
	model := metadata.DecodeMeshPushConstants(st.push).Model
	mvp := model.Mul(camera.View).Mul(camera.Proj)
	x.d.stats.Draws++

	vertexAt := func(i uint32) (rasterVertex, bool) {
		off := st.index.offset + uint64(firstIndex+i)*4
		if off+4 > uint64(len(ib.data)) {
			return rasterVertex{}, false
		}
		v := int64(binary.LittleEndian.Uint32(ib.data[off:])) + int64(vertexOffset)
		voff := st.vertex.offset + uint64(v)*uint64(p.stride)
		if v < 0 || voff+math.Vertex3DSize > uint64(len(vb.data)) {
			return rasterVertex{}, false
		}
		in := metadata.DecodeVertex(vb.data[voff:])
		return rasterVertex{
			clip:   in.Position.ToVec4(1).Transform(mvp),
			world:  in.Position.Transform(model),
			normal: in.Normal.ToVec4(0).Transform(model).ToVec3().Normalized(),
			colour: in.Colour,
		}, true
	}

	for inst := uint32(0); inst < instanceCount; inst++ {
		for t := uint32(0); t+2 < indexCount; t += 3 {
			var tri [3]rasterVertex
			for k := uint32(0); k < 3; k++ {
				v, ok := vertexAt(t + k)
				if !ok {
					x.fail(ViolationUsage, "draw reads index or vertex %d out of bounds", firstIndex+t+k)
					return
				}
				tri[k] = v
			}
			rasterise(pass, st.viewport, st.scissor, tri)
		}
	}
}

// rasterise draws one triangle with counter-clockwise front faces, back
// face culling and a less-than depth test. Triangles reaching behind the
// eye are dropped rather than clipped.
func rasterise(pass *renderPass, vp metadata.Viewport, sc metadata.Rect2D, tri [3]rasterVertex) {
	var fx, fy, fz, invW [3]float32
	for i, v := range tri {
		if v.clip.W <= 1e-6 {
			return
		}
		invW[i] = 1 / v.clip.W
		fx[i] = vp.X + (v.clip.X*invW[i]+1)*0.5*vp.Width
		fy[i] = vp.Y + (v.clip.Y*invW[i]+1)*0.5*vp.Height
		fz[i] = vp.MinDepth + v.clip.Z*invW[i]*(vp.MaxDepth-vp.MinDepth)
	}
	area := (fx[1]-fx[0])*(fy[2]-fy[0]) - (fy[1]-fy[0])*(fx[2]-fx[0])
	// with y pointing down a negative area is counter-clockwise on screen
	if area >= 0 {
		return
	}

	ext := pass.info.Extent
	x0 := int(math.Max(float32(stdmath.Floor(float64(math.Min(fx[0], math.Min(fx[1], fx[2]))))), float32(sc.X)))
	y0 := int(math.Max(float32(stdmath.Floor(float64(math.Min(fy[0], math.Min(fy[1], fy[2]))))), float32(sc.Y)))
	x1 := int(math.Min(float32(stdmath.Ceil(float64(math.Max(fx[0], math.Max(fx[1], fx[2]))))), float32(sc.X)+float32(sc.Extent.Width)))
	y1 := int(math.Min(float32(stdmath.Ceil(float64(math.Max(fy[0], math.Max(fy[1], fy[2]))))), float32(sc.Y)+float32(sc.Extent.Height)))
	x0, y0 = math.Max(x0, 0), math.Max(y0, 0)
	x1, y1 = math.Min(x1, int(ext.Width)), math.Min(y1, int(ext.Height))

	edge := func(ax, ay, bx, by, px, py float32) float32 {
		return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
	}
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			cx, cy := float32(px)+0.5, float32(py)+0.5
			b0 := edge(fx[1], fy[1], fx[2], fy[2], cx, cy) / area
			b1 := edge(fx[2], fy[2], fx[0], fy[0], cx, cy) / area
			b2 := edge(fx[0], fy[0], fx[1], fy[1], cx, cy) / area
			if b0 < 0 || b1 < 0 || b2 < 0 {
				continue
			}
			z := b0*fz[0] + b1*fz[1] + b2*fz[2]
			i := py*int(ext.Width) + px
			if z < 0 || z > 1 || z >= pass.depth.depth[i] {
				continue
			}
			pass.depth.depth[i] = z

			// perspective correct weights
			w0, w1, w2 := b0*invW[0], b1*invW[1], b2*invW[2]
			s := 1 / (w0 + w1 + w2)
			w0, w1, w2 = w0*s, w1*s, w2*s
			lerp3 := func(a, b, c math.Vec3) math.Vec3 {
				return a.MulScalar(w0).Add(b.MulScalar(w1)).Add(c.MulScalar(w2))
			}
			world := lerp3(tri[0].world, tri[1].world, tri[2].world)
			normal := lerp3(tri[0].normal, tri[1].normal, tri[2].normal).Normalized()
			c0, c1, c2 := tri[0].colour, tri[1].colour, tri[2].colour
			colour := math.Vec4{
				X: c0.X*w0 + c1.X*w1 + c2.X*w2,
				Y: c0.Y*w0 + c1.Y*w1 + c2.Y*w2,
				Z: c0.Z*w0 + c1.Z*w1 + c2.Z*w2,
				W: c0.W*w0 + c1.W*w1 + c2.W*w2,
			}
			pass.colors[attachmentAlbedo].color[i] = colour
			pass.colors[attachmentPosition].color[i] = world.ToVec4(1)
			pass.colors[attachmentNormal].color[i] = normal.ToVec4(0)
		}
	}
}
