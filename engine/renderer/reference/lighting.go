package reference

import (
	stdimage "image"
	"image/color"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"golang.org/x/image/draw"
)

// Bindings of the lighting program.
const (
	bindingPosition uint32 = iota
	bindingNormal
	bindingAlbedo
	bindingLights
	bindingStorage
	bindingScene
)

const (
	ambient = 0.05
	// lightScale is the total intensity shared by every evaluated light.
	lightScale  = 4
	shadowBias  = 1e-3
	shadowMask  = 0xFF
	maxChannel  = 0xFFFF
	floatToWord = float32(maxChannel)
)

func (x *executor) imageBinding(g *bindGroup, n uint32, t metadata.DescriptorType, want metadata.ImageLayout) *image {
	for _, b := range g.bindings {
		if b.Binding != n {
			continue
		}
		if b.Type != t {
			x.fail(ViolationUsage, "binding %d of group %d is a %s, want %s", n, g.h, b.Type, t)
			return nil
		}
		img := x.image(b.Image)
		if img == nil {
			return nil
		}
		x.expectLayout(img, want, t.String())
		return img
	}
	x.fail(ViolationUsage, "group %d has no binding %d", g.h, n)
	return nil
}

func (x *executor) structureBinding(g *bindGroup, n uint32) *structure {
	for _, b := range g.bindings {
		if b.Binding == n && b.Type == metadata.DescriptorAccelerationStructure {
			return x.structure(b.AccelerationStructure)
		}
	}
	x.fail(ViolationUsage, "group %d has no acceleration structure at binding %d", g.h, n)
	return nil
}

// dispatch runs the lighting program: every covered pixel with geometry is
// shaded by the point lights, each one tested for visibility with a shadow
// ray through the bound top-level structure.
func (x *executor) dispatch(st drawState, gx, gy, gz uint32) {
	p, ok := x.d.pipelines[st.pipeline]
	if !ok {
		x.fail(ViolationLifetime, "dispatch with destroyed pipeline %d", st.pipeline)
		return
	}
	g, ok := x.d.groups[st.group]
	if !ok {
		x.fail(ViolationLifetime, "dispatch with destroyed bind group %d", st.group)
		return
	}
	read := func(n uint32, name string) *image {
		img := x.imageBinding(g, n, metadata.DescriptorSampledImage, metadata.ImageLayoutShaderReadOnlyOptimal)
		if img != nil {
			x.access(&img.sync, name, metadata.PipelineStageComputeShader, metadata.AccessShaderRead)
		}
		return img
	}
	position, normal, albedo := read(bindingPosition, "position G-buffer"), read(bindingNormal, "normal G-buffer"), read(bindingAlbedo, "albedo G-buffer")
	lb, data := x.bufferBinding(g, bindingLights, metadata.DescriptorStorageBuffer)
	if lb != nil {
		x.access(&lb.sync, "light buffer", metadata.PipelineStageComputeShader, metadata.AccessShaderRead)
	}
	out := x.imageBinding(g, bindingStorage, metadata.DescriptorStorageImage, metadata.ImageLayoutGeneral)
	if out != nil {
		x.access(&out.sync, "storage image", metadata.PipelineStageComputeShader, metadata.AccessShaderWrite)
	}
	tlas := x.structureBinding(g, bindingScene)
	if tlas != nil {
		x.access(&tlas.sync, "top-level structure", metadata.PipelineStageComputeShader, metadata.AccessAccelerationStructureRead)
	}
	if position == nil || normal == nil || albedo == nil || lb == nil || out == nil || tlas == nil {
		return
	}
	if tlas.scene == nil {
		x.fail(ViolationBuild, "dispatch traces top-level structure %d before it was built", tlas.h)
		return
	}
	ext := out.desc.Extent
	for _, in := range []*image{position, normal, albedo} {
		if in.desc.Extent != ext {
			x.fail(ViolationUsage, "G-buffer image %d is %v, storage image is %v", in.h, in.desc.Extent, ext)
			return
		}
	}
	x.d.stats.Dispatches++
	if gz == 0 {
		return
	}

	w := int(math.Min(ext.Width, gx*p.local[0]))
	h := int(math.Min(ext.Height, gy*p.local[1]))
	sh := &shader{
		lights:  metadata.DecodeLights(data),
		samples: x.d.cfg.LightSamples,
		scene:   tlas.scene,
	}
	err := x.d.workers().Parallel(h, shadeRows, func(lo, hi int) error {
		for y := lo; y < hi; y++ {
			for px := 0; px < w; px++ {
				i := y*int(ext.Width) + px
				out.color[i] = sh.shade(px, y, position.color[i], normal.color[i], albedo.color[i])
			}
		}
		return nil
	})
	if err != nil {
		x.fail(ViolationUsage, "lighting dispatch: %s", err)
	}
}

type shader struct {
	lights  []metadata.Light
	samples int
	scene   *accel.Scene
}

func (s *shader) shade(px, py int, position, normal, albedo math.Vec4) math.Vec4 {
	n := normal.ToVec3()
	if n.LengthSquared() == 0 || len(s.lights) == 0 {
		return math.Vec4{W: 1}
	}
	p := position.ToVec3()
	base := albedo.ToVec3()
	origin := p.Add(n.MulScalar(shadowBias))

	count, first := len(s.lights), 0
	if s.samples > 0 && s.samples < count {
		// rotate the subset per pixel so every light contributes somewhere
		first = (px*7 + py*13) % count
		count = s.samples
	}
	var sum math.Vec3
	for k := 0; k < count; k++ {
		l := s.lights[(first+k)%len(s.lights)]
		toLight := l.Position.ToVec3().Sub(p)
		dist2 := toLight.LengthSquared()
		if dist2 == 0 {
			continue
		}
		ndotl := n.Dot(toLight.Normalized())
		if ndotl <= 0 {
			continue
		}
		if s.scene.Occluded(origin, l.Position.ToVec3().Sub(origin), 1, shadowMask) {
			continue
		}
		sum = sum.Add(base.Mul(l.Colour.ToVec3()).MulScalar(ndotl / (1 + dist2)))
	}
	c := base.MulScalar(ambient).Add(sum.MulScalar(lightScale / float32(count)))
	return math.Vec4{X: math.Clamp(c.X, 0, 1), Y: math.Clamp(c.Y, 0, 1), Z: math.Clamp(c.Z, 0, 1), W: 1}
}

// blit scales the whole source onto the whole destination.
func (x *executor) blit(info metadata.BlitInfo) {
	src, dst := x.image(info.Src), x.image(info.Dst)
	if src == nil || dst == nil {
		return
	}
	if src.color == nil || dst.color == nil {
		x.fail(ViolationUsage, "blit between depth images %d and %d", src.h, dst.h)
		return
	}
	if src.desc.Usage&metadata.ImageUsageTransferSrc == 0 || dst.desc.Usage&metadata.ImageUsageTransferDst == 0 {
		x.fail(ViolationUsage, "blit from image %d to %d without transfer usage", src.h, dst.h)
	}
	x.expectLayout(src, metadata.ImageLayoutTransferSrcOptimal, "blit source")
	x.expectLayout(dst, metadata.ImageLayoutTransferDstOptimal, "blit destination")
	if info.SrcLayout != src.layout || info.DstLayout != dst.layout {
		x.fail(ViolationLayout, "blit declares layouts %s -> %s, images are in %s -> %s", info.SrcLayout, info.DstLayout, src.layout, dst.layout)
	}
	x.access(&src.sync, "blit source", metadata.PipelineStageTransfer, metadata.AccessTransferRead)
	x.access(&dst.sync, "blit destination", metadata.PipelineStageTransfer, metadata.AccessTransferWrite)
	x.d.stats.Blits++

	from, to := toRGBA64(src), stdimage.NewRGBA64(stdimage.Rect(0, 0, int(dst.desc.Extent.Width), int(dst.desc.Extent.Height)))
	var scaler draw.Scaler = draw.BiLinear
	if info.Filter == metadata.FilterNearest {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(to, to.Bounds(), from, from.Bounds(), draw.Src, nil)
	fromRGBA64(to, dst)
}

func toRGBA64(img *image) *stdimage.RGBA64 {
	w, h := int(img.desc.Extent.Width), int(img.desc.Extent.Height)
	out := stdimage.NewRGBA64(stdimage.Rect(0, 0, w, h))
	word := func(f float32) uint16 { return uint16(math.Clamp(f, 0, 1)*floatToWord + 0.5) }
	for y := 0; y < h; y++ {
		for px := 0; px < w; px++ {
			c := img.texel(px, y)
			out.SetRGBA64(px, y, color.RGBA64{R: word(c.X), G: word(c.Y), B: word(c.Z), A: word(c.W)})
		}
	}
	return out
}

func fromRGBA64(src *stdimage.RGBA64, img *image) {
	w, h := int(img.desc.Extent.Width), int(img.desc.Extent.Height)
	for y := 0; y < h; y++ {
		for px := 0; px < w; px++ {
			c := src.RGBA64At(px, y)
			img.color[y*w+px] = math.Vec4{
				X: float32(c.R) / floatToWord,
				Y: float32(c.G) / floatToWord,
				Z: float32(c.B) / floatToWord,
				W: float32(c.A) / floatToWord,
			}
		}
	}
}
