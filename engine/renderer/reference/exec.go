package reference

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type renderPass struct {
	info   metadata.RenderingInfo
	colors []*image
	depth  *image
}

// executor runs the commands of one submission.
type executor struct {
	d    *Device
	sub  *submission
	pass *renderPass
}

func (x *executor) fail(kind ViolationKind, format string, args ...interface{}) {
	x.d.execViolate(kind, "submission %d: %s", x.sub.seq, fmt.Sprintf(format, args...))
}

// access checks and records one access to a tracked resource.
func (x *executor) access(h *hazard, what string, stage metadata.PipelineStageFlags, acc metadata.AccessFlags) {
	h.settle(x.sub)
	sc := scope{stage: stage, access: acc}
	if !h.ready(sc) {
		kind := "read-after-write"
		if acc.IsWrite() {
			kind = "write-after-write"
		}
		x.fail(ViolationHazard, "%s on %s: %s/%s is not ordered after the write at %s/%s",
			kind, what, stage, acc, h.write.stage, h.write.access)
	}
	if acc.IsWrite() {
		h.record(x.sub, sc)
	}
}

func (x *executor) buffer(hd metadata.BufferHandle) *buffer {
	b, ok := x.d.buffers[hd]
	if !ok {
		x.fail(ViolationLifetime, "use of destroyed buffer %d", hd)
	}
	return b
}

func (x *executor) image(hd metadata.ImageHandle) *image {
	img, ok := x.d.images[hd]
	if !ok {
		x.fail(ViolationLifetime, "use of destroyed image %d", hd)
	}
	return img
}

func (x *executor) structure(hd metadata.AccelerationStructureHandle) *structure {
	s, ok := x.d.structures[hd]
	if !ok {
		x.fail(ViolationLifetime, "use of destroyed acceleration structure %d", hd)
	}
	return s
}

func (x *executor) expectLayout(img *image, want metadata.ImageLayout, use string) {
	if img.layout != want {
		x.fail(ViolationLayout, "image %d used as %s in layout %s, want %s", img.h, use, img.layout, want)
	}
}

func (x *executor) pipelineBarrier(dep metadata.Dependency) {
	for _, mb := range dep.MemoryBarriers {
		src := scope{mb.SrcStage, mb.SrcAccess}
		dst := scope{mb.DstStage, mb.DstAccess}
		for _, b := range x.d.buffers {
			b.sync.settle(x.sub)
			b.sync.barrier(src, dst)
		}
		for _, s := range x.d.structures {
			s.sync.settle(x.sub)
			s.sync.barrier(src, dst)
		}
		for _, img := range x.d.images {
			img.sync.settle(x.sub)
			img.sync.barrier(src, dst)
		}
	}
	for _, bb := range dep.BufferBarriers {
		b := x.buffer(bb.Buffer)
		if b == nil {
			continue
		}
		b.sync.settle(x.sub)
		b.sync.barrier(scope{bb.SrcStage, bb.SrcAccess}, scope{bb.DstStage, bb.DstAccess})
	}
	for _, ib := range dep.ImageBarriers {
		img := x.image(ib.Image)
		if img == nil {
			continue
		}
		src := scope{ib.SrcStage, ib.SrcAccess}
		dst := scope{ib.DstStage, ib.DstAccess}
		img.sync.settle(x.sub)
		if ib.OldLayout == ib.NewLayout {
			img.sync.barrier(src, dst)
			continue
		}
		if ib.OldLayout != metadata.ImageLayoutUndefined && ib.OldLayout != img.layout {
			x.fail(ViolationLayout, "barrier moves image %d from %s but it is in %s", img.h, ib.OldLayout, img.layout)
		}
		if ib.NewLayout == metadata.ImageLayoutUndefined {
			x.fail(ViolationLayout, "barrier moves image %d to Undefined", img.h)
		}
		if !img.sync.transition(x.sub, src, dst) {
			x.fail(ViolationHazard, "layout transition of image %d (%s -> %s) with source %s/%s is not ordered after the write at %s/%s",
				img.h, ib.OldLayout, ib.NewLayout, src.stage, src.access, img.sync.write.stage, img.sync.write.access)
		}
		img.layout = ib.NewLayout
	}
}

func (x *executor) updateBuffer(h metadata.BufferHandle, offset uint64, data []byte) {
	b := x.buffer(h)
	if b == nil {
		return
	}
	if b.desc.Usage&metadata.BufferUsageTransferDst == 0 {
		x.fail(ViolationUsage, "UpdateBuffer into buffer %d without transfer destination usage", h)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		x.fail(ViolationUsage, "UpdateBuffer of %d bytes at %d overflows buffer %d", len(data), offset, h)
		return
	}
	x.access(&b.sync, fmt.Sprintf("buffer %d", h), metadata.PipelineStageTransfer, metadata.AccessTransferWrite)
	copy(b.data[offset:], data)
}

func (x *executor) copyBuffer(src, dst metadata.BufferHandle, regions []metadata.BufferCopy) {
	s, t := x.buffer(src), x.buffer(dst)
	if s == nil || t == nil {
		return
	}
	x.access(&s.sync, fmt.Sprintf("buffer %d", src), metadata.PipelineStageTransfer, metadata.AccessTransferRead)
	x.access(&t.sync, fmt.Sprintf("buffer %d", dst), metadata.PipelineStageTransfer, metadata.AccessTransferWrite)
	for _, r := range regions {
		if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(t.data)) {
			x.fail(ViolationUsage, "CopyBuffer region %+v out of bounds", r)
			continue
		}
		copy(t.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (x *executor) beginRendering(info metadata.RenderingInfo) {
	pass := &renderPass{info: info}
	for i, c := range info.Colors {
		img := x.image(c.Image)
		if img == nil {
			return
		}
		if img.desc.Extent != info.Extent {
			x.fail(ViolationUsage, "colour attachment %d is %v, pass is %v", i, img.desc.Extent, info.Extent)
			return
		}
		x.expectLayout(img, metadata.ImageLayoutColorAttachmentOptimal, "colour attachment")
		what := fmt.Sprintf("colour attachment %d (image %d)", i, img.h)
		if c.Load == metadata.LoadOpLoad {
			x.access(&img.sync, what, metadata.PipelineStageColorAttachmentOutput, metadata.AccessColorAttachmentRead)
		}
		x.access(&img.sync, what, metadata.PipelineStageColorAttachmentOutput, metadata.AccessColorAttachmentWrite)
		if c.Load == metadata.LoadOpClear {
			for p := range img.color {
				img.color[p] = c.Clear
			}
		}
		pass.colors = append(pass.colors, img)
	}
	if dp := info.Depth; dp != nil {
		img := x.image(dp.Image)
		if img == nil {
			return
		}
		if img.depth == nil || img.desc.Extent != info.Extent {
			x.fail(ViolationUsage, "depth attachment %d does not match the pass", img.h)
			return
		}
		x.expectLayout(img, metadata.ImageLayoutDepthAttachmentOptimal, "depth attachment")
		x.access(&img.sync, fmt.Sprintf("depth attachment (image %d)", img.h),
			metadata.PipelineStageEarlyFragmentTests, metadata.AccessDepthStencilWrite)
		if dp.Load == metadata.LoadOpClear {
			for p := range img.depth {
				img.depth[p] = dp.ClearDepth
			}
		}
		pass.depth = img
	}
	x.pass = pass
}
