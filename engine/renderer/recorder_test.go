package renderer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestDispatchSize(t *testing.T) {
	tests := []struct {
		extent metadata.Extent2D
		want   [3]uint32
	}{
		{metadata.Extent2D{Width: 16, Height: 16}, [3]uint32{1, 1, 1}},
		{metadata.Extent2D{Width: 17, Height: 1}, [3]uint32{2, 1, 1}},
		{metadata.Extent2D{Width: 32, Height: 24}, [3]uint32{2, 2, 1}},
		{metadata.Extent2D{Width: 800, Height: 600}, [3]uint32{50, 38, 1}},
	}
	for _, tt := range tests {
		x, y, z := DispatchSize(tt.extent)
		if got := [3]uint32{x, y, z}; got != tt.want {
			t.Errorf("DispatchSize(%+v) = %v, want %v", tt.extent, got, tt.want)
		}
	}
}

func recordTestFrame(t *testing.T, r *Renderer, slot int) *traceCommands {
	t.Helper()
	cb := &traceCommands{}
	err := r.frames.recorder.Record(cb, FrameCommands{
		Slot:      slot,
		SwapImage: r.targets.Swapchain.Images[0],
		Extent:    r.targets.Extent(),
		Targets:   r.targets.Slots[slot],
		Camera:    r.uniforms.Group(slot),
		Models:    r.Models(0),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return cb
}

func TestRecorderCommandOrder(t *testing.T) {
	r := newTestRenderer(t, newTestDevice(), testOptions(2))
	cb := recordTestFrame(t, r, 1)

	want := []string{
		"UpdateBuffer", "PipelineBarrier", "BuildAccelerationStructure", "PipelineBarrier",
		"PipelineBarrier",
		"BeginRendering", "SetViewport", "SetScissor", "BindPipeline", "BindGroup", "BindVertexBuffer", "BindIndexBuffer",
		"PushConstants", "DrawIndexed", "PushConstants", "DrawIndexed",
		"EndRendering",
		"PipelineBarrier",
		"BindPipeline", "BindGroup", "Dispatch",
		"PipelineBarrier", "BlitImage", "PipelineBarrier",
	}
	if len(cb.ops) != len(want) {
		t.Fatalf("ops = %v", cb.ops)
	}
	for i := range want {
		if cb.ops[i] != want[i] {
			t.Fatalf("op %d = %s, want %s (ops %v)", i, cb.ops[i], want[i], cb.ops)
		}
	}

	mesh := r.geometry.Mesh
	for i, d := range cb.draws {
		s := mesh.Submeshes[i]
		if d != [2]uint32{s.IndexCount, s.IndexOffset} {
			t.Errorf("draw %d = %v, want %d indices from %d", i, d, s.IndexCount, s.IndexOffset)
		}
	}
	if cb.dispatch != [3]uint32{2, 2, 1} {
		t.Errorf("dispatch = %v", cb.dispatch)
	}
	pass := cb.passes[0]
	if len(pass.Colors) != 3 || pass.Depth == nil || pass.Depth.ClearDepth != 1 || pass.Depth.Store != metadata.StoreOpDontCare {
		t.Fatalf("rendering info = %+v", pass)
	}
	st := r.targets.Slots[1]
	for i, img := range []*Image{st.Albedo, st.Position, st.Normal} {
		if pass.Colors[i].Image != img.Handle || pass.Colors[i].Load != metadata.LoadOpClear {
			t.Errorf("colour attachment %d = %+v", i, pass.Colors[i])
		}
	}
}

func TestRecorderBarrierTuples(t *testing.T) {
	r := newTestRenderer(t, newTestDevice(), testOptions(2))
	cb := recordTestFrame(t, r, 0)
	st := r.targets.Slots[0]
	swap := r.targets.Swapchain.Images[0]

	// barriers 0 and 1 belong to the top-level refresh
	attach, read, blit, present := cb.barriers[2], cb.barriers[3], cb.barriers[4], cb.barriers[5]

	find := func(dep metadata.Dependency, img metadata.ImageHandle) metadata.ImageBarrier {
		t.Helper()
		for _, b := range dep.ImageBarriers {
			if b.Image == img {
				return b
			}
		}
		t.Fatalf("no barrier for image %d in %+v", img, dep)
		return metadata.ImageBarrier{}
	}

	fragmentTests := metadata.PipelineStageEarlyFragmentTests | metadata.PipelineStageLateFragmentTests
	tests := []struct {
		name string
		got  metadata.ImageBarrier
		want metadata.ImageBarrier
	}{
		{"albedo to attachment", find(attach, st.Albedo.Handle), metadata.ImageBarrier{
			Image: st.Albedo.Handle, OldLayout: metadata.ImageLayoutUndefined, NewLayout: metadata.ImageLayoutColorAttachmentOptimal,
			SrcStage: metadata.PipelineStageTopOfPipe, DstStage: metadata.PipelineStageColorAttachmentOutput,
			DstAccess: metadata.AccessColorAttachmentWrite,
		}},
		{"depth to attachment", find(attach, st.Depth.Handle), metadata.ImageBarrier{
			Image: st.Depth.Handle, Aspect: metadata.ImageAspectDepth,
			OldLayout: metadata.ImageLayoutUndefined, NewLayout: metadata.ImageLayoutDepthAttachmentOptimal,
			SrcStage: fragmentTests, SrcAccess: metadata.AccessDepthStencilWrite,
			DstStage: fragmentTests, DstAccess: metadata.AccessDepthStencilWrite,
		}},
		{"normal to shader read", find(read, st.Normal.Handle), metadata.ImageBarrier{
			Image: st.Normal.Handle, OldLayout: metadata.ImageLayoutColorAttachmentOptimal, NewLayout: metadata.ImageLayoutShaderReadOnlyOptimal,
			SrcStage: metadata.PipelineStageColorAttachmentOutput, SrcAccess: metadata.AccessColorAttachmentWrite,
			DstStage: metadata.PipelineStageComputeShader, DstAccess: metadata.AccessShaderRead,
		}},
		{"storage to transfer source", find(blit, st.Storage.Handle), metadata.ImageBarrier{
			Image: st.Storage.Handle, OldLayout: metadata.ImageLayoutGeneral, NewLayout: metadata.ImageLayoutTransferSrcOptimal,
			SrcStage: metadata.PipelineStageComputeShader, SrcAccess: metadata.AccessShaderWrite,
			DstStage: metadata.PipelineStageTransfer, DstAccess: metadata.AccessTransferRead,
		}},
		{"swap image to transfer destination", find(blit, swap), metadata.ImageBarrier{
			Image: swap, OldLayout: metadata.ImageLayoutUndefined, NewLayout: metadata.ImageLayoutTransferDstOptimal,
			SrcStage: metadata.PipelineStageColorAttachmentOutput,
			DstStage: metadata.PipelineStageTransfer, DstAccess: metadata.AccessTransferWrite,
		}},
		{"swap image to present", find(present, swap), metadata.ImageBarrier{
			Image: swap, OldLayout: metadata.ImageLayoutTransferDstOptimal, NewLayout: metadata.ImageLayoutPresentSrc,
			SrcStage: metadata.PipelineStageTransfer, SrcAccess: metadata.AccessTransferWrite,
			DstStage: metadata.PipelineStageBottomOfPipe,
		}},
		{"storage back to general", find(present, st.Storage.Handle), metadata.ImageBarrier{
			Image: st.Storage.Handle, OldLayout: metadata.ImageLayoutTransferSrcOptimal, NewLayout: metadata.ImageLayoutGeneral,
			SrcStage: metadata.PipelineStageTransfer, SrcAccess: metadata.AccessTransferRead,
			DstStage: metadata.PipelineStageComputeShader, DstAccess: metadata.AccessShaderWrite,
		}},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got %+v\nwant %+v", tt.name, tt.got, tt.want)
		}
	}

	b := cb.blits[0]
	if b.Src != st.Storage.Handle || b.Dst != swap || b.Filter != metadata.FilterLinear || b.DstExtent != r.targets.Extent() {
		t.Errorf("blit = %+v", b)
	}
}

func TestRecorderRejectsModelCount(t *testing.T) {
	r := newTestRenderer(t, newTestDevice(), testOptions(2))
	cb := &traceCommands{}
	err := r.frames.recorder.Record(cb, FrameCommands{Slot: 0, Targets: r.targets.Slots[0], Models: r.Models(0)[:1]})
	if errors.Cause(err) != core.ErrValidation {
		t.Fatalf("Record = %v", err)
	}
	if len(cb.ops) != 0 {
		t.Fatalf("recorded %v before failing", cb.ops)
	}
}
