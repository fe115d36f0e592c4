package renderer

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// FrameCommands is what one frame records against.
type FrameCommands struct {
	Slot      int
	SwapImage metadata.ImageHandle
	Extent    metadata.Extent2D
	Targets   *SlotTargets
	Camera    *BindGroup
	// Models holds one model matrix per submesh.
	Models []math.Mat4
}

// Recorder emits the command stream of a frame: top-level refresh, G-buffer
// raster pass, lighting dispatch, blit into the swap image and the final
// present transition.
type Recorder struct {
	geometry  *Geometry
	tlas      *TopLevelIndex
	pipelines *Pipelines
}

func NewRecorder(geometry *Geometry, tlas *TopLevelIndex, pipelines *Pipelines) *Recorder {
	return &Recorder{geometry: geometry, tlas: tlas, pipelines: pipelines}
}

// DispatchSize is the number of lighting workgroups covering extent.
func DispatchSize(extent metadata.Extent2D) (uint32, uint32, uint32) {
	return (extent.Width + LightingTileSize - 1) / LightingTileSize, (extent.Height + LightingTileSize - 1) / LightingTileSize, 1
}

func (r *Recorder) Record(cb CommandBuffer, f FrameCommands) error {
	submeshes := r.geometry.Mesh.Submeshes
	if len(f.Models) != len(submeshes) {
		return errors.Wrapf(core.ErrValidation, "%d model matrices for %d submeshes", len(f.Models), len(submeshes))
	}
	if err := r.tlas.Refresh(cb, f.Slot, InstanceTransforms(f.Models)); err != nil {
		return err
	}
	t := f.Targets
	gbuffers := []*Image{t.Albedo, t.Position, t.Normal}

	attach := metadata.Dependency{}
	for _, img := range gbuffers {
		attach.ImageBarriers = append(attach.ImageBarriers, metadata.ImageBarrier{
			Image:     img.Handle,
			OldLayout: metadata.ImageLayoutUndefined,
			NewLayout: metadata.ImageLayoutColorAttachmentOptimal,
			SrcStage:  metadata.PipelineStageTopOfPipe,
			DstStage:  metadata.PipelineStageColorAttachmentOutput,
			DstAccess: metadata.AccessColorAttachmentWrite,
		})
	}
	fragmentTests := metadata.PipelineStageEarlyFragmentTests | metadata.PipelineStageLateFragmentTests
	attach.ImageBarriers = append(attach.ImageBarriers, metadata.ImageBarrier{
		Image:     t.Depth.Handle,
		Aspect:    metadata.ImageAspectDepth,
		OldLayout: metadata.ImageLayoutUndefined,
		NewLayout: metadata.ImageLayoutDepthAttachmentOptimal,
		SrcStage:  fragmentTests,
		SrcAccess: metadata.AccessDepthStencilWrite,
		DstStage:  fragmentTests,
		DstAccess: metadata.AccessDepthStencilWrite,
	})
	cb.PipelineBarrier(attach)

	r.rasterPass(cb, f, gbuffers)

	read := metadata.Dependency{}
	for _, img := range gbuffers {
		read.ImageBarriers = append(read.ImageBarriers, metadata.ImageBarrier{
			Image:     img.Handle,
			OldLayout: metadata.ImageLayoutColorAttachmentOptimal,
			NewLayout: metadata.ImageLayoutShaderReadOnlyOptimal,
			SrcStage:  metadata.PipelineStageColorAttachmentOutput,
			SrcAccess: metadata.AccessColorAttachmentWrite,
			DstStage:  metadata.PipelineStageComputeShader,
			DstAccess: metadata.AccessShaderRead,
		})
	}
	cb.PipelineBarrier(read)

	lighting := r.pipelines.Lighting.Handle
	cb.BindPipeline(lighting)
	cb.BindGroup(lighting, t.Lighting.Handle)
	cb.Dispatch(DispatchSize(f.Extent))

	cb.PipelineBarrier(metadata.Dependency{ImageBarriers: []metadata.ImageBarrier{
		{
			Image:     t.Storage.Handle,
			OldLayout: metadata.ImageLayoutGeneral,
			NewLayout: metadata.ImageLayoutTransferSrcOptimal,
			SrcStage:  metadata.PipelineStageComputeShader,
			SrcAccess: metadata.AccessShaderWrite,
			DstStage:  metadata.PipelineStageTransfer,
			DstAccess: metadata.AccessTransferRead,
		},
		{
			Image:     f.SwapImage,
			OldLayout: metadata.ImageLayoutUndefined,
			NewLayout: metadata.ImageLayoutTransferDstOptimal,
			SrcStage:  metadata.PipelineStageColorAttachmentOutput,
			DstStage:  metadata.PipelineStageTransfer,
			DstAccess: metadata.AccessTransferWrite,
		},
	}})
	cb.BlitImage(metadata.BlitInfo{
		Src:       t.Storage.Handle,
		SrcLayout: metadata.ImageLayoutTransferSrcOptimal,
		SrcExtent: t.Storage.Desc.Extent,
		Dst:       f.SwapImage,
		DstLayout: metadata.ImageLayoutTransferDstOptimal,
		DstExtent: f.Extent,
		Filter:    metadata.FilterLinear,
	})

	cb.PipelineBarrier(metadata.Dependency{ImageBarriers: []metadata.ImageBarrier{
		{
			Image:     f.SwapImage,
			OldLayout: metadata.ImageLayoutTransferDstOptimal,
			NewLayout: metadata.ImageLayoutPresentSrc,
			SrcStage:  metadata.PipelineStageTransfer,
			SrcAccess: metadata.AccessTransferWrite,
			DstStage:  metadata.PipelineStageBottomOfPipe,
		},
		{
			Image:     t.Storage.Handle,
			OldLayout: metadata.ImageLayoutTransferSrcOptimal,
			NewLayout: metadata.ImageLayoutGeneral,
			SrcStage:  metadata.PipelineStageTransfer,
			SrcAccess: metadata.AccessTransferRead,
			DstStage:  metadata.PipelineStageComputeShader,
			DstAccess: metadata.AccessShaderWrite,
		},
	}})
	return nil
}

func (r *Recorder) rasterPass(cb CommandBuffer, f FrameCommands, gbuffers []*Image) {
	black := math.NewVec4(0, 0, 0, 1)
	info := metadata.RenderingInfo{Extent: f.Extent}
	for _, img := range gbuffers {
		info.Colors = append(info.Colors, metadata.ColorAttachment{
			Image:  img.Handle,
			Layout: metadata.ImageLayoutColorAttachmentOptimal,
			Load:   metadata.LoadOpClear,
			Store:  metadata.StoreOpStore,
			Clear:  black,
		})
	}
	info.Depth = &metadata.DepthAttachment{
		Image:      f.Targets.Depth.Handle,
		Layout:     metadata.ImageLayoutDepthAttachmentOptimal,
		Load:       metadata.LoadOpClear,
		Store:      metadata.StoreOpDontCare,
		ClearDepth: 1,
	}

	gbuffer := r.pipelines.GBuffer.Handle
	cb.BeginRendering(info)
	cb.SetViewport(metadata.Viewport{
		Width:    float32(f.Extent.Width),
		Height:   float32(f.Extent.Height),
		MaxDepth: 1,
	})
	cb.SetScissor(metadata.Rect2D{Extent: f.Extent})
	cb.BindPipeline(gbuffer)
	cb.BindGroup(gbuffer, f.Camera.Handle)
	cb.BindVertexBuffer(r.geometry.Vertices.Handle, 0)
	cb.BindIndexBuffer(r.geometry.Indices.Handle, 0, metadata.IndexTypeUint32)
	for i, s := range r.geometry.Mesh.Submeshes {
		push := metadata.MeshPushConstants{Model: f.Models[i]}
		cb.PushConstants(gbuffer, metadata.ShaderStageVertex, 0, push.Bytes())
		cb.DrawIndexed(s.IndexCount, 1, s.IndexOffset, 0, 0)
	}
	cb.EndRendering()
}
