package vulkan

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestRenderingKeyUsesImageFormats(t *testing.T) {
	formatsByImage := map[metadata.ImageHandle]metadata.Format{
		1: metadata.FormatR32G32B32A32Sfloat,
		2: metadata.FormatD32Sfloat,
	}
	info := metadata.RenderingInfo{
		Extent: metadata.Extent2D{Width: 4, Height: 4},
		Colors: []metadata.ColorAttachment{{
			Image: 1, Layout: metadata.ImageLayoutColorAttachmentOptimal,
			Load: metadata.LoadOpClear, Store: metadata.StoreOpStore,
		}},
		Depth: &metadata.DepthAttachment{
			Image: 2, Layout: metadata.ImageLayoutDepthAttachmentOptimal,
			Load: metadata.LoadOpClear, Store: metadata.StoreOpDontCare,
		},
	}
	key, err := renderingKey(info, func(h metadata.ImageHandle) metadata.Format { return formatsByImage[h] })
	if err != nil {
		t.Fatal(err)
	}
	pipe, err := pipelineKey([]metadata.Format{metadata.FormatR32G32B32A32Sfloat}, metadata.FormatD32Sfloat)
	if err != nil {
		t.Fatal(err)
	}
	if key.colorCount != 1 || !key.hasDepth {
		t.Fatalf("key %+v", key)
	}
	if key.colors[0].format != pipe.colors[0].format || key.depth.format != pipe.depth.format {
		t.Errorf("formats differ from the pipeline pass: %+v vs %+v", key, pipe)
	}
	if key == pipe {
		t.Error("a pass that does not store depth should be a distinct render pass")
	}
	if got := clearValues(info); len(got) != 2 {
		t.Errorf("%d clear values, want 2", len(got))
	}
}

func TestTooManyColorAttachments(t *testing.T) {
	colors := make([]metadata.Format, maxColorAttachments+1)
	if _, err := pipelineKey(colors, metadata.FormatUndefined); errors.Cause(err) != core.ErrValidation {
		t.Fatalf("got %v", err)
	}
	info := metadata.RenderingInfo{Colors: make([]metadata.ColorAttachment, maxColorAttachments+1)}
	_, err := renderingKey(info, func(metadata.ImageHandle) metadata.Format { return metadata.FormatR8G8B8A8Unorm })
	if errors.Cause(err) != core.ErrValidation {
		t.Fatalf("got %v", err)
	}
}

func TestFramebufferKeyUses(t *testing.T) {
	k := framebufferKey{count: 2}
	k.images[0], k.images[1] = 7, 9
	if !k.uses(9) || k.uses(3) {
		t.Fatal("uses reports the wrong attachments")
	}
	// slots past count are ignored
	k.images[2] = 3
	if k.uses(3) {
		t.Fatal("slot past count was matched")
	}
}
