package renderer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestFramesCycleThroughSlots(t *testing.T) {
	for _, frames := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("%d in flight", frames), func(t *testing.T) {
			dev := newTestDevice()
			r := newTestRenderer(t, dev, testOptions(frames))

			const n = 7
			for i := 0; i < n; i++ {
				res := drawFrame(t, r, float64(i)/10)
				if res.Status != FramePresented {
					t.Fatalf("frame %d: status %s", i, res.Status)
				}
				if res.Slot != i%frames {
					t.Fatalf("frame %d used slot %d, want %d", i, res.Slot, i%frames)
				}
				if res.Recreated {
					t.Fatalf("frame %d recreated the swapchain", i)
				}
			}
			if err := dev.WaitIdle(); err != nil {
				t.Fatal(err)
			}
			requireNoViolations(t, dev)

			stats := dev.Stats()
			if stats.Presents != n || stats.Dispatches != n || stats.Blits != n {
				t.Fatalf("stats = %+v", stats)
			}
			if stats.TopBuilds != frames || stats.TopUpdates != n {
				t.Fatalf("top-level builds/updates = %d/%d, want %d/%d", stats.TopBuilds, stats.TopUpdates, frames, n)
			}
			if want := n * len(testMesh().Submeshes); stats.Draws != want {
				t.Fatalf("draws = %d, want %d", stats.Draws, want)
			}
			if r.Frames().Presented() != n {
				t.Fatalf("presented = %d", r.Frames().Presented())
			}
		})
	}
}

func TestFenceWaitedBeforeSlotReuse(t *testing.T) {
	dev := &tracingDevice{Device: newTestDevice()}
	r := newTestRenderer(t, dev, testOptions(2))
	dev.log = nil

	for i := 0; i < 4; i++ {
		drawFrame(t, r, 0)
	}
	if len(dev.log) != 4*5 {
		t.Fatalf("log = %v", dev.log)
	}
	fences := map[int]string{}
	for i := 0; i < 4; i++ {
		frame := dev.log[i*5 : i*5+5]
		var fence string
		if _, err := fmt.Sscanf(frame[0], "wait %s", &fence); err != nil {
			t.Fatalf("frame %d starts with %q", i, frame[0])
		}
		want := []string{"wait " + fence, "acquire", "reset " + fence, "submit " + fence, "present"}
		for j := range want {
			if frame[j] != want[j] {
				t.Fatalf("frame %d = %v, want %v", i, frame, want)
			}
		}
		if prev, ok := fences[i%2]; ok && prev != fence {
			t.Fatalf("slot %d switched fence from %s to %s", i%2, prev, fence)
		}
		fences[i%2] = fence
	}
	if fences[0] == fences[1] {
		t.Fatalf("both slots share fence %s", fences[0])
	}
	requireNoViolations(t, dev.Device)
}

func TestAcquireOutOfDateSkipsFrame(t *testing.T) {
	dev := &tracingDevice{Device: newTestDevice()}
	r := newTestRenderer(t, dev, testOptions(2))

	drawFrame(t, r, 0)
	dev.InjectAcquireStatus(1, metadata.SwapchainOutOfDate)
	dev.log = nil

	res := drawFrame(t, r, 0)
	if res.Status != FrameSkipped || !res.Recreated || res.Slot != 1 {
		t.Fatalf("result = %+v", res)
	}
	if r.Frames().Current() != 1 {
		t.Fatalf("skipped frame advanced to slot %d", r.Frames().Current())
	}
	fence := strings.TrimPrefix(dev.log[0], "wait ")
	for _, entry := range dev.log {
		if entry == "reset "+fence || entry == "submit "+fence {
			t.Fatalf("skipped frame touched the slot fence: %v", dev.log)
		}
	}

	res = drawFrame(t, r, 0)
	if res.Status != FramePresented || res.Slot != 1 {
		t.Fatalf("retry = %+v", res)
	}
	drawFrame(t, r, 0)
	requireNoViolations(t, dev.Device)
}

func TestStalePresentRecreatesAfterFrame(t *testing.T) {
	tests := []struct {
		name   string
		inject func(dev *tracingDevice)
	}{
		{"present out of date", func(dev *tracingDevice) { dev.InjectPresentStatus(0, metadata.SwapchainOutOfDate) }},
		{"present suboptimal", func(dev *tracingDevice) { dev.InjectPresentStatus(0, metadata.SwapchainSuboptimal) }},
		{"acquire suboptimal", func(dev *tracingDevice) { dev.InjectAcquireStatus(0, metadata.SwapchainSuboptimal) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &tracingDevice{Device: newTestDevice()}
			r := newTestRenderer(t, dev, testOptions(2))
			tt.inject(dev)

			res := drawFrame(t, r, 0)
			if res.Status != FramePresented || !res.Recreated {
				t.Fatalf("result = %+v", res)
			}
			if r.Frames().Current() != 1 {
				t.Fatalf("presented frame did not advance")
			}
			for i := 0; i < 3; i++ {
				if res := drawFrame(t, r, 0); res.Recreated {
					t.Fatalf("frame %d recreated again", i)
				}
			}
			requireNoViolations(t, dev.Device)
		})
	}
}

func TestResizeRecreatesTargets(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	drawFrame(t, r, 0)

	r.Resize(40, 20)
	res := drawFrame(t, r, 0)
	if !res.Recreated || res.Status != FramePresented {
		t.Fatalf("result = %+v", res)
	}
	if got := r.Targets().Extent(); got != (metadata.Extent2D{Width: 40, Height: 20}) {
		t.Fatalf("extent = %+v", got)
	}
	for i, st := range r.Targets().Slots {
		if st.Storage.Desc.Extent != r.Targets().Extent() {
			t.Fatalf("slot %d storage is %+v", i, st.Storage.Desc.Extent)
		}
	}
	if err := dev.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	presented := dev.Presented()
	if last := presented[len(presented)-1]; last.Extent.Width != 40 || last.Extent.Height != 20 {
		t.Fatalf("last present = %+v", last)
	}
	requireNoViolations(t, dev)
}

func TestSurfaceSizeFollowsWindow(t *testing.T) {
	dev := newTestDevice()
	surface := metadata.Extent2D{Width: 32, Height: 24}
	opts := testOptions(2)
	opts.SurfaceSize = func() metadata.Extent2D { return surface }
	r := newTestRenderer(t, dev, opts)
	drawFrame(t, r, 0)

	surface = metadata.Extent2D{Width: 16, Height: 16}
	dev.SetSurfaceExtent(surface)
	res := drawFrame(t, r, 0)
	if res.Status != FrameSkipped || !res.Recreated {
		t.Fatalf("result = %+v", res)
	}
	if res := drawFrame(t, r, 0); res.Status != FramePresented {
		t.Fatalf("retry = %+v", res)
	}
	if r.Targets().Extent() != surface {
		t.Fatalf("extent = %+v", r.Targets().Extent())
	}
	requireNoViolations(t, dev)
}

func TestMinimizedWindowBoots(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	drawFrame(t, r, 0)

	r.Resize(0, 0)
	for i := 0; i < 2; i++ {
		res, err := r.DrawFrame(context.Background(), 0, DefaultView())
		if errors.Cause(err) != core.ErrSwapchainBooting || core.IsFatal(err) {
			t.Fatalf("DrawFrame = %v", err)
		}
		if res.Status != FrameSkipped || r.Frames().Current() != 1 {
			t.Fatalf("result = %+v, current %d", res, r.Frames().Current())
		}
		if r.Targets().Ready() {
			t.Fatal("targets exist for a zero sized surface")
		}
	}

	r.Resize(32, 24)
	res := drawFrame(t, r, 0)
	if res.Status != FramePresented || !res.Recreated || res.Slot != 1 {
		t.Fatalf("restored = %+v", res)
	}
	requireNoViolations(t, dev)
}

func TestDeviceLossIsFatal(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	drawFrame(t, r, 0)

	dev.LoseDevice()
	_, err := r.DrawFrame(context.Background(), 0, DefaultView())
	if errors.Cause(err) != core.ErrDeviceLost || !core.IsFatal(err) {
		t.Fatalf("DrawFrame = %v", err)
	}
}

func TestCancelledContextStopsFrame(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.DrawFrame(ctx, 0, DefaultView()); errors.Cause(err) != context.Canceled {
		t.Fatalf("DrawFrame = %v", err)
	}
}

func TestWrongModelCountIsRejected(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	_, err := r.Frames().DrawFrame(context.Background(), FrameInput{View: DefaultView()})
	if errors.Cause(err) != core.ErrValidation {
		t.Fatalf("DrawFrame = %v", err)
	}
}

func TestSlotState(t *testing.T) {
	dev := newTestDevice()
	r := newTestRenderer(t, dev, testOptions(2))
	for i := 0; i < 2; i++ {
		if s, err := r.Frames().SlotState(i); err != nil || s != metadata.FrameSlotIdle {
			t.Fatalf("slot %d = %s, %v", i, s, err)
		}
	}
	drawFrame(t, r, 0)
	// the reference device completes work as soon as it is polled
	if s, _ := r.Frames().SlotState(0); s != metadata.FrameSlotIdle {
		t.Fatalf("slot 0 = %s", s)
	}
	if _, err := r.Frames().SlotState(2); errors.Cause(err) != core.ErrInvalidFrameSlot {
		t.Fatalf("SlotState(2) = %v", err)
	}
}

func TestNewFrameControllerRejectsZeroSlots(t *testing.T) {
	_, err := NewFrameController(FrameControllerConfig{Device: newTestDevice()})
	if errors.Cause(err) != core.ErrValidation {
		t.Fatalf("NewFrameController = %v", err)
	}
}
