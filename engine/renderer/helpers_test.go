package renderer

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/reference"
)

var _ Device = (*reference.Device)(nil)

func init() {
	core.SetLogOutput(io.Discard)
}

// testMesh is a small spinning panel followed by the Cornell box.
func testMesh() *metadata.MeshData {
	mesh := &metadata.MeshData{}
	n := math.NewVec3(0, 0, 1)
	white := math.NewVec4(1, 1, 1, 1)
	v := func(x, y float32) math.Vertex3D {
		return math.Vertex3D{Position: math.NewVec3(x, y, 0), Normal: n, Colour: white}
	}
	mesh.Append("panel", []math.Vertex3D{v(-0.3, -0.3), v(0.3, -0.3), v(0.3, 0.3), v(-0.3, 0.3)}, []uint32{0, 1, 2, 0, 2, 3}, false)
	loaders.AppendCornellBox(mesh)
	return mesh
}

func newTestDevice() *reference.Device {
	cfg := reference.DefaultConfig()
	cfg.Strict = true
	cfg.LightSamples = 4
	return reference.New(cfg)
}

func testOptions(frames int) Options {
	opts := DefaultOptions()
	opts.FramesInFlight = frames
	opts.Width, opts.Height = 32, 24
	opts.LightCount = 4
	opts.LightSeed = 7
	opts.FenceTimeout = time.Second
	return opts
}

func newTestRenderer(t *testing.T, device Device, opts Options) *Renderer {
	t.Helper()
	r, err := New(context.Background(), device, testMesh(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func drawFrame(t *testing.T, r *Renderer, seconds float64) FrameResult {
	t.Helper()
	res, err := r.DrawFrame(context.Background(), seconds, DefaultView())
	if err != nil {
		t.Fatalf("DrawFrame(%v): %v", seconds, err)
	}
	return res
}

func near(a, b, eps float32) bool {
	d := a - b
	return d <= eps && d >= -eps
}

func requireNoViolations(t *testing.T, dev *reference.Device) {
	t.Helper()
	if v := dev.Violations(); len(v) > 0 {
		t.Fatalf("device reported %d violations, first: %s", len(v), v[0])
	}
}

// tracingDevice logs the synchronisation calls of the frame loop.
type tracingDevice struct {
	*reference.Device
	log []string
}

func (d *tracingDevice) WaitForFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error {
	d.log = append(d.log, fmt.Sprintf("wait %d", h))
	return d.Device.WaitForFence(ctx, h, timeout)
}

func (d *tracingDevice) ResetFence(h metadata.FenceHandle) error {
	d.log = append(d.log, fmt.Sprintf("reset %d", h))
	return d.Device.ResetFence(h)
}

func (d *tracingDevice) Submit(info metadata.SubmitInfo) error {
	d.log = append(d.log, fmt.Sprintf("submit %d", info.Fence))
	return d.Device.Submit(info)
}

func (d *tracingDevice) AcquireNextImage(ctx context.Context, signal metadata.SemaphoreHandle) (uint32, metadata.SwapchainStatus, error) {
	d.log = append(d.log, "acquire")
	return d.Device.AcquireNextImage(ctx, signal)
}

func (d *tracingDevice) Present(image uint32, wait metadata.SemaphoreHandle) (metadata.SwapchainStatus, error) {
	d.log = append(d.log, "present")
	return d.Device.Present(image, wait)
}

// shaderFiles serves SPIR-V headers for any path, or fails every load.
type shaderFiles struct {
	loads int
	err   error
}

func (s *shaderFiles) LoadShader(path string) ([]uint32, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return []uint32{loaders.SPIRVMagic, 0x00010000, 0, 1, 0}, nil
}

// traceCommands records command names and barriers.
type traceCommands struct {
	ops      []string
	barriers []metadata.Dependency
	blits    []metadata.BlitInfo
	passes   []metadata.RenderingInfo
	draws    [][2]uint32
	dispatch [3]uint32
}

func (c *traceCommands) op(name string) { c.ops = append(c.ops, name) }

func (c *traceCommands) Begin(bool) error { c.op("Begin"); return nil }
func (c *traceCommands) End() error       { c.op("End"); return nil }
func (c *traceCommands) Reset() error     { return nil }
func (c *traceCommands) PipelineBarrier(dep metadata.Dependency) {
	c.op("PipelineBarrier")
	c.barriers = append(c.barriers, dep)
}
func (c *traceCommands) UpdateBuffer(metadata.BufferHandle, uint64, []byte) { c.op("UpdateBuffer") }
func (c *traceCommands) CopyBuffer(metadata.BufferHandle, metadata.BufferHandle, ...metadata.BufferCopy) {
	c.op("CopyBuffer")
}
func (c *traceCommands) BuildAccelerationStructure(metadata.AccelerationStructureBuildInfo) {
	c.op("BuildAccelerationStructure")
}
func (c *traceCommands) BeginRendering(info metadata.RenderingInfo) {
	c.op("BeginRendering")
	c.passes = append(c.passes, info)
}
func (c *traceCommands) EndRendering()                                     { c.op("EndRendering") }
func (c *traceCommands) BindPipeline(metadata.PipelineHandle)              { c.op("BindPipeline") }
func (c *traceCommands) BindGroup(metadata.PipelineHandle, metadata.BindGroupHandle) {
	c.op("BindGroup")
}
func (c *traceCommands) BindVertexBuffer(metadata.BufferHandle, uint64) { c.op("BindVertexBuffer") }
func (c *traceCommands) BindIndexBuffer(metadata.BufferHandle, uint64, metadata.IndexType) {
	c.op("BindIndexBuffer")
}
func (c *traceCommands) SetViewport(metadata.Viewport) { c.op("SetViewport") }
func (c *traceCommands) SetScissor(metadata.Rect2D)    { c.op("SetScissor") }
func (c *traceCommands) PushConstants(metadata.PipelineHandle, metadata.ShaderStageFlags, uint32, []byte) {
	c.op("PushConstants")
}
func (c *traceCommands) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.op("DrawIndexed")
	c.draws = append(c.draws, [2]uint32{indexCount, firstIndex})
}
func (c *traceCommands) Dispatch(x, y, z uint32) {
	c.op("Dispatch")
	c.dispatch = [3]uint32{x, y, z}
}
func (c *traceCommands) BlitImage(info metadata.BlitInfo) {
	c.op("BlitImage")
	c.blits = append(c.blits, info)
}
