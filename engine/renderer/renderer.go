package renderer

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	// Reference runs every command on the CPU without a window.
	Reference
)

func (t RendererType) String() string {
	if t == Reference {
		return "reference"
	}
	return "vulkan"
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vulkan":
		return Vulkan, nil
	case "reference":
		return Reference, nil
	}
	return Vulkan, errors.Wrapf(core.ErrValidation, "unknown backend %q", s)
}

type Options struct {
	FramesInFlight int
	Width          uint32
	Height         uint32
	LightCount     int
	// LightSeed 0 seeds the light generator from the clock.
	LightSeed    uint64
	FenceTimeout time.Duration
	// Shaders and ShaderDir locate the compiled pipeline programs. A nil
	// source creates pipelines without code.
	Shaders     ShaderSource
	ShaderDir   string
	SurfaceSize func() metadata.Extent2D
}

func DefaultOptions() Options {
	return Options{
		FramesInFlight: DefaultFramesInFlight,
		Width:          800,
		Height:         600,
		LightCount:     100,
		FenceTimeout:   WaitForever,
	}
}

// Renderer ties the pieces of a frame together over one device.
type Renderer struct {
	device    Device
	pool      *ResourcePool
	geometry  *Geometry
	bottom    []*BottomLevel
	tlas      *TopLevelIndex
	lights    *Buffer
	pipelines *Pipelines
	uniforms  *CameraUniforms
	targets   *Targets
	frames    *FrameController

	// reloadPending is raised by the asset watcher goroutine.
	reloadPending atomic.Bool
	shutdown      bool
}

/**
 * Uploads mesh, builds every bottom-level structure and the per-slot
 * top-level structures, creates the pipelines and the swap dependent
 * targets. Everything allocated so far is released when a step fails.
 */
func New(ctx context.Context, device Device, mesh *metadata.MeshData, opts Options) (_ *Renderer, err error) {
	if opts.FramesInFlight < 1 {
		return nil, errors.Wrapf(core.ErrValidation, "%d frames in flight", opts.FramesInFlight)
	}
	if mesh == nil || len(mesh.Submeshes) == 0 {
		return nil, errors.Wrap(core.ErrValidation, "mesh has no submeshes")
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = WaitForever
	}
	pool := NewResourcePool(device, opts.FramesInFlight)
	r := &Renderer{device: device, pool: pool}
	defer func() {
		if err != nil {
			if r.frames != nil {
				r.frames.Destroy()
			}
			if r.targets != nil {
				r.targets.Destroy()
			}
			pool.Release()
		}
	}()

	if r.geometry, err = UploadGeometry(pool, mesh); err != nil {
		return nil, err
	}
	if r.bottom, err = BuildBottomLevel(ctx, device, pool, r.geometry, opts.FenceTimeout); err != nil {
		return nil, err
	}
	r.tlas = NewTopLevelIndex(device, pool, r.bottom, mesh.Submeshes, opts.FenceTimeout)
	if err = r.tlas.Initialize(ctx, opts.FramesInFlight, InstanceTransforms(r.Models(0))); err != nil {
		return nil, err
	}
	if r.lights, err = NewLightBuffer(pool, GenerateLights(opts.LightCount, opts.LightSeed)); err != nil {
		return nil, err
	}
	if r.pipelines, err = NewPipelines(pool, opts.Shaders, opts.ShaderDir); err != nil {
		return nil, err
	}
	if r.uniforms, err = NewCameraUniforms(pool, r.pipelines.GBuffer, opts.FramesInFlight); err != nil {
		return nil, err
	}
	r.targets = NewTargets(device, pool, r.lights, r.tlas, opts.FramesInFlight, opts.FenceTimeout)
	r.frames, err = NewFrameController(FrameControllerConfig{
		Device:    device,
		Pool:      pool,
		Targets:   r.targets,
		Uniforms:  r.uniforms,
		Pipelines: r.pipelines,
		Recorder:  NewRecorder(r.geometry, r.tlas, r.pipelines),
		Slots:     opts.FramesInFlight,
		Width:     opts.Width,
		Height:    opts.Height,
		Timeout:   opts.FenceTimeout,
	})
	if err != nil {
		return nil, err
	}
	r.frames.SurfaceSize = opts.SurfaceSize
	if err = r.frames.Recreate(ctx); err != nil {
		if core.IsFatal(err) {
			return nil, err
		}
		// a minimized window; the first frame tries again
		err = nil
	}
	core.LogInfo("renderer ready: %d submeshes, %d lights, %d frames in flight",
		len(mesh.Submeshes), opts.LightCount, opts.FramesInFlight)
	return r, nil
}

// Models returns the per-submesh model matrices at time seconds.
func (r *Renderer) Models(seconds float64) []math.Mat4 {
	return SceneModels(seconds, len(r.geometry.Mesh.Submeshes))
}

// DrawFrame renders the animated scene at time seconds seen through view.
// A pending shader reload runs first.
func (r *Renderer) DrawFrame(ctx context.Context, seconds float64, view math.Mat4) (FrameResult, error) {
	if r.reloadPending.Swap(false) {
		// a shader that fails to load or compile leaves the running pipelines
		if err := r.pipelines.Reload(); err == nil {
			if err := r.rebind(); err != nil {
				return FrameResult{Slot: r.frames.Current(), Status: FrameSkipped}, err
			}
		}
	}
	return r.frames.DrawFrame(ctx, FrameInput{View: view, Models: r.Models(seconds)})
}

func (r *Renderer) Resize(width, height uint32) {
	r.frames.Resize(width, height)
}

/**
 * Rebuilds both pipelines from the shader directory and rebinds every group
 * that points at them. The old objects are retired, so frames still in
 * flight keep using them until their slot comes around again. A failed
 * reload keeps the running pipelines.
 */
func (r *Renderer) ReloadShaders() error {
	if err := r.pipelines.Reload(); err != nil {
		return err
	}
	return r.rebind()
}

func (r *Renderer) rebind() error {
	if err := r.uniforms.Bind(r.pipelines.GBuffer, true); err != nil {
		return errors.Wrap(err, "rebinding camera uniforms after reload")
	}
	if r.targets.Ready() {
		if err := r.targets.Bind(r.pipelines.Lighting, true); err != nil {
			return errors.Wrap(err, "rebinding lighting groups after reload")
		}
	}
	core.LogInfo("pipelines reloaded")
	return nil
}

// OnEvent handles resize and shader change events.
func (r *Renderer) OnEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_RESIZED:
		r.Resize(data.U32[0], data.U32[1])
	case core.EVENT_CODE_ASSET_CHANGED:
		if r.pipelines.Watches(data.C[0]) {
			core.LogDebug("shader %s changed, reloading before the next frame", data.C[0])
			r.reloadPending.Store(true)
		}
	}
	return false
}

func (r *Renderer) Frames() *FrameController {
	return r.frames
}

func (r *Renderer) TopLevel() *TopLevelIndex {
	return r.tlas
}

func (r *Renderer) Targets() *Targets {
	return r.targets
}

func (r *Renderer) Pool() *ResourcePool {
	return r.pool
}

func (r *Renderer) Pipelines() *Pipelines {
	return r.pipelines
}

// Shutdown waits for the device, releases every resource and shuts the
// device down. It may be called more than once.
func (r *Renderer) Shutdown() error {
	if r.shutdown {
		return nil
	}
	r.shutdown = true
	r.frames.Destroy()
	r.targets.Destroy()
	r.pool.Release()
	if err := r.device.Shutdown(); err != nil {
		err = errors.Wrap(err, "shutting down device")
		core.LogError(err.Error())
		return err
	}
	return nil
}
