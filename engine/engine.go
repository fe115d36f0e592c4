package engine

import (
	"context"
	stdimage "image"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/components"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/reference"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

type Engine struct {
	currentStage Stage
	config       *ApplicationConfig

	bus          *core.EventBus
	input        *core.Input
	platform     *platform.Platform
	assetManager *assets.AssetManager
	device       renderer.Device
	renderer     *renderer.Renderer
	camera       *components.Camera
	clock        *core.Clock
	metrics      *core.FrameMetrics

	isRunning   atomic.Bool
	isSuspended atomic.Bool
	lastTime    float64
	presented   uint64
}

// New prepares an engine for cfg. Only the vulkan backend opens a window.
func New(cfg *ApplicationConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	bus := core.NewEventBus()
	input := core.NewInput(bus)

	e := &Engine{
		currentStage: EngineStageUninitialized,
		config:       cfg,
		bus:          bus,
		input:        input,
		assetManager: assets.NewAssetManager(bus),
		camera:       components.NewCamera(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	if cfg.RendererType() == renderer.Vulkan {
		e.platform = platform.New(bus, input)
	}
	return e, nil
}

func (e *Engine) Initialize(ctx context.Context) (err error) {
	if e.currentStage != EngineStageUninitialized {
		return errors.Wrap(core.ErrValidation, "engine already initialized")
	}
	e.currentStage = EngineStageInitializing
	cfg := e.config

	level, _ := core.ParseLogLevel(cfg.LogLevel)
	core.SetLogLevel(level)

	defer func() {
		if err != nil {
			core.LogError(err.Error())
			e.release()
		}
	}()

	if e.platform != nil {
		if err = e.platform.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.Width, cfg.Height); err != nil {
			return err
		}
	}

	if err = e.assetManager.Initialize(cfg.WatchAssets, existingDirs(cfg.ShaderDir, modelDir(cfg.ModelPath))...); err != nil {
		return err
	}

	mesh, err := e.loadMesh()
	if err != nil {
		return err
	}

	opts := cfg.RendererOptions()
	if e.platform != nil {
		e.device, err = vulkan.NewDevice(e.platform, vulkan.Config{
			ApplicationName: cfg.Name,
			Validation:      cfg.Validation,
		})
		if err != nil {
			return err
		}
		opts.Shaders = e.assetManager
		opts.SurfaceSize = func() metadata.Extent2D {
			w, h := e.platform.FramebufferSize()
			return metadata.Extent2D{Width: w, Height: h}
		}
	} else {
		refCfg := reference.DefaultConfig()
		refCfg.Strict = cfg.Validation
		e.device = reference.New(refCfg)
		// the reference device runs without programs unless compiled ones are present
		if _, statErr := os.Stat(filepath.Join(cfg.ShaderDir, renderer.LightingShader)); statErr == nil {
			opts.Shaders = e.assetManager
		}
	}

	if e.renderer, err = renderer.New(ctx, e.device, mesh, opts); err != nil {
		// the renderer shuts the device down only once it exists
		if shutdownErr := e.device.Shutdown(); shutdownErr != nil {
			core.LogWarn("shutting down device after failed init: %s", shutdownErr)
		}
		e.device = nil
		return err
	}

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.bus.Register(core.EVENT_CODE_RESIZED, e.renderer, e.renderer.OnEvent)
	e.bus.Register(core.EVENT_CODE_ASSET_CHANGED, e.renderer, e.renderer.OnEvent)

	e.isRunning.Store(true)
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized: backend %s, %dx%d", cfg.RendererType(), cfg.Width, cfg.Height)
	return nil
}

func (e *Engine) loadMesh() (*metadata.MeshData, error) {
	if e.config.ModelPath == "" {
		mesh := &metadata.MeshData{}
		loaders.AppendCornellBox(mesh)
		return mesh, nil
	}
	return e.assetManager.LoadModel(e.config.ModelPath, loaders.ModelParams{AppendCornellBox: true})
}

/**
 * Runs the frame loop until the window closes, ctx is cancelled, a quit
 * event arrives or max_frames frames were presented. A booting swapchain
 * waits for the window to come back; every other error ends the loop.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrap(core.ErrNotInitialized, "engine run")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			core.LogInfo("context done, stopping")
			break
		}
		if e.platform != nil && !e.platform.PumpMessages() {
			break
		}
		if e.isSuspended.Load() {
			if e.platform != nil {
				e.platform.WaitWhileMinimized()
			}
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		e.camera.Update(e.input, delta)
		res, err := e.renderer.DrawFrame(ctx, currentTime, e.camera.GetView())
		if err != nil {
			if core.IsFatal(err) {
				e.isRunning.Store(false)
				e.currentStage = EngineStageInitialized
				return errors.Wrap(err, "frame loop")
			}
			core.LogDebug("frame skipped: %s", err)
			if e.platform != nil {
				e.platform.WaitWhileMinimized()
			}
		}
		if res.Status == renderer.FramePresented {
			e.presented++
			core.Logger().Debug("frame", "slot", res.Slot, "image", res.Image, "frame", e.presented)
		}

		e.input.Update()
		e.metrics.Update(delta)
		e.lastTime = currentTime

		if e.config.MaxFrames > 0 && e.presented >= e.config.MaxFrames {
			core.LogInfo("presented %d frames, stopping", e.presented)
			break
		}
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageInitialized
	core.LogInfo("frame loop done: %d frames, %.1f fps, %.2f ms", e.presented, e.metrics.FPS(), e.metrics.FrameTime())
	return nil
}

// Shutdown releases everything the engine owns. It may be called more than once.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	err := e.release()
	e.currentStage = EngineStageShutdown
	return err
}

func (e *Engine) release() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if e.renderer != nil {
		e.bus.Unregister(core.EVENT_CODE_RESIZED, e.renderer)
		e.bus.Unregister(core.EVENT_CODE_ASSET_CHANGED, e.renderer)
		keep(e.renderer.Shutdown())
		e.renderer = nil
	}
	e.bus.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.bus.Unregister(core.EVENT_CODE_KEY_PRESSED, e)
	e.bus.Unregister(core.EVENT_CODE_RESIZED, e)
	keep(e.assetManager.Close())
	if e.platform != nil {
		keep(e.platform.Shutdown())
	}
	return first
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Device() renderer.Device {
	return e.device
}

func (e *Engine) Camera() *components.Camera {
	return e.camera
}

func (e *Engine) Bus() *core.EventBus {
	return e.bus
}

// Presented returns the number of frames presented by Run.
func (e *Engine) Presented() uint64 {
	return e.presented
}

// LastFrame returns the last presented image when the device keeps one.
func (e *Engine) LastFrame() (*stdimage.RGBA, bool) {
	src, ok := e.device.(interface{ LastFrame() *stdimage.RGBA })
	if !ok {
		return nil, false
	}
	if err := e.device.WaitIdle(); err != nil {
		core.LogWarn("waiting for device before reading the last frame: %s", err)
	}
	img := src.LastFrame()
	return img, img != nil
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	key := core.KeyCode(data.U16[0])
	if key == core.KEY_ESCAPE {
		e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	}
	core.LogDebug("key %#x pressed", uint16(key))
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == 0 || height == 0 {
		if !e.isSuspended.Swap(true) {
			core.LogInfo("window minimized, suspending application")
		}
		return false
	}
	if e.isSuspended.Swap(false) {
		core.LogInfo("window restored, resuming application")
	}
	core.LogDebug("window resize: %d, %d", width, height)
	return false
}

func modelDir(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

func existingDirs(dirs ...string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			out = append(out, d)
		}
	}
	return out
}
