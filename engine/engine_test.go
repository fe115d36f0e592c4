package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/reference"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func headlessConfig(t *testing.T, frames uint64) *ApplicationConfig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = renderer.Reference.String()
	cfg.Width, cfg.Height = 32, 24
	cfg.LightCount = 4
	cfg.LightSeed = 3
	cfg.Validation = true
	cfg.MaxFrames = frames
	cfg.ShaderDir = t.TempDir()
	return cfg
}

func startEngine(t *testing.T, cfg *ApplicationConfig) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func TestHeadlessRunStopsAfterMaxFrames(t *testing.T) {
	e := startEngine(t, headlessConfig(t, 5))
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Presented() != 5 {
		t.Fatalf("presented %d frames", e.Presented())
	}
	img, ok := e.LastFrame()
	if !ok || img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Fatalf("last frame = %v, %v", img, ok)
	}

	dev := e.Device().(*reference.Device)
	if v := dev.Violations(); len(v) > 0 {
		t.Fatalf("device reported %v", v)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if dev.Live() != 0 {
		t.Fatalf("%d device objects alive after shutdown", dev.Live())
	}
	if e.Stage() != EngineStageShutdown {
		t.Fatalf("stage = %d", e.Stage())
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestRunStopsOnQuitAndCancel(t *testing.T) {
	e := startEngine(t, headlessConfig(t, 0))
	e.Bus().Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Presented() != 0 {
		t.Fatalf("presented %d frames after quit", e.Presented())
	}

	e = startEngine(t, headlessConfig(t, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if e.Presented() != 0 {
		t.Fatalf("presented %d frames after cancel", e.Presented())
	}
}

func TestEscapeQuits(t *testing.T) {
	e := startEngine(t, headlessConfig(t, 0))
	ctx := core.EventContext{}
	ctx.U16[0] = uint16(core.KEY_ESCAPE)
	e.Bus().Fire(core.EVENT_CODE_KEY_PRESSED, nil, ctx)
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Presented() != 0 {
		t.Fatalf("presented %d frames after escape", e.Presented())
	}
}

func TestRunBeforeInitialize(t *testing.T) {
	e, err := New(headlessConfig(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); errors.Cause(err) != core.ErrNotInitialized {
		t.Fatalf("Run = %v", err)
	}
}

func TestHeadlessRunWithModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tri.obj")
	obj := "v -0.2 0 0\nv 0.2 0 0\nv 0 0 0.3\no tri\nf 1 2 3\n"
	if err := os.WriteFile(path, []byte(obj), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := headlessConfig(t, 3)
	cfg.ModelPath = path
	e := startEngine(t, cfg)
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the triangle and the room
	if n := e.Renderer().TopLevel().Count(); n != 2 {
		t.Fatalf("%d instances", n)
	}
	if e.Presented() != 3 {
		t.Fatalf("presented %d frames", e.Presented())
	}
}

func TestResizeSuspendsAndResumes(t *testing.T) {
	e := startEngine(t, headlessConfig(t, 1))
	e.Bus().Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{})
	if !e.isSuspended.Load() {
		t.Fatal("zero size did not suspend")
	}
	ctx := core.EventContext{}
	ctx.U32[0], ctx.U32[1] = 40, 30
	e.Bus().Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	if e.isSuspended.Load() {
		t.Fatal("resize did not resume")
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	img, _ := e.LastFrame()
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Fatalf("frame is %v", img.Bounds())
	}
}
