/*
Lumen renders an animated scene with a rasterized G-buffer and a compute
lighting pass that queries per-frame top-level acceleration structures.
*/
package main

import (
	"context"
	"flag"
	"image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
)

func main() {
	configPath := flag.String("config", "lumen.toml", "path of the TOML configuration")
	frames := flag.Uint64("frames", 0, "stop after this many presented frames (overrides max_frames)")
	backend := flag.String("backend", "", "vulkan or reference (overrides backend)")
	dump := flag.String("dump", "", "write the last presented frame to this PNG (reference backend)")
	flag.Parse()

	if err := run(*configPath, *frames, *backend, *dump); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}

func run(configPath string, frames uint64, backend, dump string) error {
	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if frames > 0 {
		cfg.MaxFrames = frames
	}
	if backend != "" {
		cfg.Backend = backend
	}

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	defer e.Shutdown()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	// stop the frame loop on the first signal
	go func() {
		select {
		case sig := <-sigCh:
			core.LogInfo("received %s, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := e.Run(ctx); err != nil {
		return err
	}
	if dump != "" {
		if err := dumpFrame(e, dump); err != nil {
			return err
		}
	}
	return e.Shutdown()
}

func dumpFrame(e *engine.Engine, path string) error {
	img, ok := e.LastFrame()
	if !ok {
		return errors.Errorf("no presented frame to write to %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	core.LogInfo("wrote %s", path)
	return f.Close()
}
