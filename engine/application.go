package engine

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

const MaxFramesInFlight = 8

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting width and height.
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// Window starting position, if applicable.
	StartPosX uint32 `toml:"start_x"`
	StartPosY uint32 `toml:"start_y"`

	FramesInFlight int `toml:"frames_in_flight"`
	// Backend is "vulkan" or "reference".
	Backend string `toml:"backend"`
	// ModelPath is an OBJ file; empty renders the Cornell box alone.
	ModelPath  string `toml:"model_path"`
	ShaderDir  string `toml:"shader_dir"`
	LightCount int    `toml:"light_count"`
	// LightSeed 0 seeds the lights from the clock.
	LightSeed  uint64 `toml:"light_seed"`
	LogLevel   string `toml:"log_level"`
	Validation bool   `toml:"validation"`
	// MaxFrames stops the engine after that many presented frames; 0 runs
	// until the window closes.
	MaxFrames   uint64 `toml:"max_frames"`
	WatchAssets bool   `toml:"watch_assets"`
}

func DefaultConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:           "Lumen",
		Width:          800,
		Height:         600,
		StartPosX:      100,
		StartPosY:      100,
		FramesInFlight: renderer.DefaultFramesInFlight,
		Backend:        renderer.Vulkan.String(),
		ShaderDir:      "assets/shaders",
		LightCount:     100,
		LogLevel:       core.LogLevelInfo.String(),
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults; unknown keys are rejected.
func LoadConfig(path string) (*ApplicationConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogInfo("no config at %s, using defaults", path)
			return cfg, cfg.Validate()
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.Wrapf(core.ErrValidation, "config %s: %s", path, strict.String())
		}
		return nil, errors.Wrapf(core.ErrValidation, "config %s: %s", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *ApplicationConfig) Validate() error {
	if c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight {
		return errors.Wrapf(core.ErrValidation, "frames_in_flight %d outside 1..%d", c.FramesInFlight, MaxFramesInFlight)
	}
	if c.Width == 0 || c.Height == 0 {
		return errors.Wrapf(core.ErrValidation, "window size %dx%d", c.Width, c.Height)
	}
	if c.LightCount < 0 {
		return errors.Wrapf(core.ErrValidation, "light_count %d", c.LightCount)
	}
	if _, err := renderer.ParseRendererType(c.Backend); err != nil {
		return err
	}
	if _, err := core.ParseLogLevel(c.LogLevel); err != nil {
		return errors.Wrap(core.ErrValidation, err.Error())
	}
	return nil
}

func (c *ApplicationConfig) RendererType() renderer.RendererType {
	t, _ := renderer.ParseRendererType(c.Backend)
	return t
}

// RendererOptions maps the config onto the renderer's options.
func (c *ApplicationConfig) RendererOptions() renderer.Options {
	opts := renderer.DefaultOptions()
	opts.FramesInFlight = c.FramesInFlight
	opts.Width, opts.Height = c.Width, c.Height
	opts.LightCount = c.LightCount
	opts.LightSeed = c.LightSeed
	opts.ShaderDir = c.ShaderDir
	return opts
}
