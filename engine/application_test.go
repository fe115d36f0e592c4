package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumen.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != *DefaultConfig() {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
name = "cornell"
frames_in_flight = 3
backend = "reference"
light_count = 16
light_seed = 9
max_frames = 10
watch_assets = true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "cornell" || cfg.FramesInFlight != 3 || cfg.LightCount != 16 || cfg.LightSeed != 9 || cfg.MaxFrames != 10 || !cfg.WatchAssets {
		t.Fatalf("config = %+v", cfg)
	}
	// untouched keys keep their defaults
	if cfg.Width != 800 || cfg.Height != 600 || cfg.ShaderDir != "assets/shaders" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.RendererType() != renderer.Reference {
		t.Fatalf("backend = %s", cfg.RendererType())
	}

	opts := cfg.RendererOptions()
	if opts.FramesInFlight != 3 || opts.LightCount != 16 || opts.LightSeed != 9 || opts.ShaderDir != cfg.ShaderDir {
		t.Fatalf("options = %+v", opts)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "colour = \"red\"\n"},
		{"no frames in flight", "frames_in_flight = 0\n"},
		{"too many frames in flight", "frames_in_flight = 9\n"},
		{"zero width", "width = 0\n"},
		{"negative lights", "light_count = -1\n"},
		{"unknown backend", "backend = \"metal\"\n"},
		{"unknown log level", "log_level = \"loud\"\n"},
		{"wrong type", "width = \"wide\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if errors.Cause(err) != core.ErrValidation {
				t.Fatalf("LoadConfig = %v", err)
			}
		})
	}
}
