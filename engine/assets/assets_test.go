package assets

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func writeSPIRV(t *testing.T, path string, extra uint32) {
	t.Helper()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, loaders.SPIRVMagic)
	binary.LittleEndian.PutUint32(buf[4:], extra)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetermineAssetType(t *testing.T) {
	tests := []struct {
		path string
		want metadata.ResourceType
	}{
		{"shaders/gbuffer.vert.spv", metadata.ResourceTypeShader},
		{"models/bunny.obj", metadata.ResourceTypeModel},
		{"shaders/gbuffer.vert", metadata.ResourceTypeNone},
		{"README", metadata.ResourceTypeNone},
	}
	for _, tt := range tests {
		if got := determineAssetType(tt.path); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestInitializeIndexesKnownFiles(t *testing.T) {
	dir := t.TempDir()
	writeSPIRV(t, filepath.Join(dir, "a.spv"), 1)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	am := NewAssetManager(core.NewEventBus())
	if err := am.Initialize(false, dir); err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	assets := am.Assets()
	if len(assets) != 1 || assets[0].Type != metadata.ResourceTypeShader {
		t.Fatalf("index %+v", assets)
	}
	code, err := am.LoadShader(filepath.Join(dir, "a.spv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 2 {
		t.Fatalf("code %v", code)
	}
}

func TestWatcherFiresAssetChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lighting.comp.spv")
	writeSPIRV(t, path, 1)

	bus := core.NewEventBus()
	changed := make(chan string, 8)
	bus.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		changed <- data.C[0]
		return true
	})

	am := NewAssetManager(bus)
	if err := am.Initialize(true, dir); err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	// make sure the modification time moves on coarse filesystems
	time.Sleep(20 * time.Millisecond)
	writeSPIRV(t, path, 2)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got != filepath.Clean(path) {
			t.Fatalf("changed %q, want %q", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	am := NewAssetManager(core.NewEventBus())
	if err := am.Initialize(true, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if err := am.Close(); err != nil {
		t.Fatal(err)
	}
	if err := am.Close(); err != nil {
		t.Fatal(err)
	}
}
