package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestShaderModuleInfoSizeInBytes(t *testing.T) {
	code := []uint32{0x07230203, 0x00010000, 0, 5, 0}
	info := shaderModuleInfo(code)
	if info.SType != vk.StructureTypeShaderModuleCreateInfo {
		t.Fatalf("stype = %v", info.SType)
	}
	if want := uint64(len(code) * 4); info.CodeSize != want {
		t.Fatalf("code size = %d, want %d", info.CodeSize, want)
	}
	if len(info.PCode) != len(code) || info.PCode[0] != code[0] {
		t.Fatalf("code = %v", info.PCode)
	}
}
