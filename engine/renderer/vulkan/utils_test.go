package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
)

func TestResultErrorCause(t *testing.T) {
	tests := []struct {
		name   string
		result vk.Result
		want   error
	}{
		{"success", vk.Success, nil},
		{"suboptimal is not an error", vk.Suboptimal, nil},
		{"device lost", vk.ErrorDeviceLost, core.ErrDeviceLost},
		{"out of device memory", vk.ErrorOutOfDeviceMemory, core.ErrAllocationFailed},
		{"pool exhausted", vk.ErrorOutOfPoolMemory, core.ErrAllocationFailed},
		{"out of date", vk.ErrorOutOfDate, core.ErrSurfaceOutOfDate},
		{"other", vk.ErrorFeatureNotPresent, core.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resultError(tt.result, "doing %s", "work")
			if tt.want == nil {
				if err != nil {
					t.Fatalf("got %v", err)
				}
				return
			}
			if errors.Cause(err) != tt.want {
				t.Fatalf("cause %v, want %v", errors.Cause(err), tt.want)
			}
		})
	}
}

func TestFatalityFollowsCause(t *testing.T) {
	if core.IsFatal(resultError(vk.ErrorOutOfDate, "present")) {
		t.Error("out of date surface should be recoverable")
	}
	if !core.IsFatal(resultError(vk.ErrorDeviceLost, "submit")) {
		t.Error("device loss should be fatal")
	}
}

func TestStrings(t *testing.T) {
	if got := VulkanSafeString(""); got != "\x00" {
		t.Errorf("empty: %q", got)
	}
	if got := VulkanSafeString("main\x00"); got != "main\x00" {
		t.Errorf("terminated twice: %q", got)
	}
	if got := fixedString([]byte("VK_LAYER\x00junk")); got != "VK_LAYER" {
		t.Errorf("fixed: %q", got)
	}
	if got := fixedString([]byte("full")); got != "full" {
		t.Errorf("unterminated: %q", got)
	}
}

func TestClampU32(t *testing.T) {
	tests := []struct{ v, lo, hi, want uint32 }{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{20, 1, 10, 10},
		// a zero maximum means unbounded
		{20, 1, 0, 20},
	}
	for _, tt := range tests {
		if got := clampU32(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clampU32(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
