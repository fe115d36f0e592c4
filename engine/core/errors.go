package core

import (
	"github.com/pkg/errors"
)

var (
	ErrSwapchainBooting            = errors.New("swapchain resized or recreated, booting")
	ErrSurfaceOutOfDate            = errors.New("presentation surface is out of date")
	ErrDeviceLost                  = errors.New("device lost")
	ErrAllocationFailed            = errors.New("device allocation failed")
	ErrUnsupportedLayoutTransition = errors.New("unsupported layout transition")
	ErrMissingQueueFamily          = errors.New("missing queue family")
	ErrAssetLoad                   = errors.New("failed to load asset")
	ErrNotInitialized              = errors.New("not initialized")
	ErrInvalidFrameSlot            = errors.New("invalid frame slot")
	ErrValidation                  = errors.New("validation failed")
	ErrUnknown                     = errors.New("unknown")
)

// IsFatal reports whether err must abort the frame loop. Only a stale
// surface and a booting swapchain are recovered from.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch errors.Cause(err) {
	case ErrSurfaceOutOfDate, ErrSwapchainBooting:
		return false
	}
	return true
}
