package renderer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * Allocates a command buffer, records it with record, submits it with a
 * fresh fence and blocks until the device has executed it. The command
 * buffer and fence are released on every path.
 */
func SubmitOnce(ctx context.Context, device Device, timeout time.Duration, record func(cb CommandBuffer)) error {
	cb, err := device.AllocateCommandBuffer()
	if err != nil {
		err = errors.Wrap(err, "allocating single use command buffer")
		core.LogError(err.Error())
		return err
	}
	defer device.FreeCommandBuffer(cb)

	fence, err := device.CreateFence(false)
	if err != nil {
		err = errors.Wrap(err, "creating single use fence")
		core.LogError(err.Error())
		return err
	}
	defer device.DestroyFence(fence)

	if err := cb.Begin(true); err != nil {
		return errors.Wrap(err, "beginning single use command buffer")
	}
	record(cb)
	if err := cb.End(); err != nil {
		err = errors.Wrap(err, "recording single use command buffer")
		core.LogError(err.Error())
		return err
	}
	if err := device.Submit(metadata.SubmitInfo{
		CommandBuffers: []CommandBuffer{cb},
		Fence:          fence,
	}); err != nil {
		err = errors.Wrap(err, "submitting single use command buffer")
		core.LogError(err.Error())
		return err
	}
	if err := device.WaitForFence(ctx, fence, timeout); err != nil {
		err = errors.Wrap(err, "waiting for single use command buffer")
		core.LogError(err.Error())
		return err
	}
	return nil
}
