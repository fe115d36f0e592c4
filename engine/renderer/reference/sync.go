package reference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type scope struct {
	stage  metadata.PipelineStageFlags
	access metadata.AccessFlags
}

// hazard tracks the last write to a resource and the scopes it has been
// made visible to. Write-after-read is not tracked.
type hazard struct {
	written bool
	write   scope
	writer  *submission
	visible []scope
}

func (h *hazard) reset() {
	*h = hazard{}
}

// settle forgets a write whose submission the host saw complete before cur
// was submitted.
func (h *hazard) settle(cur *submission) {
	if h.written && h.writer != cur && h.writer.retiredTick != 0 && h.writer.retiredTick < cur.submitTick {
		h.reset()
	}
}

// ready reports whether an access in sc may happen without a race against
// the last write.
func (h *hazard) ready(sc scope) bool {
	if !h.written {
		return true
	}
	for _, v := range h.visible {
		if v.stage.Intersects(sc.stage) && v.access.Covers(sc.access) {
			return true
		}
	}
	return false
}

// covered reports whether a barrier with source scope src orders the last
// write, either directly or by chaining onto an earlier barrier.
func (h *hazard) covered(src scope) bool {
	if !h.written {
		return true
	}
	if h.write.stage.Intersects(src.stage) && src.access.Covers(h.write.access) {
		return true
	}
	for _, v := range h.visible {
		if v.stage.Intersects(src.stage) {
			return true
		}
	}
	return false
}

func (h *hazard) barrier(src, dst scope) {
	if h.covered(src) {
		h.visible = append(h.visible, dst)
	}
}

func (h *hazard) record(cur *submission, sc scope) {
	h.written = true
	h.write = sc
	h.writer = cur
	h.visible = nil
}

// transition performs a layout transition: it must be ordered after the
// last write, and it becomes the last write itself, visible to dst.
func (h *hazard) transition(cur *submission, src, dst scope) bool {
	ok := h.covered(src)
	h.written = true
	h.write = scope{stage: dst.stage}
	h.writer = cur
	h.visible = []scope{dst}
	return ok
}

type fence struct {
	h        metadata.FenceHandle
	signaled bool
	pending  *submission
}

type semaphore struct {
	h        metadata.SemaphoreHandle
	signaled bool
	// image is the swapchain image an acquire signaled the semaphore for.
	image *image
}

func (d *Device) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &fence{h: metadata.FenceHandle(d.handle()), signaled: signaled}
	d.fences[f.h] = f
	return f.h, nil
}

func (d *Device) DestroyFence(h metadata.FenceHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		d.violate(ViolationLifetime, "destroying unknown fence %d", h)
		return
	}
	if f.pending != nil && f.pending.retiredTick == 0 {
		d.violate(ViolationLifetime, "fence %d destroyed while submission %d is pending", h, f.pending.seq)
	}
	delete(d.fences, h)
}

// WaitForFence runs queued work up to the fence's submission. A fence with
// no pending signal would block forever, so it fails after timeout right
// away.
func (d *Device) WaitForFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	f, ok := d.fences[h]
	if !ok {
		return errors.Errorf("wait on unknown fence %d", h)
	}
	if !f.signaled && f.pending != nil {
		d.executeThrough(f.pending)
	}
	if !f.signaled {
		return errors.Errorf("fence %d wait timed out after %s: nothing will signal it", h, timeout)
	}
	if f.pending != nil {
		d.retireThrough(f.pending)
	}
	return d.takePendingErr()
}

func (d *Device) ResetFence(h metadata.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return errors.Errorf("reset of unknown fence %d", h)
	}
	if f.pending != nil && !f.signaled {
		if err := d.violate(ViolationFence, "fence %d reset while submission %d is pending", h, f.pending.seq); err != nil {
			return err
		}
	}
	f.signaled = false
	f.pending = nil
	return nil
}

// FenceStatus reports whether the fence is signaled. Queued work is run
// first, the device being infinitely fast.
func (d *Device) FenceStatus(h metadata.FenceHandle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return false, core.ErrDeviceLost
	}
	f, ok := d.fences[h]
	if !ok {
		return false, errors.Errorf("status of unknown fence %d", h)
	}
	if !f.signaled && f.pending != nil {
		d.executeThrough(f.pending)
	}
	if f.signaled && f.pending != nil {
		d.retireThrough(f.pending)
	}
	return f.signaled, d.takePendingErr()
}

func (d *Device) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &semaphore{h: metadata.SemaphoreHandle(d.handle())}
	d.semaphores[s.h] = s
	return s.h, nil
}

func (d *Device) DestroySemaphore(h metadata.SemaphoreHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.semaphores[h]; !ok {
		d.violate(ViolationLifetime, "destroying unknown semaphore %d", h)
		return
	}
	delete(d.semaphores, h)
}

// signal sets a semaphore, flagging a second signal without a wait.
func (d *Device) signal(h metadata.SemaphoreHandle) (*semaphore, error) {
	s, ok := d.semaphores[h]
	if !ok {
		return nil, errors.Errorf("signal of unknown semaphore %d", h)
	}
	if s.signaled {
		if err := d.violate(ViolationSemaphore, "semaphore %d signaled twice without a wait", h); err != nil {
			return nil, err
		}
	}
	s.signaled = true
	return s, nil
}

// consume waits on a semaphore, flagging a wait nothing will satisfy.
func (d *Device) consume(h metadata.SemaphoreHandle) (*semaphore, error) {
	s, ok := d.semaphores[h]
	if !ok {
		return nil, errors.Errorf("wait on unknown semaphore %d", h)
	}
	if !s.signaled {
		if err := d.violate(ViolationSemaphore, "wait on semaphore %d that is not signaled", h); err != nil {
			return nil, err
		}
	}
	s.signaled = false
	return s, nil
}

func (d *Device) takePendingErr() error {
	err := d.pendingErr
	d.pendingErr = nil
	return err
}
