package reference

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type wait struct {
	sem   *semaphore
	stage metadata.PipelineStageFlags
	image *image
}

type submission struct {
	seq     uint64
	cmds    [][]command
	waits   []wait
	signals []metadata.SemaphoreHandle
	fence   *fence
	touches map[resKey]bool

	submitTick  uint64
	retiredTick uint64
	executed    bool
}

type presentOp struct {
	image *image
	index uint32
}

// queued is either a submission or a present, in queue order.
type queued struct {
	sub     *submission
	present *presentOp
}

func (d *Device) Submit(info metadata.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	if len(info.WaitSemaphores) != len(info.WaitStages) {
		return errors.Errorf("%d wait semaphores with %d wait stages", len(info.WaitSemaphores), len(info.WaitStages))
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	sub := &submission{touches: make(map[resKey]bool)}
	for _, c := range info.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok || !d.commands[cb] {
			return errors.New("submit of a command buffer this device did not allocate")
		}
		if cb.state != cbExecutable {
			keep(d.violate(ViolationCommandBuffer, "command buffer submitted while not executable"))
			continue
		}
		if cb.pending() {
			keep(d.violate(ViolationCommandBuffer, "command buffer resubmitted while submission %d is pending", cb.last.seq))
		}
		sub.cmds = append(sub.cmds, cb.cmds)
		for _, cmd := range cb.cmds {
			for _, t := range cmd.touches {
				d.addTouch(sub, t)
			}
		}
	}

	var f *fence
	if info.Fence != metadata.InvalidHandle {
		var ok bool
		if f, ok = d.fences[info.Fence]; !ok {
			return errors.Errorf("submit with unknown fence %d", info.Fence)
		}
		if f.signaled {
			keep(d.violate(ViolationFence, "fence %d submitted while signaled", f.h))
		} else if f.pending != nil {
			keep(d.violate(ViolationFence, "fence %d submitted while submission %d is pending", f.h, f.pending.seq))
		}
	}

	for i, h := range info.WaitSemaphores {
		s, err := d.consume(h)
		if s == nil {
			return err
		}
		keep(err)
		sub.waits = append(sub.waits, wait{sem: s, stage: info.WaitStages[i], image: s.image})
		s.image = nil
	}
	for _, h := range info.SignalSemaphores {
		s, err := d.signal(h)
		if s == nil {
			return err
		}
		keep(err)
		sub.signals = append(sub.signals, h)
	}

	for _, other := range d.inflight {
		for k, w := range sub.touches {
			ow, ok := other.touches[k]
			if !ok || !(w || ow) || d.isSwapImage(k) {
				continue
			}
			keep(d.violate(ViolationCrossSubmission, "%s %d is used by the new submission and by pending submission %d with a write on one side", kindName(k.kind), k.h, other.seq))
		}
	}

	d.seq++
	d.tick++
	sub.seq = d.seq
	sub.submitTick = d.tick
	sub.fence = f
	if f != nil {
		f.pending = sub
	}
	for _, c := range info.CommandBuffers {
		if cb, ok := c.(*CommandBuffer); ok && cb.state == cbExecutable {
			cb.last = sub
		}
	}
	d.queue = append(d.queue, queued{sub: sub})
	d.inflight = append(d.inflight, sub)
	d.stats.Submits++

	for len(d.queue) > d.cfg.MaxPending {
		d.executeNext()
	}
	keep(d.takePendingErr())
	return firstErr
}

func kindName(k resKind) string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindImage:
		return "image"
	case kindStructure:
		return "acceleration structure"
	case kindGroup:
		return "bind group"
	case kindPipeline:
		return "pipeline"
	}
	return "resource"
}

// addTouch records a resource use, expanding bind groups into the
// resources they reference.
func (d *Device) addTouch(sub *submission, t touch) {
	sub.touches[t.key] = sub.touches[t.key] || t.write
	if t.key.kind != kindGroup {
		return
	}
	g, ok := d.groups[metadata.BindGroupHandle(t.key.h)]
	if !ok {
		return
	}
	for _, b := range g.bindings {
		switch b.Type {
		case metadata.DescriptorUniformBuffer, metadata.DescriptorStorageBuffer:
			d.addTouch(sub, touch{resKey{kindBuffer, uint64(b.Buffer)}, false})
		case metadata.DescriptorSampledImage:
			d.addTouch(sub, touch{resKey{kindImage, uint64(b.Image)}, false})
		case metadata.DescriptorStorageImage:
			d.addTouch(sub, touch{resKey{kindImage, uint64(b.Image)}, true})
		case metadata.DescriptorAccelerationStructure:
			d.addTouch(sub, touch{resKey{kindStructure, uint64(b.AccelerationStructure)}, false})
		}
	}
}

func (d *Device) isSwapImage(k resKey) bool {
	if k.kind != kindImage {
		return false
	}
	img, ok := d.images[metadata.ImageHandle(k.h)]
	return ok && img.swap
}

// pendingUser returns a submission the host has not seen complete that
// uses k, or nil.
func (d *Device) pendingUser(k resKey) *submission {
	for _, s := range d.inflight {
		if _, ok := s.touches[k]; ok {
			return s
		}
	}
	return nil
}

func (d *Device) executeNext() {
	q := d.queue[0]
	d.queue = d.queue[1:]
	if q.present != nil {
		d.executePresent(q.present)
		return
	}
	d.execute(q.sub)
}

// executeThrough runs the queue up to and including sub.
func (d *Device) executeThrough(sub *submission) {
	for !sub.executed && len(d.queue) > 0 {
		d.executeNext()
	}
}

func (d *Device) execute(sub *submission) {
	for _, w := range sub.waits {
		if w.image == nil {
			continue
		}
		// the image is handed over by the presentation engine; only the
		// wait stage orders it
		w.image.sync = hazard{written: true, write: scope{stage: w.stage}, writer: sub}
	}
	x := &executor{d: d, sub: sub}
	for _, cmds := range sub.cmds {
		for _, c := range cmds {
			c.run(x)
		}
		x.pass = nil
	}
	sub.executed = true
	if sub.fence != nil {
		sub.fence.signaled = true
	}
	d.stats.Executed++
}

// retireThrough marks sub and every earlier submission as observed complete.
func (d *Device) retireThrough(sub *submission) {
	d.tick++
	n := 0
	for _, s := range d.inflight {
		if s.seq > sub.seq {
			break
		}
		s.retiredTick = d.tick
		n++
	}
	d.inflight = d.inflight[n:]
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	for len(d.queue) > 0 {
		d.executeNext()
	}
	if n := len(d.inflight); n > 0 {
		d.retireThrough(d.inflight[n-1])
	}
	return d.takePendingErr()
}
