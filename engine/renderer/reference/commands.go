package reference

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// maxUpdateSize is the largest inline buffer update a command may carry.
const maxUpdateSize = 65536

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type touch struct {
	key   resKey
	write bool
}

type command struct {
	name    string
	touches []touch
	run     func(x *executor)
}

type vertexBinding struct {
	buffer metadata.BufferHandle
	offset uint64
}

// drawState is the binding state a draw or dispatch captures when recorded.
type drawState struct {
	pipeline metadata.PipelineHandle
	group    metadata.BindGroupHandle
	vertex   vertexBinding
	index    vertexBinding
	viewport metadata.Viewport
	scissor  metadata.Rect2D
	push     []byte
}

// CommandBuffer records commands for later execution by the device.
type CommandBuffer struct {
	dev     *Device
	state   cbState
	oneTime bool
	cmds    []command
	err     error
	last    *submission

	rendering bool
	graphics  drawState
	compute   drawState
}

func (d *Device) AllocateCommandBuffer() (metadata.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, core.ErrDeviceLost
	}
	cb := &CommandBuffer{dev: d}
	d.commands[cb] = true
	return cb, nil
}

func (d *Device) FreeCommandBuffer(c metadata.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := c.(*CommandBuffer)
	if !ok || !d.commands[cb] {
		d.violate(ViolationLifetime, "freeing a command buffer this device did not allocate")
		return
	}
	if cb.pending() {
		d.violate(ViolationCommandBuffer, "command buffer freed while submission %d is pending", cb.last.seq)
	}
	delete(d.commands, cb)
}

func (cb *CommandBuffer) pending() bool {
	return cb.last != nil && cb.last.retiredTick == 0
}

func (cb *CommandBuffer) Begin(oneTimeSubmit bool) error {
	if err := cb.Reset(); err != nil {
		return err
	}
	cb.state = cbRecording
	cb.oneTime = oneTimeSubmit
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.state != cbRecording {
		return errors.New("end of a command buffer that is not recording")
	}
	if cb.rendering && cb.err == nil {
		cb.err = errors.New("command buffer ended inside a rendering pass")
	}
	cb.state = cbExecutable
	return cb.err
}

func (cb *CommandBuffer) Reset() error {
	cb.dev.mu.Lock()
	defer cb.dev.mu.Unlock()
	if cb.pending() {
		if err := cb.dev.violate(ViolationCommandBuffer, "command buffer reset while submission %d is pending", cb.last.seq); err != nil {
			return err
		}
	}
	cb.state = cbInitial
	cb.cmds = nil
	cb.err = nil
	cb.rendering = false
	cb.graphics = drawState{}
	cb.compute = drawState{}
	return nil
}

func (cb *CommandBuffer) fail(format string, args ...interface{}) {
	if cb.err == nil {
		cb.err = errors.Errorf(format, args...)
	}
}

func (cb *CommandBuffer) add(c command) {
	if cb.state != cbRecording {
		cb.fail("%s recorded outside Begin/End", c.name)
		return
	}
	cb.cmds = append(cb.cmds, c)
}

func (cb *CommandBuffer) PipelineBarrier(dep metadata.Dependency) {
	dep = metadata.Dependency{
		MemoryBarriers: append([]metadata.MemoryBarrier(nil), dep.MemoryBarriers...),
		BufferBarriers: append([]metadata.BufferBarrier(nil), dep.BufferBarriers...),
		ImageBarriers:  append([]metadata.ImageBarrier(nil), dep.ImageBarriers...),
	}
	if cb.rendering {
		cb.fail("pipeline barrier inside a rendering pass")
	}
	var touches []touch
	for _, b := range dep.ImageBarriers {
		if b.OldLayout != b.NewLayout {
			touches = append(touches, touch{resKey{kindImage, uint64(b.Image)}, true})
		}
	}
	cb.add(command{name: "PipelineBarrier", touches: touches, run: func(x *executor) { x.pipelineBarrier(dep) }})
}

func (cb *CommandBuffer) UpdateBuffer(dst metadata.BufferHandle, offset uint64, data []byte) {
	if len(data) == 0 || len(data) > maxUpdateSize || len(data)%4 != 0 || offset%4 != 0 {
		cb.fail("UpdateBuffer of %d bytes at %d: size must be a multiple of 4 up to %d", len(data), offset, maxUpdateSize)
		return
	}
	data = append([]byte(nil), data...)
	cb.add(command{
		name:    "UpdateBuffer",
		touches: []touch{{resKey{kindBuffer, uint64(dst)}, true}},
		run:     func(x *executor) { x.updateBuffer(dst, offset, data) },
	})
}

func (cb *CommandBuffer) CopyBuffer(src, dst metadata.BufferHandle, regions ...metadata.BufferCopy) {
	regions = append([]metadata.BufferCopy(nil), regions...)
	cb.add(command{
		name: "CopyBuffer",
		touches: []touch{
			{resKey{kindBuffer, uint64(src)}, false},
			{resKey{kindBuffer, uint64(dst)}, true},
		},
		run: func(x *executor) { x.copyBuffer(src, dst, regions) },
	})
}

func (cb *CommandBuffer) BuildAccelerationStructure(info metadata.AccelerationStructureBuildInfo) {
	if info.Triangles != nil {
		t := *info.Triangles
		info.Triangles = &t
	}
	if info.Instances != nil {
		in := *info.Instances
		info.Instances = &in
	}
	if cb.rendering {
		cb.fail("acceleration structure build inside a rendering pass")
	}
	touches := []touch{
		{resKey{kindStructure, uint64(info.Dst)}, true},
		{resKey{kindBuffer, info.ScratchAddress >> addressShift}, true},
	}
	if info.Mode == metadata.BuildModeUpdate && info.Src != info.Dst {
		touches = append(touches, touch{resKey{kindStructure, uint64(info.Src)}, false})
	}
	if info.Triangles != nil {
		touches = append(touches,
			touch{resKey{kindBuffer, info.Triangles.VertexAddress >> addressShift}, false},
			touch{resKey{kindBuffer, info.Triangles.IndexAddress >> addressShift}, false})
	}
	if info.Instances != nil {
		touches = append(touches, touch{resKey{kindBuffer, info.Instances.DataAddress >> addressShift}, false})
	}
	cb.add(command{name: "BuildAccelerationStructure", touches: touches, run: func(x *executor) { x.build(info) }})
}

func (cb *CommandBuffer) BeginRendering(info metadata.RenderingInfo) {
	if cb.rendering {
		cb.fail("nested rendering pass")
		return
	}
	info.Colors = append([]metadata.ColorAttachment(nil), info.Colors...)
	if info.Depth != nil {
		dp := *info.Depth
		info.Depth = &dp
	}
	var touches []touch
	for _, c := range info.Colors {
		touches = append(touches, touch{resKey{kindImage, uint64(c.Image)}, true})
	}
	if info.Depth != nil {
		touches = append(touches, touch{resKey{kindImage, uint64(info.Depth.Image)}, true})
	}
	cb.rendering = true
	cb.add(command{name: "BeginRendering", touches: touches, run: func(x *executor) { x.beginRendering(info) }})
}

func (cb *CommandBuffer) EndRendering() {
	if !cb.rendering {
		cb.fail("EndRendering without BeginRendering")
		return
	}
	cb.rendering = false
	cb.add(command{name: "EndRendering", run: func(x *executor) { x.pass = nil }})
}

func (cb *CommandBuffer) BindPipeline(p metadata.PipelineHandle) {
	cb.dev.mu.Lock()
	pl, ok := cb.dev.pipelines[p]
	cb.dev.mu.Unlock()
	if !ok {
		cb.fail("bind of unknown pipeline %d", p)
		return
	}
	if pl.graphics {
		cb.graphics.pipeline = p
		cb.graphics.group = 0
	} else {
		cb.compute.pipeline = p
		cb.compute.group = 0
	}
	cb.add(command{name: "BindPipeline", touches: []touch{{resKey{kindPipeline, uint64(p)}, false}}, run: func(*executor) {}})
}

func (cb *CommandBuffer) BindGroup(p metadata.PipelineHandle, g metadata.BindGroupHandle) {
	switch p {
	case cb.graphics.pipeline:
		cb.graphics.group = g
	case cb.compute.pipeline:
		cb.compute.group = g
	default:
		cb.fail("bind group %d for pipeline %d that is not bound", g, p)
		return
	}
	cb.add(command{name: "BindGroup", touches: []touch{{resKey{kindGroup, uint64(g)}, false}}, run: func(*executor) {}})
}

func (cb *CommandBuffer) BindVertexBuffer(b metadata.BufferHandle, offset uint64) {
	cb.graphics.vertex = vertexBinding{b, offset}
	cb.add(command{name: "BindVertexBuffer", touches: []touch{{resKey{kindBuffer, uint64(b)}, false}}, run: func(*executor) {}})
}

func (cb *CommandBuffer) BindIndexBuffer(b metadata.BufferHandle, offset uint64, t metadata.IndexType) {
	if t != metadata.IndexTypeUint32 {
		cb.fail("unsupported index type %d", t)
	}
	cb.graphics.index = vertexBinding{b, offset}
	cb.add(command{name: "BindIndexBuffer", touches: []touch{{resKey{kindBuffer, uint64(b)}, false}}, run: func(*executor) {}})
}

func (cb *CommandBuffer) SetViewport(v metadata.Viewport) {
	cb.graphics.viewport = v
	cb.add(command{name: "SetViewport", run: func(*executor) {}})
}

func (cb *CommandBuffer) SetScissor(r metadata.Rect2D) {
	cb.graphics.scissor = r
	cb.add(command{name: "SetScissor", run: func(*executor) {}})
}

func (cb *CommandBuffer) PushConstants(p metadata.PipelineHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	var st *drawState
	switch p {
	case cb.graphics.pipeline:
		st = &cb.graphics
	case cb.compute.pipeline:
		st = &cb.compute
	default:
		cb.fail("push constants for pipeline %d that is not bound", p)
		return
	}
	if need := int(offset) + len(data); need > len(st.push) {
		st.push = append(st.push, make([]byte, need-len(st.push))...)
	}
	// copy on write so earlier draws keep their values
	push := append([]byte(nil), st.push...)
	copy(push[offset:], data)
	st.push = push
	cb.add(command{name: "PushConstants", run: func(*executor) {}})
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	st := cb.graphics
	switch {
	case !cb.rendering:
		cb.fail("DrawIndexed outside a rendering pass")
		return
	case st.pipeline == 0 || st.group == 0:
		cb.fail("DrawIndexed without a bound graphics pipeline and bind group")
		return
	case st.vertex.buffer == 0 || st.index.buffer == 0:
		cb.fail("DrawIndexed without vertex and index buffers")
		return
	}
	cb.add(command{name: "DrawIndexed", run: func(x *executor) {
		x.drawIndexed(st, indexCount, instanceCount, firstIndex, vertexOffset)
	}})
}

func (cb *CommandBuffer) Dispatch(gx, gy, gz uint32) {
	st := cb.compute
	switch {
	case cb.rendering:
		cb.fail("Dispatch inside a rendering pass")
		return
	case st.pipeline == 0 || st.group == 0:
		cb.fail("Dispatch without a bound compute pipeline and bind group")
		return
	}
	cb.add(command{name: "Dispatch", run: func(x *executor) { x.dispatch(st, gx, gy, gz) }})
}

func (cb *CommandBuffer) BlitImage(info metadata.BlitInfo) {
	if cb.rendering {
		cb.fail("BlitImage inside a rendering pass")
	}
	cb.add(command{
		name: "BlitImage",
		touches: []touch{
			{resKey{kindImage, uint64(info.Src)}, false},
			{resKey{kindImage, uint64(info.Dst)}, true},
		},
		run: func(x *executor) { x.blit(info) },
	})
}
