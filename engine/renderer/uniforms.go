package renderer

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	fieldOfView = 45
	nearClip    = 0.1
	farClip     = 10
)

// CameraMatrices returns the uniform block for a view seen through the
// default lens at the given aspect ratio.
func CameraMatrices(view math.Mat4, extent metadata.Extent2D) metadata.UniformBufferObject {
	aspect := float32(1)
	if extent.Height > 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	return metadata.UniformBufferObject{
		Model: math.NewMat4Identity(),
		View:  view,
		Proj:  math.NewMat4Perspective(math.DegToRad(fieldOfView), aspect, nearClip, farClip, true),
	}
}

// DefaultView looks at the origin from (2, 2, 2) with +Z up.
func DefaultView() math.Mat4 {
	return math.NewMat4LookAt(math.NewVec3(2, 2, 2), math.NewVec3Zero(), math.NewVec3Up())
}

// CameraUniforms holds one uniform buffer and raster bind group per frame
// slot. A slot's buffer is only written after that slot's fence was waited on.
type CameraUniforms struct {
	pool    *ResourcePool
	buffers []*Buffer
	groups  []*BindGroup
}

func NewCameraUniforms(pool *ResourcePool, pipeline *Pipeline, slots int) (*CameraUniforms, error) {
	u := &CameraUniforms{pool: pool}
	for i := 0; i < slots; i++ {
		b, err := pool.AllocateBuffer(fmt.Sprintf("camera.%d", i), metadata.BufferDesc{
			Size:   metadata.UniformBufferObjectSize,
			Usage:  metadata.BufferUsageUniform,
			Memory: metadata.MemoryHostVisible,
		})
		if err != nil {
			u.Destroy()
			return nil, err
		}
		u.buffers = append(u.buffers, b)
	}
	if err := u.Bind(pipeline, false); err != nil {
		u.Destroy()
		return nil, err
	}
	return u, nil
}

func (u *CameraUniforms) bindings(slot int) []metadata.Binding {
	return []metadata.Binding{{
		Binding: 0,
		Type:    metadata.DescriptorUniformBuffer,
		Buffer:  u.buffers[slot].Handle,
		Range:   metadata.UniformBufferObjectSize,
	}}
}

// Bind creates the bind groups for pipeline. With retire set the previous
// groups are retired instead of freed.
func (u *CameraUniforms) Bind(pipeline *Pipeline, retire bool) error {
	groups := make([]*BindGroup, 0, len(u.buffers))
	for i := range u.buffers {
		g, err := u.pool.CreateBindGroup(fmt.Sprintf("camera.%d.group", i), pipeline, u.bindings(i))
		if err != nil {
			for _, made := range groups {
				u.pool.Free(made.ID)
			}
			return err
		}
		groups = append(groups, g)
	}
	for _, old := range u.groups {
		if retire {
			if err := u.pool.Retire(old.ID); err != nil {
				core.LogWarn("retiring camera group %s: %s", old.ID, err)
			}
		} else {
			u.pool.Free(old.ID)
		}
	}
	u.groups = groups
	return nil
}

func (u *CameraUniforms) Write(slot int, ubo metadata.UniformBufferObject) error {
	if slot < 0 || slot >= len(u.buffers) {
		return errors.Wrapf(core.ErrInvalidFrameSlot, "camera slot %d", slot)
	}
	return u.pool.Upload(u.buffers[slot], 0, ubo.Bytes())
}

func (u *CameraUniforms) Group(slot int) *BindGroup {
	return u.groups[slot]
}

func (u *CameraUniforms) Destroy() {
	for _, g := range u.groups {
		u.pool.Free(g.ID)
	}
	for _, b := range u.buffers {
		u.pool.Free(b.ID)
	}
	u.groups, u.buffers = nil, nil
}
