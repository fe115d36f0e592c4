package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	topLevelFlags = metadata.BuildAllowUpdate | metadata.BuildPreferFastTrace
	instanceMask  = 0xFF
)

// MaxInstances is how many instances fit one inline buffer update.
const MaxInstances = 65536 / metadata.InstanceSize

// topLevelSlot is everything one frame slot needs to rebuild its top-level
// structure. Nothing in it is shared with another slot.
type topLevelSlot struct {
	instances *Buffer
	structure *AccelerationStructure
	scratch   *Buffer
}

// TopLevelIndex owns one top-level structure per frame slot over the
// instances of every bottom-level structure.
type TopLevelIndex struct {
	device  Device
	pool    *ResourcePool
	bottom  []*BottomLevel
	alpha   []bool
	slots   []*topLevelSlot
	timeout time.Duration
}

func NewTopLevelIndex(device Device, pool *ResourcePool, bottom []*BottomLevel, submeshes []metadata.Submesh, timeout time.Duration) *TopLevelIndex {
	alpha := make([]bool, len(bottom))
	for i, b := range bottom {
		alpha[i] = submeshes[b.Submesh].AlphaCut
	}
	return &TopLevelIndex{
		device:  device,
		pool:    pool,
		bottom:  bottom,
		alpha:   alpha,
		timeout: timeout,
	}
}

// Count is the number of instances, one per submesh.
func (t *TopLevelIndex) Count() int {
	return len(t.bottom)
}

// Instances builds the instance array for transforms. The custom index of
// every instance is its submesh index.
func (t *TopLevelIndex) Instances(transforms []math.Mat3x4) []metadata.Instance {
	out := make([]metadata.Instance, len(t.bottom))
	for i, b := range t.bottom {
		in := metadata.Instance{
			Transform:   transforms[i],
			CustomIndex: uint32(b.Submesh),
			Mask:        instanceMask,
			Reference:   b.Structure.Address,
		}
		if t.alpha[i] {
			in.Flags = metadata.InstanceTriangleCullDisable
		}
		out[i] = in
	}
	return out
}

func (t *TopLevelIndex) buildInfo(s *topLevelSlot, mode metadata.BuildMode) metadata.AccelerationStructureBuildInfo {
	info := metadata.AccelerationStructureBuildInfo{
		Type:           metadata.AccelerationStructureTopLevel,
		Flags:          topLevelFlags,
		Mode:           mode,
		Instances:      &metadata.InstancesGeometry{Flags: metadata.GeometryOpaque},
		PrimitiveCount: uint32(len(t.bottom)),
	}
	if s != nil {
		info.Dst = s.structure.Handle
		info.Instances.DataAddress = s.instances.Address
		info.ScratchAddress = s.scratch.Address
		if mode == metadata.BuildModeUpdate {
			info.Src = s.structure.Handle
		}
	}
	return info
}

func (t *TopLevelIndex) checkTransforms(transforms []math.Mat3x4) error {
	if len(transforms) != len(t.bottom) {
		return errors.Wrapf(core.ErrValidation, "%d transforms for %d instances", len(transforms), len(t.bottom))
	}
	return nil
}

func (t *TopLevelIndex) slot(i int) (*topLevelSlot, error) {
	if i < 0 || i >= len(t.slots) {
		return nil, errors.Wrapf(core.ErrInvalidFrameSlot, "slot %d of %d", i, len(t.slots))
	}
	return t.slots[i], nil
}

/**
 * Creates and builds the structure of every frame slot. Instance data goes
 * through a shared staging buffer; each slot's build is waited on before
 * the staging buffer is written again. Must run before any frame is
 * recorded.
 */
func (t *TopLevelIndex) Initialize(ctx context.Context, frameCount int, transforms []math.Mat3x4) error {
	if len(t.slots) > 0 {
		return errors.New("top-level index already initialized")
	}
	if frameCount < 1 {
		return errors.Wrapf(core.ErrInvalidFrameSlot, "%d frame slots", frameCount)
	}
	if err := t.checkTransforms(transforms); err != nil {
		core.LogError(err.Error())
		return err
	}
	size := uint64(len(t.bottom)) * metadata.InstanceSize
	if size == 0 {
		return errors.Wrap(core.ErrValidation, "top-level index without instances")
	}
	if len(t.bottom) > MaxInstances {
		return errors.Wrapf(core.ErrValidation, "%d instances, at most %d are refreshed per frame", len(t.bottom), MaxInstances)
	}
	sizes := t.device.AccelerationStructureBuildSizes(t.buildInfo(nil, metadata.BuildModeBuild))
	scratchSize := math.Max(sizes.BuildScratchSize, sizes.UpdateScratchSize)

	staging, err := t.pool.AllocateBuffer("tlas.staging", metadata.BufferDesc{
		Size:   size,
		Usage:  metadata.BufferUsageTransferSrc,
		Memory: metadata.MemoryHostVisible,
	})
	if err != nil {
		return err
	}
	defer t.pool.Free(staging.ID)
	data := metadata.EncodeInstances(t.Instances(transforms))

	for i := 0; i < frameCount; i++ {
		s, err := t.createSlot(i, size, sizes.StructureSize, scratchSize)
		if err != nil {
			t.Destroy()
			return err
		}
		t.slots = append(t.slots, s)

		if err := t.pool.Upload(staging, 0, data); err != nil {
			t.Destroy()
			return err
		}
		info := t.buildInfo(s, metadata.BuildModeBuild)
		err = SubmitOnce(ctx, t.device, t.timeout, func(cb CommandBuffer) {
			cb.CopyBuffer(staging.Handle, s.instances.Handle, metadata.BufferCopy{Size: size})
			cb.PipelineBarrier(instancesWritten())
			cb.BuildAccelerationStructure(info)
			cb.PipelineBarrier(structureBuilt())
		})
		if err != nil {
			t.Destroy()
			return errors.Wrapf(err, "building top-level structure of slot %d", i)
		}
	}
	core.LogDebug("built %d top-level structures over %d instances", frameCount, len(t.bottom))
	return nil
}

func (t *TopLevelIndex) createSlot(i int, instanceSize, structureSize, scratchSize uint64) (*topLevelSlot, error) {
	name := fmt.Sprintf("tlas.%d", i)
	instances, err := t.pool.AllocateBuffer(name+".instances", metadata.BufferDesc{
		Size:   instanceSize,
		Usage:  metadata.BufferUsageTransferDst | metadata.BufferUsageShaderDeviceAddress | metadata.BufferUsageAccelerationStructureBuildInput,
		Memory: metadata.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	as, err := t.pool.CreateAccelerationStructure(name, metadata.AccelerationStructureTopLevel, structureSize)
	if err != nil {
		t.pool.Free(instances.ID)
		return nil, err
	}
	scratch, err := t.pool.AllocateBuffer(name+".scratch", metadata.BufferDesc{
		Size:   scratchSize,
		Usage:  metadata.BufferUsageStorage | metadata.BufferUsageShaderDeviceAddress,
		Memory: metadata.MemoryDeviceLocal,
	})
	if err != nil {
		t.pool.Free(as.ID)
		t.pool.Free(instances.ID)
		return nil, err
	}
	return &topLevelSlot{instances: instances, structure: as, scratch: scratch}, nil
}

// instancesWritten makes the instance upload visible to the build.
func instancesWritten() metadata.Dependency {
	return metadata.Dependency{MemoryBarriers: []metadata.MemoryBarrier{{
		SrcStage:  metadata.PipelineStageTransfer,
		SrcAccess: metadata.AccessTransferWrite,
		DstStage:  metadata.PipelineStageAccelerationStructureBuild,
		DstAccess: metadata.AccessAccelerationStructureRead | metadata.AccessShaderRead,
	}}}
}

// structureBuilt makes the built structure visible to ray queries in the
// lighting dispatch.
func structureBuilt() metadata.Dependency {
	return metadata.Dependency{MemoryBarriers: []metadata.MemoryBarrier{{
		SrcStage:  metadata.PipelineStageAccelerationStructureBuild,
		SrcAccess: metadata.AccessAccelerationStructureWrite,
		DstStage:  metadata.PipelineStageComputeShader,
		DstAccess: metadata.AccessAccelerationStructureRead | metadata.AccessShaderRead,
	}}}
}

/**
 * Records the update of slot's structure into cb: the instance buffer is
 * rewritten in command order, then the structure is refit in place from
 * itself. The caller must have waited on the slot's fence.
 */
func (t *TopLevelIndex) Refresh(cb CommandBuffer, slot int, transforms []math.Mat3x4) error {
	s, err := t.slot(slot)
	if err != nil {
		return err
	}
	if err := t.checkTransforms(transforms); err != nil {
		return err
	}
	cb.UpdateBuffer(s.instances.Handle, 0, metadata.EncodeInstances(t.Instances(transforms)))
	cb.PipelineBarrier(instancesWritten())
	cb.BuildAccelerationStructure(t.buildInfo(s, metadata.BuildModeUpdate))
	cb.PipelineBarrier(structureBuilt())
	return nil
}

// Handle returns the structure the lighting pass of slot traces against.
func (t *TopLevelIndex) Handle(slot int) (metadata.AccelerationStructureHandle, error) {
	s, err := t.slot(slot)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	return s.structure.Handle, nil
}

// Slots is the number of initialized frame slots.
func (t *TopLevelIndex) Slots() int {
	return len(t.slots)
}

// Destroy frees every slot. The device must be idle.
func (t *TopLevelIndex) Destroy() {
	for _, s := range t.slots {
		t.pool.Free(s.scratch.ID)
		t.pool.Free(s.structure.ID)
		t.pool.Free(s.instances.ID)
	}
	t.slots = nil
}
