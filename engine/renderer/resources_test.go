package renderer

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/reference"
)

// destroyLog records the order buffers and images are destroyed in.
type destroyLog struct {
	*reference.Device
	log []string
}

func (d *destroyLog) DestroyBuffer(h metadata.BufferHandle) {
	d.log = append(d.log, fmt.Sprintf("buffer %d", h))
	d.Device.DestroyBuffer(h)
}

func (d *destroyLog) DestroyImage(h metadata.ImageHandle) {
	d.log = append(d.log, fmt.Sprintf("image %d", h))
	d.Device.DestroyImage(h)
}

var hostBuffer = metadata.BufferDesc{Size: 64, Usage: metadata.BufferUsageStorage, Memory: metadata.MemoryHostVisible}

func TestPoolReleasesInReverseOrder(t *testing.T) {
	dev := &destroyLog{Device: newTestDevice()}
	pool := NewResourcePool(dev, 2)

	a, err := pool.AllocateBuffer("a", hostBuffer)
	if err != nil {
		t.Fatal(err)
	}
	img, err := pool.AllocateImage("b", metadata.ImageDesc{
		Extent: metadata.Extent2D{Width: 4, Height: 4},
		Format: StorageFormat,
		Usage:  metadata.ImageUsageStorage,
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := pool.AllocateBuffer("c", hostBuffer)
	if err != nil {
		t.Fatal(err)
	}
	if got := pool.Live(); len(got) != 3 || got[0].Name != "a" || got[1].Kind != ResourceImage || got[2].Name != "c" {
		t.Fatalf("live = %+v", got)
	}

	pool.Release()
	want := []string{
		fmt.Sprintf("buffer %d", c.Handle),
		fmt.Sprintf("image %d", img.Handle),
		fmt.Sprintf("buffer %d", a.Handle),
	}
	if fmt.Sprint(dev.log) != fmt.Sprint(want) {
		t.Fatalf("destroyed %v, want %v", dev.log, want)
	}
	pool.Release()
	if len(dev.log) != 3 || dev.Live() != 0 {
		t.Fatalf("second Release destroyed %v", dev.log[3:])
	}
}

func TestPoolStructureOwnsItsBuffer(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 1)
	as, err := pool.CreateAccelerationStructure("blas", metadata.AccelerationStructureBottomLevel, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if live := pool.Live(); len(live) != 1 || live[0].Kind != ResourceAccelerationStructure {
		t.Fatalf("live = %+v", live)
	}
	if as.Address == 0 || as.Buffer == nil {
		t.Fatalf("structure = %+v", as)
	}
	if err := pool.Free(as.ID); err != nil {
		t.Fatal(err)
	}
	if dev.Live() != 0 {
		t.Fatalf("%d objects alive", dev.Live())
	}
	if err := pool.Free(as.ID); err == nil {
		t.Fatal("freeing twice succeeded")
	}
	requireNoViolations(t, dev)
}

func TestPoolFailedStructureFreesBuffer(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 1)
	dev.FailAllocationAfter(1)
	_, err := pool.CreateAccelerationStructure("blas", metadata.AccelerationStructureBottomLevel, 4096)
	if errors.Cause(err) != core.ErrAllocationFailed {
		t.Fatalf("err = %v", err)
	}
	if dev.Live() != 0 || len(pool.Live()) != 0 {
		t.Fatalf("%d objects, %d entries alive", dev.Live(), len(pool.Live()))
	}
}

func TestPoolRetireWaitsForEverySlot(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 3)
	defer pool.Release()
	b, err := pool.AllocateBuffer("old", hostBuffer)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Retire(b.ID); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		slot      int
		destroyed int
	}{
		{1, 0}, {1, 0}, {2, 0}, {0, 1},
	}
	for i, s := range steps {
		if got := pool.DrainRetired(s.slot); got != s.destroyed {
			t.Fatalf("step %d: drained %d, want %d", i, got, s.destroyed)
		}
	}
	if pool.PendingRetired() != 0 || len(pool.Live()) != 0 || dev.Live() != 0 {
		t.Fatal("retired buffer still alive")
	}
}

func TestPoolRetireFallsBackWhenQueueIsFull(t *testing.T) {
	dev := newTestDevice()
	pool := NewResourcePool(dev, 2)
	defer pool.Release()
	for i := 0; i <= maxRetired; i++ {
		b, err := pool.AllocateBuffer("old", hostBuffer)
		if err != nil {
			t.Fatal(err)
		}
		if err := pool.Retire(b.ID); err != nil {
			t.Fatalf("retire %d: %v", i, err)
		}
	}
	if pool.PendingRetired() != 0 {
		t.Fatalf("%d still queued", pool.PendingRetired())
	}
	if len(pool.Live()) != 0 || dev.Live() != 0 {
		t.Fatalf("pool live %d, device live %d", len(pool.Live()), dev.Live())
	}
	requireNoViolations(t, dev)
}

func TestPoolUnknownResource(t *testing.T) {
	pool := NewResourcePool(newTestDevice(), 2)
	if err := pool.Free(uuid.New()); err == nil {
		t.Error("Free of an unknown id succeeded")
	}
	if err := pool.Retire(uuid.New()); err == nil {
		t.Error("Retire of an unknown id succeeded")
	}
}

func TestPoolUpload(t *testing.T) {
	pool := NewResourcePool(newTestDevice(), 1)
	defer pool.Release()
	host, _ := pool.AllocateBuffer("host", hostBuffer)
	local, _ := pool.AllocateBuffer("local", metadata.BufferDesc{Size: 64, Usage: metadata.BufferUsageStorage, Memory: metadata.MemoryDeviceLocal})

	tests := []struct {
		name   string
		buf    *Buffer
		offset uint64
		size   int
		ok     bool
	}{
		{"fits", host, 0, 64, true},
		{"offset", host, 32, 32, true},
		{"overflow", host, 32, 33, false},
		{"device local", local, 0, 4, false},
	}
	for _, tt := range tests {
		err := pool.Upload(tt.buf, tt.offset, make([]byte, tt.size))
		if (err == nil) != tt.ok {
			t.Errorf("%s: %v", tt.name, err)
		}
	}
}
