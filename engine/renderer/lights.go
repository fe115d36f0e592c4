package renderer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// GenerateLights scatters count point lights inside the unit cube with
// bright random colours. A zero seed uses the clock.
func GenerateLights(count int, seed uint64) []metadata.Light {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rnd := math.NewRandom(seed)
	lights := make([]metadata.Light, count)
	for i := range lights {
		lights[i] = metadata.Light{
			Position: math.NewVec4(rnd.InRange(-1, 1), rnd.InRange(-1, 1), rnd.InRange(-1, 1), 1),
			Colour:   math.NewVec4(rnd.InRange(0.5, 1), rnd.InRange(0.5, 1), rnd.InRange(0.5, 1), 0),
		}
	}
	return lights
}

// NewLightBuffer uploads lights into a storage buffer shared by every frame
// slot. It is never written again.
func NewLightBuffer(pool *ResourcePool, lights []metadata.Light) (*Buffer, error) {
	if len(lights) == 0 {
		return nil, errors.New("at least one light is required")
	}
	data := metadata.EncodeLights(lights)
	b, err := pool.AllocateBuffer("lights", metadata.BufferDesc{
		Size:   uint64(len(data)),
		Usage:  metadata.BufferUsageStorage,
		Memory: metadata.MemoryHostVisible,
	})
	if err != nil {
		return nil, err
	}
	if err := pool.Upload(b, 0, data); err != nil {
		pool.Free(b.ID)
		return nil, err
	}
	return b, nil
}
