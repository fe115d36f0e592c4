package vulkan

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestUpdateChunks(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		chunks int
	}{
		{"small", 64, 1},
		{"exact", maxUpdateSize, 1},
		{"one over", maxUpdateSize + 4, 2},
		{"several", 3*maxUpdateSize + 16, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}
			chunks := updateChunks(bufferUpdate{offset: 256, data: data})
			if len(chunks) != tt.chunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.chunks)
			}
			var joined []byte
			next := uint64(256)
			for _, c := range chunks {
				if c.offset != next {
					t.Fatalf("chunk at %d, want %d", c.offset, next)
				}
				if len(c.data) > maxUpdateSize {
					t.Fatalf("chunk of %d bytes", len(c.data))
				}
				joined = append(joined, c.data...)
				next += uint64(len(c.data))
			}
			if !bytes.Equal(joined, data) {
				t.Fatal("chunks do not cover the data")
			}
		})
	}
}

func quad(z float32) []accel.Triangle {
	return []accel.Triangle{
		{V0: math.NewVec3(0, 0, z), V1: math.NewVec3(1, 0, z), V2: math.NewVec3(1, 1, z)},
		{V0: math.NewVec3(0, 0, z), V1: math.NewVec3(1, 1, z), V2: math.NewVec3(0, 1, z)},
	}
}

func TestLayoutSceneAlignsMeshBlobs(t *testing.T) {
	a := accel.NewMesh(quad(0), true)
	b := accel.NewMesh(quad(1), true)
	scene, err := accel.NewScene([]accel.Instance{
		{Transform: math.NewMat3x4Identity(), Mask: 0xFF, Mesh: a},
		{Transform: math.NewMat3x4Identity(), Mask: 0xFF, Mesh: b},
		{Transform: math.NewMat3x4Identity(), Mask: 0xFF, Mesh: a},
	})
	if err != nil {
		t.Fatal(err)
	}
	l := layoutScene(scene)
	if len(l.meshes) != 2 {
		t.Fatalf("%d meshes laid out, want 2", len(l.meshes))
	}
	if l.offsets[0] < scene.RecordsSize() {
		t.Errorf("first blob at %d overlaps records ending at %d", l.offsets[0], scene.RecordsSize())
	}
	for i, off := range l.offsets {
		if off%blobAlignment != 0 {
			t.Errorf("blob %d at unaligned offset %d", i, off)
		}
	}
	if l.offsets[1] < l.offsets[0]+accel.MeshSize(a.PrimitiveCount()) {
		t.Error("blobs overlap")
	}
	if l.size < l.offsets[1]+accel.MeshSize(b.PrimitiveCount()) {
		t.Errorf("size %d does not cover the last blob", l.size)
	}
	if l.offset(b) != l.offsets[1] || l.offset(accel.NewMesh(quad(2), true)) != 0 {
		t.Error("offset lookup is wrong")
	}

	if !l.sameMeshes(layoutScene(scene)) {
		t.Error("layout of the same scene differs")
	}
	other, err := accel.NewScene([]accel.Instance{{Transform: math.NewMat3x4Identity(), Mask: 0xFF, Mesh: b}})
	if err != nil {
		t.Fatal(err)
	}
	if l.sameMeshes(layoutScene(other)) {
		t.Error("different meshes reported as the same layout")
	}
}

func TestSceneSizeCoversLayout(t *testing.T) {
	m := accel.NewMesh(quad(0), true)
	scene, err := accel.NewScene([]accel.Instance{{Transform: math.NewMat3x4Identity(), Mask: 0xFF, Mesh: m}})
	if err != nil {
		t.Fatal(err)
	}
	blob := metadata.GetAligned(accel.MeshSize(m.PrimitiveCount()), blobAlignment)
	need := metadata.GetAligned(accel.SceneSize(1, blob), blobAlignment)
	if got := layoutScene(scene).size; got > need {
		t.Fatalf("layout needs %d bytes, sizing reserves %d", got, need)
	}
}

func TestUpdateChunkWords(t *testing.T) {
	data := make([]byte, maxUpdateSize+8)
	data[maxUpdateSize] = 0x2a
	chunks := updateChunks(bufferUpdate{data: data})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if got := c.words(); uintptr(unsafe.Pointer(got)) != uintptr(unsafe.Pointer(&c.data[0])) {
			t.Fatalf("chunk %d words do not alias its data", i)
		}
	}
	if *chunks[1].words()&0xff != 0x2a {
		t.Fatalf("second chunk starts with %#x", *chunks[1].words())
	}
}
