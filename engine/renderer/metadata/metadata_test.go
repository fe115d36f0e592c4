package metadata

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
)

func TestInstanceEncodingLayout(t *testing.T) {
	in := Instance{
		Transform:   math.NewMat4Translation(math.NewVec3(1, 2, 3)).ToMat3x4(),
		CustomIndex: 0xABCDEF,
		Mask:        0xFF,
		SBTOffset:   7,
		Flags:       InstanceTriangleCullDisable,
		Reference:   0x1122334455667788,
	}
	buf := make([]byte, InstanceSize)
	in.Encode(buf)

	// mask lives in the top byte of the custom index word
	if buf[48] != 0xEF || buf[50] != 0xAB || buf[51] != 0xFF {
		t.Fatalf("custom index word = % x", buf[48:52])
	}
	if buf[55] != byte(InstanceTriangleCullDisable) {
		t.Fatalf("flags byte = %x", buf[55])
	}
	if got := DecodeInstance(buf); got != in {
		t.Fatalf("decoded %+v, want %+v", got, in)
	}

	// translation sits in the last column of each row
	if got := DecodeInstance(buf).Transform; got[3] != 1 || got[7] != 2 || got[11] != 3 {
		t.Fatalf("transform = %v", got)
	}
}

func TestInstanceCustomIndexTruncates(t *testing.T) {
	buf := make([]byte, InstanceSize)
	Instance{CustomIndex: 0x1000001, Mask: 0x0F}.Encode(buf)
	got := DecodeInstance(buf)
	if got.CustomIndex != 1 || got.Mask != 0x0F {
		t.Fatalf("got index %x mask %x", got.CustomIndex, got.Mask)
	}
}

func TestMeshDataAppend(t *testing.T) {
	var m MeshData
	tri := []math.Vertex3D{{}, {}, {}}
	m.Append("a", tri, []uint32{0, 1, 2}, false)
	m.Append("b", append(tri, math.Vertex3D{}), []uint32{0, 1, 2, 2, 1, 3}, true)

	if len(m.Submeshes) != 2 {
		t.Fatalf("submeshes = %d", len(m.Submeshes))
	}
	b := m.Submeshes[1]
	if b.IndexOffset != 3 || b.IndexCount != 6 || b.MaxVertexIndex != 6 || !b.AlphaCut {
		t.Fatalf("second submesh = %+v", b)
	}
	if got := m.SubmeshIndices(1); got[0] != 3 || got[5] != 6 {
		t.Fatalf("indices not rebased: %v", got)
	}
	if b.PrimitiveCount() != 2 {
		t.Fatalf("primitive count = %d", b.PrimitiveCount())
	}
}

func TestAccessCovers(t *testing.T) {
	tests := []struct {
		have, need AccessFlags
		want       bool
	}{
		{AccessAccelerationStructureRead | AccessShaderRead, AccessAccelerationStructureRead, true},
		{AccessShaderRead, AccessShaderWrite, false},
		{AccessMemoryRead, AccessTransferRead, true},
		{AccessMemoryRead, AccessTransferWrite, false},
		{AccessMemoryWrite, AccessColorAttachmentWrite, true},
	}
	for _, tt := range tests {
		if got := tt.have.Covers(tt.need); got != tt.want {
			t.Errorf("%v covers %v = %v, want %v", tt.have, tt.need, got, tt.want)
		}
	}
}

func TestSplitRange(t *testing.T) {
	r := SplitRange(150000, 65536)
	if len(r) != 3 || r[2].Offset != 131072 || r[2].Size != 150000-131072 {
		t.Fatalf("ranges = %+v", r)
	}
	if GetAligned(65, 64) != 128 {
		t.Fatalf("aligned = %d", GetAligned(65, 64))
	}
}

func TestUniformRoundTrip(t *testing.T) {
	u := UniformBufferObject{
		Model: math.NewMat4EulerZ(0.5),
		View:  math.NewMat4LookAt(math.NewVec3(2, 2, 2), math.NewVec3Zero(), math.NewVec3Up()),
		Proj:  math.NewMat4Perspective(0.78, 1.3, 0.1, 10, true),
	}
	if got := DecodeUniformBufferObject(u.Bytes()); got != u {
		t.Fatalf("decoded %+v", got)
	}
}
