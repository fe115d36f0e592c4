package loaders

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const twoObjects = `# two quads
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
o first
f 1/1/1 2/2/1 3/3/1 4/4/1
o second
f -4 -3 -2
`

func TestParseOBJSubmeshes(t *testing.T) {
	mesh, err := ParseOBJ(strings.NewReader(twoObjects))
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Submeshes) != 2 {
		t.Fatalf("got %d submeshes", len(mesh.Submeshes))
	}
	first, second := mesh.Submeshes[0], mesh.Submeshes[1]
	if first.Name != "first" || first.IndexCount != 6 || first.IndexOffset != 0 {
		t.Fatalf("first submesh %+v", first)
	}
	if second.Name != "second" || second.IndexCount != 3 || second.IndexOffset != 6 {
		t.Fatalf("second submesh %+v", second)
	}
	if second.MaxVertexIndex != 8 {
		t.Fatalf("max vertex %d, want 8", second.MaxVertexIndex)
	}
	// de-indexed: every index points at its own vertex
	for i, idx := range mesh.Indices {
		if idx != uint32(i) {
			t.Fatalf("index %d = %d", i, idx)
		}
	}
}

func TestParseOBJAttributes(t *testing.T) {
	mesh, err := ParseOBJ(strings.NewReader(twoObjects))
	if err != nil {
		t.Fatal(err)
	}
	v := mesh.Vertices[0]
	if v.Texcoord.Y != 1 {
		t.Fatalf("texcoord v not flipped: %v", v.Texcoord)
	}
	if v.Colour != math.NewVec4(1, 1, 1, 1) {
		t.Fatalf("colour %v", v.Colour)
	}
	// the second object has no normals so face normals are generated
	n := mesh.Vertices[6].Normal
	if !n.Compare(math.NewVec3(0, 0, 1), 1e-5) {
		t.Fatalf("generated normal %v", n)
	}
}

func TestParseOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "# nothing\n"},
		{"out of range", "v 0 0 0\nf 1 2 3\n"},
		{"bad float", "v 0 x 0\n"},
		{"short face", "v 0 0 0\nv 1 0 0\nf 1 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOBJ(strings.NewReader(tt.src)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestModelLoaderAppendsCornellBoxLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.obj")
	if err := os.WriteFile(path, []byte(twoObjects), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := (&ModelLoader{}).Load(path, metadata.ResourceTypeModel, ModelParams{AppendCornellBox: true})
	if err != nil {
		t.Fatal(err)
	}
	mesh := res.Data.(*metadata.MeshData)
	last := mesh.Submeshes[len(mesh.Submeshes)-1]
	if last.Name != CornellBoxName || last.IndexCount != 30 {
		t.Fatalf("last submesh %+v", last)
	}
	if res.Name != "quad" {
		t.Fatalf("name %q", res.Name)
	}
}

func TestCornellBoxFacesInward(t *testing.T) {
	mesh := &metadata.MeshData{}
	AppendCornellBox(mesh)
	idx := mesh.SubmeshIndices(0)
	for i := 0; i < len(idx); i += 3 {
		a := mesh.Vertices[idx[i]]
		b := mesh.Vertices[idx[i+1]]
		c := mesh.Vertices[idx[i+2]]
		centre := a.Position.Add(b.Position).Add(c.Position).MulScalar(1.0 / 3)
		// towards the origin means inwards
		if a.Normal.Dot(centre) >= 0 {
			t.Fatalf("triangle %d faces outwards", i/3)
		}
		geo := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position))
		if geo.Dot(a.Normal) <= 0 {
			t.Fatalf("triangle %d winding disagrees with its normal", i/3)
		}
	}
}

func TestModelLoaderMissingFile(t *testing.T) {
	_, err := (&ModelLoader{}).Load(filepath.Join(t.TempDir(), "nope.obj"), metadata.ResourceTypeModel, nil)
	if !errors.Is(err, core.ErrAssetLoad) {
		t.Fatalf("got %v", err)
	}
}

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestBytesToBytecode(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"valid", spirv(SPIRVMagic, 0x00010000, 7), false},
		{"empty", nil, true},
		{"unaligned", append(spirv(SPIRVMagic), 1), true},
		{"bad magic", spirv(0xdeadbeef, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := BytesToBytecode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (len(code) != 3 || code[2] != 7) {
				t.Fatalf("code %v", code)
			}
		})
	}
}

func TestShaderLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lighting.comp.spv")
	if err := os.WriteFile(path, spirv(SPIRVMagic, 1, 2, 3), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := (&ShaderLoader{}).Load(path, metadata.ResourceTypeShader, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.DataSize != 16 || len(res.Data.([]uint32)) != 4 {
		t.Fatalf("resource %+v", res)
	}
}
