package loaders

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// ModelParams tweaks how a model is imported.
type ModelParams struct {
	// AppendCornellBox adds the room as the last submesh.
	AppendCornellBox bool
}

type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(core.ErrAssetLoad, "open %s: %s", path, err)
	}
	defer f.Close()

	mesh, err := ParseOBJ(f)
	if err != nil {
		return nil, errors.Wrapf(core.ErrAssetLoad, "parse %s: %s", path, err)
	}
	if p, ok := params.(ModelParams); ok && p.AppendCornellBox {
		AppendCornellBox(mesh)
	}
	core.LogDebug("loaded model %s: %d vertices, %d submeshes", path, len(mesh.Vertices), len(mesh.Submeshes))

	return &metadata.Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		DataSize: uint64(len(mesh.Vertices) * math.Vertex3DSize),
		Data:     mesh,
	}, nil
}

func (ml *ModelLoader) Unload(*metadata.Resource) error {
	return nil
}

type objIndex struct {
	v, vt, vn int
}

type objGroup struct {
	name  string
	faces [][]objIndex
}

// ParseOBJ reads a Wavefront OBJ stream. Every object or group becomes one
// submesh. Faces are fan-triangulated and de-indexed so each corner gets its
// own vertex; texture V is flipped and the colour is white.
func ParseOBJ(r io.Reader) (*metadata.MeshData, error) {
	var (
		positions []math.Vec3
		normals   []math.Vec3
		texcoords []math.Vec2
		groups    []*objGroup
	)
	current := &objGroup{name: "default"}
	groups = append(groups, current)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			positions = append(positions, math.NewVec3(v[0], v[1], v[2]))
		case "vn":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			normals = append(normals, math.NewVec3(v[0], v[1], v[2]))
		case "vt":
			v, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			texcoords = append(texcoords, math.NewVec2(v[0], 1.0-v[1]))
		case "o", "g":
			name := strings.Join(fields[1:], " ")
			if len(current.faces) == 0 {
				current.name = name
				continue
			}
			current = &objGroup{name: name}
			groups = append(groups, current)
		case "f":
			if len(fields) < 4 {
				return nil, errors.Errorf("line %d: face with %d corners", line, len(fields)-1)
			}
			face := make([]objIndex, 0, len(fields)-1)
			for _, c := range fields[1:] {
				idx, err := parseCorner(c, len(positions), len(texcoords), len(normals))
				if err != nil {
					return nil, errors.Wrapf(err, "line %d", line)
				}
				face = append(face, idx)
			}
			current.faces = append(current.faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	mesh := &metadata.MeshData{}
	for _, g := range groups {
		if len(g.faces) == 0 {
			continue
		}
		var vertices []math.Vertex3D
		needNormals := false
		for _, face := range g.faces {
			for i := 1; i+1 < len(face); i++ {
				for _, c := range [3]objIndex{face[0], face[i], face[i+1]} {
					v := math.Vertex3D{
						Position: positions[c.v],
						Colour:   math.NewVec4(1, 1, 1, 1),
					}
					if c.vt >= 0 {
						v.Texcoord = texcoords[c.vt]
					}
					if c.vn >= 0 {
						v.Normal = normals[c.vn]
					} else {
						needNormals = true
					}
					vertices = append(vertices, v)
				}
			}
		}
		indices := make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
		if needNormals {
			math.GeometryGenerateNormals(vertices, indices)
		}
		mesh.Append(g.name, vertices, indices, false)
	}
	if len(mesh.Submeshes) == 0 {
		return nil, errors.New("no faces")
	}
	return mesh, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, errors.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, errors.Wrapf(err, "value %q", fields[i])
		}
		out[i] = float32(f)
	}
	return out, nil
}

// parseCorner resolves "v", "v/vt", "v//vn" and "v/vt/vn". Missing parts are -1.
func parseCorner(s string, nv, nvt, nvn int) (objIndex, error) {
	parts := strings.Split(s, "/")
	idx := objIndex{v: -1, vt: -1, vn: -1}
	resolve := func(p string, count int) (int, error) {
		if p == "" {
			return -1, nil
		}
		i, err := strconv.Atoi(p)
		if err != nil {
			return 0, errors.Wrapf(err, "corner %q", s)
		}
		// negative indices count back from the latest element
		if i < 0 {
			i = count + i + 1
		}
		if i < 1 || i > count {
			return 0, errors.Errorf("corner %q: index %d out of range", s, i)
		}
		return i - 1, nil
	}
	var err error
	if idx.v, err = resolve(parts[0], nv); err != nil {
		return idx, err
	}
	if idx.v < 0 {
		return idx, errors.Errorf("corner %q has no position", s)
	}
	if len(parts) > 1 {
		if idx.vt, err = resolve(parts[1], nvt); err != nil {
			return idx, err
		}
	}
	if len(parts) > 2 {
		if idx.vn, err = resolve(parts[2], nvn); err != nil {
			return idx, err
		}
	}
	return idx, nil
}
