package math

// GeometryGenerateNormals assigns face normals to every triangle of a
// de-indexed or indexed mesh.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalized()

		// NOTE: face normals only, no smoothing.
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GeometryExtents returns the bounds of the referenced vertices.
func GeometryExtents(vertices []Vertex3D, indices []uint32) Extents3D {
	e := NewExtentsEmpty()
	for _, idx := range indices {
		e = e.Grow(vertices[idx].Position)
	}
	return e
}
