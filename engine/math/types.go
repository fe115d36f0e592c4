package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a 4x4 matrix applied to row vectors (v * M). Elements are stored
// row by row with the translation in Data[12..14], which is the column-major
// layout shaders expect.
type Mat4 struct {
	Data [16]float32
}

// Mat3x4 is an affine transform stored as three rows of four columns, the
// layout acceleration structure instances use. It applies to column vectors.
type Mat3x4 [12]float32

// Extents3D is an axis aligned box.
type Extents3D struct {
	Min Vec3
	Max Vec3
}

// Vertex3D is the interleaved vertex layout shared by the raster pipeline
// and the bottom-level builds (position first).
type Vertex3D struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
	Colour   Vec4
}

// Vertex3DSize is the stride of Vertex3D in bytes.
const Vertex3DSize = 48
