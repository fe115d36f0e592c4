package math

func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

// Mul returns mt * other. With row vectors the result applies mt first.
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

// NewMat4Perspective builds a right-handed projection with a [0, 1] depth
// range. flipY negates the Y scale so +Y points up in framebuffer space.
func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32, flipY bool) Mat4 {
	halfTanFov := ktan(fovRadians * 0.5)
	out := Mat4{}
	out.Data[0] = 1.0 / (aspectRatio * halfTanFov)
	out.Data[5] = 1.0 / halfTanFov
	if flipY {
		out.Data[5] = -out.Data[5]
	}
	out.Data[10] = farClip / (nearClip - farClip)
	out.Data[11] = -1.0
	out.Data[14] = -(farClip * nearClip) / (farClip - nearClip)
	return out
}

// NewMat4LookAt returns a right-handed view matrix looking from position at target.
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	f := target.Sub(position).Normalized()
	s := f.Cross(up).Normalized()
	u := s.Cross(f)

	out := Mat4{}
	out.Data[0] = s.X
	out.Data[1] = u.X
	out.Data[2] = -f.X
	out.Data[4] = s.Y
	out.Data[5] = u.Y
	out.Data[6] = -f.Y
	out.Data[8] = s.Z
	out.Data[9] = u.Z
	out.Data[10] = -f.Z
	out.Data[12] = -s.Dot(position)
	out.Data[13] = -u.Dot(position)
	out.Data[14] = f.Dot(position)
	out.Data[15] = 1.0
	return out
}

func NewMat4Transposed(matrix Mat4) Mat4 {
	out := Mat4{}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.Data[c*4+r] = matrix.Data[r*4+c]
		}
	}
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

// Rotation matrices below turn counter-clockwise around their axis.

func NewMat4EulerX(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := kcos(angleRadians), ksin(angleRadians)
	out.Data[5] = c
	out.Data[6] = s
	out.Data[9] = -s
	out.Data[10] = c
	return out
}

func NewMat4EulerY(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := kcos(angleRadians), ksin(angleRadians)
	out.Data[0] = c
	out.Data[2] = -s
	out.Data[8] = s
	out.Data[10] = c
	return out
}

func NewMat4EulerZ(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c, s := kcos(angleRadians), ksin(angleRadians)
	out.Data[0] = c
	out.Data[1] = s
	out.Data[4] = -s
	out.Data[5] = c
	return out
}

// Compare reports whether every element differs by at most tolerance.
func (mt Mat4) Compare(other Mat4, tolerance float32) bool {
	for i := range mt.Data {
		if kabs(mt.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

// ToMat3x4 drops the projective column, keeping the affine part.
func (mt Mat4) ToMat3x4() Mat3x4 {
	var out Mat3x4
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = mt.Data[c*4+r]
		}
	}
	return out
}

func NewMat3x4Identity() Mat3x4 {
	return Mat3x4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

func (t Mat3x4) ToMat4() Mat4 {
	out := NewMat4Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			out.Data[c*4+r] = t[r*4+c]
		}
	}
	return out
}

func (t Mat3x4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

func (t Mat3x4) TransformDirection(d Vec3) Vec3 {
	return Vec3{
		t[0]*d.X + t[1]*d.Y + t[2]*d.Z,
		t[4]*d.X + t[5]*d.Y + t[6]*d.Z,
		t[8]*d.X + t[9]*d.Y + t[10]*d.Z,
	}
}

// Inverse returns the inverse affine transform. ok is false when the linear
// part is singular.
func (t Mat3x4) Inverse() (Mat3x4, bool) {
	a, b, c := t[0], t[1], t[2]
	d, e, f := t[4], t[5], t[6]
	g, h, i := t[8], t[9], t[10]

	A := e*i - f*h
	B := -(d*i - f*g)
	C := d*h - e*g
	det := a*A + b*B + c*C
	if kabs(det) < K_FLOAT_EPSILON {
		return Mat3x4{}, false
	}
	inv := 1 / det

	var out Mat3x4
	out[0] = A * inv
	out[1] = -(b*i - c*h) * inv
	out[2] = (b*f - c*e) * inv
	out[4] = B * inv
	out[5] = (a*i - c*g) * inv
	out[6] = -(a*f - c*d) * inv
	out[8] = C * inv
	out[9] = -(a*h - b*g) * inv
	out[10] = (a*e - b*d) * inv

	tr := Vec3{t[3], t[7], t[11]}
	nt := out.TransformDirection(tr)
	out[3], out[7], out[11] = -nt.X, -nt.Y, -nt.Z
	return out, true
}

func (t Mat3x4) Compare(other Mat3x4, tolerance float32) bool {
	for i := range t {
		if kabs(t[i]-other[i]) > tolerance {
			return false
		}
	}
	return true
}
