package coords

// Matrix is a 4x4 column-major affine transform. Only the 2D scale and
// translation terms are used: [0] scaleX, [5] scaleY, [12] translateX,
// [13] translateY.
type Matrix [16]float64

// NewMatrix returns the transform x*sx+tx, y*sy+ty.
func NewMatrix(sx, sy, tx, ty float64) Matrix {
	return Matrix{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, 1, 0,
		tx, ty, 0, 1,
	}
}

func (m *Matrix) ScaleX() float64     { return m[0] }
func (m *Matrix) ScaleY() float64     { return m[5] }
func (m *Matrix) TranslateX() float64 { return m[12] }
func (m *Matrix) TranslateY() float64 { return m[13] }

// Apply maps tree-local (x, y) into world space.
func (m *Matrix) Apply(x, y float64) (float64, float64) {
	return x*m[0] + m[12], y*m[5] + m[13]
}

// Inverse maps world (x, y) back into tree-local space. ok is false when the
// matrix is degenerate on either axis.
func (m *Matrix) Inverse(wx, wy float64) (x, y float64, ok bool) {
	if m[0] == 0 || m[5] == 0 {
		return 0, 0, false
	}
	return (wx - m[12]) / m[0], (wy - m[13]) / m[5], true
}

// Extent returns the world-space rectangle covered by the unit square in
// tree-local space.
func (m *Matrix) Extent() (minX, maxX, minY, maxY float64) {
	x0, y0 := m.Apply(0, 0)
	x1, y1 := m.Apply(1, 1)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return x0, x1, y0, y1
}
