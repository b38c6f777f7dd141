// Package pattern locates checkerboard calibration patterns and provides the
// corner-set operations the capture gate and solver need.
package pattern

import (
	"image"

	"stereo-calib/pkg/geometry"
)

// Geometry describes a checkerboard by its interior corner counts.
type Geometry struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// CornerCount returns Rows*Cols.
func (g Geometry) CornerCount() int {
	return g.Rows * g.Cols
}

// Size returns the pattern size in OpenCV order (columns, rows).
func (g Geometry) Size() image.Point {
	return image.Point{X: g.Cols, Y: g.Rows}
}

// Pattern is a full set of detected interior corners in row-major order.
// A nil Pattern means no detection.
type Pattern []geometry.Point2D

// New returns pts as a Pattern when it holds exactly one point per corner of g.
func New(g Geometry, pts []geometry.Point2D) (Pattern, bool) {
	if len(pts) != g.CornerCount() || len(pts) == 0 {
		return nil, false
	}
	p := make(Pattern, len(pts))
	copy(p, pts)
	return p, true
}

// Clone returns a deep copy of p.
func (p Pattern) Clone() Pattern {
	if p == nil {
		return nil
	}
	out := make(Pattern, len(p))
	copy(out, p)
	return out
}

// At returns the corner at row, col.
func (p Pattern) At(g Geometry, row, col int) geometry.Point2D {
	return p[row*g.Cols+col]
}

// Outline returns the four outer corners: first, last of the first row, last,
// and first of the last row.
func (p Pattern) Outline(g Geometry) [4]geometry.Point2D {
	n := g.CornerCount()
	return [4]geometry.Point2D{
		p[0],
		p[g.Cols-1],
		p[n-1],
		p[n-g.Cols],
	}
}

// DisplacementSum returns the sum over all corners of the distance between
// corresponding points of a and b. Both must have the same length.
func DisplacementSum(a, b Pattern) float64 {
	var sum float64
	for i := range a {
		sum += a[i].Distance(b[i])
	}
	return sum
}

// ObjectGrid returns the planar board coordinates of every corner in row-major
// order: (col*square, row*square, 0).
func ObjectGrid(g Geometry, squareLength float64) []geometry.Point3D {
	pts := make([]geometry.Point3D, 0, g.CornerCount())
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			pts = append(pts, geometry.Point3D{
				X: float64(col) * squareLength,
				Y: float64(row) * squareLength,
			})
		}
	}
	return pts
}
