package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceToLine(t *testing.T) {
	tests := []struct {
		name       string
		start, end Point2D
		point      Point2D
		want       float64
	}{
		{"on horizontal line", Point2D{0, 0}, Point2D{10, 0}, Point2D{5, 0}, 0},
		{"above horizontal line", Point2D{0, 0}, Point2D{10, 0}, Point2D{5, 3}, 3},
		{"below horizontal line", Point2D{0, 0}, Point2D{10, 0}, Point2D{5, -4}, 4},
		{"beyond segment end", Point2D{0, 0}, Point2D{10, 0}, Point2D{20, 2}, 2},
		{"diagonal", Point2D{0, 0}, Point2D{10, 10}, Point2D{0, 10}, 7.0710678},
		{"degenerate line", Point2D{3, 3}, Point2D{3, 3}, Point2D{9, 9}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceToLine(tt.start, tt.end, tt.point), 1e-6)
		})
	}
}

func TestPointArithmetic(t *testing.T) {
	a := NewPoint2D(3, 4)
	b := NewPoint2D(1, 1)

	assert.Equal(t, Point2D{4, 5}, a.Add(b))
	assert.Equal(t, Point2D{2, 3}, a.Sub(b))
	assert.Equal(t, Point2D{6, 8}, a.Scale(2))
	assert.InDelta(t, 5.0, a.Norm(), 1e-12)
	assert.InDelta(t, -1.0, a.Cross(b), 1e-12)
	assert.InDelta(t, 3.6055512, a.Distance(b), 1e-6)
}

func TestBoundingBoxAndCentroid(t *testing.T) {
	pts := []Point2D{{1, 2}, {5, -1}, {3, 7}}

	box := BoundingBox(pts)
	assert.Equal(t, Rect{X: 1, Y: -1, Width: 4, Height: 8}, box)
	assert.True(t, box.Contains(Point2D{3, 3}))
	assert.False(t, box.Contains(Point2D{6, 3}))
	assert.Equal(t, Point2D{3, 3}, box.Center())

	c := Centroid(pts)
	assert.InDelta(t, 3.0, c.X, 1e-12)
	assert.InDelta(t, 8.0/3.0, c.Y, 1e-12)

	assert.Equal(t, Rect{}, BoundingBox(nil))
	assert.Equal(t, Point2D{}, Centroid(nil))
}

func TestPolygonArea(t *testing.T) {
	sq := []Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	assert.InDelta(t, 100, PolygonArea(sq), 1e-12)

	tri := []Point2D{{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 3, Y: 0}}
	assert.InDelta(t, 6, PolygonArea(tri), 1e-12)
	assert.Zero(t, PolygonArea(sq[:2]))
}

func TestPointInPolygon(t *testing.T) {
	diamond := []Point2D{{X: 5, Y: 0}, {X: 10, Y: 5}, {X: 5, Y: 10}, {X: 0, Y: 5}}
	assert.True(t, PointInPolygon(Point2D{X: 5, Y: 5}, diamond))
	assert.False(t, PointInPolygon(Point2D{X: 1, Y: 1}, diamond))
	assert.False(t, PointInPolygon(Point2D{X: 5, Y: 5}, diamond[:2]))
}

func TestCoveredFraction(t *testing.T) {
	size := Size{Width: 100, Height: 100}
	left := []Point2D{{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 100}, {X: 0, Y: 100}}
	overlap := []Point2D{{X: 0, Y: 0}, {X: 25, Y: 0}, {X: 25, Y: 100}, {X: 0, Y: 100}}

	assert.InDelta(t, 0.5, CoveredFraction([][]Point2D{left}, size, 10), 1e-12)
	assert.InDelta(t, 0.5, CoveredFraction([][]Point2D{left, overlap}, size, 10), 1e-12)
	assert.Zero(t, CoveredFraction(nil, size, 10))
	assert.Zero(t, CoveredFraction([][]Point2D{left}, Size{}, 10))
}
