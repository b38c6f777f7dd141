package geometry

import "math"

// PolygonArea returns the unsigned area of a simple polygon (shoelace formula).
func PolygonArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i, p := range polygon {
		q := polygon[(i+1)%len(polygon)]
		sum += p.Cross(q)
	}
	return math.Abs(sum) / 2
}

// PointInPolygon tests if a point is inside a polygon using ray casting.
func PointInPolygon(p Point2D, polygon []Point2D) bool {
	if len(polygon) < 3 {
		return false
	}

	inside := false
	for i := range polygon {
		a, b := polygon[i], polygon[(i+1)%len(polygon)]
		// Ray from p going right crosses edge a-b.
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// CoveredFraction estimates which fraction of a width x height area lies
// inside at least one polygon, sampling cell centres every step pixels.
func CoveredFraction(polygons [][]Point2D, size Size, step float64) float64 {
	if size.Width <= 0 || size.Height <= 0 || step <= 0 {
		return 0
	}

	boxes := make([]Rect, len(polygons))
	for i, poly := range polygons {
		boxes[i] = BoundingBox(poly)
	}

	var total, covered int
	for y := step / 2; y < float64(size.Height); y += step {
		for x := step / 2; x < float64(size.Width); x += step {
			total++
			p := Point2D{X: x, Y: y}
			for i, poly := range polygons {
				if boxes[i].Contains(p) && PointInPolygon(p, poly) {
					covered++
					break
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}
