package calib

import (
	"runtime"
	"sync"
)

// DistortionMap holds per-pixel source coordinates for remapping a raw frame
// into an undistorted one: output pixel (x, y) samples the raw frame at
// (X[y*Width+x], Y[y*Width+x]).
type DistortionMap struct {
	Width  int
	Height int
	X      []float32
	Y      []float32
}

// BuildDistortionMap computes the undistortion map for a camera model. The
// output keeps the input camera matrix, so no rectification or rescaling is
// applied; zero coefficients yield the identity map.
func BuildDistortionMap(m CameraMatrix, d Distortion, width, height int) DistortionMap {
	var dm DistortionMap
	dm.BuildInto(m, d, width, height)
	return dm
}

// BuildInto recomputes dm in place, reusing its tables when they are large enough.
func (dm *DistortionMap) BuildInto(m CameraMatrix, d Distortion, width, height int) {
	n := width * height
	if cap(dm.X) < n {
		dm.X = make([]float32, n)
		dm.Y = make([]float32, n)
	}
	dm.X = dm.X[:n]
	dm.Y = dm.Y[:n]
	dm.Width = width
	dm.Height = height

	identity := d.IsZero() || !m.Valid()

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > height {
			endY = height
		}
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				row := y * width
				for x := 0; x < width; x++ {
					if identity {
						dm.X[row+x] = float32(x)
						dm.Y[row+x] = float32(y)
						continue
					}
					nx, ny := m.Normalize(float64(x), float64(y))
					dx, dy := d.Apply(nx, ny)
					u, v := m.Denormalize(dx, dy)
					dm.X[row+x] = float32(u)
					dm.Y[row+x] = float32(v)
				}
			}
		}(startY, endY)
	}
	wg.Wait()
}

// At returns the source coordinates for output pixel (x, y).
func (dm DistortionMap) At(x, y int) (float32, float32) {
	i := y*dm.Width + x
	return dm.X[i], dm.Y[i]
}

// IsIdentity reports whether every entry maps a pixel onto itself.
func (dm DistortionMap) IsIdentity() bool {
	for y := 0; y < dm.Height; y++ {
		for x := 0; x < dm.Width; x++ {
			i := y*dm.Width + x
			if dm.X[i] != float32(x) || dm.Y[i] != float32(y) {
				return false
			}
		}
	}
	return true
}
