package calib

import (
	"math"

	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography maps homogeneous board-plane coordinates (X, Y, 1) to image pixels.
type Homography [3][3]float64

// Apply maps a board-plane point to pixels.
func (h Homography) Apply(x, y float64) (u, v float64) {
	w := h[2][0]*x + h[2][1]*y + h[2][2]
	return (h[0][0]*x + h[0][1]*y + h[0][2]) / w, (h[1][0]*x + h[1][1]*y + h[1][2]) / w
}

// normalization returns the similarity that moves pts to zero mean with an
// average distance of sqrt(2) from the origin (Hartley normalization).
func normalization(xs, ys []float64) ([3][3]float64, error) {
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n

	var dist float64
	for i := range xs {
		dist += math.Hypot(xs[i]-mx, ys[i]-my)
	}
	dist /= n
	if dist < 1e-12 || math.IsNaN(dist) {
		return [3][3]float64{}, errors.New("points have no spread")
	}

	s := math.Sqrt2 / dist
	return [3][3]float64{
		{s, 0, -s * mx},
		{0, s, -s * my},
		{0, 0, 1},
	}, nil
}

// FindHomography estimates the plane-to-image homography with the normalized
// direct linear transform. It needs at least four correspondences.
func FindHomography(board []geometry.Point3D, image []geometry.Point2D) (Homography, error) {
	if len(board) < 4 || len(board) != len(image) {
		return Homography{}, errors.Errorf("need at least 4 matching points, got %d and %d", len(board), len(image))
	}

	n := len(board)
	bx := make([]float64, n)
	by := make([]float64, n)
	ix := make([]float64, n)
	iy := make([]float64, n)
	for i := range board {
		bx[i], by[i] = board[i].X, board[i].Y
		ix[i], iy[i] = image[i].X, image[i].Y
	}

	tb, err := normalization(bx, by)
	if err != nil {
		return Homography{}, errors.Wrap(err, "board points")
	}
	ti, err := normalization(ix, iy)
	if err != nil {
		return Homography{}, errors.Wrap(err, "image points")
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		X := tb[0][0]*bx[i] + tb[0][2]
		Y := tb[1][1]*by[i] + tb[1][2]
		x := ti[0][0]*ix[i] + ti[0][2]
		y := ti[1][1]*iy[i] + ti[1][2]

		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return Homography{}, errors.New("homography SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	// Right singular vector of the smallest singular value.
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = Ti^-1 * Hn * Tb
	tiInv := mat.NewDense(3, 3, []float64{
		1 / ti[0][0], 0, -ti[0][2] / ti[0][0],
		0, 1 / ti[1][1], -ti[1][2] / ti[1][1],
		0, 0, 1,
	})
	tbM := mat.NewDense(3, 3, []float64{
		tb[0][0], tb[0][1], tb[0][2],
		tb[1][0], tb[1][1], tb[1][2],
		tb[2][0], tb[2][1], tb[2][2],
	})
	var tmp, h mat.Dense
	tmp.Mul(tiInv, hn)
	h.Mul(&tmp, tbM)

	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-15 {
		return Homography{}, errors.New("degenerate homography")
	}

	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = h.At(r, c) / scale
		}
	}
	return out, nil
}
