package calib

import (
	"context"
	"math"

	"stereo-calib/internal/config"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNumericalFailure is returned when a solve does not produce a usable camera model.
var ErrNumericalFailure = errors.New("calibration solve failed numerically")

// Options bounds the nonlinear refinement.
type Options struct {
	MaxIterations int
	Epsilon       float64

	// MaxReprojectionError rejects solves whose RMS error exceeds it. Zero disables the check.
	MaxReprojectionError float64
}

// DefaultOptions returns the limits used for interactive calibration.
func DefaultOptions() Options {
	return Options{
		MaxIterations:        config.SolverMaxIterations,
		Epsilon:              config.SolverEpsilon,
		MaxReprojectionError: config.MaxReprojectionError,
	}
}

// Problem is one camera's calibration input: the planar board model and the
// corners observed in every accepted view, in the same order.
type Problem struct {
	Object    []geometry.Point3D
	Views     [][]geometry.Point2D
	ImageSize geometry.Size

	// Initial supplies the fx/fy ratio kept fixed during the solve, and the
	// focal length to fall back on when the closed-form estimate is unusable.
	Initial CameraMatrix

	Options Options
}

// Parameter layout: fy, cx, cy, k1, k2, p1, p2, k3, then rvec and tvec per view.
const (
	paramFy = iota
	paramCx
	paramCy
	paramK1
	paramK2
	paramP1
	paramP2
	paramK3
	numIntrinsic

	numPose = 6
)

// Solve estimates the intrinsic matrix and distortion coefficients that minimize
// the total reprojection error over all views. fx is locked to fy times the
// initial aspect ratio. The returned error wraps ErrNumericalFailure whenever
// no usable result is produced.
func Solve(ctx context.Context, p Problem) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, errors.Wrap(ErrNumericalFailure, err.Error())
	}
	if p.Options.MaxIterations <= 0 {
		p.Options = DefaultOptions()
	}

	aspect := p.Initial.AspectRatio()
	homographies := make([]Homography, len(p.Views))
	for i, view := range p.Views {
		h, err := FindHomography(p.Object, view)
		if err != nil {
			return Result{}, errors.Wrapf(ErrNumericalFailure, "view %d: %v", i, err)
		}
		homographies[i] = h
	}

	k, err := initIntrinsics(homographies, p.ImageSize, aspect)
	if err != nil {
		if !p.Initial.Valid() {
			return Result{}, errors.Wrap(ErrNumericalFailure, err.Error())
		}
		k = NewCameraMatrix(p.Initial.Fx(), p.Initial.Fy(), float64(p.ImageSize.Width-1)/2, float64(p.ImageSize.Height-1)/2)
	}

	params := make([]float64, numIntrinsic+numPose*len(p.Views))
	params[paramFy] = k.Fy()
	params[paramCx] = k.Cx()
	params[paramCy] = k.Cy()
	for i, h := range homographies {
		pose, err := poseFromHomography(h, k)
		if err != nil {
			return Result{}, errors.Wrapf(ErrNumericalFailure, "view %d: %v", i, err)
		}
		base := numIntrinsic + numPose*i
		copy(params[base:base+3], pose.Rotation[:])
		copy(params[base+3:base+6], pose.Translation[:])
	}

	lm := newRefiner(p, aspect)
	cost, err := lm.run(ctx, params)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Matrix:            NewCameraMatrix(aspect*params[paramFy], params[paramFy], params[paramCx], params[paramCy]),
		Distortion:        DistortionFromCoeffs([5]float64{params[paramK1], params[paramK2], params[paramP1], params[paramP2], params[paramK3]}),
		ReprojectionError: math.Sqrt(cost / float64(len(p.Views)*len(p.Object))),
		SampleCount:       len(p.Views),
		PerViewErrors:     lm.perViewErrors(params),
	}
	if err := res.check(p.ImageSize, p.Options.MaxReprojectionError); err != nil {
		return Result{}, errors.Wrap(ErrNumericalFailure, err.Error())
	}
	return res, nil
}

func (p Problem) validate() error {
	if len(p.Object) < 4 {
		return errors.Errorf("board model has %d points", len(p.Object))
	}
	if len(p.Views) == 0 {
		return errors.New("no views")
	}
	if p.ImageSize.Width <= 0 || p.ImageSize.Height <= 0 {
		return errors.Errorf("invalid image size %dx%d", p.ImageSize.Width, p.ImageSize.Height)
	}
	for i, v := range p.Views {
		if len(v) != len(p.Object) {
			return errors.Errorf("view %d has %d points, want %d", i, len(v), len(p.Object))
		}
	}
	return nil
}

func (r Result) check(size geometry.Size, maxRMS float64) error {
	vals := []float64{r.Matrix.Fx(), r.Matrix.Fy(), r.Matrix.Cx(), r.Matrix.Cy(), r.ReprojectionError}
	for _, c := range r.Distortion.Coeffs() {
		vals = append(vals, c)
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite parameter")
		}
	}
	if r.Matrix.Fx() < 1 || r.Matrix.Fy() < 1 {
		return errors.Errorf("non-positive focal length fx=%g fy=%g", r.Matrix.Fx(), r.Matrix.Fy())
	}
	w, h := float64(size.Width), float64(size.Height)
	if r.Matrix.Cx() < -w || r.Matrix.Cx() > 2*w || r.Matrix.Cy() < -h || r.Matrix.Cy() > 2*h {
		return errors.Errorf("principal point (%g, %g) far outside the image", r.Matrix.Cx(), r.Matrix.Cy())
	}
	if maxRMS > 0 && r.ReprojectionError > maxRMS {
		return errors.Errorf("reprojection error %.3f px exceeds %.3f px", r.ReprojectionError, maxRMS)
	}
	return nil
}

// initIntrinsics estimates fx and fy in closed form from the orthogonality of the
// board axes and diagonals, with the principal point at the image centre.
func initIntrinsics(hs []Homography, size geometry.Size, aspect float64) (CameraMatrix, error) {
	cx := float64(size.Width-1) / 2
	cy := float64(size.Height-1) / 2

	a := mat.NewDense(2*len(hs), 2, nil)
	b := mat.NewVecDense(2*len(hs), nil)
	for i, hm := range hs {
		var hv, vv, d1, d2 [3]float64
		var n [4]float64
		for j := 0; j < 3; j++ {
			t0, t1 := hm[j][0], hm[j][1]
			switch j {
			case 0:
				t0 -= hm[2][0] * cx
				t1 -= hm[2][1] * cx
			case 1:
				t0 -= hm[2][0] * cy
				t1 -= hm[2][1] * cy
			}
			hv[j], vv[j] = t0, t1
			d1[j] = (t0 + t1) / 2
			d2[j] = (t0 - t1) / 2
			n[0] += t0 * t0
			n[1] += t1 * t1
			n[2] += d1[j] * d1[j]
			n[3] += d2[j] * d2[j]
		}
		for j := range n {
			n[j] = 1 / math.Sqrt(n[j])
		}
		for j := 0; j < 3; j++ {
			hv[j] *= n[0]
			vv[j] *= n[1]
			d1[j] *= n[2]
			d2[j] *= n[3]
		}

		a.SetRow(2*i, []float64{hv[0] * vv[0], hv[1] * vv[1]})
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i, -hv[2]*vv[2])
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return CameraMatrix{}, errors.Wrap(err, "focal length estimate")
	}

	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	tf := (fx + fy) / (aspect + 1)
	fx, fy = aspect*tf, tf

	k := NewCameraMatrix(fx, fy, cx, cy)
	if !k.Valid() || math.IsInf(fx, 0) || fx < 1 {
		return CameraMatrix{}, errors.Errorf("focal length estimate unusable: fx=%g fy=%g", fx, fy)
	}
	return k, nil
}

// poseFromHomography recovers the board pose from H = K [r1 r2 t].
func poseFromHomography(h Homography, k CameraMatrix) (Pose, error) {
	inv := func(c int) [3]float64 {
		return [3]float64{
			(h[0][c] - k.Cx()*h[2][c]) / k.Fx(),
			(h[1][c] - k.Cy()*h[2][c]) / k.Fy(),
			h[2][c],
		}
	}
	c1, c2, c3 := inv(0), inv(1), inv(2)

	n1 := floats.Norm(c1[:], 2)
	n2 := floats.Norm(c2[:], 2)
	if n1 < 1e-15 || n2 < 1e-15 {
		return Pose{}, errors.New("degenerate homography")
	}
	lambda := 2 / (n1 + n2)
	if c3[2] < 0 {
		lambda = -lambda
	}

	var r1, r2, t [3]float64
	for i := 0; i < 3; i++ {
		r1[i] = lambda * c1[i]
		r2[i] = lambda * c2[i]
		t[i] = lambda * c3[i]
	}
	r3 := [3]float64{
		r1[1]*r2[2] - r1[2]*r2[1],
		r1[2]*r2[0] - r1[0]*r2[2],
		r1[0]*r2[1] - r1[1]*r2[0],
	}

	q := mat.NewDense(3, 3, []float64{
		r1[0], r2[0], r3[0],
		r1[1], r2[1], r3[1],
		r1[2], r2[2], r3[2],
	})
	var svd mat.SVD
	if ok := svd.Factorize(q, mat.SVDFull); !ok {
		return Pose{}, errors.New("rotation SVD did not converge")
	}
	var u, v, rm mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rm.Mul(&u, v.T())
	if mat.Det(&rm) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rm.Mul(&u, v.T())
	}

	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rm.At(i, j)
		}
	}
	return Pose{Rotation: RotationVector(r), Translation: t}, nil
}
