package calib

import (
	"context"
	"math"
	"testing"

	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var truth = Intrinsics{
	Matrix:     NewCameraMatrix(700, 700, 400, 300),
	Distortion: Distortion{K1: -0.08, P1: 0.001, P2: -0.0005},
}

func boardModel() []geometry.Point3D {
	var pts []geometry.Point3D
	for row := 0; row < 6; row++ {
		for col := 0; col < 9; col++ {
			pts = append(pts, geometry.Point3D{X: float64(col) * 24, Y: float64(row) * 24})
		}
	}
	return pts
}

// poseAt places the board centre on pixel (u, v) at depth z with the given tilt.
func poseAt(in Intrinsics, u, v, z float64, rot [3]float64) Pose {
	r := Rodrigues(rot)
	centre := [3]float64{96, 60, 0}
	x, y := in.Matrix.Normalize(u, v)
	c := [3]float64{x * z, y * z, z}
	var t [3]float64
	for i := 0; i < 3; i++ {
		t[i] = c[i] - (r[i][0]*centre[0] + r[i][1]*centre[1] + r[i][2]*centre[2])
	}
	return Pose{Rotation: rot, Translation: t}
}

func syntheticViews(in Intrinsics, object []geometry.Point3D) [][]geometry.Point2D {
	centres := [][2]float64{
		{180, 150}, {330, 150}, {480, 150}, {630, 150},
		{630, 300}, {480, 300}, {330, 300}, {180, 300},
		{180, 450}, {330, 450}, {480, 450}, {630, 450},
	}
	tilts := [][3]float64{
		{0.30, 0.10, 0.02}, {-0.25, 0.20, 0}, {0.15, -0.30, 0.05}, {-0.10, -0.25, -0.03},
		{0.28, 0.05, 0}, {-0.30, -0.10, 0.04}, {0.05, 0.30, -0.02}, {-0.20, 0.25, 0},
		{0.25, -0.20, 0.03}, {-0.15, -0.30, 0}, {0.20, 0.28, -0.04}, {-0.28, 0.12, 0.01},
	}

	views := make([][]geometry.Point2D, len(centres))
	for i, c := range centres {
		pose := poseAt(in, c[0], c[1], 600, tilts[i])
		view := make([]geometry.Point2D, len(object))
		for j, p := range object {
			view[j] = in.Project(pose, p)
		}
		views[i] = view
	}
	return views
}

func TestSolveRecoversSyntheticCamera(t *testing.T) {
	object := boardModel()
	views := syntheticViews(truth, object)

	res, err := Solve(context.Background(), Problem{
		Object:    object,
		Views:     views,
		ImageSize: geometry.Size{Width: 800, Height: 600},
		Initial:   GuessCameraMatrix(800, 600),
		Options:   DefaultOptions(),
	})
	require.NoError(t, err)

	assert.Equal(t, 12, res.SampleCount)
	assert.Less(t, res.ReprojectionError, 0.01)
	assert.Len(t, res.PerViewErrors, 12)

	assert.InDelta(t, 700, res.Matrix.Fx(), 3.5)
	assert.InDelta(t, 700, res.Matrix.Fy(), 3.5)
	assert.InDelta(t, res.Matrix.Fx(), res.Matrix.Fy(), 1e-9, "aspect ratio is fixed")
	assert.InDelta(t, 400, res.Matrix.Cx(), 2)
	assert.InDelta(t, 300, res.Matrix.Cy(), 2)
	assert.InDelta(t, -0.08, res.Distortion.K1, 0.01)
}

func TestSolveKeepsInitialAspectRatio(t *testing.T) {
	in := truth
	in.Matrix = NewCameraMatrix(735, 700, 400, 300)
	object := boardModel()

	res, err := Solve(context.Background(), Problem{
		Object:    object,
		Views:     syntheticViews(in, object),
		ImageSize: geometry.Size{Width: 800, Height: 600},
		Initial:   NewCameraMatrix(1.05, 1, 0, 0),
		Options:   DefaultOptions(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.05, res.Matrix.Fx()/res.Matrix.Fy(), 1e-9)
	assert.Less(t, res.ReprojectionError, 0.01)
}

func TestSolveRejectsDegenerateInput(t *testing.T) {
	object := boardModel()
	collapsed := make([]geometry.Point2D, len(object))
	for i := range collapsed {
		collapsed[i] = geometry.Point2D{X: 100, Y: 100}
	}

	tests := []struct {
		name string
		p    Problem
	}{
		{"no views", Problem{Object: object, ImageSize: geometry.Size{Width: 800, Height: 600}}},
		{"collapsed corners", Problem{
			Object:    object,
			Views:     [][]geometry.Point2D{collapsed, collapsed, collapsed},
			ImageSize: geometry.Size{Width: 800, Height: 600},
		}},
		{"short view", Problem{
			Object:    object,
			Views:     [][]geometry.Point2D{collapsed[:10]},
			ImageSize: geometry.Size{Width: 800, Height: 600},
		}},
		{"no image size", Problem{Object: object, Views: [][]geometry.Point2D{collapsed}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(context.Background(), tt.p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNumericalFailure), "got %v", err)
		})
	}
}

func TestSolveRejectsExcessiveError(t *testing.T) {
	object := boardModel()
	views := syntheticViews(truth, object)
	// Scramble one view so no model can fit it.
	for i := range views[3] {
		views[3][i].X += float64((i*37)%50) - 25
	}

	opts := DefaultOptions()
	opts.MaxReprojectionError = 0.5
	_, err := Solve(context.Background(), Problem{
		Object:    object,
		Views:     views,
		ImageSize: geometry.Size{Width: 800, Height: 600},
		Initial:   GuessCameraMatrix(800, 600),
		Options:   opts,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumericalFailure))
}

func TestSolveHonoursCancellation(t *testing.T) {
	object := boardModel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Solve(ctx, Problem{
		Object:    object,
		Views:     syntheticViews(truth, object),
		ImageSize: geometry.Size{Width: 800, Height: 600},
		Initial:   GuessCameraMatrix(800, 600),
		Options:   DefaultOptions(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFindHomography(t *testing.T) {
	object := boardModel()
	in := Intrinsics{Matrix: truth.Matrix}
	pose := poseAt(in, 400, 300, 500, [3]float64{0.2, -0.1, 0.05})

	img := make([]geometry.Point2D, len(object))
	for i, p := range object {
		img[i] = in.Project(pose, p)
	}

	h, err := FindHomography(object, img)
	require.NoError(t, err)
	for i, p := range object {
		u, v := h.Apply(p.X, p.Y)
		assert.InDelta(t, img[i].X, u, 1e-6)
		assert.InDelta(t, img[i].Y, v, 1e-6)
	}

	_, err = FindHomography(object[:3], img[:3])
	assert.Error(t, err)
}

func TestRodriguesRoundTrip(t *testing.T) {
	for _, v := range [][3]float64{
		{0, 0, 0},
		{0.1, -0.2, 0.3},
		{1.2, 0.4, -0.7},
		{0, math.Pi - 1e-3, 0},
	} {
		got := RotationVector(Rodrigues(v))
		for i := range v {
			assert.InDelta(t, v[i], got[i], 1e-6, "v=%v", v)
		}
	}

	r := Rodrigues([3]float64{0, 0, math.Pi / 2})
	assert.InDelta(t, 0, r[0][0], 1e-12)
	assert.InDelta(t, -1, r[0][1], 1e-12)
	assert.InDelta(t, 1, r[1][0], 1e-12)
}

func TestDistortionApply(t *testing.T) {
	var zero Distortion
	x, y := zero.Apply(0.3, -0.2)
	assert.Equal(t, 0.3, x)
	assert.Equal(t, -0.2, y)

	d := Distortion{K1: 0.1}
	x, y = d.Apply(0.5, 0)
	assert.InDelta(t, 0.5*(1+0.1*0.25), x, 1e-12)
	assert.Equal(t, 0.0, y)

	assert.Equal(t, [5]float64{1, 2, 3, 4, 5}, DistortionFromCoeffs([5]float64{1, 2, 3, 4, 5}).Coeffs())
	assert.Equal(t, Distortion{K1: 1, K2: 2, P1: 3, P2: 4, K3: 5}, DistortionFromCoeffs([5]float64{1, 2, 3, 4, 5}))
}
