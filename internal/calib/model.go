// Package calib implements the pinhole camera model with Brown-Conrady lens
// distortion, the intrinsic calibration solve and the undistortion remap tables.
package calib

import (
	"math"

	"stereo-calib/pkg/geometry"
)

// CameraMatrix is the 3x3 intrinsic matrix
//
//	| fx  0  cx |
//	|  0 fy  cy |
//	|  0  0   1 |
type CameraMatrix [3][3]float64

// NewCameraMatrix builds a zero-skew camera matrix.
func NewCameraMatrix(fx, fy, cx, cy float64) CameraMatrix {
	return CameraMatrix{
		{fx, 0, cx},
		{0, fy, cy},
		{0, 0, 1},
	}
}

// GuessCameraMatrix returns a rough matrix for an uncalibrated sensor: principal
// point at the image centre and a focal length equal to the image width.
func GuessCameraMatrix(width, height int) CameraMatrix {
	f := float64(width)
	return NewCameraMatrix(f, f, float64(width-1)/2, float64(height-1)/2)
}

func (m CameraMatrix) Fx() float64 { return m[0][0] }
func (m CameraMatrix) Fy() float64 { return m[1][1] }
func (m CameraMatrix) Cx() float64 { return m[0][2] }
func (m CameraMatrix) Cy() float64 { return m[1][2] }

// AspectRatio returns fx/fy, or 1 when the matrix has no usable focal lengths.
func (m CameraMatrix) AspectRatio() float64 {
	if m.Fx() <= 0 || m.Fy() <= 0 {
		return 1
	}
	return m.Fx() / m.Fy()
}

// Valid reports whether m has finite, positive focal lengths.
func (m CameraMatrix) Valid() bool {
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return m.Fx() > 0 && m.Fy() > 0
}

// Normalize maps pixel coordinates to the normalized image plane.
func (m CameraMatrix) Normalize(u, v float64) (x, y float64) {
	return (u - m.Cx()) / m.Fx(), (v - m.Cy()) / m.Fy()
}

// Denormalize maps normalized coordinates back to pixels.
func (m CameraMatrix) Denormalize(x, y float64) (u, v float64) {
	return m.Fx()*x + m.Cx(), m.Fy()*y + m.Cy()
}

// Distortion holds Brown-Conrady coefficients in OpenCV order: k1, k2, p1, p2, k3.
type Distortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`
}

// Coeffs returns the coefficients as the conventional 5-vector.
func (d Distortion) Coeffs() [5]float64 {
	return [5]float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// DistortionFromCoeffs is the inverse of Coeffs.
func DistortionFromCoeffs(c [5]float64) Distortion {
	return Distortion{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4]}
}

// IsZero reports whether every coefficient is zero.
func (d Distortion) IsZero() bool {
	return d == Distortion{}
}

// Apply distorts a point on the normalized image plane.
func (d Distortion) Apply(x, y float64) (xd, yd float64) {
	r2 := x*x + y*y
	radial := 1 + r2*(d.K1+r2*(d.K2+r2*d.K3))
	xd = x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd = y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Intrinsics is a camera matrix with its distortion coefficients.
type Intrinsics struct {
	Matrix     CameraMatrix `json:"camera_matrix"`
	Distortion Distortion   `json:"distortion"`
}

// Pose is a rigid board-to-camera transform: Rodrigues rotation vector and translation.
type Pose struct {
	Rotation    [3]float64
	Translation [3]float64
}

// Project maps a board point through pose and the camera model to pixels.
func (in Intrinsics) Project(pose Pose, p geometry.Point3D) geometry.Point2D {
	r := Rodrigues(pose.Rotation)
	return projectWith(in.Matrix.Fx(), in.Matrix.Fy(), in.Matrix.Cx(), in.Matrix.Cy(), in.Distortion, r, pose.Translation, p)
}

func projectWith(fx, fy, cx, cy float64, d Distortion, r [3][3]float64, t [3]float64, p geometry.Point3D) geometry.Point2D {
	xc := r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z + t[0]
	yc := r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z + t[1]
	zc := r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z + t[2]
	if zc != 0 {
		zc = 1 / zc
	}
	xd, yd := d.Apply(xc*zc, yc*zc)
	return geometry.Point2D{X: fx*xd + cx, Y: fy*yd + cy}
}

// Result is the outcome of a successful calibration solve.
type Result struct {
	Matrix            CameraMatrix `json:"camera_matrix"`
	Distortion        Distortion   `json:"distortion"`
	ReprojectionError float64      `json:"reprojection_error"`
	SampleCount       int          `json:"sample_count"`

	// PerViewErrors holds the RMS reprojection error of each accepted view.
	PerViewErrors []float64 `json:"per_view_errors,omitempty"`
}

// Intrinsics returns the solved camera model.
func (r Result) Intrinsics() Intrinsics {
	return Intrinsics{Matrix: r.Matrix, Distortion: r.Distortion}
}
