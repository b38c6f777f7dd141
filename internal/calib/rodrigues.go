package calib

import "math"

// Rodrigues converts a rotation vector (axis scaled by angle in radians) to a rotation matrix.
func Rodrigues(v [3]float64) [3][3]float64 {
	theta := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if theta < 1e-12 {
		return [3][3]float64{
			{1, -v[2], v[1]},
			{v[2], 1, -v[0]},
			{-v[1], v[0], 1},
		}
	}

	kx, ky, kz := v[0]/theta, v[1]/theta, v[2]/theta
	c := math.Cos(theta)
	s := math.Sin(theta)
	c1 := 1 - c

	return [3][3]float64{
		{c + kx*kx*c1, kx*ky*c1 - kz*s, kx*kz*c1 + ky*s},
		{ky*kx*c1 + kz*s, c + ky*ky*c1, ky*kz*c1 - kx*s},
		{kz*kx*c1 - ky*s, kz*ky*c1 + kx*s, c + kz*kz*c1},
	}
}

// RotationVector is the inverse of Rodrigues for a proper rotation matrix.
func RotationVector(r [3][3]float64) [3]float64 {
	tr := r[0][0] + r[1][1] + r[2][2]
	cosTheta := (tr - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)

	// Skew-symmetric part, 2*sin(theta)*axis.
	w := [3]float64{
		r[2][1] - r[1][2],
		r[0][2] - r[2][0],
		r[1][0] - r[0][1],
	}

	if theta < 1e-12 {
		return [3]float64{w[0] / 2, w[1] / 2, w[2] / 2}
	}

	s := math.Sin(theta)
	if s > 1e-6 {
		k := theta / (2 * s)
		return [3]float64{w[0] * k, w[1] * k, w[2] * k}
	}

	// theta close to pi: axis from the symmetric part.
	axis := [3]float64{
		math.Sqrt(math.Max(0, (r[0][0]+1)/2)),
		math.Sqrt(math.Max(0, (r[1][1]+1)/2)),
		math.Sqrt(math.Max(0, (r[2][2]+1)/2)),
	}
	if r[0][1]+r[1][0] < 0 {
		axis[1] = -axis[1]
	}
	if r[0][2]+r[2][0] < 0 {
		axis[2] = -axis[2]
	}
	if axis[0] == 0 && r[1][2]+r[2][1] < 0 {
		axis[2] = -axis[2]
	}
	return [3]float64{axis[0] * theta, axis[1] * theta, axis[2] * theta}
}
