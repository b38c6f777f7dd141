package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroDistortionIsIdentity(t *testing.T) {
	dm := BuildDistortionMap(NewCameraMatrix(90, 90, 31.5, 23.5), Distortion{}, 64, 48)

	require.Len(t, dm.X, 64*48)
	require.Len(t, dm.Y, 64*48)
	assert.True(t, dm.IsIdentity())

	x, y := dm.At(10, 20)
	assert.Equal(t, float32(10), x)
	assert.Equal(t, float32(20), y)
}

func TestDistortionMapFollowsModel(t *testing.T) {
	k := NewCameraMatrix(80, 80, 32, 24)
	d := Distortion{K1: -0.2, P2: 0.01}
	dm := BuildDistortionMap(k, d, 64, 48)

	assert.False(t, dm.IsIdentity())

	// Principal point is a fixed point of the radial and tangential terms.
	x, y := dm.At(32, 24)
	assert.InDelta(t, 32, x, 1e-4)
	assert.InDelta(t, 24, y, 1e-4)

	nx, ny := k.Normalize(0, 0)
	dx, dy := d.Apply(nx, ny)
	u, v := k.Denormalize(dx, dy)
	x, y = dm.At(0, 0)
	assert.InDelta(t, u, float64(x), 1e-3)
	assert.InDelta(t, v, float64(y), 1e-3)

	// Barrel distortion pulls corners toward the centre.
	assert.Greater(t, x, float32(0))
	assert.Greater(t, y, float32(0))
}

func TestBuildIntoReusesTables(t *testing.T) {
	k := NewCameraMatrix(80, 80, 32, 24)
	dm := BuildDistortionMap(k, Distortion{K1: 0.1}, 64, 48)
	before := &dm.X[0]

	dm.BuildInto(k, Distortion{}, 32, 24)
	assert.Equal(t, 32, dm.Width)
	assert.Equal(t, 24, dm.Height)
	assert.Len(t, dm.X, 32*24)
	assert.Same(t, before, &dm.X[0])
	assert.True(t, dm.IsIdentity())
}
