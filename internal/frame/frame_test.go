package frame

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, New(4, 3).Validate())

	bad := VideoFrame{Width: 4, Height: 3, Pix: make([]byte, 10)}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameSize))

	assert.Error(t, VideoFrame{}.Validate())
}

func TestFromImageIsBGR(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 4))
	img.Set(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	f := FromImage(img)
	require.NoError(t, f.Validate())

	off := (1*5 + 2) * 3
	assert.Equal(t, []byte{50, 100, 200}, f.Pix[off:off+3])

	back := f.ToImage()
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, back.RGBAAt(2, 1))
}

func TestLoadPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	path := filepath.Join(t.TempDir(), "left_000.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 6, f.Height)
	assert.Equal(t, byte(255), f.Pix[2])

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestGuessSide(t *testing.T) {
	tests := []struct {
		path string
		want Side
		ok   bool
	}{
		{"left_000.png", SideLeft, true},
		{"/data/cal_right_12.tif", SideRight, true},
		{"cam-R.jpg", SideRight, true},
		{"cam_L.png", SideLeft, true},
		{"frame0001.png", SideLeft, false},
	}
	for _, tt := range tests {
		got, err := GuessSide(tt.path)
		if !tt.ok {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestPairGet(t *testing.T) {
	p := Pair{Left: New(2, 2), Right: New(3, 3)}
	assert.Equal(t, 2, p.Get(SideLeft).Width)
	assert.Equal(t, 3, p.Get(SideRight).Width)
	assert.Equal(t, "right", SideRight.String())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("Right")
	require.NoError(t, err)
	assert.Equal(t, SideRight, s)

	s, err = ParseSide("left")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, s)

	_, err = ParseSide("centre")
	assert.Error(t, err)
}
