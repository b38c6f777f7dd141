package source

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"stereo-calib/internal/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrame(t *testing.T, path string, w, h int, shade byte) {
	t.Helper()
	f := frame.New(w, h)
	for i := range f.Pix {
		f.Pix[i] = shade
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, png.Encode(out, f.ToImage()))
}

func TestDirSubdirectories(t *testing.T) {
	root := t.TempDir()
	writeFrame(t, filepath.Join(root, "left", "000.png"), 8, 6, 10)
	writeFrame(t, filepath.Join(root, "left", "001.png"), 8, 6, 20)
	writeFrame(t, filepath.Join(root, "right", "000.png"), 8, 6, 110)
	writeFrame(t, filepath.Join(root, "right", "001.png"), 8, 6, 120)

	d, err := OpenDir(root, false)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	ctx := context.Background()
	p, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Left.Width)
	assert.Equal(t, 6, p.Left.Height)
	assert.Equal(t, byte(10), p.Left.Pix[0])
	assert.Equal(t, byte(110), p.Right.Pix[0])

	p, err = d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(20), p.Left.Pix[0])

	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestDirFlatNames(t *testing.T) {
	root := t.TempDir()
	writeFrame(t, filepath.Join(root, "cal_left_0.png"), 4, 4, 1)
	writeFrame(t, filepath.Join(root, "cal_right_0.png"), 4, 4, 2)
	writeFrame(t, filepath.Join(root, "notes.png"), 4, 4, 3)
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0o644))

	d, err := OpenDir(root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	p, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(1), p.Left.Pix[0])
	assert.Equal(t, byte(2), p.Right.Pix[0])
}

func TestDirLoop(t *testing.T) {
	root := t.TempDir()
	writeFrame(t, filepath.Join(root, "left", "a.png"), 4, 4, 7)
	writeFrame(t, filepath.Join(root, "right", "a.png"), 4, 4, 8)

	d, err := OpenDir(root, true)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p, err := d.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(7), p.Left.Pix[0])
	}
}

func TestDirCancelled(t *testing.T) {
	root := t.TempDir()
	writeFrame(t, filepath.Join(root, "left", "a.png"), 4, 4, 7)
	writeFrame(t, filepath.Join(root, "right", "a.png"), 4, 4, 8)
	d, err := OpenDir(root, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirEmpty(t *testing.T) {
	_, err := OpenDir(t.TempDir(), false)
	assert.Error(t, err)
}
