package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stereo-calib/internal/frame"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Dir replays recorded image pairs from disk. It accepts either a directory
// with left/ and right/ subdirectories, or a flat directory whose file names
// tell the side apart (see frame.GuessSide). Pairs are matched by sorted name.
type Dir struct {
	root  string
	left  []string
	right []string
	next  int
	loop  bool
}

// OpenDir scans root for image pairs. With loop set, the replay restarts
// after the last pair instead of ending the stream.
func OpenDir(root string, loop bool) (*Dir, error) {
	d := &Dir{root: root, loop: loop}

	leftDir := filepath.Join(root, "left")
	rightDir := filepath.Join(root, "right")
	if isDir(leftDir) && isDir(rightDir) {
		var err error
		if d.left, err = listImages(leftDir); err != nil {
			return nil, err
		}
		if d.right, err = listImages(rightDir); err != nil {
			return nil, err
		}
	} else {
		files, err := listImages(root)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			side, err := frame.GuessSide(path)
			if err != nil {
				logrus.WithField("file", filepath.Base(path)).Debug("skipping file without side")
				continue
			}
			if side == frame.SideLeft {
				d.left = append(d.left, path)
			} else {
				d.right = append(d.right, path)
			}
		}
	}

	if len(d.left) != len(d.right) {
		logrus.WithFields(logrus.Fields{
			"dir":   root,
			"left":  len(d.left),
			"right": len(d.right),
		}).Warn("unequal number of left and right images, extra images ignored")
	}
	if d.Len() == 0 {
		return nil, errors.Errorf("no stereo image pairs in %s", root)
	}
	return d, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of complete pairs.
func (d *Dir) Len() int {
	return min(len(d.left), len(d.right))
}

// Next loads the next pair from disk.
func (d *Dir) Next(ctx context.Context) (frame.Pair, error) {
	if err := ctx.Err(); err != nil {
		return frame.Pair{}, err
	}
	if d.next >= d.Len() {
		if !d.loop {
			return frame.Pair{}, ErrEndOfStream
		}
		d.next = 0
	}
	i := d.next
	d.next++

	left, err := frame.Load(d.left[i])
	if err != nil {
		return frame.Pair{}, err
	}
	right, err := frame.Load(d.right[i])
	if err != nil {
		return frame.Pair{}, err
	}
	return frame.Pair{Left: left, Right: right}, nil
}

// Rewind restarts the replay at the first pair.
func (d *Dir) Rewind() {
	d.next = 0
}

// Close implements Source.
func (d *Dir) Close() error {
	return nil
}
