// Package frame provides the raw stereo video frames fed to the calibration engine,
// plus conversion from decoded images.
package frame

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff"
)

// ErrFrameSize is returned when a frame's pixel buffer does not match its dimensions.
var ErrFrameSize = errors.New("frame buffer does not match dimensions")

// Side identifies one camera of the stereo rig.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Sides lists both cameras in processing order.
var Sides = [2]Side{SideLeft, SideRight}

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "left":
		return SideLeft, nil
	case "right":
		return SideRight, nil
	}
	return SideLeft, errors.Errorf("unknown camera side %q", s)
}

// VideoFrame is a BGR 3-channel image, row-major, 8 bits per channel.
// The engine does not retain it past the tick it was delivered in.
type VideoFrame struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a black frame of the given size.
func New(width, height int) VideoFrame {
	return VideoFrame{Width: width, Height: height, Pix: make([]byte, width*height*3)}
}

// Validate checks that Pix holds exactly Width*Height*3 bytes.
func (f VideoFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrFrameSize, "%dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height*3 {
		return errors.Wrapf(ErrFrameSize, "%dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	return nil
}

// Size returns the frame dimensions.
func (f VideoFrame) Size() geometry.Size {
	return geometry.Size{Width: f.Width, Height: f.Height}
}

// Pair holds the simultaneous frames of both cameras.
type Pair struct {
	Left  VideoFrame
	Right VideoFrame
}

// Get returns the frame for side s.
func (p Pair) Get(s Side) VideoFrame {
	if s == SideRight {
		return p.Right
	}
	return p.Left
}

// FromImage converts img to a BGR VideoFrame (parallelized by row stripes).
func FromImage(img image.Image) VideoFrame {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	f := New(width, height)

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
				row := y * width * 3
				for x := 0; x < width; x++ {
					r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
					off := row + x*3
					f.Pix[off+0] = uint8(b >> 8)
					f.Pix[off+1] = uint8(g >> 8)
					f.Pix[off+2] = uint8(r >> 8)
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return f
}

// ToImage converts f to an RGBA image.
func (f VideoFrame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := y*img.Stride + x*4
			img.Pix[dst+0] = f.Pix[src+2]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+0]
			img.Pix[dst+3] = 255
		}
	}
	return img
}

// Load decodes an image file (PNG, JPEG or TIFF) into a VideoFrame.
func Load(path string) (VideoFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return VideoFrame{}, errors.Wrap(err, "failed to open image")
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return VideoFrame{}, errors.Wrapf(err, "failed to decode image %s", filepath.Base(path))
	}
	return FromImage(img), nil
}

// GuessSide infers the camera side from a file name, such as "left_003.png" or "cam_R.tif".
func GuessSide(path string) (Side, error) {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})

	for _, tok := range tokens {
		switch tok {
		case "left", "l":
			return SideLeft, nil
		case "right", "r":
			return SideRight, nil
		}
	}
	return SideLeft, errors.Errorf("cannot tell camera side from %q", filepath.Base(path))
}
