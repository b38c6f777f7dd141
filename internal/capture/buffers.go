package capture

import (
	"image/color"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// PreviewMode selects which ingest buffer is shown to the operator.
type PreviewMode int

const (
	PreviewBGR PreviewMode = iota
	PreviewGrayscale
	PreviewUndistorted
)

func (m PreviewMode) String() string {
	switch m {
	case PreviewGrayscale:
		return "grayscale"
	case PreviewUndistorted:
		return "undistorted"
	default:
		return "bgr"
	}
}

// ParsePreviewMode is the inverse of PreviewMode.String. Unknown names select PreviewBGR.
func ParsePreviewMode(s string) PreviewMode {
	switch s {
	case "grayscale", "gray":
		return PreviewGrayscale
	case "undistorted":
		return PreviewUndistorted
	default:
		return PreviewBGR
	}
}

// Buffers is the per-session scratch storage for frame ingest. Every Mat is
// allocated once per resolution and overwritten in place on each Apply.
type Buffers struct {
	width  int
	height int

	raw         gocv.Mat
	gray        gocv.Mat
	grayBGR     gocv.Mat
	undistorted gocv.Mat
	mapX        gocv.Mat
	mapY        gocv.Mat
}

// NewBuffers allocates ingest buffers for width x height frames.
func NewBuffers(width, height int) *Buffers {
	b := &Buffers{}
	b.alloc(width, height)
	return b
}

func (b *Buffers) alloc(width, height int) {
	b.width = width
	b.height = height
	b.raw = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	b.gray = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	b.grayBGR = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	b.undistorted = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	b.mapX = gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
	b.mapY = gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
}

// Size returns the frame size the buffers are allocated for.
func (b *Buffers) Size() geometry.Size {
	return geometry.Size{Width: b.width, Height: b.height}
}

// Fits reports whether f can be ingested without reallocating.
func (b *Buffers) Fits(f frame.VideoFrame) bool {
	return f.Width == b.width && f.Height == b.height
}

// Resize releases the current buffers and allocates new ones. The distortion
// map must be reloaded afterwards.
func (b *Buffers) Resize(width, height int) {
	if width == b.width && height == b.height {
		return
	}
	b.Close()
	b.alloc(width, height)
}

// LoadMap copies the remap tables into the map Mats.
func (b *Buffers) LoadMap(dm calib.DistortionMap) error {
	if dm.Width != b.width || dm.Height != b.height {
		return errors.Wrapf(frame.ErrFrameSize, "map %dx%d for buffers %dx%d", dm.Width, dm.Height, b.width, b.height)
	}
	xs, err := b.mapX.DataPtrFloat32()
	if err != nil {
		return errors.Wrap(err, "map x")
	}
	ys, err := b.mapY.DataPtrFloat32()
	if err != nil {
		return errors.Wrap(err, "map y")
	}
	copy(xs, dm.X)
	copy(ys, dm.Y)
	return nil
}

// Apply ingests one frame: raw copy, grayscale, gray preview and undistorted preview.
func (b *Buffers) Apply(f frame.VideoFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !b.Fits(f) {
		return errors.Wrapf(frame.ErrFrameSize, "frame %dx%d for buffers %dx%d", f.Width, f.Height, b.width, b.height)
	}

	pix, err := b.raw.DataPtrUint8()
	if err != nil {
		return errors.Wrap(err, "raw buffer")
	}
	copy(pix, f.Pix)

	gocv.CvtColor(b.raw, &b.gray, gocv.ColorBGRToGray)
	gocv.CvtColor(b.gray, &b.grayBGR, gocv.ColorGrayToBGR)
	gocv.Remap(b.raw, &b.undistorted, &b.mapX, &b.mapY, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return nil
}

// Gray returns the grayscale buffer used for pattern detection.
func (b *Buffers) Gray() gocv.Mat {
	return b.gray
}

// Preview returns the buffer for a display mode.
func (b *Buffers) Preview(mode PreviewMode) gocv.Mat {
	switch mode {
	case PreviewGrayscale:
		return b.grayBGR
	case PreviewUndistorted:
		return b.undistorted
	default:
		return b.raw
	}
}

// EncodePNG encodes the preview buffer for mode.
func (b *Buffers) EncodePNG(mode PreviewMode) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, b.Preview(mode))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode preview")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases every Mat.
func (b *Buffers) Close() error {
	for _, m := range []*gocv.Mat{&b.raw, &b.gray, &b.grayBGR, &b.undistorted, &b.mapX, &b.mapY} {
		if err := m.Close(); err != nil {
			return err
		}
	}
	return nil
}
