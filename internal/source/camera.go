package source

import (
	"context"
	"image"

	"stereo-calib/internal/frame"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Exposure and gain applied while samples are collected, restored afterwards.
const (
	CaptureExposure = 128
	CaptureGain     = 128
)

// Camera reads side-by-side stereo frames from a video device. The left half
// of each frame belongs to the left camera.
type Camera struct {
	device int
	vc     *gocv.VideoCapture

	raw   gocv.Mat
	bgr   gocv.Mat
	left  gocv.Mat
	right gocv.Mat

	saved map[gocv.VideoCaptureProperties]float64
}

// OpenCamera opens device and requests frames of twice size.Width, one
// section per camera. A zero size keeps the device default.
func OpenCamera(device int, size geometry.Size) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video device %d", device)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Errorf("video device %d is not available", device)
	}
	if size.Width > 0 && size.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(2*size.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(size.Height))
	}

	logrus.WithFields(logrus.Fields{
		"device": device,
		"width":  vc.Get(gocv.VideoCaptureFrameWidth),
		"height": vc.Get(gocv.VideoCaptureFrameHeight),
	}).Info("video device opened")

	return &Camera{
		device: device,
		vc:     vc,
		raw:    gocv.NewMat(),
		bgr:    gocv.NewMat(),
		left:   gocv.NewMat(),
		right:  gocv.NewMat(),
	}, nil
}

// Next grabs one frame and splits it into the left and right sections.
func (c *Camera) Next(ctx context.Context) (frame.Pair, error) {
	if err := ctx.Err(); err != nil {
		return frame.Pair{}, err
	}
	if !c.vc.Read(&c.raw) || c.raw.Empty() {
		return frame.Pair{}, ErrNoFrame
	}

	src := c.raw
	if c.raw.Channels() == 1 {
		gocv.CvtColor(c.raw, &c.bgr, gocv.ColorGrayToBGR)
		src = c.bgr
	}

	half := src.Cols() / 2
	rows := src.Rows()
	if half == 0 {
		return frame.Pair{}, ErrNoFrame
	}

	left, err := section(src, image.Rect(0, 0, half, rows), &c.left)
	if err != nil {
		return frame.Pair{}, err
	}
	right, err := section(src, image.Rect(half, 0, 2*half, rows), &c.right)
	if err != nil {
		return frame.Pair{}, err
	}
	return frame.Pair{Left: left, Right: right}, nil
}

// section copies one rectangle of src into a continuous buffer.
func section(src gocv.Mat, r image.Rectangle, dst *gocv.Mat) (frame.VideoFrame, error) {
	region := src.Region(r)
	defer region.Close()
	region.CopyTo(dst)

	f := frame.VideoFrame{Width: r.Dx(), Height: r.Dy(), Pix: dst.ToBytes()}
	if err := f.Validate(); err != nil {
		return frame.VideoFrame{}, err
	}
	return f, nil
}

// BeginCapture switches the device to the fixed capture exposure and gain,
// remembering the previous values.
func (c *Camera) BeginCapture() error {
	if c.saved != nil {
		return nil
	}
	c.saved = make(map[gocv.VideoCaptureProperties]float64, 2)
	for prop, val := range map[gocv.VideoCaptureProperties]float64{
		gocv.VideoCaptureExposure: CaptureExposure,
		gocv.VideoCaptureGain:     CaptureGain,
	} {
		c.saved[prop] = c.vc.Get(prop)
		c.vc.Set(prop, val)
	}
	logrus.WithField("device", c.device).Debug("capture exposure applied")
	return nil
}

// EndCapture restores the settings saved by BeginCapture.
func (c *Camera) EndCapture() error {
	if c.saved == nil {
		return nil
	}
	for prop, val := range c.saved {
		c.vc.Set(prop, val)
	}
	c.saved = nil
	logrus.WithField("device", c.device).Debug("device exposure restored")
	return nil
}

// Close restores the device settings and releases the device.
func (c *Camera) Close() error {
	c.EndCapture()
	c.raw.Close()
	c.bgr.Close()
	c.left.Close()
	c.right.Close()
	return c.vc.Close()
}
