package pattern

import (
	"image"

	"stereo-calib/internal/config"
	"stereo-calib/pkg/geometry"

	"gocv.io/x/gocv"
)

// Detector finds a full checkerboard pattern in a grayscale image.
type Detector interface {
	// Detect returns the refined corners, or false when no complete pattern is visible.
	Detect(gray gocv.Mat) (Pattern, bool)
}

// DetectorParams configures the chessboard search and subpixel refinement.
type DetectorParams struct {
	Flags         gocv.CalibCBFlag
	HalfWindow    int
	MaxIterations int
	Epsilon       float64
}

// DefaultDetectorParams returns the search settings used during capture.
// Image normalization is left off: it is far too slow for per-frame use.
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		Flags:         gocv.CalibCBAdaptiveThresh | gocv.CalibCBFilterQuads | gocv.CalibCBFastCheck,
		HalfWindow:    config.SubPixHalfWindow,
		MaxIterations: config.SubPixMaxIter,
		Epsilon:       config.SubPixEpsilon,
	}
}

// ChessboardDetector is the OpenCV-backed Detector. It reuses one corner Mat
// between calls and must be closed.
type ChessboardDetector struct {
	geom    Geometry
	params  DetectorParams
	corners gocv.Mat
}

// NewChessboardDetector creates a detector for boards of geometry g.
func NewChessboardDetector(g Geometry, params DetectorParams) *ChessboardDetector {
	return &ChessboardDetector{
		geom:    g,
		params:  params,
		corners: gocv.NewMat(),
	}
}

// Geometry returns the board geometry the detector searches for.
func (d *ChessboardDetector) Geometry() Geometry {
	return d.geom
}

// Detect implements Detector.
func (d *ChessboardDetector) Detect(gray gocv.Mat) (Pattern, bool) {
	if gray.Empty() {
		return nil, false
	}

	if !gocv.FindChessboardCorners(gray, d.geom.Size(), &d.corners, d.params.Flags) {
		return nil, false
	}
	if d.corners.Rows()*d.corners.Cols() != d.geom.CornerCount() {
		return nil, false
	}

	win := image.Point{X: d.params.HalfWindow, Y: d.params.HalfWindow}
	zeroZone := image.Point{X: -1, Y: -1}
	criteria := gocv.NewTermCriteria(gocv.Count+gocv.EPS, d.params.MaxIterations, d.params.Epsilon)
	gocv.CornerSubPix(gray, &d.corners, win, zeroZone, criteria)

	data, err := d.corners.DataPtrFloat32()
	if err != nil || len(data) != 2*d.geom.CornerCount() {
		return nil, false
	}

	pts := make([]geometry.Point2D, d.geom.CornerCount())
	for i := range pts {
		pts[i] = geometry.Point2D{X: float64(data[2*i]), Y: float64(data[2*i+1])}
	}
	return New(d.geom, pts)
}

// Close releases the detector's OpenCV resources.
func (d *ChessboardDetector) Close() error {
	return d.corners.Close()
}
