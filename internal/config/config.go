// Package config holds the capture, gate and solver settings of a calibration run.
package config

import (
	"math"
)

// Pattern geometry of the default 9x6 checkerboard (interior corners).
const (
	DefaultPatternCols = 9
	DefaultPatternRows = 6
)

// Board and sample-set defaults.
const (
	DefaultSquareLengthMm = 24.0
	MinSquareLengthMm     = 1.0
	MaxSquareLengthMm     = 100.0
	DefaultTargetSamples  = 12
)

// Gate thresholds, in pixels. Stability and relocation are per-corner values that are
// multiplied by the corner count before comparing against a displacement sum.
const (
	BoardMovedPixelDist       = 5.0
	BoardNewLocationPixelDist = 100.0
	StraightLineTolerance     = 5.0
)

// Subpixel corner refinement.
const (
	SubPixHalfWindow = 11
	SubPixMaxIter    = 30
	SubPixEpsilon    = 0.1
)

// Solver limits.
const (
	SolverMaxIterations = 30

	// MaxReprojectionError is the RMS error, in pixels, above which a solve is
	// reported as a numerical failure instead of being published.
	MaxReprojectionError = 10.0
)

// Runner defaults.
const (
	DefaultTickIntervalMs   = 33
	DefaultMaxFrameFailures = 90
)

// SolverEpsilon is the convergence threshold of the calibration solve.
var SolverEpsilon = math.Nextafter(1, 2) - 1

// Capture holds the configuration shared by both camera sessions.
type Capture struct {
	SquareLengthMm float64 `json:"square_length_mm"`
	TargetSamples  int     `json:"target_samples"`
	PatternRows    int     `json:"pattern_rows"`
	PatternCols    int     `json:"pattern_cols"`

	StabilityPixels  float64 `json:"stability_pixels"`
	RelocationPixels float64 `json:"relocation_pixels"`
	StraightLinePx   float64 `json:"straight_line_pixels"`

	SolverMaxIterations  int     `json:"solver_max_iterations"`
	MaxReprojectionError float64 `json:"max_reprojection_error"`
}

// Default returns the capture configuration used by the calibration stage.
func Default() Capture {
	return Capture{
		SquareLengthMm: DefaultSquareLengthMm,
		TargetSamples:  DefaultTargetSamples,
		PatternRows:    DefaultPatternRows,
		PatternCols:    DefaultPatternCols,

		StabilityPixels:  BoardMovedPixelDist,
		RelocationPixels: BoardNewLocationPixelDist,
		StraightLinePx:   StraightLineTolerance,

		SolverMaxIterations:  SolverMaxIterations,
		MaxReprojectionError: MaxReprojectionError,
	}
}

// CornerCount returns the number of interior corners of the pattern.
func (c Capture) CornerCount() int {
	return c.PatternRows * c.PatternCols
}

// WithSquareLength returns a copy of c with the square length clamped to the
// supported range.
func (c Capture) WithSquareLength(mm float64) Capture {
	c.SquareLengthMm = ClampSquareLength(mm)
	return c
}

// WithTargetSamples returns a copy of c with a different sample count target.
func (c Capture) WithTargetSamples(n int) Capture {
	if n < 1 {
		n = 1
	}
	c.TargetSamples = n
	return c
}

// WithPattern returns a copy of c for a board with rows x cols interior corners.
func (c Capture) WithPattern(rows, cols int) Capture {
	c.PatternRows = rows
	c.PatternCols = cols
	return c
}

// ClampSquareLength limits mm to [MinSquareLengthMm, MaxSquareLengthMm].
// NaN falls back to the default.
func ClampSquareLength(mm float64) float64 {
	if math.IsNaN(mm) {
		return DefaultSquareLengthMm
	}
	if mm < MinSquareLengthMm {
		return MinSquareLengthMm
	}
	if mm > MaxSquareLengthMm {
		return MaxSquareLengthMm
	}
	return mm
}
