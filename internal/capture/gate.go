package capture

import (
	"stereo-calib/internal/config"
	"stereo-calib/internal/pattern"
	"stereo-calib/pkg/geometry"
)

// Check names one stage of the sample gate.
type Check int

const (
	CheckNone Check = iota
	CheckStability
	CheckRelocation
	CheckStraightLines
)

func (c Check) String() string {
	switch c {
	case CheckStability:
		return "stability"
	case CheckRelocation:
		return "relocation"
	case CheckStraightLines:
		return "straight_lines"
	default:
		return "none"
	}
}

// Verdict is the gate's decision for one detection. Failed is CheckNone when
// the pattern passed every check.
type Verdict struct {
	Failed Check
	Value  float64
	Limit  float64
}

// Accepted reports whether every check passed.
func (v Verdict) Accepted() bool {
	return v.Failed == CheckNone
}

// Gate decides whether a detection is usable as a calibration sample. Checks
// run in order and stop at the first failure.
type Gate struct {
	Geometry         pattern.Geometry
	StabilityPixels  float64
	RelocationPixels float64
	StraightLinePx   float64
}

// NewGate builds a gate from the capture configuration.
func NewGate(cfg config.Capture) Gate {
	return Gate{
		Geometry:         pattern.Geometry{Rows: cfg.PatternRows, Cols: cfg.PatternCols},
		StabilityPixels:  cfg.StabilityPixels,
		RelocationPixels: cfg.RelocationPixels,
		StraightLinePx:   cfg.StraightLinePx,
	}
}

// Evaluate runs the checks on next against the session's previous detection
// and its last accepted sample. Either may be nil.
func (g Gate) Evaluate(next, current, lastAccepted pattern.Pattern) Verdict {
	n := float64(g.Geometry.CornerCount())

	// The board must be held still between ticks.
	if current != nil {
		moved := pattern.DisplacementSum(next, current)
		if limit := g.StabilityPixels * n; moved > limit {
			return Verdict{Failed: CheckStability, Value: moved, Limit: limit}
		}
	}

	// Each sample must be a materially different pose from the previous one.
	if lastAccepted != nil {
		moved := pattern.DisplacementSum(next, lastAccepted)
		if limit := g.RelocationPixels * n; moved < limit {
			return Verdict{Failed: CheckRelocation, Value: moved, Limit: limit}
		}
	}

	if worst := g.worstRowDeviation(next); worst > g.StraightLinePx {
		return Verdict{Failed: CheckStraightLines, Value: worst, Limit: g.StraightLinePx}
	}
	return Verdict{}
}

// worstRowDeviation returns the largest distance of an interior corner from
// the line through its row's end corners.
func (g Gate) worstRowDeviation(p pattern.Pattern) float64 {
	var worst float64
	for row := 0; row < g.Geometry.Rows; row++ {
		start := p.At(g.Geometry, row, 0)
		end := p.At(g.Geometry, row, g.Geometry.Cols-1)
		for col := 1; col < g.Geometry.Cols-1; col++ {
			d := geometry.DistanceToLine(start, end, p.At(g.Geometry, row, col))
			if d > worst {
				worst = d
			}
		}
	}
	return worst
}
