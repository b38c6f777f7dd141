package capture

import (
	"testing"

	"stereo-calib/internal/config"
	"stereo-calib/internal/pattern"
	"stereo-calib/pkg/geometry"

	"github.com/stretchr/testify/assert"
)

func flatGrid(x0, y0, step float64) pattern.Pattern {
	g := pattern.Geometry{Rows: config.DefaultPatternRows, Cols: config.DefaultPatternCols}
	p := make(pattern.Pattern, 0, g.CornerCount())
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			p = append(p, geometry.Point2D{X: x0 + float64(c)*step, Y: y0 + float64(r)*step})
		}
	}
	return p
}

func shifted(p pattern.Pattern, dx, dy float64) pattern.Pattern {
	out := p.Clone()
	for i := range out {
		out[i].X += dx
		out[i].Y += dy
	}
	return out
}

func TestGateStability(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(100, 100, 20)

	assert.True(t, g.Evaluate(p, nil, nil).Accepted(), "no previous detection")
	assert.True(t, g.Evaluate(p, p, nil).Accepted(), "zero displacement")
	assert.True(t, g.Evaluate(p, shifted(p, 5, 0), nil).Accepted(), "exactly at the limit")

	v := g.Evaluate(p, shifted(p, 5.5, 0), nil)
	assert.Equal(t, CheckStability, v.Failed)
	assert.InDelta(t, 5.5*54, v.Value, 1e-9)
	assert.InDelta(t, 5.0*54, v.Limit, 1e-9)
}

func TestGateStabilityIgnoresHistory(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(100, 100, 20)
	accepted := shifted(p, 300, 200)

	assert.True(t, g.Evaluate(p, p, accepted).Accepted())
}

func TestGateRelocation(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(100, 100, 20)

	v := g.Evaluate(p, p, p)
	assert.Equal(t, CheckRelocation, v.Failed, "same pose as the last accepted sample")

	v = g.Evaluate(p, p, shifted(p, 99, 0))
	assert.Equal(t, CheckRelocation, v.Failed)

	assert.True(t, g.Evaluate(p, p, shifted(p, 100, 0)).Accepted())
	assert.True(t, g.Evaluate(p, p, shifted(p, 60, 80)).Accepted())
}

func TestGateStraightLines(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(100, 100, 20)
	assert.True(t, g.Evaluate(p, nil, nil).Accepted())

	bent := p.Clone()
	// Row 2, column 4: push it 10 px off the row line.
	bent[2*9+4].Y += 10
	v := g.Evaluate(bent, nil, nil)
	assert.Equal(t, CheckStraightLines, v.Failed)
	assert.InDelta(t, 10, v.Value, 1e-9)

	slight := p.Clone()
	slight[2*9+4].Y += 4.9
	assert.True(t, g.Evaluate(slight, nil, nil).Accepted())
}

func TestGateStraightLinesOnRotatedBoard(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(0, 0, 20)
	// Rotate by 30 degrees: rows stay straight, just not horizontal.
	const c, s = 0.8660254037844387, 0.5
	for i := range p {
		x, y := p[i].X, p[i].Y
		p[i] = geometry.Point2D{X: 300 + c*x - s*y, Y: 200 + s*x + c*y}
	}
	assert.True(t, g.Evaluate(p, nil, nil).Accepted())
}

func TestGateShortCircuits(t *testing.T) {
	g := NewGate(config.Default())
	p := flatGrid(100, 100, 20)
	bent := p.Clone()
	bent[4].Y += 10

	// Moving board and bad rows: only the first failing check is reported.
	v := g.Evaluate(bent, shifted(p, 50, 0), nil)
	assert.Equal(t, CheckStability, v.Failed)

	v = g.Evaluate(bent, bent, bent)
	assert.Equal(t, CheckRelocation, v.Failed)
}

func TestBothFull(t *testing.T) {
	assert.False(t, bothFull(0, 0, 12))
	assert.False(t, bothFull(12, 11, 12))
	assert.False(t, bothFull(11, 12, 12))
	assert.True(t, bothFull(12, 12, 12))
}

func TestCheckNames(t *testing.T) {
	assert.Equal(t, "stability", CheckStability.String())
	assert.Equal(t, "relocation", CheckRelocation.String())
	assert.Equal(t, "straight_lines", CheckStraightLines.String())
	assert.Equal(t, "none", Verdict{}.Failed.String())
}
