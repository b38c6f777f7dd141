// Package report renders where on the sensor the accepted calibration
// samples landed, one plot per camera.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"
	"stereo-calib/pkg/colorutil"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Coverage is the input of one camera's coverage plot.
type Coverage struct {
	Side frame.Side

	// Outlines holds four corners per accepted sample, as produced by the
	// capture session overlay.
	Outlines  []geometry.Point2D
	FrameSize geometry.Size

	// Result is optional; when set its principal point and error are drawn.
	Result *calib.Result
}

// Samples returns the number of outlines.
func (c Coverage) Samples() int {
	return len(c.Outlines) / 4
}

// coverageStep is the sampling pitch, in pixels, of Fraction.
const coverageStep = 8

// Fraction returns the share of the frame covered by at least one sample.
func (c Coverage) Fraction() float64 {
	polys := make([][]geometry.Point2D, 0, c.Samples())
	for i := 0; i+3 < len(c.Outlines); i += 4 {
		polys = append(polys, c.Outlines[i:i+4])
	}
	return geometry.CoveredFraction(polys, c.FrameSize, coverageStep)
}

// Plot builds the coverage plot in image coordinates, y pointing down.
func (c Coverage) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s camera: %d samples", c.Side, c.Samples())
	if c.Result != nil {
		p.Title.Text += fmt.Sprintf(", RMS %.3f px", c.Result.ReprojectionError)
	}
	p.X.Label.Text = fmt.Sprintf("x (px), %.0f%% of the frame covered", 100*c.Fraction())
	p.Y.Label.Text = "y (px)"
	p.X.Min, p.X.Max = 0, float64(c.FrameSize.Width)
	p.Y.Min, p.Y.Max = 0, float64(c.FrameSize.Height)
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Add(plotter.NewGrid())

	col := colorutil.ForIndex(int(c.Side))
	for i := 0; i+3 < len(c.Outlines); i += 4 {
		pts := make(plotter.XYs, 0, 5)
		for _, q := range c.Outlines[i : i+4] {
			pts = append(pts, plotter.XY{X: q.X, Y: q.Y})
		}
		pts = append(pts, pts[0])

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "outline %d", i/4)
		}
		line.Color = col
		line.Width = vg.Points(1)
		p.Add(line)
	}

	if c.Result != nil {
		pp, err := plotter.NewScatter(plotter.XYs{{X: c.Result.Matrix.Cx(), Y: c.Result.Matrix.Cy()}})
		if err != nil {
			return nil, errors.Wrap(err, "principal point")
		}
		pp.Color = colorutil.Black
		pp.Radius = vg.Points(3)
		p.Add(pp)
		p.Legend.Add("principal point", pp)
		p.Legend.Top = true
	}
	return p, nil
}

// Save writes the coverage plot as a PNG.
func (c Coverage) Save(path string) error {
	p, err := c.Plot()
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

// WriteAll saves one PNG per camera into dir, named after the run ID, and
// returns the written paths.
func WriteAll(dir, runID string, cov [2]Coverage) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create report dir %s", dir)
	}

	paths := make([]string, 0, len(cov))
	for _, c := range cov {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s_coverage.png", runID, c.Side))
		if err := c.Save(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	logrus.WithField("dir", dir).Infof("wrote %d coverage plots", len(paths))
	return paths, nil
}
