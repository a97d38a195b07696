package accuracy

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Plot draws every (tract, control) pair of fits as a point, marginal on x
// and allocated on y, with the y = x line, and saves it as a PNG.
func Plot(fits []TractFit, path string) error {
	p := plot.New()
	p.Title.Text = "Allocated vs marginal controls"
	p.X.Label.Text = "Marginal"
	p.Y.Label.Text = "Allocated"

	var pts plotter.XYs
	top := 0.0
	for _, f := range fits {
		for k := range f.Marginal {
			pts = append(pts, plotter.XY{X: f.Marginal[k], Y: f.Allocated[k]})
			top = math.Max(top, math.Max(f.Marginal[k], f.Allocated[k]))
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("no tract controls to plot")
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("creating scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{G: 100, B: 200, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(3)

	line, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: top, Y: top}})
	if err != nil {
		return fmt.Errorf("creating identity line: %w", err)
	}
	line.LineStyle.Width = vg.Points(1)
	line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
	line.LineStyle.Color = color.RGBA{R: 255, A: 255}

	p.Add(plotter.NewGrid(), scatter, line)

	canvas, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("rendering plot: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plot file: %w", err)
	}
	defer f.Close()
	if _, err := canvas.WriteTo(f); err != nil {
		return fmt.Errorf("writing plot: %w", err)
	}
	return f.Close()
}
