package charts

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/spectrum"
)

// PNG size.
const (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

// ErrNoData is returned when none of the requested series has a finite point.
var ErrNoData = errors.New("no data to plot")

// finiteXYs drops points that plotter.NewLine would reject.
func finiteXYs(x, y []float64) plotter.XYs {
	n := min(len(x), len(y))
	xys := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: x[i], Y: y[i]})
	}
	return xys
}

func pointXYs(pts []history.Point) plotter.XYs {
	x := make([]float64, len(pts))
	y := make([]float64, len(pts))
	for i, p := range pts {
		x[i], y[i] = p.T, p.V
	}
	return finiteXYs(x, y)
}

func addLine(p *plot.Plot, i int, name string, xys plotter.XYs) (bool, error) {
	if len(xys) == 0 {
		return false, nil
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return false, fmt.Errorf("failed to create line %s: %w", name, err)
	}
	line.Color = plotutil.Color(i)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(name, line)
	return true, nil
}

func writePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}

// PlotSeries writes a PNG of the named snapshot series against time
// relative to the snapshot.
func PlotSeries(w io.Writer, s model.Snapshot, names ...string) error {
	p := plot.New()
	p.Title.Text = strings.Join(names, ", ")
	p.X.Label.Text = "t (s)"
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, name := range names {
		ok, err := addLine(p, i, name, pointXYs(s.Series[name]))
		if err != nil {
			return err
		}
		if ok {
			drawn++
		}
	}
	if drawn == 0 {
		return ErrNoData
	}
	return writePNG(w, p)
}

// PlotSpectrum writes a PNG of a normalised power spectrum with its peak
// marked.
func PlotSpectrum(w io.Writer, title string, res *spectrum.Result) error {
	if res == nil {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: peak %.3f Hz, coherence %.2f", title, res.PeakFreq, res.Coherence)
	p.X.Label.Text = "f (Hz)"
	p.Y.Label.Text = "power"
	p.Add(plotter.NewGrid())

	ok, err := addLine(p, 0, "power", finiteXYs(res.Freqs, res.Power))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoData
	}
	peak, err := plotter.NewScatter(plotter.XYs{{X: res.PeakFreq, Y: res.PeakPower}})
	if err != nil {
		return fmt.Errorf("failed to mark peak: %w", err)
	}
	peak.Color = plotutil.Color(1)
	p.Add(peak)
	return writePNG(w, p)
}
