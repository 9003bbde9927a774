// Package charts renders debug views of a model snapshot: an interactive
// go-echarts page and static gonum/plot PNGs.
package charts

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/hrv.report/internal/history"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/spectrum"
)

// AssetsHost serves the echarts javascript.
const AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Discs holds the breath and pacer disc outlines drawn next to each other.
type Discs struct {
	BreathX, BreathY []float64
	PacerX, PacerY   []float64
}

// DiscsOf reads both discs from m. rate <= 0 uses the model's pacing rate.
func DiscsOf(m *model.Model, rate float64) Discs {
	var d Discs
	d.BreathX, d.BreathY = m.BreathDisc()
	d.PacerX, d.PacerY = m.PacerDisc(rate)
	return d
}

func xyData(pts []history.Point) []opts.LineData {
	data := make([]opts.LineData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.LineData{Value: []interface{}{p.T, p.V}})
	}
	return data
}

func pairData(x, y []float64) []opts.LineData {
	n := min(len(x), len(y))
	data := make([]opts.LineData, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, opts.LineData{Value: []interface{}{x[i], y[i]}})
	}
	return data
}

func newLine(title, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, Scale: opts.Bool(true)}),
	)
	return line
}

func seriesOpts() charts.SeriesOpts {
	return charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
}

func timeSeriesChart(s model.Snapshot, title, yName string, names ...string) *charts.Line {
	line := newLine(title, "", yName)
	for _, name := range names {
		line.AddSeries(name, xyData(s.Series[name]), seriesOpts())
	}
	return line
}

func chestChart(s model.Snapshot) *charts.Line {
	line := timeSeriesChart(s, "Chest expansion", "expansion", model.SeriesChest)
	markers := make([]opts.LineData, 0, len(s.BreathMarkers))
	for _, p := range s.BreathMarkers {
		markers = append(markers, opts.LineData{Value: []interface{}{p.T, p.V}})
	}
	line.AddSeries("breaths", markers,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), Symbol: "circle", SymbolSize: 8}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 0}),
	)
	return line
}

func spectrumChart(title string, res *spectrum.Result) *charts.Line {
	subtitle := "not enough data"
	if res != nil {
		subtitle = fmt.Sprintf("peak %.3f Hz, coherence %.2f", res.PeakFreq, res.Coherence)
	}
	line := newLine(title, subtitle, "power")
	line.SetGlobalOptions(charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "f (Hz)", NameLocation: "middle", NameGap: 25}))
	if res != nil {
		line.AddSeries("power", pairData(res.Freqs, res.Power),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Step: "middle"}),
			charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}),
		)
	}
	return line
}

func discChart(d Discs) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "480px", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Breath and pacer"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -1.2, Max: 1.2}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -1.2, Max: 1.2}),
	)
	line.AddSeries("pacer", pairData(d.PacerX, d.PacerY), seriesOpts())
	line.AddSeries("breath", pairData(d.BreathX, d.BreathY), seriesOpts())
	return line
}

// RenderDashboard writes an HTML page charting s and the discs in d.
func RenderDashboard(w io.Writer, s model.Snapshot, d Discs) error {
	page := components.NewPage()
	page.SetPageTitle("HRV debug").SetAssetsHost(AssetsHost)
	page.AddCharts(
		chestChart(s),
		timeSeriesChart(s, "Breathing rate", "breaths/min", model.SeriesBreathingRate),
		timeSeriesChart(s, "Heart rate", "bpm", model.SeriesHeartRate),
		timeSeriesChart(s, "Interbeat interval", "ms", model.SeriesIBI, model.SeriesHRV),
		timeSeriesChart(s, "Per-breath HRV", "ms", model.SeriesRMSSD, model.SeriesMaxMin, model.SeriesSDNN),
		timeSeriesChart(s, "pNN50 and coherence", "", model.SeriesPNN50, model.SeriesCoherence),
		spectrumChart("Breath spectrum", s.BreathSpectrum),
		spectrumChart("Heart rate spectrum", s.HRSpectrum),
		discChart(d),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}
	return nil
}
