package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/hrv.report/internal/charts"
	"github.com/banshee-data/hrv.report/internal/httputil"
)

// attachDebugRoutes mounts the chart views under /debug/.
func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("charts", "Live charts of every series and both spectra", s.handleCharts)
	debug.HandleSilentFunc("plot.png", s.handlePlot)
}

// handleCharts renders the go-echarts dashboard. ?rate= overrides the pacer
// disc rate.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	var rate float64
	if v := r.URL.Query().Get("rate"); v != "" {
		parsed, err := parseRate(v)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		rate = parsed
	}

	var buf bytes.Buffer
	if err := charts.RenderDashboard(&buf, s.model.Snapshot(), charts.DiscsOf(s.model, rate)); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePlot renders a PNG of ?series=a,b or of ?spectrum=breath|hr.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap := s.model.Snapshot()

	var buf bytes.Buffer
	var err error
	switch kind := q.Get("spectrum"); {
	case kind == "breath":
		err = charts.PlotSpectrum(&buf, "Breath", snap.BreathSpectrum)
	case kind == "hr":
		err = charts.PlotSpectrum(&buf, "Heart rate", snap.HRSpectrum)
	case kind != "":
		httputil.NotFound(w, fmt.Sprintf("unknown spectrum %q", kind))
		return
	default:
		names := strings.Split(q.Get("series"), ",")
		for _, name := range names {
			if _, ok := s.model.Series(name); !ok {
				httputil.NotFound(w, fmt.Sprintf("unknown series %q", name))
				return
			}
		}
		err = charts.PlotSeries(&buf, snap, names...)
	}
	if errors.Is(err, charts.ErrNoData) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
