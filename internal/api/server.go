// Package api serves the live model and recorded sessions over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/hrv.report/internal/db"
	"github.com/banshee-data/hrv.report/internal/httputil"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/pacer"
	"github.com/banshee-data/hrv.report/internal/serialmux"
	"github.com/banshee-data/hrv.report/internal/spectrum"
	"github.com/banshee-data/hrv.report/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	model *model.Model
	link  serialmux.SerialMuxInterface
	db    *db.DB
}

// NewServer serves m. link receives commands posted to /command and may be
// nil; database serves the session endpoints and may be nil.
func NewServer(m *model.Model, link serialmux.SerialMuxInterface, database *db.DB) *Server {
	return &Server{
		model: m,
		link:  link,
		db:    database,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /command", s.sendCommandHandler)
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/metrics", s.showMetrics)
	mux.HandleFunc("GET /api/snapshot", s.showSnapshot)
	mux.HandleFunc("GET /api/device", s.showDevice)
	mux.HandleFunc("GET /api/series", s.listSeries)
	mux.HandleFunc("GET /api/series/{name}", s.showSeries)
	mux.HandleFunc("GET /api/spectrum/{kind}", s.showSpectrum)
	mux.HandleFunc("GET /api/disc/breath", s.showBreathDisc)
	mux.HandleFunc("GET /api/disc/pacer", s.showPacerDisc)
	mux.HandleFunc("GET /api/pacing", s.showPacing)
	mux.HandleFunc("PUT /api/pacing", s.updatePacing)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("GET /api/sessions/{id}/breaths", s.listBreaths)
	mux.HandleFunc("GET /api/sessions/{id}/spectra", s.listSpectra)
	s.attachDebugRoutes(mux)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if s.link == nil {
		http.Error(w, "No sensor link", http.StatusServiceUnavailable)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}

	if err := s.link.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.model.Metrics())
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.model.Snapshot())
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"connected": s.model.Connected(),
		"device":    s.model.Device(),
	})
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, model.SeriesNames())
}

// showSeries returns the named history relative to now. ?since=-30 keeps
// only the last 30 seconds.
func (s *Server) showSeries(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	b, ok := s.model.Series(name)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown series %q", name))
		return
	}

	since := math.Inf(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed > 0 || math.IsNaN(parsed) {
			httputil.BadRequest(w, "invalid 'since' parameter")
			return
		}
		since = parsed
	}

	now := s.model.Metrics().Time
	points := b.Points(now)
	start := 0
	for start < len(points) && points[start].T < since {
		start++
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"name":    name,
		"t":       now,
		"points":  points[start:],
		"markers": b.MarkerPoints(now),
	})
}

func (s *Server) showSpectrum(w http.ResponseWriter, r *http.Request) {
	snap := s.model.Snapshot()
	switch kind := r.PathValue("kind"); kind {
	case "breath":
		writeSpectrum(w, kind, snap.BreathSpectrum)
	case "hr":
		writeSpectrum(w, kind, snap.HRSpectrum)
	default:
		httputil.NotFound(w, fmt.Sprintf("unknown spectrum %q", kind))
	}
}

func writeSpectrum(w http.ResponseWriter, kind string, res *spectrum.Result) {
	if res == nil {
		httputil.NotFound(w, kind+" spectrum not computed yet")
		return
	}
	httputil.WriteJSONOK(w, res)
}

type disc struct {
	Rate float64   `json:"rate,omitempty"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

func (s *Server) showBreathDisc(w http.ResponseWriter, r *http.Request) {
	x, y := s.model.BreathDisc()
	httputil.WriteJSONOK(w, disc{X: x, Y: y})
}

func checkRate(rate float64) error {
	if math.IsNaN(rate) || rate < pacer.MinRate || rate > pacer.MaxRate {
		return fmt.Errorf("rate must be between %g and %g breaths per minute", pacer.MinRate, pacer.MaxRate)
	}
	return nil
}

func parseRate(v string) (float64, error) {
	rate, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q", v)
	}
	return rate, checkRate(rate)
}

func (s *Server) showPacerDisc(w http.ResponseWriter, r *http.Request) {
	var rate float64
	if v := r.URL.Query().Get("rate"); v != "" {
		parsed, err := parseRate(v)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		rate = parsed
	}
	x, y := s.model.PacerDisc(rate)
	if rate == 0 {
		rate = s.model.PacingRate()
	}
	httputil.WriteJSONOK(w, disc{Rate: rate, X: x, Y: y})
}

type pacingRequest struct {
	Rate float64 `json:"rate"`
}

func (s *Server) showPacing(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, pacingRequest{Rate: s.model.PacingRate()})
}

// updatePacing sets the guide rate. A rate of 0 clears it.
func (s *Server) updatePacing(w http.ResponseWriter, r *http.Request) {
	var req pacingRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Rate != 0 {
		if err := checkRate(req.Rate); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	s.model.SetPacingRate(req.Rate)
	httputil.WriteJSONOK(w, pacingRequest{Rate: s.model.PacingRate()})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "session recording is disabled")
		return false
	}
	return true
}

func (s *Server) writeDBError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	monitoring.Logf("api: %v", err)
	httputil.InternalServerError(w, "failed to read sessions")
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	sessions, err := s.db.Sessions(r.Context())
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	session, err := s.db.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	httputil.WriteJSONOK(w, session)
}

func (s *Server) listBreaths(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.db.Session(r.Context(), id); err != nil {
		s.writeDBError(w, err)
		return
	}
	breaths, err := s.db.Breaths(r.Context(), id)
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	if breaths == nil {
		breaths = []db.BreathRow{}
	}
	httputil.WriteJSONOK(w, breaths)
}

func (s *Server) listSpectra(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.db.Session(r.Context(), id); err != nil {
		s.writeDBError(w, err)
		return
	}
	spectra, err := s.db.Spectra(r.Context(), id)
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	if spectra == nil {
		spectra = []db.SpectraRow{}
	}
	httputil.WriteJSONOK(w, spectra)
}
