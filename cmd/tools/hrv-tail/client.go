package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/banshee-data/hrv.report/internal/model"
)

type apiError struct {
	Error string `json:"error"`
}

// Client reads a running hrv server's HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Metrics fetches the latest metrics.
func (c *Client) Metrics(ctx context.Context) (model.Metrics, error) {
	var m model.Metrics
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&m).
		SetError(&apiErr).
		Get("/api/metrics")
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return model.Metrics{}, fmt.Errorf("server returned %s: %s", resp.Status(), apiErr.Error)
		}
		return model.Metrics{}, fmt.Errorf("server returned %s", resp.Status())
	}
	return m, nil
}

func field(name string, v *float64, format string) string {
	if v == nil {
		return name + "=-"
	}
	return name + "=" + fmt.Sprintf(format, *v)
}

// FormatMetrics renders m as one line. Values without data show as "-".
func FormatMetrics(m model.Metrics) string {
	state := "connected"
	if !m.Connected {
		state = "disconnected"
	}
	parts := []string{
		time.Unix(0, int64(m.Time*1e9)).UTC().Format("15:04:05"),
		state,
		field("hr", m.HeartRate, "%.0f"),
		field("ibi", m.IBI, "%.0f"),
		field("br", m.BreathingRate, "%.1f"),
		field("rmssd", m.RMSSD, "%.1f"),
		field("sdnn", m.SDNN, "%.1f"),
		field("pnn50", m.PNN50, "%.1f"),
		field("coh_br", m.BreathCoherence, "%.2f"),
		field("coh_hr", m.HRCoherence, "%.2f"),
	}
	if m.PacingRate > 0 {
		parts = append(parts, fmt.Sprintf("pace=%.1f", m.PacingRate))
	}
	return strings.Join(parts, " ")
}
