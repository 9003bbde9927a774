package main

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/banshee-data/hrv.report/internal/db"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Sheet names of an exported workbook.
const (
	SessionSheet = "Session"
	BreathsSheet = "Breaths"
	SpectraSheet = "Spectra"
)

var (
	breathHeaders  = []string{"Time", "Offset (s)", "Breathing Rate (bpm)", "RMSSD (ms)", "MaxMin (ms)", "SDNN (ms)"}
	spectraHeaders = []string{"Time", "Offset (s)", "Breath Coherence", "HR Coherence", "pNN50 (%)"}
)

type sheetWriter struct {
	f           *excelize.File
	headerStyle int
}

func (sw *sheetWriter) setRow(sheet string, row int, values ...interface{}) error {
	for col, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := sw.f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func (sw *sheetWriter) header(sheet string, headers []string) error {
	values := make([]interface{}, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	if err := sw.setRow(sheet, 1, values...); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := sw.f.SetCellStyle(sheet, "A1", last, sw.headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := sw.f.SetColWidth(sheet, "A", "A", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := sw.f.SetColWidth(sheet, "B", lastCol, 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return sw.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func value(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func stamp(t float64) string {
	return timeutil.FromSeconds(t).UTC().Format(time.RFC3339Nano)
}

// WriteWorkbook writes session s with its breaths and spectra as an xlsx
// workbook to w. Missing metrics are left as empty cells.
func WriteWorkbook(w io.Writer, s db.Session, breaths []db.BreathRow, spectra []db.SpectraRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SessionSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{BreathsSheet, SpectraSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	sw := &sheetWriter{f: f, headerStyle: headerStyle}

	ended := ""
	if !s.Ended.IsZero() {
		ended = s.Ended.UTC().Format(time.RFC3339)
	}
	summary := [][2]interface{}{
		{"Session", s.ID},
		{"Started", s.Started.UTC().Format(time.RFC3339)},
		{"Ended", ended},
		{"Sensor Model", s.SensorModel},
		{"Device Model", s.DeviceModel},
		{"Device Serial", s.DeviceSerial},
		{"Pacing Rate (bpm)", s.PacingRate},
		{"Breaths", len(breaths)},
		{"Spectra Updates", len(spectra)},
	}
	for i, kv := range summary {
		if err := sw.setRow(SessionSheet, i+1, kv[0], kv[1]); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SessionSheet, "A", "B", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	start := timeutil.Seconds(s.Started)
	if err := sw.header(BreathsSheet, breathHeaders); err != nil {
		return err
	}
	for i, b := range breaths {
		if err := sw.setRow(BreathsSheet, i+2,
			stamp(b.Time), b.Time-start, b.Rate, value(b.RMSSD), value(b.MaxMin), value(b.SDNN),
		); err != nil {
			return err
		}
	}

	if err := sw.header(SpectraSheet, spectraHeaders); err != nil {
		return err
	}
	for i, r := range spectra {
		if err := sw.setRow(SpectraSheet, i+2,
			stamp(r.Time), r.Time-start, value(r.BreathCoherence), value(r.HRCoherence), value(r.PNN50),
		); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
