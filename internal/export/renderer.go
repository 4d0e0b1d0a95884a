// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package export renders command query results as a standalone HTML report.
package export

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/tomtom215/commandeer/internal/models"
)

//go:embed report.html.tmpl
var reportTemplate string

// ReportData is the template input for one export.
type ReportData struct {
	GeneratedAt string
	Total       int
	Records     []ReportRecord
}

// ReportRecord is one row of the rendered report.
type ReportRecord struct {
	User       string
	Asset      string
	SystemUser string
	Input      string
	RiskLevel  int
	Risky      bool
	RemoteAddr string
	Session    string
	Time       string
}

// Renderer produces HTML reports from command records.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded report template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the report for the given records. html/template escapes
// command input and output, so hostile payloads cannot inject markup.
func (r *Renderer) Render(w io.Writer, records []models.CommandRecord, riskThreshold int) error {
	data := ReportData{
		GeneratedAt: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
		Total:       len(records),
		Records:     make([]ReportRecord, len(records)),
	}
	for i := range records {
		rec := &records[i]
		data.Records[i] = ReportRecord{
			User:       rec.User,
			Asset:      rec.Asset,
			SystemUser: rec.SystemUser,
			Input:      rec.Input,
			RiskLevel:  rec.RiskLevel,
			Risky:      rec.RiskLevel >= riskThreshold,
			RemoteAddr: rec.RemoteAddr,
			Session:    rec.Session,
			Time:       rec.Time().UTC().Format("2006-01-02 15:04:05"),
		}
	}

	if err := r.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Filename returns the attachment name for a report generated at the
// given time, e.g. command-report-1756400000.html.
func Filename(now time.Time) string {
	return fmt.Sprintf("command-report-%d.html", now.Unix())
}
