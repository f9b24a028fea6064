package models

import (
	"encoding/json"
	"time"
)

type Report struct {
	ID          int64           `json:"id"`
	ManagerID   int64           `json:"manager_id"`
	ReportType  string          `json:"report_type"`
	Content     json.RawMessage `json:"content"`
	ObjectURL   string          `json:"object_url,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// WindowSummary counts requests created and closed inside a time window.
type WindowSummary struct {
	Created int64 `json:"created"`
	Closed  int64 `json:"closed"`
}

// Analytics is the PM dashboard summary.
type Analytics struct {
	Daily       WindowSummary `json:"daily"`
	Weekly      WindowSummary `json:"weekly"`
	Monthly     WindowSummary `json:"monthly"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ReportContent is the archived body of a PM report.
type ReportContent struct {
	ReportType string           `json:"report_type"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Summary    WindowSummary    `json:"summary"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByCategory map[string]int64 `json:"by_category"`
}
