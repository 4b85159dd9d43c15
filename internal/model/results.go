package model

import (
	"strings"
	"time"
)

// ScanConfig is a predefined scan template on the remote service.
type ScanConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	App         *Ref   `json:"app,omitempty"`
}

// Ref is the {"id": ...} object the service uses for references.
type Ref struct {
	ID string `json:"id"`
}

// Scan is the remote view of a submitted scan.
type Scan struct {
	ID         ScanID     `json:"id"`
	ScanConfig Ref        `json:"scan_config"`
	Status     ScanStatus `json:"status"`
}

// ScanExecutionDetails are the crawl/attack metrics of a finished scan.
// The service reports them with camelCase keys.
type ScanExecutionDetails struct {
	LinksCrawled   int64 `json:"linksCrawled"`
	Attacked       int64 `json:"attacked"`
	Requests       int64 `json:"requests"`
	FailedRequests int64 `json:"failedRequests"`
	NetworkSpeed   int64 `json:"networkSpeed"`
	DripDelay      int64 `json:"dripDelay"`
}

type RootCause struct {
	URL       string `json:"url,omitempty"`
	Parameter string `json:"parameter,omitempty"`
	Method    string `json:"method,omitempty"`
}

// Vulnerability is a single finding returned by the vulnerability search.
type Vulnerability struct {
	ID              string     `json:"id"`
	App             *Ref       `json:"app,omitempty"`
	RootCause       RootCause  `json:"root_cause"`
	Severity        string     `json:"severity"`
	Status          string     `json:"status,omitempty"`
	VariancesCount  int        `json:"variances_count,omitempty"`
	Insight         *Ref       `json:"insight,omitempty"`
	Scans           []Ref      `json:"scans,omitempty"`
	NewlyDiscovered bool       `json:"newly_discovered,omitempty"`
	FirstDiscovered *time.Time `json:"first_discovered,omitempty"`
	LastDiscovered  *time.Time `json:"last_discovered,omitempty"`
}

// SeverityCounts summarizes vulnerabilities by severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// ScanResults are assembled once a scan reached COMPLETE under a milestone
// that asks for results.
type ScanResults struct {
	ScanID           ScanID               `json:"scan_id"`
	Vulnerabilities  []Vulnerability      `json:"vulnerabilities"`
	ExecutionDetails ScanExecutionDetails `json:"execution_details"`
}

func (r *ScanResults) HasVulnerabilities() bool {
	return r != nil && len(r.Vulnerabilities) > 0
}

func (r *ScanResults) SeverityCounts() SeverityCounts {
	var c SeverityCounts
	if r == nil {
		return c
	}
	for _, v := range r.Vulnerabilities {
		switch strings.ToUpper(v.Severity) {
		case "CRITICAL":
			c.Critical++
		case "HIGH":
			c.High++
		case "MEDIUM":
			c.Medium++
		case "LOW":
			c.Low++
		default:
			c.Info++
		}
		c.Total++
	}
	return c
}
