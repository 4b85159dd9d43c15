// Package report renders scan results and publishes them to the configured
// sinks: standard output, a directory, an S3 compatible bucket or a BOM
// repository.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/scangate/internal/bom"
	"github.com/CZERTAINLY/scangate/internal/model"
)

// ErrVulnerabilitiesFound is the build verdict of a VULNERABILITY_QUERY run
// that matched at least one vulnerability.
var ErrVulnerabilitiesFound = errors.New("vulnerabilities found")

// Verdict decides whether the build passes. Only VULNERABILITY_QUERY fails
// on findings; the other milestones report them and pass.
func Verdict(m model.Milestone, res *model.ScanResults) error {
	if m != model.MilestoneVulnerabilityQuery || !res.HasVulnerabilities() {
		return nil
	}
	c := res.SeverityCounts()
	return fmt.Errorf("%w: scan %s matched %d (critical %d, high %d, medium %d, low %d, info %d)",
		ErrVulnerabilitiesFound, res.ScanID, c.Total, c.Critical, c.High, c.Medium, c.Low, c.Info)
}

// Sink receives the rendered report of a run.
type Sink interface {
	Publish(ctx context.Context, doc *Document) error
}

// File is one rendered artifact.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

const (
	contentTypeJSON = "application/json"
	contentTypeCDX  = "application/vnd.cyclonedx+json; version=1.6"
)

// Document holds the results of one run rendered in every format.
type Document struct {
	Results   *model.ScanResults
	Format    string
	JSON      File
	CycloneDX File
}

type summary struct {
	ScanID           model.ScanID               `json:"scan_id"`
	Milestone        model.Milestone            `json:"milestone"`
	Severities       model.SeverityCounts       `json:"severities"`
	ExecutionDetails model.ScanExecutionDetails `json:"execution_details"`
	Vulnerabilities  []model.Vulnerability      `json:"vulnerabilities"`
}

// NewDocument renders res. format selects which files Files returns.
func NewDocument(res *model.ScanResults, m model.Milestone, format string, now time.Time) (*Document, error) {
	if res == nil {
		return nil, errors.New("report: no results")
	}
	name := "scangate-" + res.ScanID.String() + "-" + now.UTC().Format("2006-01-02-15-04-05")

	vulns := res.Vulnerabilities
	if vulns == nil {
		vulns = []model.Vulnerability{}
	}
	raw, err := json.MarshalIndent(summary{
		ScanID:           res.ScanID,
		Milestone:        m,
		Severities:       res.SeverityCounts(),
		ExecutionDetails: res.ExecutionDetails,
		Vulnerabilities:  vulns,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding json report: %w", err)
	}
	raw = append(raw, '\n')

	var buf bytes.Buffer
	err = bom.NewBuilder().
		WithNow(func() time.Time { return now }).
		AppendResults(res).
		AsJSON(&buf)
	if err != nil {
		return nil, fmt.Errorf("encoding cyclonedx report: %w", err)
	}

	return &Document{
		Results:   res,
		Format:    format,
		JSON:      File{Name: name + ".json", ContentType: contentTypeJSON, Data: raw},
		CycloneDX: File{Name: name + ".cdx.json", ContentType: contentTypeCDX, Data: buf.Bytes()},
	}, nil
}

// Files returns the files selected by the document format.
func (d *Document) Files() []File {
	switch d.Format {
	case model.FormatCycloneDX:
		return []File{d.CycloneDX}
	case model.FormatBoth:
		return []File{d.JSON, d.CycloneDX}
	default:
		return []File{d.JSON}
	}
}

// Publish sends doc to every sink. A failing sink does not stop the others.
func Publish(ctx context.Context, doc *Document, sinks ...Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases sinks holding resources.
func Close(ctx context.Context, sinks ...Sink) {
	for _, s := range sinks {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing sink have failed", "error", err)
			}
		}
	}
}
