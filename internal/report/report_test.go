package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/scangate/internal/model"
	"github.com/CZERTAINLY/scangate/internal/report"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func results() *model.ScanResults {
	return &model.ScanResults{
		ScanID: "scan-1",
		Vulnerabilities: []model.Vulnerability{
			{ID: "v1", Severity: "HIGH", App: &model.Ref{ID: "app"}},
			{ID: "v2", Severity: "LOW", App: &model.Ref{ID: "app"}},
		},
		ExecutionDetails: model.ScanExecutionDetails{LinksCrawled: 3},
	}
}

func TestVerdict(t *testing.T) {
	t.Parallel()
	require.NoError(t, report.Verdict(model.MilestoneCompleted, results()))
	require.NoError(t, report.Verdict(model.MilestoneVulnerabilityQuery, &model.ScanResults{ScanID: "s"}))
	require.NoError(t, report.Verdict(model.MilestoneStarted, nil))

	err := report.Verdict(model.MilestoneVulnerabilityQuery, results())
	require.ErrorIs(t, err, report.ErrVulnerabilitiesFound)
	require.Contains(t, err.Error(), "matched 2")
}

func TestDocument(t *testing.T) {
	t.Parallel()

	_, err := report.NewDocument(nil, model.MilestoneCompleted, model.FormatJSON, now)
	require.Error(t, err)

	doc, err := report.NewDocument(results(), model.MilestoneCompleted, model.FormatJSON, now)
	require.NoError(t, err)
	require.Equal(t, "scangate-scan-1-2024-05-01-12-00-00.json", doc.JSON.Name)
	require.Equal(t, "scangate-scan-1-2024-05-01-12-00-00.cdx.json", doc.CycloneDX.Name)
	require.Equal(t, []report.File{doc.JSON}, doc.Files())

	var summary struct {
		ScanID     string               `json:"scan_id"`
		Milestone  string               `json:"milestone"`
		Severities model.SeverityCounts `json:"severities"`
	}
	require.NoError(t, json.Unmarshal(doc.JSON.Data, &summary))
	require.Equal(t, "scan-1", summary.ScanID)
	require.Equal(t, "COMPLETED", summary.Milestone)
	require.Equal(t, model.SeverityCounts{High: 1, Low: 1, Total: 2}, summary.Severities)

	var bom cdx.BOM
	require.NoError(t, cdx.NewBOMDecoder(bytes.NewReader(doc.CycloneDX.Data), cdx.BOMFileFormatJSON).Decode(&bom))
	require.Len(t, *bom.Vulnerabilities, 2)

	doc.Format = model.FormatCycloneDX
	require.Equal(t, []report.File{doc.CycloneDX}, doc.Files())
	doc.Format = model.FormatBoth
	require.Len(t, doc.Files(), 2)
}

func TestWriteSink(t *testing.T) {
	t.Parallel()
	doc, err := report.NewDocument(results(), model.MilestoneCompleted, model.FormatJSON, now)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = report.NewWriteSink(&buf).Publish(t.Context(), doc)
	require.NoError(t, err)
	require.Equal(t, doc.JSON.Data, buf.Bytes())
}

func TestDirSink(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "reports")
	doc, err := report.NewDocument(results(), model.MilestoneCompleted, model.FormatBoth, now)
	require.NoError(t, err)

	sink, err := report.NewDirSink(dir)
	require.NoError(t, err)
	err = sink.Publish(t.Context(), doc)
	require.NoError(t, err)

	for _, f := range doc.Files() {
		got, err := os.ReadFile(filepath.Join(dir, f.Name))
		require.NoError(t, err)
		require.Equal(t, f.Data, got)
	}

	require.NoError(t, sink.Close())
	require.Error(t, sink.Publish(t.Context(), doc))
	require.NoError(t, sink.Close())
}

type failingSink struct{ err error }

func (s failingSink) Publish(_ context.Context, _ *report.Document) error { return s.err }

func TestPublish(t *testing.T) {
	t.Parallel()
	doc, err := report.NewDocument(results(), model.MilestoneCompleted, model.FormatJSON, now)
	require.NoError(t, err)

	errA := errors.New("a")
	errB := errors.New("b")
	var buf bytes.Buffer
	err = report.Publish(t.Context(), doc, failingSink{errA}, report.NewWriteSink(&buf), failingSink{errB})
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	require.NotEmpty(t, buf.Bytes())
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	sinks, err := report.FromConfig(t.Context(), model.Output{}, &buf)
	require.NoError(t, err)
	require.Len(t, sinks, 1)

	u, err := model.ParseURL("http://localhost:8080")
	require.NoError(t, err)
	sinks, err = report.FromConfig(t.Context(), model.Output{
		Stdout:     true,
		Dir:        t.TempDir(),
		Repository: &model.Repository{Enabled: true, URL: u},
	}, &buf)
	require.NoError(t, err)
	require.Len(t, sinks, 3)
	report.Close(t.Context(), sinks...)
}
