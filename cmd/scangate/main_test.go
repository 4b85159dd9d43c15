package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/scangate/internal/appsec/appsectest"
	"github.com/CZERTAINLY/scangate/internal/model"
	"github.com/CZERTAINLY/scangate/internal/report"
)

func writeConfig(t *testing.T, baseURL string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scangate.yaml")
	cfg := `
version: 0
log:
  format: text
api:
  base_url: ` + baseURL + `
  rate_limit: 0
poll:
  interval: 10ms
` + extra
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stdout)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), err
}

func TestRegions(t *testing.T) {
	t.Setenv("SCANGATECONFIG", writeConfig(t, "", ""))
	out, err := execute(t, "regions")
	require.NoError(t, err)
	require.Contains(t, out, "eu   https://eu.api.insight.rapid7.com/ias/v1")
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 7)
}

func TestVersion(t *testing.T) {
	t.Setenv("SCANGATECONFIG", writeConfig(t, "", ""))
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "scangate:")
}

func TestRunFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--scan-config-id", "cfg",
		"--milestone", "vulnerability-query",
		"--max-pending", "PT30M",
		"--max-execution", "1d",
		"--poll-interval", "5s",
		"--failure-threshold", "3",
		"--format", "both",
		"--no-fail",
	}))
	cfg := model.DefaultConfig()
	require.NoError(t, applyRunFlags(cmd, &cfg))
	require.Equal(t, "cfg", cfg.Scan.ConfigID)
	require.Equal(t, model.MilestoneVulnerabilityQuery, cfg.Scan.Milestone)
	require.Equal(t, "30m0s", cfg.Scan.MaxPending.String())
	require.Equal(t, "24h0m0s", cfg.Scan.MaxExecution.String())
	require.Equal(t, "5s", cfg.Poll.Interval.String())
	require.Equal(t, 3, cfg.Poll.FailureThreshold)
	require.Equal(t, model.FormatBoth, cfg.Output.Format)
	require.False(t, cfg.Output.FailOnVuln)

	cmd = newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--milestone", "eventually"}))
	cfg = model.DefaultConfig()
	require.ErrorIs(t, applyRunFlags(cmd, &cfg), model.ErrUnrecognized)

	cmd = newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--max-pending", "soon"}))
	cfg = model.DefaultConfig()
	require.ErrorIs(t, applyRunFlags(cmd, &cfg), model.ErrDurationFormat)
}

func TestRun(t *testing.T) {
	vulns := []model.Vulnerability{
		{ID: "v1", Severity: "HIGH", App: &model.Ref{ID: "app"}},
		{ID: "v2", Severity: "MEDIUM", App: &model.Ref{ID: "app"}},
	}

	t.Run("completed reports without failing", func(t *testing.T) {
		srv := appsectest.New(t).
			Statuses(model.StatusPending, model.StatusRunning, model.StatusComplete).
			Vulnerabilities(vulns...)
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		out, err := execute(t, "run", "--scan-config-id", "cfg", "--milestone", "COMPLETED")
		require.NoError(t, err)

		var got struct {
			ScanID          string                `json:"scan_id"`
			Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.Equal(t, srv.ScanID().String(), got.ScanID)
		require.Len(t, got.Vulnerabilities, 2)
		require.Equal(t, []string{"scans.id='" + srv.ScanID().String() + "'"}, srv.Queries())
	})

	t.Run("vulnerability query fails the build", func(t *testing.T) {
		srv := appsectest.New(t).Statuses(model.StatusComplete).Vulnerabilities(vulns...)
		dir := t.TempDir()
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run",
			"--scan-config-id", "cfg",
			"--milestone", "VULNERABILITY_QUERY",
			"--query", "vulnerability.severity='HIGH'",
			"--output-dir", dir,
			"--format", "cyclonedx")
		require.ErrorIs(t, err, report.ErrVulnerabilitiesFound)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.True(t, strings.HasSuffix(entries[0].Name(), ".cdx.json"))
	})

	t.Run("no fail", func(t *testing.T) {
		srv := appsectest.New(t).Statuses(model.StatusComplete).Vulnerabilities(vulns...)
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run", "--scan-config-id", "cfg", "--milestone", "VULNERABILITY_QUERY", "--no-fail")
		require.NoError(t, err)
	})

	t.Run("submitted", func(t *testing.T) {
		srv := appsectest.New(t)
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), "scan:\n  config_id: cfg\n  milestone: SUBMITTED\n"))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		out, err := execute(t, "run")
		require.NoError(t, err)
		require.Empty(t, out)
		require.Zero(t, srv.Polls())
	})

	t.Run("scan failure", func(t *testing.T) {
		srv := appsectest.New(t).Statuses(model.StatusPending, model.StatusFailed)
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run", "--scan-config-id", "cfg")
		require.ErrorIs(t, err, model.ErrScanFailure)
	})

	t.Run("missing scan config id", func(t *testing.T) {
		srv := appsectest.New(t)
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run")
		require.ErrorContains(t, err, "scan.config_id")
	})

	t.Run("unknown region", func(t *testing.T) {
		t.Setenv("SCANGATECONFIG", writeConfig(t, "", ""))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run", "--scan-config-id", "cfg", "--region", "mars")
		require.ErrorIs(t, err, model.ErrUnrecognized)
	})

	t.Run("verify config", func(t *testing.T) {
		srv := appsectest.New(t).ScanConfigs(model.ScanConfig{ID: "other"})
		t.Setenv("SCANGATECONFIG", writeConfig(t, srv.BaseURL().String(), "scan:\n  verify_config: true\n"))
		t.Setenv("SCANGATE_API_KEY", appsectest.APIKey)

		_, err := execute(t, "run", "--scan-config-id", "cfg")
		require.ErrorIs(t, err, model.ErrSubmission)
		require.Zero(t, srv.Polls())
	})
}
