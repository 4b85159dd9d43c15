package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/scangate/internal/model"
)

func load(t *testing.T, yml string) (model.Config, error) {
	t.Helper()
	v := model.NewViper()
	require.NoError(t, v.ReadConfig(strings.NewReader(yml)))
	return model.LoadConfig(v)
}

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
log:
  format: text
api:
  region: eu
  timeout: PT1M
  rate_limit: 2.5
scan:
  config_id: cfg
  milestone: vulnerability_results
  query: vulnerability.severity='HIGH'
  max_pending: 30m
  max_execution: 1d2h
poll:
  interval: 5s
  failure_threshold: 3
output:
  dir: reports
  format: both
  artifacts:
    enabled: true
    endpoint: localhost:9000
    bucket: scans
  repository:
    enabled: true
    url: https://example.com
`
	cfg, err := load(t, yml)
	require.NoError(t, err)
	require.Equal(t, model.LogText, cfg.Log.Format)
	require.Equal(t, "eu", cfg.API.Region)
	require.Equal(t, time.Minute, cfg.API.Timeout.Duration)
	require.Equal(t, 2.5, cfg.API.RateLimit)
	require.Equal(t, "cfg", cfg.Scan.ConfigID)
	require.Equal(t, model.MilestoneVulnerabilityQuery, cfg.Scan.Milestone)
	require.Equal(t, 30*time.Minute, *cfg.Scan.MaxPending.Ptr())
	require.Equal(t, 26*time.Hour, *cfg.Scan.MaxExecution.Ptr())
	require.Equal(t, 5*time.Second, cfg.Poll.Interval.Duration)
	require.Equal(t, 3, cfg.Poll.FailureThreshold)
	require.True(t, cfg.Output.Stdout)
	require.Equal(t, model.FormatBoth, cfg.Output.Format)
	require.NotNil(t, cfg.Output.Artifacts)
	require.Equal(t, "scans", cfg.Output.Artifacts.Bucket)
	require.NotNil(t, cfg.Output.Repository)
	require.Equal(t, "https://example.com", cfg.Output.Repository.URL.String())
	require.NoError(t, cfg.ValidateRun())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := load(t, "version: 0\n")
	require.NoError(t, err)
	require.Equal(t, model.MilestoneCompleted, cfg.Scan.Milestone)
	require.Equal(t, model.DefaultPollInterval, cfg.Poll.Interval.Duration)
	require.Equal(t, model.DefaultFailureThreshold, cfg.Poll.FailureThreshold)
	require.Nil(t, cfg.Scan.MaxPending.Ptr())
	require.Nil(t, cfg.Scan.MaxExecution.Ptr())
	require.True(t, cfg.API.BaseURL.IsZero())
	require.True(t, cfg.Output.FailOnVuln)
	require.ErrorContains(t, cfg.ValidateRun(), "scan.config_id")
}

func TestConfigScanSection(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, "version: 0\nscan:\n  config_id: cfg\n  milestone: STARTED\n")
	require.NoError(t, err)

	// the scan: section and the remote scan view are distinct types
	var section model.ScanSection = cfg.Scan
	require.Equal(t, "cfg", section.ConfigID)
	require.Equal(t, model.MilestoneStarted, section.Milestone)
	require.Equal(t, model.MilestoneCompleted, model.DefaultConfig().Scan.Milestone)

	remote := model.Scan{ID: "s1", ScanConfig: model.Ref{ID: section.ConfigID}, Status: model.StatusPending}
	require.Equal(t, "cfg", remote.ScanConfig.ID)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("SCANGATE_SCAN_CONFIG_ID", "from-env")
	t.Setenv("SCANGATE_POLL_INTERVAL", "PT10S")
	cfg, err := load(t, "version: 0\nscan:\n  config_id: from-file\n")
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Scan.ConfigID)
	require.Equal(t, 10*time.Second, cfg.Poll.Interval.Duration)
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		yml      string
		then     string
	}{
		{
			scenario: "version",
			yml:      "version: 1\n",
			then:     `config Config.Version: failed "eq" check`,
		},
		{
			scenario: "log format",
			yml:      "version: 0\nlog:\n  format: xml\n",
			then:     `config Config.Log.Format: failed "oneof" check`,
		},
		{
			scenario: "milestone",
			yml:      "version: 0\nscan:\n  milestone: eventually\n",
			then:     `unrecognized milestone "eventually"`,
		},
		{
			scenario: "duration",
			yml:      "version: 0\nscan:\n  max_pending: soon\n",
			then:     "invalid duration",
		},
		{
			scenario: "iso months",
			yml:      "version: 0\nscan:\n  max_pending: P2M\n",
			then:     "invalid ISO8601 duration",
		},
		{
			scenario: "zero interval",
			yml:      "version: 0\npoll:\n  interval: 0s\n",
			then:     "config poll.interval: must be a positive duration",
		},
		{
			scenario: "url scheme",
			yml:      "version: 0\napi:\n  base_url: ftp://example.com\n",
			then:     "scheme must be http or https",
		},
		{
			scenario: "artifacts bucket",
			yml:      "version: 0\noutput:\n  artifacts:\n    enabled: true\n    endpoint: localhost:9000\n",
			then:     `config Config.Output.Artifacts.Bucket: failed "required_if" check`,
		},
		{
			scenario: "telemetry endpoint",
			yml:      "version: 0\ntelemetry:\n  enabled: true\n",
			then:     `config Config.Telemetry.Endpoint: failed "required_if" check`,
		},
		{
			scenario: "repository url",
			yml:      "version: 0\noutput:\n  repository:\n    enabled: true\n",
			then:     "config output.repository.url: required when repository is enabled",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tc.yml)
			require.Error(t, err)
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestURL(t *testing.T) {
	t.Setenv("SCANGATE_TEST_HOST", "appsec.example.com")
	u, err := model.ParseURL("https://${SCANGATE_TEST_HOST}/ias/v1/")
	require.NoError(t, err)
	require.Equal(t, "https://appsec.example.com/ias/v1", u.String())
	require.Equal(t, "https://appsec.example.com/ias/v1/scans", u.Join("scans").String())

	u, err = model.ParseURL("  ")
	require.NoError(t, err)
	require.True(t, u.IsZero())
	require.Nil(t, u.Join("scans"))

	_, err = model.ParseURL("https:///path")
	require.ErrorContains(t, err, "missing host")
}
