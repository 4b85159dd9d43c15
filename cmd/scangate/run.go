package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/scangate/internal/appsec"
	"github.com/CZERTAINLY/scangate/internal/credentials"
	"github.com/CZERTAINLY/scangate/internal/log"
	"github.com/CZERTAINLY/scangate/internal/model"
	"github.com/CZERTAINLY/scangate/internal/report"
	"github.com/CZERTAINLY/scangate/internal/scan"
	"github.com/CZERTAINLY/scangate/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run submits a scan and waits for the configured milestone",
		Args:  cobra.NoArgs,
		RunE:  doRun,
	}
	f := cmd.Flags()
	f.String("scan-config-id", "", "id of the scan config to run")
	f.String("milestone", "", "SUBMITTED, STARTED, COMPLETED or VULNERABILITY_QUERY")
	f.String("query", "", "vulnerability query used by VULNERABILITY_QUERY")
	f.String("region", "", "region code, see the regions command")
	f.String("credentials-id", "", "selects the API key, see SCANGATE_API_KEY_<ID>")
	f.String("max-pending", "", "cancel the scan when it is still pending after this long, e.g. 30m or PT30M")
	f.String("max-execution", "", "stop the scan when it runs longer than this, e.g. 2h or 1d")
	f.String("poll-interval", "", "time between two status polls")
	f.Int("failure-threshold", 0, "consecutive failed polls tolerated")
	f.String("output-dir", "", "directory to store the reports in")
	f.String("format", "", "report format: json, cyclonedx or both")
	f.Bool("no-fail", false, "report vulnerabilities without failing the build")
	return cmd
}

// applyRunFlags copies the flags set on the command line over cfg.
func applyRunFlags(cmd *cobra.Command, cfg *model.Config) error {
	f := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	dur := func(name string, dst *model.Duration) {
		if err != nil || !f.Changed(name) {
			return
		}
		s, _ := f.GetString(name)
		if uerr := dst.UnmarshalText([]byte(s)); uerr != nil {
			err = fmt.Errorf("--%s: %w", name, uerr)
		}
	}

	str("scan-config-id", &cfg.Scan.ConfigID)
	str("query", &cfg.Scan.Query)
	str("region", &cfg.API.Region)
	str("credentials-id", &cfg.API.CredentialsID)
	str("output-dir", &cfg.Output.Dir)
	str("format", &cfg.Output.Format)
	if f.Changed("milestone") {
		s, _ := f.GetString("milestone")
		m, merr := model.ParseMilestone(s)
		if merr != nil {
			return fmt.Errorf("--milestone: %w", merr)
		}
		cfg.Scan.Milestone = m
	}
	dur("max-pending", &cfg.Scan.MaxPending)
	dur("max-execution", &cfg.Scan.MaxExecution)
	dur("poll-interval", &cfg.Poll.Interval)
	if err != nil {
		return err
	}
	if f.Changed("failure-threshold") {
		cfg.Poll.FailureThreshold, _ = f.GetInt("failure-threshold")
	}
	if f.Changed("no-fail") {
		noFail, _ := f.GetBool("no-fail")
		cfg.Output.FailOnVuln = !noFail
	}
	return nil
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	attrs := slog.Group("scangate",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
		slog.String("run_id", runID),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	cfg := config
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, runID)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.WarnContext(ctx, "flushing traces failed", "error", err)
		}
	}()

	stores := credentials.Chain{credentials.EnvStore{}}
	if cfg.API.CredentialsFile != "" {
		fs, err := credentials.NewFileStore(cfg.API.CredentialsFile)
		if err != nil {
			return err
		}
		stores = append(stores, fs)
	}
	apiKey, err := stores.APIKey(ctx, cfg.API.Region, cfg.API.CredentialsID)
	if err != nil {
		return err
	}

	client, err := appsec.New(appsec.Options{
		BaseURL:   cfg.API.BaseURL,
		Region:    cfg.API.Region,
		APIKey:    apiKey,
		Timeout:   cfg.API.Timeout.Duration,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		UserAgent: cfg.API.UserAgent,
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "api client ready", "base_url", client.BaseURL())

	orchestrator := scan.FromConfig(client, cfg)
	if cfg.Scan.VerifyConfig {
		if err := orchestrator.Validate(ctx, cfg.Scan.ConfigID); err != nil {
			return err
		}
	}

	res, err := orchestrator.Run(ctx, scan.Request{
		ScanConfigID: cfg.Scan.ConfigID,
		Milestone:    cfg.Scan.Milestone,
		Query:        strings.TrimSpace(cfg.Scan.Query),
	})
	if err != nil {
		return err
	}
	if res == nil {
		slog.InfoContext(ctx, "milestone reached", "milestone", cfg.Scan.Milestone)
		return nil
	}

	sinks, err := report.FromConfig(ctx, cfg.Output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer report.Close(ctx, sinks...)

	doc, err := report.NewDocument(res, cfg.Scan.Milestone, cfg.Output.Format, time.Now())
	if err != nil {
		return err
	}
	if err := report.Publish(ctx, doc, sinks...); err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}

	if err := report.Verdict(cfg.Scan.Milestone, res); err != nil {
		if !cfg.Output.FailOnVuln {
			slog.WarnContext(ctx, "vulnerabilities found, build not failed", "reason", err.Error())
			return nil
		}
		return err
	}
	return nil
}
