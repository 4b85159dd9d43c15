package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CZERTAINLY/scangate/internal/log"
	"github.com/CZERTAINLY/scangate/internal/model"
)

const tracerName = "github.com/CZERTAINLY/scangate/internal/scan"

// RemoteScanClient is what a run needs from the remote service.
type RemoteScanClient interface {
	StatusGetter
	ScanActioner
	SubmitScan(ctx context.Context, scanConfigID string) (model.ScanID, error)
	GetExecutionDetails(ctx context.Context, id model.ScanID) (model.ScanExecutionDetails, error)
	SearchVulnerabilities(ctx context.Context, query string) ([]model.Vulnerability, error)
	SearchScanConfigs(ctx context.Context, query string) ([]model.ScanConfig, error)
}

// Request describes one scan run.
type Request struct {
	ScanConfigID string
	Milestone    model.Milestone
	// Query narrows the vulnerability search of VULNERABILITY_QUERY.
	Query string
}

// Orchestrator submits a scan and drives it to the requested milestone.
type Orchestrator struct {
	client           RemoteScanClient
	pending          Budget
	execution        Budget
	interval         time.Duration
	failureThreshold int
	clock            Clock
	tracer           trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the system clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithBudgets sets the pending and execution budgets. Both are disabled
// unless set.
func WithBudgets(pending, execution Budget) Option {
	return func(o *Orchestrator) {
		o.pending = pending
		o.execution = execution
	}
}

// WithPollInterval sets the delay between two status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// WithFailureThreshold sets how many consecutive failed polls are tolerated.
func WithFailureThreshold(n int) Option {
	return func(o *Orchestrator) { o.failureThreshold = n }
}

// New returns an Orchestrator driving scans through client, with the default
// poll interval and failure threshold unless opts say otherwise.
func New(client RemoteScanClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:           client,
		interval:         model.DefaultPollInterval,
		failureThreshold: model.DefaultFailureThreshold,
		clock:            SystemClock(),
		tracer:           otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FromConfig builds an Orchestrator from the scan and poll sections.
func FromConfig(client RemoteScanClient, cfg model.Config, opts ...Option) *Orchestrator {
	base := []Option{
		WithBudgets(NewBudget(cfg.Scan.MaxPending.Ptr()), NewBudget(cfg.Scan.MaxExecution.Ptr())),
		WithPollInterval(cfg.Poll.Interval.Duration),
		WithFailureThreshold(cfg.Poll.FailureThreshold),
	}
	return New(client, append(base, opts...)...)
}

// Validate checks that scanConfigID names an existing scan config.
func (o *Orchestrator) Validate(ctx context.Context, scanConfigID string) error {
	configs, err := o.client.SearchScanConfigs(ctx, fmt.Sprintf("scanconfig.id='%s'", scanConfigID))
	if err != nil {
		return fmt.Errorf("verifying scan config %s: %w", scanConfigID, err)
	}
	for _, c := range configs {
		if c.ID == scanConfigID {
			slog.DebugContext(ctx, "scan config found", "scan_config_id", c.ID, "name", c.Name)
			return nil
		}
	}
	return &model.Error{
		Kind: model.KindSubmission,
		Op:   "verify scan config",
		Err:  fmt.Errorf("scan config %s not found", scanConfigID),
	}
}

// Run submits the scan and blocks until the milestone of req is reached.
// Results are returned for COMPLETED and VULNERABILITY_QUERY only; the
// other milestones return nil results and a nil error on success.
func (o *Orchestrator) Run(ctx context.Context, req Request) (results *model.ScanResults, err error) {
	plan, err := req.Milestone.Plan()
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("scan.config_id", req.ScanConfigID),
		attribute.String("scan.milestone", req.Milestone.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	st := &TimeoutState{BuildStart: o.clock.Now()}

	id, err := o.client.SubmitScan(ctx, req.ScanConfigID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("scan.id", id.String()))
	ctx = log.ContextAttrs(ctx, slog.String("scan_id", id.String()))
	slog.InfoContext(ctx, "scan submitted", "scan_config_id", req.ScanConfigID, "milestone", req.Milestone)

	if !plan.Block {
		return nil, nil
	}

	poller := Poller{
		Client: o.client,
		Enforcer: TimeoutEnforcer{
			Pending:   o.pending,
			Execution: o.execution,
			Milestone: req.Milestone,
			Actions:   o.client,
			Clock:     o.clock,
		},
		Interval:         o.interval,
		FailureThreshold: o.failureThreshold,
		Clock:            o.clock,
	}
	if _, err := poller.PollUntil(ctx, id, plan.Target, st); err != nil {
		return nil, err
	}
	if !plan.FetchResults {
		return nil, nil
	}

	var query string
	if plan.UseQuery {
		query = req.Query
	}
	return o.results(ctx, id, query)
}

func (o *Orchestrator) results(ctx context.Context, id model.ScanID, userQuery string) (*model.ScanResults, error) {
	details, err := o.client.GetExecutionDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	query := VulnerabilityQuery(id, userQuery)
	slog.DebugContext(ctx, "searching vulnerabilities", "query", query)
	vulns, err := o.client.SearchVulnerabilities(ctx, query)
	if err != nil {
		return nil, err
	}
	res := &model.ScanResults{
		ScanID:           id,
		Vulnerabilities:  vulns,
		ExecutionDetails: details,
	}
	counts := res.SeverityCounts()
	slog.InfoContext(ctx, "scan results",
		"vulnerabilities", counts.Total,
		"critical", counts.Critical,
		"high", counts.High,
		"medium", counts.Medium,
		"low", counts.Low,
		"info", counts.Info,
		"links_crawled", details.LinksCrawled,
		"requests", details.Requests)
	return res, nil
}

// VulnerabilityQuery restricts the vulnerability search to a scan. A non
// blank user query is combined with &&, wrapped in parentheses unless it
// already is. A query like "(a) || (b)" starts and ends with a parenthesis,
// so it is kept as is and its || binds outside the scan filter; wrap it as
// "((a) || (b))" to keep the search within the scan.
func VulnerabilityQuery(id model.ScanID, userQuery string) string {
	base := fmt.Sprintf("scans.id='%s'", id)
	q := strings.TrimSpace(userQuery)
	if q == "" {
		return base
	}
	if strings.HasPrefix(q, "(") && strings.HasSuffix(q, ")") {
		return base + " && " + q
	}
	return base + " && (" + q + ")"
}
