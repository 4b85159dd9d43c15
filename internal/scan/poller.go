package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/CZERTAINLY/scangate/internal/model"
)

// StatusGetter reads the current state of a scan.
type StatusGetter interface {
	GetScan(ctx context.Context, id model.ScanID) (model.Scan, error)
}

// PollPhase is the state of a single PollUntil call.
type PollPhase int

const (
	AwaitingFirstPoll PollPhase = iota
	Polling
	Reached
	Failed
)

func (p PollPhase) String() string {
	switch p {
	case AwaitingFirstPoll:
		return "AWAITING_FIRST_POLL"
	case Polling:
		return "POLLING"
	case Reached:
		return "REACHED"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("PollPhase(%d)", int(p))
}

// Poller waits for a scan to reach a status.
type Poller struct {
	Client   StatusGetter
	Enforcer TimeoutEnforcer
	// Interval between two polls, DefaultPollInterval when zero.
	Interval time.Duration
	// FailureThreshold is the number of consecutive failed polls tolerated;
	// the next one ends the wait. DefaultFailureThreshold when zero.
	FailureThreshold int
	Clock            Clock
}

func (p Poller) clock() Clock {
	if p.Clock == nil {
		return SystemClock()
	}
	return p.Clock
}

// PollUntil polls id every Interval until it reports desired. A status of
// CANCELING or FAILED ends the wait with a scan failure, as do the budgets
// checked after each successful poll. st is shared with the caller so the
// latches survive across calls; st.Phase records where this call ended.
func (p Poller) PollUntil(ctx context.Context, id model.ScanID, desired model.ScanStatus, st *TimeoutState) (model.ScanStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = model.DefaultPollInterval
	}
	threshold := p.FailureThreshold
	if threshold <= 0 {
		threshold = model.DefaultFailureThreshold
	}
	clock := p.clock()

	retries := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(threshold))
	st.Phase = AwaitingFirstPoll
	var last model.ScanStatus
	failures := 0

	for {
		scan, err := p.Client.GetScan(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("polling scan %s: %w", id, ctx.Err())
			}
			failures++
			wait := retries.NextBackOff()
			if wait == backoff.Stop {
				slog.ErrorContext(ctx, "giving up polling scan", "failures", failures, "error", err)
				st.Phase = Failed
				return last, &model.Error{
					Kind:     model.KindPollThreshold,
					Op:       "poll scan",
					ScanID:   id,
					Failures: failures,
					Err:      err,
				}
			}
			slog.WarnContext(ctx, "poll failed, retrying",
				"failures", failures,
				"threshold", threshold,
				"error", err)
			if err := sleep(ctx, clock, wait); err != nil {
				return last, fmt.Errorf("polling scan %s: %w", id, err)
			}
			continue
		}
		if failures > 0 {
			retries.Reset()
			failures = 0
		}

		status := scan.Status
		switch {
		case st.Phase == AwaitingFirstPoll:
			slog.InfoContext(ctx, "scan status", "status", status)
			st.Phase = Polling
		case status != last:
			slog.InfoContext(ctx, "scan status changed", "from", last, "to", status)
		}
		last = status

		if status.IsTerminalFailure() {
			st.Phase = Failed
			slog.ErrorContext(ctx, "scan failed", "phase", st.Phase.String(), "status", status)
			return status, &model.Error{
				Kind:   model.KindScanFailure,
				Op:     "poll scan",
				ScanID: id,
				Status: status,
			}
		}
		if status == desired {
			st.Phase = Reached
			slog.DebugContext(ctx, "scan reached status", "phase", st.Phase.String(), "status", status)
			return status, nil
		}

		if err := p.Enforcer.CheckPending(ctx, id, status, st); err != nil {
			st.Phase = Failed
			return status, err
		}
		if err := p.Enforcer.CheckExecution(ctx, id, status, st); err != nil {
			st.Phase = Failed
			return status, err
		}

		if err := sleep(ctx, clock, interval); err != nil {
			return status, fmt.Errorf("polling scan %s: %w", id, err)
		}
	}
}

func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
