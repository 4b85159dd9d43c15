package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/scangate/internal/model"
)

// ScanActioner sends control actions to a scan.
type ScanActioner interface {
	SubmitScanAction(ctx context.Context, id model.ScanID, action model.ScanAction) error
}

// TimeoutState is the per run bookkeeping of the budgets. The poll loop
// owns it; nothing else mutates it.
type TimeoutState struct {
	BuildStart   time.Time
	RunningSince time.Time
	StopIssued   bool
	CancelIssued bool
	// Phase is where the last PollUntil call ended. A canceled context
	// leaves the phase it was in.
	Phase PollPhase
}

// TimeoutEnforcer applies the pending and execution budgets to an observed
// status. A scan stuck in PENDING is canceled and the run fails; a scan
// running too long is stopped once and the run continues to collect
// whatever the service produced.
type TimeoutEnforcer struct {
	Pending   Budget
	Execution Budget
	Milestone model.Milestone
	Actions   ScanActioner
	Clock     Clock
}

func (e TimeoutEnforcer) clock() Clock {
	if e.Clock == nil {
		return SystemClock()
	}
	return e.Clock
}

// CheckPending cancels a scan still PENDING past the pending budget and
// returns a duration exceeded error. The cancel action is sent only once.
func (e TimeoutEnforcer) CheckPending(ctx context.Context, id model.ScanID, status model.ScanStatus, st *TimeoutState) error {
	if !e.Pending.Enabled || status != model.StatusPending || !e.Milestone.WaitsPastSubmission() {
		return nil
	}
	now := e.clock().Now()
	if !e.Pending.Exceeded(st.BuildStart, now) {
		return nil
	}
	if !st.CancelIssued {
		slog.WarnContext(ctx, "pending budget exceeded, canceling scan",
			"max_pending", e.Pending.Max.String(),
			"waited", now.Sub(st.BuildStart).String())
		if err := e.Actions.SubmitScanAction(ctx, id, model.ActionCancel); err != nil {
			return err
		}
		st.CancelIssued = true
	}
	return &model.Error{
		Kind:   model.KindDurationExceeded,
		Op:     "wait for scan start",
		ScanID: id,
		Status: status,
		Err:    fmt.Errorf("scan still pending after %s", e.Pending.Max),
	}
}

// CheckExecution records when the scan was first seen RUNNING and stops it
// once the execution budget is spent. It never fails the run on its own.
func (e TimeoutEnforcer) CheckExecution(ctx context.Context, id model.ScanID, status model.ScanStatus, st *TimeoutState) error {
	if !e.Execution.Enabled || status != model.StatusRunning || !e.Milestone.WaitsPastStart() {
		return nil
	}
	now := e.clock().Now()
	if st.RunningSince.IsZero() {
		st.RunningSince = now
	}
	if st.StopIssued || !e.Execution.Exceeded(st.RunningSince, now) {
		return nil
	}
	if err := e.Actions.SubmitScanAction(ctx, id, model.ActionStop); err != nil {
		return err
	}
	st.StopIssued = true
	slog.WarnContext(ctx, "execution budget exceeded, scan stopped",
		"max_execution", e.Execution.Max.String(),
		"running_for", now.Sub(st.RunningSince).String())
	return nil
}
