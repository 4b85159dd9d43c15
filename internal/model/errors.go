package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies the failures a scan run can end with.
type Kind int

const (
	KindUnknown Kind = iota
	KindSubmission
	KindRetrieval
	KindAction
	KindDurationExceeded
	KindScanFailure
	KindUnrecognized
	KindPollThreshold
)

var (
	ErrSubmission       = errors.New("scan submission failed")
	ErrRetrieval        = errors.New("scan retrieval failed")
	ErrAction           = errors.New("scan action failed")
	ErrDurationExceeded = errors.New("scan duration exceeded")
	ErrScanFailure      = errors.New("scan failed")
	ErrUnrecognized     = errors.New("unrecognized value")
	ErrPollThreshold    = errors.New("too many consecutive poll failures")
)

var kindErrs = map[Kind]error{
	KindSubmission:       ErrSubmission,
	KindRetrieval:        ErrRetrieval,
	KindAction:           ErrAction,
	KindDurationExceeded: ErrDurationExceeded,
	KindScanFailure:      ErrScanFailure,
	KindUnrecognized:     ErrUnrecognized,
	KindPollThreshold:    ErrPollThreshold,
}

func (k Kind) String() string {
	if err, ok := kindErrs[k]; ok {
		return err.Error()
	}
	return "unknown error"
}

// Error is returned by every scan operation. Fields other than Kind are
// set when they apply to the failure.
type Error struct {
	Kind       Kind
	Op         string
	ScanID     ScanID
	Status     ScanStatus
	StatusCode int
	Failures   int
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.ScanID != "" {
		fmt.Fprintf(&sb, " (scan %s)", e.ScanID)
	}
	if e.Status != "" {
		fmt.Fprintf(&sb, ": status %s", e.Status)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": http status %d", e.StatusCode)
	}
	if e.Failures != 0 {
		fmt.Fprintf(&sb, ": %d consecutive failures", e.Failures)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error kind, so callers can write
// errors.Is(err, model.ErrScanFailure).
func (e *Error) Is(target error) bool {
	sentinel, ok := kindErrs[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
