package model

import "strings"

// ScanID identifies a scan on the remote service. It is assigned by the
// service when the scan is submitted.
type ScanID string

func (id ScanID) String() string { return string(id) }

// ScanStatus is the lifecycle state reported by the remote service.
type ScanStatus string

const (
	StatusPending                ScanStatus = "PENDING"
	StatusRunning                ScanStatus = "RUNNING"
	StatusScanned                ScanStatus = "SCANNED"
	StatusProcessed              ScanStatus = "PROCESSED"
	StatusComplete               ScanStatus = "COMPLETE"
	StatusPaused                 ScanStatus = "PAUSED"
	StatusBlackedOut             ScanStatus = "BLACKED_OUT"
	StatusPausing                ScanStatus = "PAUSING"
	StatusResuming               ScanStatus = "RESUMING"
	StatusStopping               ScanStatus = "STOPPING"
	StatusCanceling              ScanStatus = "CANCELING"
	StatusAuthenticating         ScanStatus = "AUTHENTICATING"
	StatusFailed                 ScanStatus = "FAILED"
	StatusAwaitingAuthentication ScanStatus = "AWAITING_AUTHENTICATION"
	StatusAuthenticated          ScanStatus = "AUTHENTICATED"
	StatusUnknown                ScanStatus = "UNKNOWN"
)

var knownStatuses = map[ScanStatus]struct{}{
	StatusPending:                {},
	StatusRunning:                {},
	StatusScanned:                {},
	StatusProcessed:              {},
	StatusComplete:               {},
	StatusPaused:                 {},
	StatusBlackedOut:             {},
	StatusPausing:                {},
	StatusResuming:               {},
	StatusStopping:               {},
	StatusCanceling:              {},
	StatusAuthenticating:         {},
	StatusFailed:                 {},
	StatusAwaitingAuthentication: {},
	StatusAuthenticated:          {},
	StatusUnknown:                {},
}

// ParseScanStatus never fails: values the service may add later decode
// to StatusUnknown.
func ParseScanStatus(s string) ScanStatus {
	st := ScanStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownStatuses[st]; ok {
		return st
	}
	return StatusUnknown
}

func (s *ScanStatus) UnmarshalText(text []byte) error {
	*s = ParseScanStatus(string(text))
	return nil
}

func (s ScanStatus) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(StatusUnknown), nil
	}
	return []byte(s), nil
}

// IsTerminalFailure reports statuses after which the scan can never
// produce results.
func (s ScanStatus) IsTerminalFailure() bool {
	return s == StatusCanceling || s == StatusFailed
}

func (s ScanStatus) String() string { return string(s) }

// ScanAction is a control command sent to a scan.
type ScanAction string

const (
	ActionStop   ScanAction = "STOP"
	ActionCancel ScanAction = "CANCEL"
)
