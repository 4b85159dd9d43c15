package model

import (
	"fmt"
	"strings"
)

// Milestone is the pipeline checkpoint at which control returns to the build.
type Milestone string

const (
	MilestoneSubmitted          Milestone = "SUBMITTED"
	MilestoneStarted            Milestone = "STARTED"
	MilestoneCompleted          Milestone = "COMPLETED"
	MilestoneVulnerabilityQuery Milestone = "VULNERABILITY_QUERY"
)

// Milestones lists every supported milestone in pipeline order.
var Milestones = []Milestone{
	MilestoneSubmitted,
	MilestoneStarted,
	MilestoneCompleted,
	MilestoneVulnerabilityQuery,
}

// ParseMilestone accepts any letter case, '-' in place of '_' and the older
// VULNERABILITY_RESULTS spelling.
func ParseMilestone(s string) (Milestone, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch Milestone(norm) {
	case MilestoneSubmitted, MilestoneStarted, MilestoneCompleted, MilestoneVulnerabilityQuery:
		return Milestone(norm), nil
	case "VULNERABILITY_RESULTS":
		return MilestoneVulnerabilityQuery, nil
	}
	return "", &Error{
		Kind: KindUnrecognized,
		Op:   "parse milestone",
		Err:  fmt.Errorf("unrecognized milestone %q", s),
	}
}

func (m *Milestone) UnmarshalText(text []byte) error {
	parsed, err := ParseMilestone(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Milestone) String() string { return string(m) }

// Plan says what a run does after submission for a given milestone.
type Plan struct {
	// Block is false when the run returns right after submission.
	Block bool
	// Target is the status the poller waits for.
	Target ScanStatus
	// FetchResults requests execution details and vulnerabilities once Target is reached.
	FetchResults bool
	// UseQuery combines the user vulnerability query with the scan id filter.
	UseQuery bool
}

func (m Milestone) Plan() (Plan, error) {
	switch m {
	case MilestoneSubmitted:
		return Plan{}, nil
	case MilestoneStarted:
		return Plan{Block: true, Target: StatusRunning}, nil
	case MilestoneCompleted:
		return Plan{Block: true, Target: StatusComplete, FetchResults: true}, nil
	case MilestoneVulnerabilityQuery:
		return Plan{Block: true, Target: StatusComplete, FetchResults: true, UseQuery: true}, nil
	}
	return Plan{}, &Error{
		Kind: KindUnrecognized,
		Op:   "plan milestone",
		Err:  fmt.Errorf("unrecognized milestone %q", string(m)),
	}
}

// WaitsPastSubmission is true for milestones that keep polling a PENDING scan.
func (m Milestone) WaitsPastSubmission() bool {
	switch m {
	case MilestoneStarted, MilestoneCompleted, MilestoneVulnerabilityQuery:
		return true
	}
	return false
}

// WaitsPastStart is true for milestones that keep polling a RUNNING scan.
func (m Milestone) WaitsPastStart() bool {
	switch m {
	case MilestoneCompleted, MilestoneVulnerabilityQuery:
		return true
	}
	return false
}
