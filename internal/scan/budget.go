package scan

import "time"

// Budget is an optional maximum duration.
type Budget struct {
	Max     time.Duration
	Enabled bool
}

// NewBudget returns a disabled Budget for nil.
func NewBudget(limit *time.Duration) Budget {
	if limit == nil {
		return Disabled()
	}
	return Budget{Max: *limit, Enabled: true}
}

func Disabled() Budget { return Budget{} }

// Exceeded reports whether more than Max has elapsed between ref and now.
// Reaching exactly Max is not exceeding it.
func (b Budget) Exceeded(ref, now time.Time) bool {
	if !b.Enabled || ref.IsZero() {
		return false
	}
	return ref.Add(b.Max).Before(now)
}

func (b Budget) String() string {
	if !b.Enabled {
		return "disabled"
	}
	return b.Max.String()
}
