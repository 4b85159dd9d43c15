package scan

import "time"

// Clock is the source of time for budgets and poll sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// SystemClock reads the wall clock. Instants carry the monotonic reading,
// so budget arithmetic is immune to wall clock jumps.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
