package data

import "time"

// TimeProvider supplies the clock the repositories stamp rows with.
// Swapping in a fixed clock lets retention tests age entries without
// sleeping.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always reports the same instant.
type FixedTimeProvider struct {
	fixedTime time.Time
}

// NewFixedTimeProvider pins the clock to the given instant.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{fixedTime: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.fixedTime
}

// Advance moves the pinned clock forward.
func (f *FixedTimeProvider) Advance(d time.Duration) {
	f.fixedTime = f.fixedTime.Add(d)
}
