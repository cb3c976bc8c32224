package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration

	// Jitter, when positive, spreads each next run by a random amount in
	// [0, Jitter) so replicas started together do not sweep in lockstep.
	Jitter time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule without jitter.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	next := t.Add(s.Interval)
	if s.Jitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(s.Jitter))))
	}
	return next
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	if s.Jitter > 0 {
		return fmt.Sprintf("@every %s (jitter %s)", s.Interval.String(), s.Jitter.String())
	}
	return fmt.Sprintf("@every %s", s.Interval.String())
}
