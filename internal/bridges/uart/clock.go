package uart

import "time"

// Clock reports monotonic time since the bridge started.
type Clock interface {
	Uptime() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns a Clock whose uptime starts at zero now.
func NewClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Uptime() time.Duration {
	return time.Since(c.start)
}
