package uart

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Scheduler defaults.
const (
	DefaultFastPeriod   = 200 * time.Millisecond
	DefaultSlowPeriod   = 10 * time.Second
	DefaultIdleInterval = 5 * time.Millisecond
)

// Pump delivers queued MQTT messages. *mqtt.Client satisfies it.
type Pump interface {
	Loop() int
}

// Link is the part of the link manager the scheduler drives.
type Link interface {
	Poll(ctx context.Context)
	Ready() bool
}

// LineReader is the serial source. *serial.Line satisfies it.
type LineReader interface {
	Available() bool
	ReadLine() ([]byte, bool, error)
}

// Snapshot is the telemetry emitted on every slow tick.
type Snapshot struct {
	Uptime time.Duration
	Bridge Stats
}

// SchedulerOptions holds configuration for creating a scheduler.
type SchedulerOptions struct {
	Pump   Pump
	Link   Link
	Serial LineReader
	Bridge *Bridge
	Clock  Clock

	// FastPeriod is the I/O servicing period. Default: 200ms.
	FastPeriod time.Duration

	// SlowPeriod is the heartbeat period. Default: 10s.
	SlowPeriod time.Duration

	// IdleInterval is the pause between Run iterations. Default: 5ms.
	IdleInterval time.Duration

	// OnSlowTick, if set, receives a snapshot after each heartbeat.
	OnSlowTick func(Snapshot)

	// ReadErrorHook, if set, receives serial read errors after logging.
	ReadErrorHook func(error)

	Logger Logger
}

// Scheduler is the two-rate cooperative loop that drives the bridge.
//
// Every iteration pumps the MQTT transport. The fast tick polls the link
// and forwards at most one serial frame; the slow tick publishes the
// heartbeat. Tick times are compared against uptime and reset to the
// time they fired, both starting at zero.
//
// Thread Safety: Step and Run must be called from one goroutine.
type Scheduler struct {
	pump   Pump
	link   Link
	serial LineReader
	bridge *Bridge
	clock  Clock

	fast time.Duration
	slow time.Duration
	idle time.Duration

	lastFast time.Duration
	lastSlow time.Duration

	onSlowTick    func(Snapshot)
	readErrorHook func(error)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewScheduler creates a scheduler. Call Run to start it.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Pump == nil {
		return nil, fmt.Errorf("transport pump is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("link is required")
	}
	if opts.Serial == nil {
		return nil, fmt.Errorf("serial reader is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	s := &Scheduler{
		pump:          opts.Pump,
		link:          opts.Link,
		serial:        opts.Serial,
		bridge:        opts.Bridge,
		clock:         opts.Clock,
		fast:          opts.FastPeriod,
		slow:          opts.SlowPeriod,
		idle:          opts.IdleInterval,
		onSlowTick:    opts.OnSlowTick,
		readErrorHook: opts.ReadErrorHook,
		logger:        opts.Logger,
	}
	if s.clock == nil {
		s.clock = NewClock()
	}
	if s.fast <= 0 {
		s.fast = DefaultFastPeriod
	}
	if s.slow <= 0 {
		s.slow = DefaultSlowPeriod
	}
	if s.idle <= 0 {
		s.idle = DefaultIdleInterval
	}

	return s, nil
}

// SetLogger sets the logger for this scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Scheduler) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Step runs one loop iteration.
func (s *Scheduler) Step(ctx context.Context) {
	s.pump.Loop()

	now := s.clock.Uptime()
	if now-s.lastFast > s.fast {
		s.lastFast = now
		s.fastTick(ctx)
	}

	now = s.clock.Uptime()
	if now-s.lastSlow >= s.slow {
		s.lastSlow = now
		s.slowTick(now)
	}
}

func (s *Scheduler) fastTick(ctx context.Context) {
	s.link.Poll(ctx)

	if !s.link.Ready() || !s.serial.Available() {
		return
	}

	line, truncated, err := s.serial.ReadLine()
	if err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Error("serial read failed", "error", err)
		}
		if s.readErrorHook != nil {
			s.readErrorHook(err)
		}
		return
	}

	s.bridge.HandleFrame(Frame{Data: line, Truncated: truncated})
}

func (s *Scheduler) slowTick(now time.Duration) {
	s.bridge.PublishHeartbeat(now)

	if s.onSlowTick != nil {
		s.onSlowTick(Snapshot{Uptime: now, Bridge: s.bridge.Stats()})
	}
}

// Run loops Step until ctx is cancelled.
//
// Returns:
//   - error: always ctx.Err()
func (s *Scheduler) Run(ctx context.Context) error {
	if logger := s.getLogger(); logger != nil {
		logger.Info("scheduler started",
			"fast_period", s.fast,
			"slow_period", s.slow,
		)
	}

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		s.Step(ctx)

		timer.Reset(s.idle)
		select {
		case <-ctx.Done():
			if logger := s.getLogger(); logger != nil {
				logger.Info("scheduler stopped")
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}
