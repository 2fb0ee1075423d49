package backoff

import (
	"sync"
	"time"
)

// Default retry policy values.
const (
	defaultFloor   = 5 * time.Second
	defaultCeiling = 300 * time.Second
	defaultGrowth  = 1.5
)

// Mode selects the delay progression policy.
type Mode string

// Supported modes.
const (
	// ModeExponential grows the delay by the growth factor after every
	// scheduled retry, capped at the ceiling.
	ModeExponential Mode = "exponential"

	// ModeFixed uses the floor delay for every retry.
	ModeFixed Mode = "fixed"
)

// Scheduler arms one-shot retry timers with increasing delays.
//
// At most one retry is pending at a time; scheduling a new retry cancels
// the previous pending timer. Reset returns the delay to the floor and is
// called after a successful connection.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	mode    Mode
	floor   time.Duration
	ceiling time.Duration
	growth  float64

	current time.Duration
	timer   *time.Timer
	stopped bool

	// afterFunc is swappable in tests to capture armed delays.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// Config holds scheduler settings.
type Config struct {
	// Mode selects fixed or exponential progression.
	// Default: ModeExponential.
	Mode Mode

	// Floor is the first retry delay. Default: 5s.
	Floor time.Duration

	// Ceiling bounds the delay from above. Default: 300s.
	Ceiling time.Duration

	// Growth multiplies the delay after each scheduled retry
	// (exponential mode only). Default: 1.5.
	Growth float64
}

// NewScheduler creates a scheduler with the given policy.
// Zero-value config fields fall back to defaults.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeExponential
	}
	if cfg.Floor <= 0 {
		cfg.Floor = defaultFloor
	}
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = defaultCeiling
	}
	if cfg.Growth < 1 {
		cfg.Growth = defaultGrowth
	}

	return &Scheduler{
		mode:      cfg.Mode,
		floor:     cfg.Floor,
		ceiling:   cfg.Ceiling,
		growth:    cfg.Growth,
		current:   cfg.Floor,
		afterFunc: time.AfterFunc,
	}
}

// ScheduleRetry arms a one-shot timer that invokes action after the
// current delay, then advances the delay for the next call.
//
// A previously pending retry is cancelled; only one retry is ever
// pending. Calls after Stop are ignored.
//
// Returns:
//   - time.Duration: the delay the retry was armed with
func (s *Scheduler) ScheduleRetry(action func()) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	delay := s.current
	if delay > s.ceiling {
		delay = s.ceiling
	}
	s.timer = s.afterFunc(delay, action)

	if s.mode == ModeExponential {
		next := time.Duration(float64(s.current) * s.growth)
		if next > s.ceiling {
			next = s.ceiling
		}
		s.current = next
	}

	return delay
}

// Reset returns the delay to the floor.
// Called after a successful connection.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.current = s.floor
	s.mu.Unlock()
}

// NextDelay returns the delay the next ScheduleRetry call would use.
func (s *Scheduler) NextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current > s.ceiling {
		return s.ceiling
	}
	return s.current
}

// Stop cancels any pending retry and prevents further scheduling.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
