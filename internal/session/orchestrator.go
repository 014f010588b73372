// Package session implements the SessionOrchestrator described in the
// specification's §4.9: the process-long state machine that drives one
// trading day per loop iteration (wait for pre-open, start strategies,
// serve the session with periodic health checks, stop strategies, sweep
// the ticker cache, and loop). Grounded on the teacher's
// internal/orchestrator.go top-level run loop (context-cancellation-
// driven goroutine with a state field protected by a mutex), generalized
// from a single always-running crypto loop to the day-cycle state
// machine the specification names.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State enumerates the orchestrator's day-cycle states.
type State int

const (
	StateIdle State = iota
	StateWaitPreopen
	StateStarting
	StateServing
	StateStopping
	StateSweepCache
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitPreopen:
		return "WAIT_PREOPEN"
	case StateStarting:
		return "STARTING"
	case StateServing:
		return "SERVING"
	case StateStopping:
		return "STOPPING"
	case StateSweepCache:
		return "SWEEP_CACHE"
	case StateTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Calendar is the subset of calendar.Calendar the orchestrator depends
// on to align the day cycle to the exchange's real session boundaries.
type Calendar interface {
	Now() time.Time
	PreMarketOpen(sessionDay time.Time) time.Time
	PostSessionClose(sessionDay time.Time) time.Time
	NextSessionOpen(after time.Time) time.Time
}

// Runner is the subset of strategyrunner.Runner the orchestrator drives
// through each day's STARTING/SERVING/STOPPING phases.
type Runner interface {
	StartAll(ctx context.Context)
	HealthCheck(ctx context.Context)
	StopAll(ctx context.Context)
}

// Cache is the subset of tickercache.Cache the orchestrator sweeps once
// per day after STOPPING.
type Cache interface {
	Sweep()
}

// Config controls the orchestrator's serving-loop poll interval and
// pre-open wait refinement threshold.
type Config struct {
	HealthCheckInterval time.Duration // default 1s, per §4.9 SERVING
	CoarseWaitSlice     time.Duration // default 60s
	FineWaitSlice       time.Duration // default 1s
}

func (c Config) normalized() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = time.Second
	}
	if c.CoarseWaitSlice <= 0 {
		c.CoarseWaitSlice = 60 * time.Second
	}
	if c.FineWaitSlice <= 0 {
		c.FineWaitSlice = time.Second
	}
	return c
}

// Orchestrator drives the day cycle: wait -> start -> serve -> stop ->
// sweep -> loop, until Stop is called.
type Orchestrator struct {
	calendar Calendar
	runner   Runner
	cache    Cache
	cfg      Config

	mu       sync.Mutex
	state    State
	stopping bool
}

// New builds an Orchestrator over its three collaborators.
func New(cal Calendar, runner Runner, cache Cache, cfg Config) *Orchestrator {
	return &Orchestrator{
		calendar: cal,
		runner:   runner,
		cache:    cache,
		cfg:      cfg.normalized(),
		state:    StateIdle,
	}
}

// State returns the orchestrator's current state, for observability.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	log.Info().Str("state", s.String()).Msg("session: state transition")
}

// Stop requests cooperative shutdown. The running day cycle finishes
// its current phase, transitions to STOPPING, tears strategies down,
// and Run returns once the orchestrator reaches TERMINAL.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopping = true
	o.mu.Unlock()
}

func (o *Orchestrator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// Run drives the day cycle until Stop is called or ctx is canceled.
// Each iteration is one trading day: WAIT_PREOPEN -> STARTING -> SERVING
// -> STOPPING -> SWEEP_CACHE, then back to WAIT_PREOPEN for the next
// day, unless a stop was requested, in which case it exits via STOPPING
// straight to TERMINAL without sweeping.
func (o *Orchestrator) Run(ctx context.Context) {
	o.setState(StateWaitPreopen)

	for {
		if ctx.Err() != nil || o.stopRequested() {
			o.runStopping(ctx)
			o.setState(StateTerminal)
			return
		}

		sessionDay := o.calendar.NextSessionOpen(o.calendar.Now())
		preOpen := o.calendar.PreMarketOpen(sessionDay)
		if !o.waitUntil(ctx, preOpen) {
			o.runStopping(ctx)
			o.setState(StateTerminal)
			return
		}

		o.setState(StateStarting)
		o.runner.StartAll(ctx)

		o.setState(StateServing)
		o.serveUntil(ctx, o.calendar.PostSessionClose(sessionDay))

		o.runStopping(ctx)
		if o.stopRequested() || ctx.Err() != nil {
			o.setState(StateTerminal)
			return
		}

		o.setState(StateSweepCache)
		o.cache.Sweep()

		if o.stopRequested() || ctx.Err() != nil {
			o.setState(StateTerminal)
			return
		}

		o.setState(StateWaitPreopen)
	}
}

func (o *Orchestrator) runStopping(ctx context.Context) {
	o.setState(StateStopping)
	o.runner.StopAll(ctx)
}

// waitUntil sleeps in coarse 60-second slices while more than
// CoarseWaitSlice remains, then refines to 1-second slices for the
// final minute, waking early on ctx cancellation. A stop request is
// noticed at the end of the current slice. It returns false if the wait
// was interrupted by ctx cancellation or a stop request.
func (o *Orchestrator) waitUntil(ctx context.Context, target time.Time) bool {
	for {
		now := o.calendar.Now()
		remaining := target.Sub(now)
		if remaining <= 0 {
			return true
		}

		slice := o.cfg.FineWaitSlice
		if remaining > o.cfg.CoarseWaitSlice {
			slice = o.cfg.CoarseWaitSlice
		}
		if slice > remaining {
			slice = remaining
		}

		select {
		case <-time.After(slice):
		case <-ctx.Done():
			return false
		}

		if o.stopRequested() {
			return false
		}
	}
}

// serveUntil runs the health-check poll loop until now >= postClose, ctx
// is canceled, or a stop is requested.
func (o *Orchestrator) serveUntil(ctx context.Context, postClose time.Time) {
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		if o.calendar.Now().After(postClose) || o.calendar.Now().Equal(postClose) {
			return
		}
		if o.stopRequested() || ctx.Err() != nil {
			return
		}

		select {
		case <-ticker.C:
			o.runner.HealthCheck(ctx)
		case <-ctx.Done():
			return
		}
	}
}
