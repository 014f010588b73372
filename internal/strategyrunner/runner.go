// Package strategyrunner is the bounded-retry supervisor described in
// the specification's §4.8: it owns a fixed set of strategies, retries
// Initialize up to a configured bound, restarts strategies whose
// liveness flag drops during the session, and tears every active
// strategy down at session end. Grounded on the teacher's
// internal/orchestrator.go supervisory loop style (state struct guarded
// by a single mutex, periodic health check) generalized from one
// monolithic orchestrator to a named set of independently-supervised
// strategies.
package strategyrunner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Strategy is the capability the runner supervises. IsInitialized
// reports current liveness: the runner treats a false return during
// SERVING as a crash and attempts a restart.
type Strategy interface {
	Name() string
	Initialize(ctx context.Context) error
	IsInitialized() bool
	Shutdown(ctx context.Context) error
}

// Config bounds the supervisor's retry behavior.
type Config struct {
	MaxRetries int           // R in the specification
	RetryDelay time.Duration // D in the specification
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

type entry struct {
	strategy Strategy
	failures int
	disabled bool
	active   bool // currently active; cleared when HealthCheck disables it
}

// Runner supervises a fixed vector of strategies for one session.
type Runner struct {
	cfg Config

	mu      sync.Mutex
	entries []*entry
}

// New builds a Runner over the given strategies.
func New(strategies []Strategy, cfg Config) *Runner {
	cfg = cfg.normalized()
	entries := make([]*entry, len(strategies))
	for i, s := range strategies {
		entries[i] = &entry{strategy: s}
	}
	return &Runner{cfg: cfg, entries: entries}
}

// StartAll attempts Initialize on every strategy up to MaxRetries times,
// separated by RetryDelay; a strategy that exhausts its retries is
// disabled for the remainder of the session (logged and skipped, never
// invoked again).
func (r *Runner) StartAll(ctx context.Context) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		r.startOne(ctx, e)
	}
}

func (r *Runner) startOne(ctx context.Context, e *entry) {
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if err := e.strategy.Initialize(ctx); err != nil {
			log.Warn().Err(err).Str("strategy", e.strategy.Name()).Int("attempt", attempt+1).
				Msg("strategyrunner: initialize failed")
			r.mu.Lock()
			e.failures++
			r.mu.Unlock()
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		r.mu.Lock()
		e.active = true
		e.failures = 0
		r.mu.Unlock()
		log.Info().Str("strategy", e.strategy.Name()).Msg("strategyrunner: initialized")
		return
	}

	r.mu.Lock()
	e.disabled = true
	r.mu.Unlock()
	log.Error().Str("strategy", e.strategy.Name()).Int("max_retries", r.cfg.MaxRetries).
		Msg("strategyrunner: exhausted retries, disabling for this session")
}

// HealthCheck inspects every currently-active, non-disabled strategy;
// one whose IsInitialized has dropped false is counted as a failure and
// re-initialized if still under MaxRetries, else permanently disabled.
func (r *Runner) HealthCheck(ctx context.Context) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		r.mu.Lock()
		disabled, active := e.disabled, e.active
		r.mu.Unlock()
		if disabled || !active {
			continue
		}

		if e.strategy.IsInitialized() {
			continue
		}

		r.mu.Lock()
		e.failures++
		stillUnder := e.failures < r.cfg.MaxRetries
		r.mu.Unlock()

		log.Warn().Str("strategy", e.strategy.Name()).Int("failures", e.failures).
			Msg("strategyrunner: liveness flag dropped")

		if !stillUnder {
			r.mu.Lock()
			e.disabled = true
			e.active = false
			r.mu.Unlock()
			log.Error().Str("strategy", e.strategy.Name()).Msg("strategyrunner: permanently disabled after restart failures")
			continue
		}

		if err := e.strategy.Initialize(ctx); err != nil {
			log.Warn().Err(err).Str("strategy", e.strategy.Name()).Msg("strategyrunner: restart attempt failed")
			continue
		}
		log.Info().Str("strategy", e.strategy.Name()).Msg("strategyrunner: restarted")
	}
}

// StopAll calls Shutdown on every currently active strategy; a strategy
// that never initialized successfully, or that HealthCheck disabled, is
// skipped cleanly, not shut down. A Shutdown error is logged but never aborts
// the sweep over the remaining strategies.
func (r *Runner) StopAll(ctx context.Context) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		r.mu.Lock()
		active := e.active
		r.mu.Unlock()
		if !active {
			continue
		}

		if err := e.strategy.Shutdown(ctx); err != nil {
			log.Error().Err(err).Str("strategy", e.strategy.Name()).Msg("strategyrunner: shutdown failed")
		}

		r.mu.Lock()
		e.active = false
		r.mu.Unlock()
	}
}
