// Package worker runs periodic maintenance: sweeping idle study sessions and
// probing the store for the health service.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	defaultProbeInterval = 30 * time.Second
	probeTimeout         = 5 * time.Second
)

// Sweeper ends and drops idle study sessions.
type Sweeper interface {
	SweepIdle(ctx context.Context, ttl time.Duration) int
}

// Evicter forgets per-key state unused for the given duration.
type Evicter interface {
	Evict(idle time.Duration) int
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSetter receives the probe result.
type StatusSetter interface {
	SetServing(serving bool)
}

// Config controls the job schedule.
type Config struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	ProbeInterval time.Duration
}

// Worker owns the scheduler and its jobs.
type Worker struct {
	cfg       Config
	sched     *gocron.Scheduler
	sweeper   Sweeper
	evicters  []Evicter
	pinger    Pinger
	status    StatusSetter
	ctx       context.Context
	lastProbe error
}

// New creates a worker. status may be nil when no health service runs.
func New(cfg Config, sweeper Sweeper, pinger Pinger, status StatusSetter, evicters ...Evicter) *Worker {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	s := gocron.NewScheduler(time.UTC)
	// A slow sweep must not overlap with the next run.
	s.SingletonModeAll()
	return &Worker{
		cfg:      cfg,
		sched:    s,
		sweeper:  sweeper,
		evicters: evicters,
		pinger:   pinger,
		status:   status,
		ctx:      context.Background(),
	}
}

// Start schedules the jobs and runs them in the background until ctx is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx
	if _, err := w.sched.Every(w.cfg.SweepInterval).Do(w.sweep); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}
	if _, err := w.sched.Every(w.cfg.ProbeInterval).Do(w.probe); err != nil {
		return fmt.Errorf("schedule health probe: %w", err)
	}
	w.sched.StartAsync()
	slog.Info("Worker started", "sweep_interval", w.cfg.SweepInterval, "idle_ttl", w.cfg.IdleTTL,
		"probe_interval", w.cfg.ProbeInterval)

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the scheduler.
func (w *Worker) Stop() {
	if w.sched.IsRunning() {
		w.sched.Stop()
		slog.Info("Worker shutting down")
	}
}

func (w *Worker) sweep() {
	w.Sweep(w.ctx)
}

// Sweep removes sessions idle for longer than the configured TTL and evicts
// stale rate limiter state. It returns the number of sessions removed.
func (w *Worker) Sweep(ctx context.Context) int {
	n := w.sweeper.SweepIdle(ctx, w.cfg.IdleTTL)
	if n > 0 {
		slog.Info("Idle sweep completed", "removed", n)
	}
	for _, e := range w.evicters {
		if evicted := e.Evict(w.cfg.IdleTTL); evicted > 0 {
			slog.Debug("Evicted idle limiter state", "count", evicted)
		}
	}
	return n
}

func (w *Worker) probe() {
	w.Probe(w.ctx)
}

// Probe pings the store and reports the result to the status setter.
// Transitions are logged once.
func (w *Worker) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := w.pinger.Ping(ctx)
	switch {
	case err != nil && w.lastProbe == nil:
		slog.Error("Store health probe failed", "error", err)
	case err == nil && w.lastProbe != nil:
		slog.Info("Store health probe recovered")
	}
	w.lastProbe = err

	if w.status != nil {
		w.status.SetServing(err == nil)
	}
	return err
}
