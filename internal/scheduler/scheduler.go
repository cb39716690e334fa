// Package scheduler drives round timers and idle reaping for every session the
// engine reports as scheduled.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kiliankoe/dropone/internal/game"
)

// Engine is the part of *game.Engine the scheduler drives.
type Engine interface {
	ScheduledSessionIDs(ctx context.Context) ([]string, error)
	Tick(ctx context.Context, sessionID string, elapsed int) error
	CheckAndTimeout(ctx context.Context, threshold time.Duration) (int, error)
}

type Options struct {
	TickInterval  time.Duration
	ReapInterval  time.Duration
	IdleThreshold time.Duration
	// Parallel bounds how many sessions are ticked at once.
	Parallel int
	Logger   zerolog.Logger
}

type Scheduler struct {
	engine Engine
	opts   Options
	now    func() time.Time

	mu    sync.Mutex
	last  time.Time
	carry time.Duration
}

func New(engine Engine, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 15 * time.Second
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 3 * time.Minute
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 8
	}
	return &Scheduler{engine: engine, opts: opts, now: time.Now}
}

// Run ticks and reaps until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(ctx, s.opts.TickInterval, func() { s.Tick(ctx) })
		return nil
	})
	g.Go(func() error {
		every(ctx, s.opts.ReapInterval, func() { s.Reap(ctx) })
		return nil
	})
	s.opts.Logger.Info().
		Dur("tick", s.opts.TickInterval).
		Dur("reap", s.opts.ReapInterval).
		Dur("idle", s.opts.IdleThreshold).
		Msg("scheduler started")
	err := g.Wait()
	s.opts.Logger.Info().Msg("scheduler stopped")
	return err
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Tick measures the wall time since the previous tick and hands it to every
// scheduled session in whole seconds. The fractional rest carries over, so a
// sub-second interval still counts down at real speed.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	if s.last.IsZero() {
		s.last = now
	}
	s.carry += now.Sub(s.last)
	s.last = now
	elapsed := int(s.carry / time.Second)
	s.carry -= time.Duration(elapsed) * time.Second
	s.mu.Unlock()

	s.TickSessions(ctx, elapsed)
}

// TickSessions advances every scheduled session by elapsed seconds. Sessions
// are independent, so they are ticked in parallel; a failing session is
// logged and retried on the next tick.
func (s *Scheduler) TickSessions(ctx context.Context, elapsed int) {
	ids, err := s.engine.ScheduledSessionIDs(ctx)
	if err != nil {
		s.opts.Logger.Error().Err(err).Msg("list scheduled sessions")
		return
	}
	var g errgroup.Group
	g.SetLimit(s.opts.Parallel)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.engine.Tick(ctx, id, elapsed); err != nil {
				ev := s.opts.Logger.Error()
				if game.Retryable(err) {
					ev = s.opts.Logger.Warn()
				}
				ev.Err(err).Str("session", id).Int("elapsed", elapsed).Msg("tick failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Reap removes idle participants from every session in play.
func (s *Scheduler) Reap(ctx context.Context) {
	n, err := s.engine.CheckAndTimeout(ctx, s.opts.IdleThreshold)
	if err != nil {
		s.opts.Logger.Error().Err(err).Msg("idle check failed")
	}
	if n > 0 {
		s.opts.Logger.Info().Int("removed", n).Msg("removed idle participants")
	}
}
