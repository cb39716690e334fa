// Package notify provides game.Publisher implementations that can be combined.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/game"
)

// Fanout delivers every event to each registered publisher in order. A failing
// publisher does not stop delivery to the others.
type Fanout struct {
	mu   sync.RWMutex
	pubs []game.Publisher
}

func NewFanout(pubs ...game.Publisher) *Fanout {
	f := &Fanout{}
	for _, p := range pubs {
		f.Add(p)
	}
	return f
}

// Add registers p. Nil publishers are ignored.
func (f *Fanout) Add(p game.Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	f.pubs = append(f.pubs, p)
	f.mu.Unlock()
}

func (f *Fanout) Publish(ctx context.Context, ev game.Event) error {
	f.mu.RLock()
	pubs := f.pubs
	f.mu.RUnlock()

	var errs []error
	for _, p := range pubs {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes every event to a zerolog logger at debug level.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Publish(_ context.Context, ev game.Event) error {
	e := l.Logger.Debug().
		Str("event", string(ev.Type)).
		Str("session", ev.SessionID)
	if ev.RoundNumber > 0 {
		e = e.Int("round", ev.RoundNumber)
	}
	if ev.Phase != "" {
		e = e.Str("phase", string(ev.Phase))
	}
	if ev.ParticipantID != "" {
		e = e.Str("participant", ev.ParticipantID)
	}
	if ev.Outcome != "" {
		e = e.Str("outcome", string(ev.Outcome))
	}
	if ev.WinnerID != "" {
		e = e.Str("winner", ev.WinnerID)
	}
	e.Msg("event")
	return nil
}

// Func adapts a function to game.Publisher.
type Func func(context.Context, game.Event) error

func (f Func) Publish(ctx context.Context, ev game.Event) error { return f(ctx, ev) }
