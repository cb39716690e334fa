package game

import (
	"context"
	"errors"
	"time"
)

// CheckAndTimeout eliminates every participant of an in-play session who has
// shown no activity for longer than threshold. Lives are left as they were;
// the reason tag tells idle removals apart from lost rounds. A phase waiting
// only on the removed participants moves on in the same step. It returns how
// many participants were removed; sessions that failed are reported together.
func (e *Engine) CheckAndTimeout(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		return 0, newError(KindInvalidArgument, "threshold must be positive")
	}
	ss, err := e.store.ListSessions(ctx, SessionInProgress, SessionFinals)
	if err != nil {
		return 0, translate(err)
	}
	total := 0
	var errs []error
	for _, s := range ss {
		n, err := e.reap(ctx, s.ID, threshold)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (e *Engine) reap(ctx context.Context, sessionID string, threshold time.Duration) (int, error) {
	n := 0
	err := e.mutate(ctx, "CheckAndTimeout", sessionID, func(ctx context.Context, t *tx) error {
		n = 0
		if !t.sess.Status.InPlay() {
			return errNoChange
		}
		ps, err := t.ListParticipants(ctx, t.sess.ID)
		if err != nil {
			return err
		}
		cutoff := t.now.Add(-threshold)
		for _, p := range ps {
			if p.Status != ParticipantActive || !p.LastActiveAt.Before(cutoff) {
				continue
			}
			e.eliminate(t, &p, ReasonIdle)
			if err := t.UpdateParticipant(ctx, p); err != nil {
				return err
			}
			n++
		}
		if n == 0 {
			return errNoChange
		}
		return e.advance(ctx, t)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
