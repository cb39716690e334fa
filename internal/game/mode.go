package game

import (
	"context"

	"github.com/google/uuid"
)

// Start begins play with every active participant who still has lives. With
// nobody active the session completes without a winner; a lone participant
// wins without any round being created.
func (e *Engine) Start(ctx context.Context, sessionID string) error {
	return e.mutate(ctx, "Start", sessionID, func(ctx context.Context, t *tx) error {
		return e.start(ctx, t)
	})
}

func (e *Engine) start(ctx context.Context, t *tx) error {
	if !t.sess.Status.Open() {
		return newError(KindInvalidTransition, "session %s is %s", t.sess.ID, t.sess.Status)
	}
	living, err := e.living(ctx, t)
	if err != nil {
		return err
	}
	started := t.now
	t.sess.StartedAt = &started
	e.log.Info().Str("session", t.sess.ID).Int("participants", len(living)).Msg("session starting")

	switch len(living) {
	case 0:
		e.complete(t, "")
		return nil
	case 1:
		return e.crown(ctx, t, living[0])
	}

	finals := len(living) <= t.sess.Config.FinalsThreshold
	t.sess.Status = SessionInProgress
	if finals {
		t.sess.Status = SessionFinals
	}
	t.emit(Event{Type: EventSessionStatus, Status: t.sess.Status})
	if err := e.openRound(ctx, t, 1, finals); err != nil {
		return err
	}
	return e.advance(ctx, t)
}

// checkSchedule handles sessions that have not started yet: it enters the
// roster lock window and starts the session once its scheduled time passed.
func (e *Engine) checkSchedule(ctx context.Context, t *tx) error {
	at := t.sess.Config.ScheduledStartAt
	if at == nil {
		return nil
	}
	if !t.now.Before(*at) {
		return e.start(ctx, t)
	}
	if t.sess.Status == SessionWaiting && t.sess.Config.RosterLocked(t.now) {
		t.sess.Status = SessionStarting
		t.emit(Event{Type: EventSessionStatus, Status: SessionStarting})
		e.log.Info().Str("session", t.sess.ID).Time("startAt", *at).Msg("roster locked")
	}
	return nil
}

// afterRound runs once a round completed and decides between another round,
// finals, a winner, or an empty finish.
func (e *Engine) afterRound(ctx context.Context, t *tx, r Round) error {
	living, err := e.living(ctx, t)
	if err != nil {
		return err
	}
	n := len(living)
	switch {
	case n == 0:
		e.complete(t, "")
		return nil
	case n == 1:
		return e.crown(ctx, t, living[0])
	}

	finals := n <= t.sess.Config.FinalsThreshold
	if finals && t.sess.Status != SessionFinals {
		t.sess.Status = SessionFinals
		t.emit(Event{Type: EventSessionStatus, Status: SessionFinals})
		e.log.Info().Str("session", t.sess.ID).Int("round", r.Number).Int("living", n).Msg("entering finals")
	}
	return e.openRound(ctx, t, r.Number+1, finals)
}

func (e *Engine) openRound(ctx context.Context, t *tx, number int, finals bool) error {
	r := Round{
		ID:        uuid.NewString(),
		SessionID: t.sess.ID,
		Number:    number,
		Phase:     PhaseWaiting,
		TimeLeft:  t.sess.Config.WaitingSeconds,
		Finals:    finals,
		StartedAt: t.now,
	}
	if err := t.CreateRound(ctx, r); err != nil {
		return err
	}
	t.sess.CurrentRound = number
	t.emit(Event{Type: EventPhaseChanged, RoundID: r.ID, RoundNumber: number, Phase: r.Phase, TimeLeft: r.TimeLeft, Finals: finals})
	e.log.Info().Str("session", t.sess.ID).Int("round", number).Bool("finals", finals).Msg("round opened")
	return nil
}

// crown declares p the winner whatever lives p has left.
func (e *Engine) crown(ctx context.Context, t *tx, p Participant) error {
	p.Status = ParticipantWinner
	if err := t.UpdateParticipant(ctx, p); err != nil {
		return err
	}
	e.complete(t, p.ID)
	return nil
}

func (e *Engine) complete(t *tx, winnerID string) {
	ended := t.now
	t.sess.Status = SessionCompleted
	t.sess.WinnerID = winnerID
	t.sess.EndedAt = &ended
	t.emit(Event{Type: EventSessionCompleted, Status: SessionCompleted, WinnerID: winnerID})
	e.log.Info().Str("session", t.sess.ID).Str("winner", winnerID).Msg("session completed")
}
