package game

import (
	"context"
)

// maxCascade bounds how many phases one call may pass through. A round can
// only skip ahead while its exit condition already holds on entry, which
// happens for zero-length timers and vacuous "all submitted" checks.
const maxCascade = 16

func currentRound(ctx context.Context, t *tx) (Round, error) {
	if t.sess.CurrentRound == 0 {
		return Round{}, newError(KindWrongPhase, "session %s has no round", t.sess.ID)
	}
	return t.GetRoundByNumber(ctx, t.sess.ID, t.sess.CurrentRound)
}

// readyToLeave evaluates the race rule for r: timer expiry, or for the two
// submission phases, everyone still living having submitted.
func (e *Engine) readyToLeave(ctx context.Context, t *tx, r Round) (bool, error) {
	switch r.Phase {
	case PhaseWaiting, PhaseRevealing:
		return r.TimeLeft <= 0, nil
	case PhaseSelectTwo, PhaseExcludeOne:
		if r.TimeLeft <= 0 {
			return true, nil
		}
		living, err := e.living(ctx, t)
		if err != nil {
			return false, err
		}
		choices, err := t.ListChoices(ctx, r.ID)
		if err != nil {
			return false, err
		}
		return AllSubmitted(r.Phase, living, choicesByParticipant(choices)), nil
	}
	return false, nil
}

// advance moves the current round on for as long as its exit condition holds.
// A caller arriving after the transition already happened finds the condition
// false for the new phase and changes nothing.
func (e *Engine) advance(ctx context.Context, t *tx) error {
	for i := 0; i < maxCascade && t.sess.Status.InPlay(); i++ {
		r, err := currentRound(ctx, t)
		if err != nil {
			return err
		}
		ok, err := e.readyToLeave(ctx, t, r)
		if err != nil || !ok {
			return err
		}
		if err := e.transition(ctx, t, r); err != nil {
			return err
		}
	}
	return nil
}

// transition moves r to its next phase and runs that phase's entry work.
func (e *Engine) transition(ctx context.Context, t *tx, r Round) error {
	next, ok := r.Phase.Next()
	if !ok {
		return newError(KindInvalidTransition, "round %d is already %s", r.Number, r.Phase)
	}
	from := r.Phase
	r.Phase = next
	r.TimeLeft = t.sess.Config.PhaseSeconds(next)
	t.emit(Event{Type: EventPhaseChanged, RoundID: r.ID, RoundNumber: r.Number, Phase: next, TimeLeft: r.TimeLeft, Finals: r.Finals})

	switch next {
	case PhaseExcludeOne:
		if err := lockSingleSelections(ctx, t, r.ID); err != nil {
			return err
		}
	case PhaseRevealing:
		if err := e.resolve(ctx, t, &r); err != nil {
			return err
		}
	case PhaseCompleted:
		ended := t.now
		r.EndedAt = &ended
	}
	if err := t.UpdateRound(ctx, r); err != nil {
		return err
	}
	e.log.Info().Str("session", t.sess.ID).Int("round", r.Number).Str("from", string(from)).Str("to", string(next)).Msg("phase transition")

	if next == PhaseCompleted {
		return e.afterRound(ctx, t, r)
	}
	return nil
}

// resolve tallies the round, applies every life loss and records the result
// on r. It runs inside the transition to revealing, so it commits together
// with the phase change or not at all.
func (e *Engine) resolve(ctx context.Context, t *tx, r *Round) error {
	if r.ResolvedAt != nil {
		return newError(KindAlreadyResolved, "round %d resolved at %s", r.Number, r.ResolvedAt)
	}
	living, err := e.living(ctx, t)
	if err != nil {
		return err
	}
	cs, err := t.ListChoices(ctx, r.ID)
	if err != nil {
		return err
	}
	choices := choicesByParticipant(cs)

	tally := TallyFinals(living, choices)
	outcome, losing := Decide(tally, t.sess.Config.ThreeWay)
	deltas := planDeltas(living, choices, outcome, losing)

	byID := make(map[string]Participant, len(living))
	for _, p := range living {
		byID[p.ID] = p
	}
	// The eliminations emitted by applyDelta should follow the resolution.
	resolvedAt := len(t.events)
	for i, d := range deltas {
		p, err := e.applyDelta(ctx, t, byID[d.ParticipantID], -d.LivesLost, d.Reason)
		if err != nil {
			return err
		}
		deltas[i].LivesRemaining = p.CurrentLives
	}

	at := t.now
	r.Tally = tally
	r.Outcome = outcome
	r.LosingGestures = losing
	r.ResolvedAt = &at

	ev := Event{
		Type:           EventRoundResolved,
		RoundID:        r.ID,
		RoundNumber:    r.Number,
		Finals:         r.Finals,
		Tally:          &tally,
		LosingGestures: losing,
		Outcome:        outcome,
		Deltas:         deltas,
		SessionID:      t.sess.ID,
		At:             t.now,
	}
	t.events = append(t.events[:resolvedAt], append([]Event{ev}, t.events[resolvedAt:]...)...)

	e.log.Info().
		Str("session", t.sess.ID).
		Int("round", r.Number).
		Str("outcome", string(outcome)).
		Int("rock", tally.Rock).Int("paper", tally.Paper).Int("scissors", tally.Scissors).
		Int("losses", len(deltas)).
		Msg("round resolved")
	return nil
}

// Tick is the scheduler's entry point. It counts the current phase down by
// elapsed seconds and applies whatever transition is due. For sessions not
// yet started it handles the roster lock and the scheduled start.
func (e *Engine) Tick(ctx context.Context, sessionID string, elapsed int) error {
	if elapsed < 0 {
		return newError(KindInvalidArgument, "elapsed must not be negative")
	}
	return e.mutate(ctx, "Tick", sessionID, func(ctx context.Context, t *tx) error {
		switch {
		case t.sess.Status.Terminal():
			return errNoChange
		case t.sess.Status.Open():
			return e.checkSchedule(ctx, t)
		}
		r, err := currentRound(ctx, t)
		if err != nil {
			return err
		}
		if elapsed > 0 && r.TimeLeft > 0 {
			r.TimeLeft -= elapsed
			if r.TimeLeft < 0 {
				r.TimeLeft = 0
			}
			if err := t.UpdateRound(ctx, r); err != nil {
				return err
			}
		}
		return e.advance(ctx, t)
	})
}

// Resolve is an admin override that resolves the current round while it is
// in excludeOne, without waiting for the deadline. Living participants who
// have not kept a gesture yet take the same one-life penalty as a missed
// deadline. A round that already resolved is rejected with AlreadyResolved
// and nothing is applied twice.
func (e *Engine) Resolve(ctx context.Context, sessionID, roundID string) error {
	return e.mutate(ctx, "Resolve", sessionID, func(ctx context.Context, t *tx) error {
		r, err := t.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if r.SessionID != t.sess.ID {
			return newError(KindNotFound, "round %s not in session %s", roundID, t.sess.ID)
		}
		if r.ResolvedAt != nil {
			return newError(KindAlreadyResolved, "round %d already resolved", r.Number)
		}
		if !t.sess.Status.InPlay() || r.Number != t.sess.CurrentRound || r.Phase != PhaseExcludeOne {
			return newError(KindWrongPhase, "round %d is in %s", r.Number, r.Phase)
		}
		return e.transition(ctx, t, r)
	})
}
