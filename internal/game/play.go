package game

import "context"

// playerRound loads the participant and the round a submission targets. A
// stale round id means the caller missed a transition and must re-fetch.
func playerRound(ctx context.Context, t *tx, roundID, participantID string) (Round, Participant, error) {
	if !t.sess.Status.InPlay() {
		return Round{}, Participant{}, newError(KindWrongPhase, "session %s is %s", t.sess.ID, t.sess.Status)
	}
	p, err := sessionParticipant(ctx, t, participantID)
	if err != nil {
		return Round{}, Participant{}, err
	}
	r, err := currentRound(ctx, t)
	if err != nil {
		return Round{}, Participant{}, err
	}
	if roundID != "" && r.ID != roundID {
		return Round{}, Participant{}, newError(KindWrongPhase, "round %s is no longer current", roundID)
	}
	return r, p, nil
}

func (e *Engine) touch(ctx context.Context, t *tx, p Participant) error {
	p.LastActiveAt = t.now
	return t.UpdateParticipant(ctx, p)
}

// SubmitSelection records one or two gestures for the current round during
// selectTwo. Submitting again replaces the earlier selection. An empty
// roundID targets whatever round is current.
func (e *Engine) SubmitSelection(ctx context.Context, sessionID, roundID, participantID string, gestures []Gesture) error {
	return e.mutate(ctx, "SubmitSelection", sessionID, func(ctx context.Context, t *tx) error {
		r, p, err := playerRound(ctx, t, roundID, participantID)
		if err != nil {
			return err
		}
		if err := e.recordSelection(ctx, t, r, p, gestures); err != nil {
			return err
		}
		if err := e.touch(ctx, t, p); err != nil {
			return err
		}
		return e.advance(ctx, t)
	})
}

// SubmitFinal keeps one of the selected gestures during excludeOne.
func (e *Engine) SubmitFinal(ctx context.Context, sessionID, roundID, participantID string, kept Gesture) error {
	return e.mutate(ctx, "SubmitFinal", sessionID, func(ctx context.Context, t *tx) error {
		r, p, err := playerRound(ctx, t, roundID, participantID)
		if err != nil {
			return err
		}
		if err := e.recordFinal(ctx, t, r, p, kept); err != nil {
			return err
		}
		if err := e.touch(ctx, t, p); err != nil {
			return err
		}
		return e.advance(ctx, t)
	})
}

// SubmitDrop is SubmitFinal phrased the way players act: the dropped gesture
// names the one to discard and the other selected gesture is kept.
func (e *Engine) SubmitDrop(ctx context.Context, sessionID, roundID, participantID string, dropped Gesture) error {
	return e.mutate(ctx, "SubmitDrop", sessionID, func(ctx context.Context, t *tx) error {
		r, p, err := playerRound(ctx, t, roundID, participantID)
		if err != nil {
			return err
		}
		if r.Phase != PhaseExcludeOne {
			return newError(KindWrongPhase, "round %d is in %s, drops need %s", r.Number, r.Phase, PhaseExcludeOne)
		}
		if !p.Living() {
			return newError(KindNotLiving, "participant %s is %s", p.ID, p.Status)
		}
		c, ok, err := findChoice(ctx, t, r.ID, p.ID)
		if err != nil {
			return err
		}
		if !ok || len(c.Selected) != 2 || !c.Selects(dropped) {
			return newError(KindInvalidChoice, "gesture %q is not one of two selected gestures", dropped)
		}
		kept := c.Selected[0]
		if kept == dropped {
			kept = c.Selected[1]
		}
		if err := e.recordFinal(ctx, t, r, p, kept); err != nil {
			return err
		}
		if err := e.touch(ctx, t, p); err != nil {
			return err
		}
		return e.advance(ctx, t)
	})
}
