package game

import (
	"context"

	"github.com/google/uuid"
)

// choicesByParticipant indexes a round's choices.
func choicesByParticipant(choices []Choice) map[string]Choice {
	m := make(map[string]Choice, len(choices))
	for _, c := range choices {
		m[c.ParticipantID] = c
	}
	return m
}

// AllSubmitted reports whether everyone still expected to act in phase has
// done so. In selectTwo every living participant must hold two gestures. In
// excludeOne only living participants who made a selection are expected, and
// each must hold a final gesture. Other phases have no submissions.
func AllSubmitted(phase Phase, living []Participant, choices map[string]Choice) bool {
	switch phase {
	case PhaseSelectTwo:
		for _, p := range living {
			if len(choices[p.ID].Selected) != 2 {
				return false
			}
		}
		return true
	case PhaseExcludeOne:
		for _, p := range living {
			c, ok := choices[p.ID]
			if ok && len(c.Selected) > 0 && !c.HasFinal() {
				return false
			}
		}
		return true
	}
	return false
}

// TallyFinals counts final gestures of living participants only.
func TallyFinals(living []Participant, choices map[string]Choice) Tally {
	var t Tally
	for _, p := range living {
		if c, ok := choices[p.ID]; ok && c.HasFinal() {
			t.Add(c.Final)
		}
	}
	return t
}

// validateSelection checks 1..2 unique known gestures.
func validateSelection(gestures []Gesture) error {
	if len(gestures) == 0 || len(gestures) > 2 {
		return newError(KindInvalidChoice, "select one or two gestures, got %d", len(gestures))
	}
	for i, g := range gestures {
		if !g.Valid() {
			return newError(KindInvalidChoice, "unknown gesture %q", g)
		}
		for _, prev := range gestures[:i] {
			if prev == g {
				return newError(KindInvalidChoice, "gesture %q selected twice", g)
			}
		}
	}
	return nil
}

func findChoice(ctx context.Context, t *tx, roundID, participantID string) (Choice, bool, error) {
	choices, err := t.ListChoices(ctx, roundID)
	if err != nil {
		return Choice{}, false, err
	}
	for _, c := range choices {
		if c.ParticipantID == participantID {
			return c, true, nil
		}
	}
	return Choice{}, false, nil
}

// recordSelection upserts the selection and clears any earlier final.
func (e *Engine) recordSelection(ctx context.Context, t *tx, r Round, p Participant, gestures []Gesture) error {
	if r.Phase != PhaseSelectTwo {
		return newError(KindWrongPhase, "round %d is in %s, selections need %s", r.Number, r.Phase, PhaseSelectTwo)
	}
	if !p.Living() {
		return newError(KindNotLiving, "participant %s is %s", p.ID, p.Status)
	}
	if err := validateSelection(gestures); err != nil {
		return err
	}
	c, ok, err := findChoice(ctx, t, r.ID, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		c = Choice{ID: uuid.NewString(), RoundID: r.ID, ParticipantID: p.ID}
	}
	c.Selected = append([]Gesture(nil), gestures...)
	c.Final = ""
	c.SubmittedAt = t.now
	if err := t.UpsertChoice(ctx, c); err != nil {
		return err
	}
	t.emit(Event{Type: EventChoiceRecorded, RoundID: r.ID, RoundNumber: r.Number, Phase: r.Phase, ParticipantID: p.ID})
	return nil
}

// recordFinal stores the kept gesture, which must be one of the selection.
func (e *Engine) recordFinal(ctx context.Context, t *tx, r Round, p Participant, kept Gesture) error {
	if r.Phase != PhaseExcludeOne {
		return newError(KindWrongPhase, "round %d is in %s, finals need %s", r.Number, r.Phase, PhaseExcludeOne)
	}
	if !p.Living() {
		return newError(KindNotLiving, "participant %s is %s", p.ID, p.Status)
	}
	c, ok, err := findChoice(ctx, t, r.ID, p.ID)
	if err != nil {
		return err
	}
	if !ok || !c.Selects(kept) {
		return newError(KindInvalidChoice, "gesture %q was not selected this round", kept)
	}
	c.Final = kept
	c.SubmittedAt = t.now
	if err := t.UpsertChoice(ctx, c); err != nil {
		return err
	}
	t.emit(Event{Type: EventChoiceRecorded, RoundID: r.ID, RoundNumber: r.Number, Phase: r.Phase, ParticipantID: p.ID})
	return nil
}

// lockSingleSelections gives participants who selected a single gesture that
// gesture as their final one on entering excludeOne.
func lockSingleSelections(ctx context.Context, t *tx, roundID string) error {
	choices, err := t.ListChoices(ctx, roundID)
	if err != nil {
		return err
	}
	for _, c := range choices {
		if len(c.Selected) == 1 && !c.HasFinal() {
			c.Final = c.Selected[0]
			if err := t.UpsertChoice(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}
