package game

// Decide picks the losing gestures for a tally.
//
// Exactly two gestures present: the smaller count loses, equal counts make
// both lose. Zero gestures is a no-op round, one gesture is a replay. Three
// gestures replay under ThreeWayReplay; under ThreeWayMinority the gestures
// sharing the smallest count lose unless all three counts are equal.
func Decide(t Tally, policy ThreeWayPolicy) (Outcome, []Gesture) {
	present := t.Present()
	switch len(present) {
	case 0:
		return OutcomeNoop, nil
	case 1:
		return OutcomeReplay, nil
	case 2:
		a, b := present[0], present[1]
		ca, cb := t.Count(a), t.Count(b)
		switch {
		case ca < cb:
			return OutcomeElimination, []Gesture{a}
		case cb < ca:
			return OutcomeElimination, []Gesture{b}
		default:
			return OutcomeTie, []Gesture{a, b}
		}
	}

	if policy != ThreeWayMinority {
		return OutcomeReplay, nil
	}
	low := t.Count(present[0])
	for _, g := range present[1:] {
		if c := t.Count(g); c < low {
			low = c
		}
	}
	var losing []Gesture
	for _, g := range present {
		if t.Count(g) == low {
			losing = append(losing, g)
		}
	}
	if len(losing) == len(present) {
		return OutcomeReplay, nil
	}
	return OutcomeElimination, losing
}

func contains(gs []Gesture, g Gesture) bool {
	for _, x := range gs {
		if x == g {
			return true
		}
	}
	return false
}

// planDeltas computes the life changes for one resolution. Finalized
// participants holding a losing gesture lose a life; living participants
// without a final gesture lose a life for timing out, except in a no-op round
// where nobody finalized.
func planDeltas(living []Participant, choices map[string]Choice, outcome Outcome, losing []Gesture) []Delta {
	var out []Delta
	for _, p := range living {
		c, ok := choices[p.ID]
		switch {
		case ok && c.HasFinal():
			if contains(losing, c.Final) {
				out = append(out, Delta{ParticipantID: p.ID, LivesLost: 1, Reason: ReasonTally})
			}
		case outcome != OutcomeNoop:
			out = append(out, Delta{ParticipantID: p.ID, LivesLost: 1, Reason: ReasonTimeout})
		}
	}
	return out
}
