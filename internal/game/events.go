package game

import (
	"context"
	"time"
)

type EventType string

const (
	EventPhaseChanged          EventType = "phaseChanged"
	EventChoiceRecorded        EventType = "choiceRecorded"
	EventRoundResolved         EventType = "roundResolved"
	EventParticipantEliminated EventType = "participantEliminated"
	EventSessionCompleted      EventType = "sessionCompleted"
	EventRosterChanged         EventType = "rosterChanged"
	EventSessionStatus         EventType = "sessionStatus"
)

// Event is emitted after the state change it describes has been committed.
type Event struct {
	Type           EventType         `json:"type"`
	SessionID      string            `json:"sessionId"`
	RoundID        string            `json:"roundId,omitempty"`
	RoundNumber    int               `json:"roundNumber,omitempty"`
	Phase          Phase             `json:"phase,omitempty"`
	TimeLeft       int               `json:"timeLeft,omitempty"`
	Finals         bool              `json:"finals,omitempty"`
	Status         SessionStatus     `json:"status,omitempty"`
	ParticipantID  string            `json:"participantId,omitempty"`
	Reason         EliminationReason `json:"reason,omitempty"`
	Tally          *Tally            `json:"tally,omitempty"`
	LosingGestures []Gesture         `json:"losingGestures,omitempty"`
	Outcome        Outcome           `json:"outcome,omitempty"`
	Deltas         []Delta           `json:"deltas,omitempty"`
	WinnerID       string            `json:"winnerId,omitempty"`
	At             time.Time         `json:"at"`
}

// Publisher delivers events to observers. Delivery is fire-and-forget; the
// engine logs a failed publish and carries on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }
