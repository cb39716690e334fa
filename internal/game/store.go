package game

import "context"

// Store persists sessions, participants, rounds, and choices.
//
// Implementations return storage.ErrNotFound for missing records,
// storage.ErrAlreadyExists for uniqueness violations and storage.ErrConflict
// when UpdateSession sees a stale Version. UpdateSession stores Version+1.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	ListSessions(ctx context.Context, statuses ...SessionStatus) ([]Session, error)

	// CreateParticipant rejects a second participant with the same
	// (SessionID, Identity).
	CreateParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	UpdateParticipant(ctx context.Context, p Participant) error
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)

	// CreateRound rejects a second round with the same (SessionID, Number).
	CreateRound(ctx context.Context, r Round) error
	GetRound(ctx context.Context, id string) (Round, error)
	GetRoundByNumber(ctx context.Context, sessionID string, number int) (Round, error)
	UpdateRound(ctx context.Context, r Round) error
	ListRounds(ctx context.Context, sessionID string) ([]Round, error)

	// UpsertChoice keeps one choice per (RoundID, ParticipantID); a later
	// call overwrites the earlier one and keeps its ID.
	UpsertChoice(ctx context.Context, c Choice) error
	ListChoices(ctx context.Context, roundID string) ([]Choice, error)

	// WithinTx runs fn against a transactional view. Every write made
	// through that view is committed together when fn returns nil and
	// discarded otherwise.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
