package game

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/kiliankoe/dropone/internal/storage"
)

// Enroll registers identity in the session. Enrollment closes once the
// session starts.
func (e *Engine) Enroll(ctx context.Context, sessionID, identity, nickname string, initialLives int) (Participant, error) {
	identity = strings.TrimSpace(identity)
	nickname = strings.TrimSpace(nickname)
	if identity == "" {
		return Participant{}, newError(KindInvalidArgument, "identity is required")
	}
	if nickname == "" {
		return Participant{}, newError(KindInvalidArgument, "nickname is required")
	}

	var p Participant
	err := e.mutate(ctx, "Enroll", sessionID, func(ctx context.Context, t *tx) error {
		if !t.sess.Status.Open() {
			return newError(KindSessionLocked, "session %s is %s, enrollment closed", t.sess.ID, t.sess.Status)
		}
		ps, err := t.ListParticipants(ctx, t.sess.ID)
		if err != nil {
			return err
		}
		for _, existing := range ps {
			if existing.Identity == identity {
				return newError(KindDuplicateIdentity, "identity already enrolled as %s", existing.ID)
			}
		}
		lives := initialLives
		if lives <= 0 {
			lives = t.sess.Config.InitialLives
		}
		p = Participant{
			ID:           uuid.NewString(),
			SessionID:    t.sess.ID,
			Identity:     identity,
			Nickname:     nickname,
			InitialLives: lives,
			CurrentLives: lives,
			Status:       ParticipantEnrolled,
			EnrolledAt:   t.now,
			LastActiveAt: t.now,
		}
		if err := t.CreateParticipant(ctx, p); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return wrapError(KindDuplicateIdentity, "identity already enrolled", err)
			}
			return err
		}
		t.emit(Event{Type: EventRosterChanged, ParticipantID: p.ID})
		return nil
	})
	if err != nil {
		return Participant{}, err
	}
	e.log.Info().Str("session", sessionID).Str("participant", p.ID).Str("nickname", p.Nickname).Msg("enrolled")
	return p, nil
}

func sessionParticipant(ctx context.Context, t *tx, participantID string) (Participant, error) {
	p, err := t.GetParticipant(ctx, participantID)
	if err != nil {
		return Participant{}, err
	}
	if p.SessionID != t.sess.ID {
		return Participant{}, newError(KindNotFound, "participant %s not in session %s", participantID, t.sess.ID)
	}
	return p, nil
}

// Activate confirms an enrolled participant's entry before the game starts.
// Activating an already active participant succeeds without change.
func (e *Engine) Activate(ctx context.Context, sessionID, participantID string) error {
	return e.mutate(ctx, "Activate", sessionID, func(ctx context.Context, t *tx) error {
		if !t.sess.Status.Open() {
			return newError(KindInvalidTransition, "session %s is %s", t.sess.ID, t.sess.Status)
		}
		p, err := sessionParticipant(ctx, t, participantID)
		if err != nil {
			return err
		}
		switch p.Status {
		case ParticipantActive:
			return nil
		case ParticipantEnrolled:
		default:
			return newError(KindInvalidTransition, "participant %s is %s", p.ID, p.Status)
		}
		p.Status = ParticipantActive
		p.LastActiveAt = t.now
		if err := t.UpdateParticipant(ctx, p); err != nil {
			return err
		}
		t.emit(Event{Type: EventRosterChanged, ParticipantID: p.ID})
		return nil
	})
}

// Deactivate withdraws an active participant back to enrolled. Inside the
// roster lock window before a scheduled start it changes nothing and reports
// locked; once the session runs it fails with SessionLocked.
func (e *Engine) Deactivate(ctx context.Context, sessionID, participantID string) (locked bool, err error) {
	err = e.mutate(ctx, "Deactivate", sessionID, func(ctx context.Context, t *tx) error {
		if !t.sess.Status.Open() {
			return newError(KindSessionLocked, "session %s is %s", t.sess.ID, t.sess.Status)
		}
		p, err := sessionParticipant(ctx, t, participantID)
		if err != nil {
			return err
		}
		if t.sess.Status == SessionStarting || t.sess.Config.RosterLocked(t.now) {
			locked = true
			return nil
		}
		if p.Status != ParticipantActive {
			return nil
		}
		p.Status = ParticipantEnrolled
		if err := t.UpdateParticipant(ctx, p); err != nil {
			return err
		}
		t.emit(Event{Type: EventRosterChanged, ParticipantID: p.ID})
		return nil
	})
	return locked, err
}

// ApplyLifeDelta changes a participant's lives by delta, clamped to
// [0, InitialLives]. Reaching zero eliminates the participant. Lives of a
// completed or closed session are final.
func (e *Engine) ApplyLifeDelta(ctx context.Context, sessionID, participantID string, delta int, reason EliminationReason) (Participant, error) {
	var out Participant
	err := e.mutate(ctx, "ApplyLifeDelta", sessionID, func(ctx context.Context, t *tx) error {
		if t.sess.Status.Terminal() {
			return newError(KindInvalidTransition, "session %s is %s", t.sess.ID, t.sess.Status)
		}
		p, err := sessionParticipant(ctx, t, participantID)
		if err != nil {
			return err
		}
		out, err = e.applyDelta(ctx, t, p, delta, reason)
		return err
	})
	return out, err
}

// applyDelta only touches active participants; anyone else is returned as is.
func (e *Engine) applyDelta(ctx context.Context, t *tx, p Participant, delta int, reason EliminationReason) (Participant, error) {
	if p.Status != ParticipantActive || delta == 0 {
		return p, nil
	}
	lives := p.CurrentLives + delta
	if lives < 0 {
		lives = 0
	}
	if lives > p.InitialLives {
		lives = p.InitialLives
	}
	p.CurrentLives = lives
	if lives == 0 {
		e.eliminate(t, &p, reason)
	}
	if err := t.UpdateParticipant(ctx, p); err != nil {
		return Participant{}, err
	}
	return p, nil
}

// eliminate marks p out of the game; the caller persists p.
func (e *Engine) eliminate(t *tx, p *Participant, reason EliminationReason) {
	at := t.now
	p.Status = ParticipantEliminated
	p.EliminationReason = reason
	p.EliminatedAt = &at
	t.emit(Event{Type: EventParticipantEliminated, ParticipantID: p.ID, Reason: reason})
	e.log.Info().Str("session", t.sess.ID).Str("participant", p.ID).Str("reason", string(reason)).Msg("eliminated")
}

// RecordActivity refreshes the participant's heartbeat. Heartbeats for a
// completed or closed session are accepted and dropped.
func (e *Engine) RecordActivity(ctx context.Context, sessionID, participantID string) error {
	return e.mutate(ctx, "RecordActivity", sessionID, func(ctx context.Context, t *tx) error {
		if t.sess.Status.Terminal() {
			return errNoChange
		}
		p, err := sessionParticipant(ctx, t, participantID)
		if err != nil {
			return err
		}
		p.LastActiveAt = t.now
		return t.UpdateParticipant(ctx, p)
	})
}

func (e *Engine) living(ctx context.Context, t *tx) ([]Participant, error) {
	ps, err := t.ListParticipants(ctx, t.sess.ID)
	if err != nil {
		return nil, err
	}
	return filterLiving(ps), nil
}

func filterLiving(ps []Participant) []Participant {
	out := ps[:0:0]
	for _, p := range ps {
		if p.Living() {
			out = append(out, p)
		}
	}
	return out
}

// LivingParticipants lists who is still playing.
func (e *Engine) LivingParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	ps, err := e.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	return filterLiving(ps), nil
}

func (e *Engine) Participants(ctx context.Context, sessionID string) ([]Participant, error) {
	ps, err := e.store.ListParticipants(ctx, sessionID)
	return ps, translate(err)
}

// ParticipantByIdentity finds the participant enrolled under identity.
func (e *Engine) ParticipantByIdentity(ctx context.Context, sessionID, identity string) (Participant, error) {
	ps, err := e.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return Participant{}, translate(err)
	}
	for _, p := range ps {
		if p.Identity == identity {
			return p, nil
		}
	}
	return Participant{}, newError(KindNotFound, "identity not enrolled in session %s", sessionID)
}
