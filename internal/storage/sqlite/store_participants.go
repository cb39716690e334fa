package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

const participantColumns = `id, session_id, identity, nickname, initial_lives, current_lives, status,
	elimination_reason, enrolled_at, last_active_at, eliminated_at`

func (s *Store) CreateParticipant(ctx context.Context, v game.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.Identity, v.Nickname, v.InitialLives, v.CurrentLives, string(v.Status),
		string(v.EliminationReason), toMillis(v.EnrolledAt), toMillis(v.LastActiveAt), nullMillis(v.EliminatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func scanParticipant(row rowScanner) (game.Participant, error) {
	var (
		v                    game.Participant
		status, reason       string
		enrolled, lastActive int64
		eliminated           sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.SessionID, &v.Identity, &v.Nickname, &v.InitialLives, &v.CurrentLives,
		&status, &reason, &enrolled, &lastActive, &eliminated); err != nil {
		return game.Participant{}, err
	}
	v.Status = game.ParticipantStatus(status)
	v.EliminationReason = game.EliminationReason(reason)
	v.EnrolledAt = fromMillis(enrolled)
	v.LastActiveAt = fromMillis(lastActive)
	v.EliminatedAt = fromNullMillis(eliminated)
	return v, nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (game.Participant, error) {
	if err := ctx.Err(); err != nil {
		return game.Participant{}, err
	}
	v, err := scanParticipant(s.q.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return game.Participant{}, storage.ErrNotFound
	}
	if err != nil {
		return game.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return v, nil
}

func (s *Store) UpdateParticipant(ctx context.Context, v game.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE participants SET
		   nickname = ?, initial_lives = ?, current_lives = ?, status = ?,
		   elimination_reason = ?, last_active_at = ?, eliminated_at = ?
		 WHERE id = ?`,
		v.Nickname, v.InitialLives, v.CurrentLives, string(v.Status),
		string(v.EliminationReason), toMillis(v.LastActiveAt), nullMillis(v.EliminatedAt),
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return expectOne(res, "update participant")
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]game.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY enrolled_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []game.Participant
	for rows.Next() {
		v, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
