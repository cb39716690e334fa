package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

const roundColumns = `id, session_id, number, phase, time_left, finals, rock_count, paper_count, scissors_count,
	losing_gestures, outcome, started_at, resolved_at, ended_at`

func (s *Store) CreateRound(ctx context.Context, v game.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO rounds (`+roundColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.Number, string(v.Phase), v.TimeLeft, v.Finals,
		v.Tally.Rock, v.Tally.Paper, v.Tally.Scissors, joinGestures(v.LosingGestures), string(v.Outcome),
		toMillis(v.StartedAt), nullMillis(v.ResolvedAt), nullMillis(v.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

func scanRound(row rowScanner) (game.Round, error) {
	var (
		v                 game.Round
		phase, losing     string
		outcome           string
		started           int64
		resolved, endedAt sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.SessionID, &v.Number, &phase, &v.TimeLeft, &v.Finals,
		&v.Tally.Rock, &v.Tally.Paper, &v.Tally.Scissors, &losing, &outcome,
		&started, &resolved, &endedAt); err != nil {
		return game.Round{}, err
	}
	v.Phase = game.Phase(phase)
	v.LosingGestures = splitGestures(losing)
	v.Outcome = game.Outcome(outcome)
	v.StartedAt = fromMillis(started)
	v.ResolvedAt = fromNullMillis(resolved)
	v.EndedAt = fromNullMillis(endedAt)
	return v, nil
}

func (s *Store) getRound(ctx context.Context, where string, args ...any) (game.Round, error) {
	if err := ctx.Err(); err != nil {
		return game.Round{}, err
	}
	v, err := scanRound(s.q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return game.Round{}, storage.ErrNotFound
	}
	if err != nil {
		return game.Round{}, fmt.Errorf("get round: %w", err)
	}
	return v, nil
}

func (s *Store) GetRound(ctx context.Context, id string) (game.Round, error) {
	return s.getRound(ctx, `id = ?`, id)
}

func (s *Store) GetRoundByNumber(ctx context.Context, sessionID string, number int) (game.Round, error) {
	return s.getRound(ctx, `session_id = ? AND number = ?`, sessionID, number)
}

func (s *Store) UpdateRound(ctx context.Context, v game.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE rounds SET
		   phase = ?, time_left = ?, finals = ?, rock_count = ?, paper_count = ?, scissors_count = ?,
		   losing_gestures = ?, outcome = ?, resolved_at = ?, ended_at = ?
		 WHERE id = ?`,
		string(v.Phase), v.TimeLeft, v.Finals, v.Tally.Rock, v.Tally.Paper, v.Tally.Scissors,
		joinGestures(v.LosingGestures), string(v.Outcome), nullMillis(v.ResolvedAt), nullMillis(v.EndedAt),
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	return expectOne(res, "update round")
}

func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]game.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE session_id = ? ORDER BY number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []game.Round
	for rows.Next() {
		v, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	return out, nil
}

// UpsertChoice keeps the first ID stored for the (round, participant) pair.
func (s *Store) UpsertChoice(ctx context.Context, v game.Choice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO choices (id, round_id, participant_id, selected, final, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (round_id, participant_id) DO UPDATE SET
		   selected = excluded.selected,
		   final = excluded.final,
		   submitted_at = excluded.submitted_at`,
		v.ID, v.RoundID, v.ParticipantID, joinGestures(v.Selected), string(v.Final), toMillis(v.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert choice: %w", err)
	}
	return nil
}

func (s *Store) ListChoices(ctx context.Context, roundID string) ([]game.Choice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, round_id, participant_id, selected, final, submitted_at
		 FROM choices WHERE round_id = ? ORDER BY participant_id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer rows.Close()

	var out []game.Choice
	for rows.Next() {
		var (
			v               game.Choice
			selected, final string
			submitted       int64
		)
		if err := rows.Scan(&v.ID, &v.RoundID, &v.ParticipantID, &selected, &final, &submitted); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		v.Selected = splitGestures(selected)
		v.Final = game.Gesture(final)
		v.SubmittedAt = fromMillis(submitted)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	return out, nil
}
