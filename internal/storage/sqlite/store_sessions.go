package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

const sessionColumns = `id, name, status, current_round, winner_id, config, version, created_at, updated_at, started_at, ended_at`

func (s *Store) CreateSession(ctx context.Context, v game.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, string(v.Status), v.CurrentRound, v.WinnerID, string(cfg), v.Version,
		toMillis(v.CreatedAt), toMillis(v.UpdatedAt), nullMillis(v.StartedAt), nullMillis(v.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (game.Session, error) {
	var (
		v                   game.Session
		status, cfg         string
		created, updated    int64
		started, finishedAt sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.Name, &status, &v.CurrentRound, &v.WinnerID, &cfg, &v.Version,
		&created, &updated, &started, &finishedAt); err != nil {
		return game.Session{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &v.Config); err != nil {
		return game.Session{}, fmt.Errorf("decode session config: %w", err)
	}
	v.Status = game.SessionStatus(status)
	v.CreatedAt = fromMillis(created)
	v.UpdatedAt = fromMillis(updated)
	v.StartedAt = fromNullMillis(started)
	v.EndedAt = fromNullMillis(finishedAt)
	return v, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (game.Session, error) {
	if err := ctx.Err(); err != nil {
		return game.Session{}, err
	}
	v, err := scanSession(s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return game.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return game.Session{}, fmt.Errorf("get session: %w", err)
	}
	return v, nil
}

// UpdateSession writes v if the stored version still equals v.Version.
func (s *Store) UpdateSession(ctx context.Context, v game.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE sessions SET
		   name = ?, status = ?, current_round = ?, winner_id = ?, config = ?,
		   version = version + 1, updated_at = ?, started_at = ?, ended_at = ?
		 WHERE id = ? AND version = ?`,
		v.Name, string(v.Status), v.CurrentRound, v.WinnerID, string(cfg),
		toMillis(v.UpdatedAt), nullMillis(v.StartedAt), nullMillis(v.EndedAt),
		v.ID, v.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 1 {
		return nil
	}
	var one int
	err = s.q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, v.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return storage.ErrConflict
}

func (s *Store) ListSessions(ctx context.Context, statuses ...game.SessionStatus) ([]game.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []game.Session
	for rows.Next() {
		v, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
