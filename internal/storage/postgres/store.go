// Package postgres stores game state in PostgreSQL through gorm, for
// deployments where several server instances share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

type sessionRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Status       string `gorm:"not null;index"`
	CurrentRound int    `gorm:"not null;default:0"`
	WinnerID     string `gorm:"not null;default:''"`
	Config       datatypes.JSONType[game.SessionConfig]
	Version      int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	StartedAt    *time.Time
	EndedAt      *time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type participantRow struct {
	ID                string `gorm:"primaryKey"`
	SessionID         string `gorm:"not null;uniqueIndex:idx_participant_identity"`
	Identity          string `gorm:"not null;uniqueIndex:idx_participant_identity"`
	Nickname          string `gorm:"not null"`
	InitialLives      int    `gorm:"not null"`
	CurrentLives      int    `gorm:"not null"`
	Status            string `gorm:"not null"`
	EliminationReason string `gorm:"not null;default:''"`
	EnrolledAt        time.Time
	LastActiveAt      time.Time
	EliminatedAt      *time.Time
}

func (participantRow) TableName() string { return "participants" }

type roundRow struct {
	ID             string `gorm:"primaryKey"`
	SessionID      string `gorm:"not null;uniqueIndex:idx_round_number"`
	Number         int    `gorm:"not null;uniqueIndex:idx_round_number"`
	Phase          string `gorm:"not null"`
	TimeLeft       int    `gorm:"not null"`
	Finals         bool   `gorm:"not null;default:false"`
	RockCount      int    `gorm:"not null;default:0"`
	PaperCount     int    `gorm:"not null;default:0"`
	ScissorsCount  int    `gorm:"not null;default:0"`
	LosingGestures datatypes.JSONType[[]game.Gesture]
	Outcome        string `gorm:"not null;default:''"`
	StartedAt      time.Time
	ResolvedAt     *time.Time
	EndedAt        *time.Time
}

func (roundRow) TableName() string { return "rounds" }

type choiceRow struct {
	ID            string `gorm:"primaryKey"`
	RoundID       string `gorm:"not null;uniqueIndex:idx_choice_participant"`
	ParticipantID string `gorm:"not null;uniqueIndex:idx_choice_participant"`
	Selected      datatypes.JSONType[[]game.Gesture]
	Final         string `gorm:"not null;default:''"`
	SubmittedAt   time.Time
}

func (choiceRow) TableName() string { return "choices" }

// Store implements game.Store on a gorm handle.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &participantRow{}, &roundRow{}, &choiceRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(game.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func mapErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrAlreadyExists
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toSessionRow(v game.Session) sessionRow {
	return sessionRow{
		ID:           v.ID,
		Name:         v.Name,
		Status:       string(v.Status),
		CurrentRound: v.CurrentRound,
		WinnerID:     v.WinnerID,
		Config:       datatypes.NewJSONType(v.Config),
		Version:      v.Version,
		CreatedAt:    v.CreatedAt.UTC(),
		UpdatedAt:    v.UpdatedAt.UTC(),
		StartedAt:    utc(v.StartedAt),
		EndedAt:      utc(v.EndedAt),
	}
}

func (r sessionRow) toGame() game.Session {
	return game.Session{
		ID:           r.ID,
		Name:         r.Name,
		Status:       game.SessionStatus(r.Status),
		CurrentRound: r.CurrentRound,
		WinnerID:     r.WinnerID,
		Config:       r.Config.Data(),
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		StartedAt:    utc(r.StartedAt),
		EndedAt:      utc(r.EndedAt),
	}
}

func (s *Store) CreateSession(ctx context.Context, v game.Session) error {
	row := toSessionRow(v)
	return mapErr(s.with(ctx).Create(&row).Error, "create session")
}

func (s *Store) GetSession(ctx context.Context, id string) (game.Session, error) {
	var row sessionRow
	if err := s.with(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return game.Session{}, mapErr(err, "get session")
	}
	return row.toGame(), nil
}

// UpdateSession writes v if the stored version still equals v.Version.
func (s *Store) UpdateSession(ctx context.Context, v game.Session) error {
	row := toSessionRow(v)
	res := s.with(ctx).Model(&sessionRow{}).
		Where("id = ? AND version = ?", v.ID, v.Version).
		Updates(map[string]any{
			"name":          row.Name,
			"status":        row.Status,
			"current_round": row.CurrentRound,
			"winner_id":     row.WinnerID,
			"config":        row.Config,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    row.UpdatedAt,
			"started_at":    row.StartedAt,
			"ended_at":      row.EndedAt,
		})
	if res.Error != nil {
		return mapErr(res.Error, "update session")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := s.with(ctx).Model(&sessionRow{}).Where("id = ?", v.ID).Count(&n).Error; err != nil {
		return mapErr(err, "update session")
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *Store) ListSessions(ctx context.Context, statuses ...game.SessionStatus) ([]game.Session, error) {
	q := s.with(ctx).Order("created_at, id")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}
	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "list sessions")
	}
	out := make([]game.Session, len(rows))
	for i, r := range rows {
		out[i] = r.toGame()
	}
	return out, nil
}

func toParticipantRow(v game.Participant) participantRow {
	return participantRow{
		ID:                v.ID,
		SessionID:         v.SessionID,
		Identity:          v.Identity,
		Nickname:          v.Nickname,
		InitialLives:      v.InitialLives,
		CurrentLives:      v.CurrentLives,
		Status:            string(v.Status),
		EliminationReason: string(v.EliminationReason),
		EnrolledAt:        v.EnrolledAt.UTC(),
		LastActiveAt:      v.LastActiveAt.UTC(),
		EliminatedAt:      utc(v.EliminatedAt),
	}
}

func (r participantRow) toGame() game.Participant {
	return game.Participant{
		ID:                r.ID,
		SessionID:         r.SessionID,
		Identity:          r.Identity,
		Nickname:          r.Nickname,
		InitialLives:      r.InitialLives,
		CurrentLives:      r.CurrentLives,
		Status:            game.ParticipantStatus(r.Status),
		EliminationReason: game.EliminationReason(r.EliminationReason),
		EnrolledAt:        r.EnrolledAt.UTC(),
		LastActiveAt:      r.LastActiveAt.UTC(),
		EliminatedAt:      utc(r.EliminatedAt),
	}
}

func (s *Store) CreateParticipant(ctx context.Context, v game.Participant) error {
	row := toParticipantRow(v)
	return mapErr(s.with(ctx).Create(&row).Error, "create participant")
}

func (s *Store) GetParticipant(ctx context.Context, id string) (game.Participant, error) {
	var row participantRow
	if err := s.with(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return game.Participant{}, mapErr(err, "get participant")
	}
	return row.toGame(), nil
}

func (s *Store) UpdateParticipant(ctx context.Context, v game.Participant) error {
	row := toParticipantRow(v)
	res := s.with(ctx).Model(&participantRow{}).Where("id = ?", v.ID).Updates(map[string]any{
		"nickname":           row.Nickname,
		"initial_lives":      row.InitialLives,
		"current_lives":      row.CurrentLives,
		"status":             row.Status,
		"elimination_reason": row.EliminationReason,
		"last_active_at":     row.LastActiveAt,
		"eliminated_at":      row.EliminatedAt,
	})
	if res.Error != nil {
		return mapErr(res.Error, "update participant")
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]game.Participant, error) {
	var rows []participantRow
	if err := s.with(ctx).Where("session_id = ?", sessionID).Order("enrolled_at, id").Find(&rows).Error; err != nil {
		return nil, mapErr(err, "list participants")
	}
	out := make([]game.Participant, len(rows))
	for i, r := range rows {
		out[i] = r.toGame()
	}
	return out, nil
}

func toRoundRow(v game.Round) roundRow {
	return roundRow{
		ID:             v.ID,
		SessionID:      v.SessionID,
		Number:         v.Number,
		Phase:          string(v.Phase),
		TimeLeft:       v.TimeLeft,
		Finals:         v.Finals,
		RockCount:      v.Tally.Rock,
		PaperCount:     v.Tally.Paper,
		ScissorsCount:  v.Tally.Scissors,
		LosingGestures: datatypes.NewJSONType(v.LosingGestures),
		Outcome:        string(v.Outcome),
		StartedAt:      v.StartedAt.UTC(),
		ResolvedAt:     utc(v.ResolvedAt),
		EndedAt:        utc(v.EndedAt),
	}
}

func (r roundRow) toGame() game.Round {
	return game.Round{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Number:         r.Number,
		Phase:          game.Phase(r.Phase),
		TimeLeft:       r.TimeLeft,
		Finals:         r.Finals,
		Tally:          game.Tally{Rock: r.RockCount, Paper: r.PaperCount, Scissors: r.ScissorsCount},
		LosingGestures: r.LosingGestures.Data(),
		Outcome:        game.Outcome(r.Outcome),
		StartedAt:      r.StartedAt.UTC(),
		ResolvedAt:     utc(r.ResolvedAt),
		EndedAt:        utc(r.EndedAt),
	}
}

func (s *Store) CreateRound(ctx context.Context, v game.Round) error {
	row := toRoundRow(v)
	return mapErr(s.with(ctx).Create(&row).Error, "create round")
}

func (s *Store) GetRound(ctx context.Context, id string) (game.Round, error) {
	var row roundRow
	if err := s.with(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return game.Round{}, mapErr(err, "get round")
	}
	return row.toGame(), nil
}

func (s *Store) GetRoundByNumber(ctx context.Context, sessionID string, number int) (game.Round, error) {
	var row roundRow
	if err := s.with(ctx).Where("session_id = ? AND number = ?", sessionID, number).First(&row).Error; err != nil {
		return game.Round{}, mapErr(err, "get round")
	}
	return row.toGame(), nil
}

func (s *Store) UpdateRound(ctx context.Context, v game.Round) error {
	row := toRoundRow(v)
	res := s.with(ctx).Model(&roundRow{}).Where("id = ?", v.ID).Updates(map[string]any{
		"phase":           row.Phase,
		"time_left":       row.TimeLeft,
		"finals":          row.Finals,
		"rock_count":      row.RockCount,
		"paper_count":     row.PaperCount,
		"scissors_count":  row.ScissorsCount,
		"losing_gestures": row.LosingGestures,
		"outcome":         row.Outcome,
		"resolved_at":     row.ResolvedAt,
		"ended_at":        row.EndedAt,
	})
	if res.Error != nil {
		return mapErr(res.Error, "update round")
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]game.Round, error) {
	var rows []roundRow
	if err := s.with(ctx).Where("session_id = ?", sessionID).Order("number").Find(&rows).Error; err != nil {
		return nil, mapErr(err, "list rounds")
	}
	out := make([]game.Round, len(rows))
	for i, r := range rows {
		out[i] = r.toGame()
	}
	return out, nil
}

// UpsertChoice keeps the first ID stored for the (round, participant) pair.
func (s *Store) UpsertChoice(ctx context.Context, v game.Choice) error {
	row := choiceRow{
		ID:            v.ID,
		RoundID:       v.RoundID,
		ParticipantID: v.ParticipantID,
		Selected:      datatypes.NewJSONType(v.Selected),
		Final:         string(v.Final),
		SubmittedAt:   v.SubmittedAt.UTC(),
	}
	err := s.with(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"selected", "final", "submitted_at"}),
	}).Create(&row).Error
	return mapErr(err, "upsert choice")
}

func (s *Store) ListChoices(ctx context.Context, roundID string) ([]game.Choice, error) {
	var rows []choiceRow
	if err := s.with(ctx).Where("round_id = ?", roundID).Order("participant_id").Find(&rows).Error; err != nil {
		return nil, mapErr(err, "list choices")
	}
	out := make([]game.Choice, len(rows))
	for i, r := range rows {
		out[i] = game.Choice{
			ID:            r.ID,
			RoundID:       r.RoundID,
			ParticipantID: r.ParticipantID,
			Selected:      r.Selected.Data(),
			Final:         game.Gesture(r.Final),
			SubmittedAt:   r.SubmittedAt.UTC(),
		}
	}
	return out, nil
}

var _ game.Store = (*Store)(nil)
