// Package storetest holds the behavior every game.Store implementation must
// show. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

// Run exercises a fresh store from open for every subtest.
func Run(t *testing.T, open func(t *testing.T) game.Store) {
	t.Run("SessionRoundTrip", func(t *testing.T) { sessionRoundTrip(t, open(t)) })
	t.Run("SessionVersionConflict", func(t *testing.T) { sessionVersionConflict(t, open(t)) })
	t.Run("ParticipantIdentityUnique", func(t *testing.T) { participantIdentityUnique(t, open(t)) })
	t.Run("RoundNumberUnique", func(t *testing.T) { roundNumberUnique(t, open(t)) })
	t.Run("ChoiceUpsert", func(t *testing.T) { choiceUpsert(t, open(t)) })
	t.Run("TxRollback", func(t *testing.T) { txRollback(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { notFound(t, open(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s game.Store) (game.Session, game.Participant, game.Round) {
	t.Helper()
	ctx := context.Background()
	at := base.Add(time.Hour)
	sess := game.Session{
		ID:        "s1",
		Name:      "friday",
		Status:    game.SessionWaiting,
		Config:    game.SessionConfig{InitialLives: 3, SelectSeconds: 10, ExcludeSeconds: 10, RevealSeconds: 5, FinalsThreshold: 4, ThreeWay: game.ThreeWayReplay, ScheduledStartAt: &at},
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	p := game.Participant{
		ID: "p1", SessionID: "s1", Identity: "alice", Nickname: "Alice",
		InitialLives: 3, CurrentLives: 3, Status: game.ParticipantActive,
		EnrolledAt: base, LastActiveAt: base,
	}
	if err := s.CreateParticipant(ctx, p); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	r := game.Round{ID: "r1", SessionID: "s1", Number: 1, Phase: game.PhaseSelectTwo, TimeLeft: 10, StartedAt: base}
	if err := s.CreateRound(ctx, r); err != nil {
		t.Fatalf("create round: %v", err)
	}
	return sess, p, r
}

func sessionRoundTrip(t *testing.T, s game.Store) {
	ctx := context.Background()
	sess, _, _ := seed(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Name != "friday" || got.Status != game.SessionWaiting {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.Config.ScheduledStartAt == nil || !got.Config.ScheduledStartAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("scheduled start not kept: %v", got.Config.ScheduledStartAt)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created at %v, want %v", got.CreatedAt, base)
	}

	started := base.Add(2 * time.Hour)
	got.Status = game.SessionFinals
	got.CurrentRound = 1
	got.StartedAt = &started
	if err := s.UpdateSession(ctx, got); err != nil {
		t.Fatalf("update session: %v", err)
	}
	again, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if again.Version != got.Version+1 {
		t.Fatalf("expected version %d, got %d", got.Version+1, again.Version)
	}
	if again.StartedAt == nil || !again.StartedAt.Equal(started) || again.CurrentRound != 1 {
		t.Fatalf("update not stored: %+v", again)
	}

	ss, err := s.ListSessions(ctx, game.SessionFinals)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(ss) != 1 {
		t.Fatalf("expected 1 finals session, got %d", len(ss))
	}
	ss, err = s.ListSessions(ctx, game.SessionCompleted)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(ss) != 0 {
		t.Fatalf("expected no completed sessions, got %d", len(ss))
	}
}

func sessionVersionConflict(t *testing.T, s game.Store) {
	ctx := context.Background()
	sess, _, _ := seed(t, s)

	if err := s.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdateSession(ctx, sess); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale version, got %v", err)
	}
	missing := sess
	missing.ID = "nope"
	if err := s.UpdateSession(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func participantIdentityUnique(t *testing.T, s game.Store) {
	ctx := context.Background()
	_, p, _ := seed(t, s)

	dup := p
	dup.ID = "p2"
	if err := s.CreateParticipant(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	eliminated := base.Add(time.Minute)
	p.CurrentLives = 0
	p.Status = game.ParticipantEliminated
	p.EliminationReason = game.ReasonTimeout
	p.EliminatedAt = &eliminated
	if err := s.UpdateParticipant(ctx, p); err != nil {
		t.Fatalf("update participant: %v", err)
	}
	ps, err := s.ListParticipants(ctx, p.SessionID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(ps) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(ps))
	}
	got := ps[0]
	if got.Identity != "alice" || got.Status != game.ParticipantEliminated || got.EliminationReason != game.ReasonTimeout {
		t.Fatalf("unexpected participant %+v", got)
	}
	if got.EliminatedAt == nil || !got.EliminatedAt.Equal(eliminated) {
		t.Fatalf("eliminated at not stored: %v", got.EliminatedAt)
	}
}

func roundNumberUnique(t *testing.T, s game.Store) {
	ctx := context.Background()
	_, _, r := seed(t, s)

	dup := r
	dup.ID = "r2"
	if err := s.CreateRound(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	resolved := base.Add(time.Minute)
	r.Phase = game.PhaseRevealing
	r.Tally = game.Tally{Rock: 2, Paper: 1}
	r.LosingGestures = []game.Gesture{game.Paper}
	r.Outcome = game.OutcomeElimination
	r.ResolvedAt = &resolved
	r.Finals = true
	if err := s.UpdateRound(ctx, r); err != nil {
		t.Fatalf("update round: %v", err)
	}
	got, err := s.GetRoundByNumber(ctx, r.SessionID, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.ID != r.ID || got.Phase != game.PhaseRevealing || !got.Finals {
		t.Fatalf("unexpected round %+v", got)
	}
	if got.Tally != r.Tally || len(got.LosingGestures) != 1 || got.LosingGestures[0] != game.Paper {
		t.Fatalf("result not stored: %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolved) {
		t.Fatalf("resolved at not stored: %v", got.ResolvedAt)
	}

	next := game.Round{ID: "r3", SessionID: r.SessionID, Number: 2, Phase: game.PhaseWaiting, StartedAt: base}
	if err := s.CreateRound(ctx, next); err != nil {
		t.Fatalf("create round 2: %v", err)
	}
	rounds, err := s.ListRounds(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 2 || rounds[0].Number != 1 || rounds[1].Number != 2 {
		t.Fatalf("unexpected rounds %+v", rounds)
	}
}

func choiceUpsert(t *testing.T, s game.Store) {
	ctx := context.Background()
	_, p, r := seed(t, s)

	first := game.Choice{ID: "c1", RoundID: r.ID, ParticipantID: p.ID, Selected: []game.Gesture{game.Rock, game.Scissors}, SubmittedAt: base}
	if err := s.UpsertChoice(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second := game.Choice{ID: "c2", RoundID: r.ID, ParticipantID: p.ID, Selected: []game.Gesture{game.Rock, game.Scissors}, Final: game.Scissors, SubmittedAt: base.Add(time.Second)}
	if err := s.UpsertChoice(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cs, err := s.ListChoices(ctx, r.ID)
	if err != nil {
		t.Fatalf("list choices: %v", err)
	}
	if len(cs) != 1 {
		t.Fatalf("expected a single choice per participant, got %d", len(cs))
	}
	c := cs[0]
	if c.ID != "c1" {
		t.Fatalf("expected first id to be kept, got %s", c.ID)
	}
	if c.Final != game.Scissors || len(c.Selected) != 2 || c.Selected[0] != game.Rock {
		t.Fatalf("unexpected choice %+v", c)
	}
}

func txRollback(t *testing.T, s game.Store) {
	ctx := context.Background()
	sess, p, _ := seed(t, s)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx game.Store) error {
		p.CurrentLives = 1
		if err := tx.UpdateParticipant(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		got, err := tx.GetParticipant(ctx, p.ID)
		if err != nil {
			return err
		}
		if got.CurrentLives != 1 {
			t.Errorf("tx should read its own write, got %d lives", got.CurrentLives)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, err := s.GetParticipant(ctx, p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.CurrentLives != 3 {
		t.Fatalf("rolled back write is visible: %d lives", got.CurrentLives)
	}
	again, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if again.Version != sess.Version {
		t.Fatalf("rolled back version bump is visible: %d", again.Version)
	}

	err = s.WithinTx(ctx, func(tx game.Store) error {
		p.CurrentLives = 2
		return tx.UpdateParticipant(ctx, p)
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ = s.GetParticipant(ctx, p.ID)
	if got.CurrentLives != 2 {
		t.Fatalf("committed write missing: %d lives", got.CurrentLives)
	}
}

func notFound(t *testing.T, s game.Store) {
	ctx := context.Background()
	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("session: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetParticipant(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("participant: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetRound(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("round: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetRoundByNumber(ctx, "missing", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("round by number: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateParticipant(ctx, game.Participant{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update participant: expected ErrNotFound, got %v", err)
	}
}
