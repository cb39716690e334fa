package game_test

import (
	"testing"
	"time"

	"github.com/kiliankoe/dropone/internal/game"
)

func TestCheckAndTimeoutRemovesIdlePlayers(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a", "b", "c")
	f.start()

	// a second session that has not started is left alone
	idle, err := f.e.CreateSession(f.ctx, "lobby", game.SessionConfig{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	lurker, err := f.e.Enroll(f.ctx, idle.ID, "id-lurker", "lurker", 0)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	f.clock.Advance(4 * time.Minute)
	f.selectPair(ids[0], game.Rock)
	f.selectPair(ids[1], game.Paper)
	if ph := f.round().Phase; ph != game.PhaseSelectTwo {
		t.Fatalf("c has not selected, expected selectTwo, got %s", ph)
	}

	n, err := f.e.CheckAndTimeout(f.ctx, 3*time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removal, got %d", n)
	}

	c := f.participant(ids[2])
	if c.Status != game.ParticipantEliminated || c.EliminationReason != game.ReasonIdle {
		t.Fatalf("expected idle elimination, got %+v", c)
	}
	if c.CurrentLives != 3 {
		t.Fatalf("idle removal must keep lives, got %d", c.CurrentLives)
	}
	if ph := f.round().Phase; ph != game.PhaseExcludeOne {
		t.Fatalf("phase should move on once only active players remain, got %s", ph)
	}
	if p := f.participant(lurker.ID); p.Status != game.ParticipantEnrolled {
		t.Fatalf("participants of unstarted sessions are not reaped, got %s", p.Status)
	}

	version := f.session().Version
	n, err = f.e.CheckAndTimeout(f.ctx, 3*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("second pass should find nobody: n=%d err=%v", n, err)
	}
	if got := f.session().Version; got != version {
		t.Fatalf("an empty pass must not write the session: version %d -> %d", version, got)
	}
}

func TestCheckAndTimeoutRejectsThreshold(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	_, err := f.e.CheckAndTimeout(f.ctx, 0)
	expectKind(t, err, game.ErrInvalidArgument)
}

func TestHeartbeatKeepsPlayerIn(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a", "b", "c")
	f.start()

	f.clock.Advance(2 * time.Minute)
	for _, id := range ids {
		if err := f.e.RecordActivity(f.ctx, f.sess.ID, id); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}
	f.clock.Advance(2 * time.Minute)

	n, err := f.e.CheckAndTimeout(f.ctx, 3*time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nobody reaped, got %d", n)
	}
}
