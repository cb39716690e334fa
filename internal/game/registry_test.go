package game_test

import (
	"testing"
	"time"

	"github.com/kiliankoe/dropone/internal/game"
)

func TestEnroll(t *testing.T) {
	f := newFixture(t, game.SessionConfig{InitialLives: 4})

	p, err := f.e.Enroll(f.ctx, f.sess.ID, "user-1", "Ada", 0)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if p.Status != game.ParticipantEnrolled || p.CurrentLives != 4 || p.InitialLives != 4 {
		t.Fatalf("unexpected participant %+v", p)
	}
	if p.Living() {
		t.Fatal("enrolled participants are not living until activated")
	}

	_, err = f.e.Enroll(f.ctx, f.sess.ID, "user-1", "Ada again", 0)
	expectKind(t, err, game.ErrDuplicateIdentity)

	_, err = f.e.Enroll(f.ctx, f.sess.ID, " ", "Nobody", 0)
	expectKind(t, err, game.ErrInvalidArgument)

	custom, err := f.e.Enroll(f.ctx, f.sess.ID, "user-2", "Bob", 2)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if custom.InitialLives != 2 {
		t.Fatalf("explicit lives ignored: %+v", custom)
	}

	found, err := f.e.ParticipantByIdentity(f.ctx, f.sess.ID, "user-2")
	if err != nil || found.ID != custom.ID {
		t.Fatalf("lookup by identity: %+v %v", found, err)
	}
	if n := len(f.pub.ofType(game.EventRosterChanged)); n != 2 {
		t.Fatalf("expected 2 roster events, got %d", n)
	}
}

func TestEnrollClosedAfterStart(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	f.join("a", "b")
	f.start()

	_, err := f.e.Enroll(f.ctx, f.sess.ID, "late", "Late", 0)
	expectKind(t, err, game.ErrSessionLocked)
}

func TestActivateDeactivate(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	p, err := f.e.Enroll(f.ctx, f.sess.ID, "user-1", "Ada", 0)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	if err := f.e.Activate(f.ctx, f.sess.ID, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.e.Activate(f.ctx, f.sess.ID, p.ID); err != nil {
		t.Fatalf("activate twice should be a no-op: %v", err)
	}
	if got := f.participant(p.ID); got.Status != game.ParticipantActive {
		t.Fatalf("expected active, got %s", got.Status)
	}

	locked, err := f.e.Deactivate(f.ctx, f.sess.ID, p.ID)
	if err != nil || locked {
		t.Fatalf("deactivate: locked=%v err=%v", locked, err)
	}
	if got := f.participant(p.ID); got.Status != game.ParticipantEnrolled {
		t.Fatalf("expected enrolled, got %s", got.Status)
	}

	expectKind(t, f.e.Activate(f.ctx, f.sess.ID, "missing"), game.ErrNotFound)
}

func TestRosterLocksAfterStart(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a", "b")
	f.start()

	_, err := f.e.Deactivate(f.ctx, f.sess.ID, ids[0])
	expectKind(t, err, game.ErrSessionLocked)
	expectKind(t, f.e.Activate(f.ctx, f.sess.ID, ids[0]), game.ErrInvalidTransition)
}

func TestDeactivateInsideLockWindow(t *testing.T) {
	start := epoch.Add(90 * time.Second)
	f := newFixture(t, game.SessionConfig{ScheduledStartAt: &start, RosterLockSeconds: 60})
	ids := f.join("a")

	f.clock.Advance(45 * time.Second)
	locked, err := f.e.Deactivate(f.ctx, f.sess.ID, ids[0])
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !locked {
		t.Fatal("expected locked inside the final minute")
	}
	if got := f.participant(ids[0]); got.Status != game.ParticipantActive {
		t.Fatalf("locked deactivate must not change status, got %s", got.Status)
	}
}

func TestApplyLifeDelta(t *testing.T) {
	f := newFixture(t, game.SessionConfig{InitialLives: 3})
	ids := f.join("a", "b")

	p, err := f.e.ApplyLifeDelta(f.ctx, f.sess.ID, ids[0], 5, game.ReasonNone)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if p.CurrentLives != 3 {
		t.Fatalf("lives must not exceed initial, got %d", p.CurrentLives)
	}

	p, err = f.e.ApplyLifeDelta(f.ctx, f.sess.ID, ids[0], -7, game.ReasonTally)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if p.CurrentLives != 0 || p.Status != game.ParticipantEliminated || p.EliminatedAt == nil {
		t.Fatalf("expected clamped elimination, got %+v", p)
	}
	if p.EliminationReason != game.ReasonTally {
		t.Fatalf("unexpected reason %s", p.EliminationReason)
	}

	evs := f.pub.ofType(game.EventParticipantEliminated)
	if len(evs) != 1 || evs[0].ParticipantID != ids[0] || evs[0].Reason != game.ReasonTally {
		t.Fatalf("unexpected elimination events %+v", evs)
	}

	living, err := f.e.LivingParticipants(f.ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("living: %v", err)
	}
	if len(living) != 1 || living[0].ID != ids[1] {
		t.Fatalf("expected only b living, got %+v", living)
	}
}

func TestRecordActivity(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a")
	f.clock.Advance(time.Minute)

	if err := f.e.RecordActivity(f.ctx, f.sess.ID, ids[0]); err != nil {
		t.Fatalf("record activity: %v", err)
	}
	if got := f.participant(ids[0]).LastActiveAt; !got.Equal(f.clock.Now()) {
		t.Fatalf("last active = %v, want %v", got, f.clock.Now())
	}
}
