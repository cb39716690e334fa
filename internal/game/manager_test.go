package game_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage/memory"
)

func TestCreateSession(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})

	if f.sess.ID == "" {
		t.Fatal("session id should not be empty")
	}
	if f.sess.Status != game.SessionWaiting {
		t.Fatalf("expected waiting, got %s", f.sess.Status)
	}
	def := game.DefaultSessionConfig()
	if f.sess.Config != def {
		t.Fatalf("expected defaults %+v, got %+v", def, f.sess.Config)
	}

	got := f.session()
	if got.ID != f.sess.ID || got.Name != "test" {
		t.Fatalf("stored session differs: %+v", got)
	}

	_, err := f.e.CreateSession(f.ctx, "  ", game.SessionConfig{})
	expectKind(t, err, game.ErrInvalidArgument)
}

func TestEngineDefaults(t *testing.T) {
	f := newFixture(t, game.SessionConfig{SelectSeconds: 20},
		game.WithDefaults(game.SessionConfig{InitialLives: 5, ThreeWay: game.ThreeWayMinority}))

	c := f.sess.Config
	if c.InitialLives != 5 || c.ThreeWay != game.ThreeWayMinority {
		t.Fatalf("engine defaults not applied: %+v", c)
	}
	if c.SelectSeconds != 20 {
		t.Fatalf("explicit value overridden: %d", c.SelectSeconds)
	}
	if c.ExcludeSeconds != 10 {
		t.Fatalf("missing fields should fall back to built-in defaults, got %d", c.ExcludeSeconds)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	_, err := f.e.Session(f.ctx, "missing")
	expectKind(t, err, game.ErrNotFound)
	_, err = f.e.Snapshot(f.ctx, "missing")
	expectKind(t, err, game.ErrNotFound)
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a", "b")
	f.start()
	roundID := f.round().ID

	if err := f.e.CloseSession(f.ctx, f.sess.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	s := f.session()
	if s.Status != game.SessionClosed || s.EndedAt == nil {
		t.Fatalf("expected closed, got %+v", s)
	}
	r, err := f.store.GetRound(f.ctx, roundID)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if r.EndedAt == nil {
		t.Fatal("open round should be ended on close")
	}

	f.tick(30)
	if got := f.session(); got.Version != s.Version {
		t.Fatal("closed sessions must not change on tick")
	}
	err = f.e.SubmitSelection(f.ctx, f.sess.ID, "", ids[0], []game.Gesture{game.Rock})
	expectKind(t, err, game.ErrWrongPhase)
	expectKind(t, f.e.CloseSession(f.ctx, f.sess.ID), game.ErrInvalidTransition)
}

func TestClosedSessionIsFrozen(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	ids := f.join("a", "b")
	f.start()
	if err := f.e.CloseSession(f.ctx, f.sess.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	s := f.session()
	before := f.participant(ids[0])
	f.clock.Advance(time.Hour)

	_, err := f.e.ApplyLifeDelta(f.ctx, f.sess.ID, ids[0], -10, game.ReasonTally)
	expectKind(t, err, game.ErrInvalidTransition)
	if err := f.e.RecordActivity(f.ctx, f.sess.ID, ids[0]); err != nil {
		t.Fatalf("heartbeat on a closed session: %v", err)
	}

	p := f.participant(ids[0])
	if p.Status != before.Status || p.CurrentLives != before.CurrentLives || !p.LastActiveAt.Equal(before.LastActiveAt) {
		t.Fatalf("participant changed after close: %+v -> %+v", before, p)
	}
	if n := len(f.pub.ofType(game.EventParticipantEliminated)); n != 0 {
		t.Fatalf("expected no eliminations, got %d", n)
	}
	if got := f.session(); got.Version != s.Version || !got.UpdatedAt.Equal(s.UpdatedAt) {
		t.Fatalf("closed session was rewritten: version %d -> %d", s.Version, got.Version)
	}
}

// stallingPublisher blocks on the first choiceRecorded event until released.
type stallingPublisher struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) Publish(_ context.Context, ev game.Event) error {
	if ev.Type != game.EventChoiceRecorded {
		return nil
	}
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func TestSlowSubscriberDoesNotHoldSession(t *testing.T) {
	pub := &stallingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, game.SessionConfig{}, game.WithPublisher(pub))
	ids := f.join("a", "b")
	f.start()

	selected := make(chan error, 1)
	go func() {
		selected <- f.e.SubmitSelection(f.ctx, f.sess.ID, "", ids[0], []game.Gesture{game.Rock, game.Paper})
	}()
	select {
	case <-pub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("selection was never published")
	}

	ticked := make(chan error, 1)
	go func() { ticked <- f.e.Tick(f.ctx, f.sess.ID, 1) }()
	select {
	case err := <-ticked:
		if err != nil {
			close(pub.release)
			t.Fatalf("tick: %v", err)
		}
	case <-time.After(time.Second):
		close(pub.release)
		t.Fatal("tick waited for the subscriber")
	}
	close(pub.release)
	if err := <-selected; err != nil {
		t.Fatalf("select: %v", err)
	}
	if r := f.round(); r.TimeLeft != 9 {
		t.Fatalf("expected 9s left, got %d", r.TimeLeft)
	}
}

func TestSessionsFilter(t *testing.T) {
	f := newFixture(t, game.SessionConfig{})
	f.join("a", "b")
	f.start()
	if _, err := f.e.CreateSession(f.ctx, "lobby", game.SessionConfig{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := f.e.Sessions(f.ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d %v", len(all), err)
	}
	playing, err := f.e.Sessions(f.ctx, game.SessionInProgress, game.SessionFinals)
	if err != nil || len(playing) != 1 || playing[0].ID != f.sess.ID {
		t.Fatalf("expected only the started session, got %+v %v", playing, err)
	}
	ids, err := f.e.ScheduledSessionIDs(f.ctx)
	if err != nil || len(ids) != 1 || ids[0] != f.sess.ID {
		t.Fatalf("only in-play and scheduled sessions are ticked, got %v %v", ids, err)
	}
}

func TestSnapshotHidesPreliminarySelections(t *testing.T) {
	f := newFixture(t, game.SessionConfig{FinalsThreshold: 2})
	ids := f.join("a", "b", "c")
	f.start()
	for _, id := range ids {
		f.selectPair(id, game.Rock)
	}

	v, err := f.e.Snapshot(f.ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if v.Round.Finals || v.Round.Phase != game.PhaseExcludeOne {
		t.Fatalf("expected preliminary excludeOne, got %+v", v.Round)
	}
	if v.Living != 3 {
		t.Fatalf("expected 3 living, got %d", v.Living)
	}
	for _, p := range v.Participants {
		if !p.Selected || p.Finalized {
			t.Fatalf("unexpected flags %+v", p)
		}
		if len(p.Gestures) != 0 {
			t.Fatalf("preliminary selections are hidden, got %v", p.Gestures)
		}
	}

	for _, id := range ids {
		f.keep(id, game.Rock)
	}
	v, err = f.e.Snapshot(f.ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, p := range v.Participants {
		if p.Final != game.Rock || len(p.Gestures) != 2 {
			t.Fatalf("revealing shows everything, got %+v", p)
		}
	}
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.txt")
	f := newFixtureOn(t, memory.New(), game.SessionConfig{InitialLives: 1}, game.WithExportFile(path))
	ids := f.join("ada", "bob")
	f.start()
	f.play(ids, []game.Gesture{game.Rock, game.Rock})
	f.tick(5)
	f.play(ids, []game.Gesture{game.Rock, game.Paper})
	f.tick(5)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"Drop-One Results - Session test",
		"- ada (1 lives)",
		"Finals round 1: replay",
		"Finals round 2: tie",
		"Tally: rock 1, paper 1, scissors 0",
		"Losing: rock, paper",
		"Game ended at",
		"winner: nobody",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Drop-One Results") != 1 {
		t.Fatalf("header should be written once:\n%s", out)
	}
}
