package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage/memory"
)

// epoch is where every fixture clock starts.
var epoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []game.Event
}

func (r *recorder) Publish(_ context.Context, ev game.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(typ game.EventType) []game.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []game.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store game.Store
	e     *game.Engine
	clock *clock
	pub   *recorder
	sess  game.Session
}

func newFixture(t *testing.T, cfg game.SessionConfig, opts ...game.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, memory.New(), cfg, opts...)
}

func newFixtureOn(t *testing.T, store game.Store, cfg game.SessionConfig, opts ...game.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		clock: &clock{now: epoch},
		pub:   &recorder{},
	}
	opts = append([]game.Option{
		game.WithClock(f.clock.Now),
		game.WithPublisher(f.pub),
		game.WithLogger(zerolog.Nop()),
	}, opts...)
	f.e = game.NewEngine(store, opts...)

	sess, err := f.e.CreateSession(f.ctx, "test", cfg)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	f.sess = sess
	return f
}

// join enrolls and activates one participant per name.
func (f *fixture) join(names ...string) []string {
	f.t.Helper()
	ids := make([]string, 0, len(names))
	for _, name := range names {
		p, err := f.e.Enroll(f.ctx, f.sess.ID, "id-"+name, name, 0)
		if err != nil {
			f.t.Fatalf("enroll %s: %v", name, err)
		}
		if err := f.e.Activate(f.ctx, f.sess.ID, p.ID); err != nil {
			f.t.Fatalf("activate %s: %v", name, err)
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func (f *fixture) start() {
	f.t.Helper()
	if err := f.e.Start(f.ctx, f.sess.ID); err != nil {
		f.t.Fatalf("start: %v", err)
	}
}

func (f *fixture) session() game.Session {
	f.t.Helper()
	s, err := f.e.Session(f.ctx, f.sess.ID)
	if err != nil {
		f.t.Fatalf("session: %v", err)
	}
	return s
}

func (f *fixture) round() game.Round {
	f.t.Helper()
	v, err := f.e.Snapshot(f.ctx, f.sess.ID)
	if err != nil {
		f.t.Fatalf("snapshot: %v", err)
	}
	if v.Round == nil {
		f.t.Fatal("session has no round")
	}
	return *v.Round
}

func (f *fixture) participant(id string) game.Participant {
	f.t.Helper()
	p, err := f.store.GetParticipant(f.ctx, id)
	if err != nil {
		f.t.Fatalf("participant %s: %v", id, err)
	}
	return p
}

func (f *fixture) tick(seconds int) {
	f.t.Helper()
	if err := f.e.Tick(f.ctx, f.sess.ID, seconds); err != nil {
		f.t.Fatalf("tick: %v", err)
	}
}

// other returns the gesture picked alongside g.
func other(g game.Gesture) game.Gesture {
	switch g {
	case game.Rock:
		return game.Paper
	case game.Paper:
		return game.Scissors
	}
	return game.Rock
}

// selectPair submits g plus one other gesture.
func (f *fixture) selectPair(id string, g game.Gesture) {
	f.t.Helper()
	if err := f.e.SubmitSelection(f.ctx, f.sess.ID, "", id, []game.Gesture{g, other(g)}); err != nil {
		f.t.Fatalf("select for %s: %v", id, err)
	}
}

// keep drops the gesture paired with g.
func (f *fixture) keep(id string, g game.Gesture) {
	f.t.Helper()
	if err := f.e.SubmitDrop(f.ctx, f.sess.ID, "", id, other(g)); err != nil {
		f.t.Fatalf("drop for %s: %v", id, err)
	}
}

// play runs a full round in which every id finalizes its gesture.
func (f *fixture) play(ids []string, finals []game.Gesture) game.Round {
	f.t.Helper()
	for i, id := range ids {
		f.selectPair(id, finals[i])
	}
	if ph := f.round().Phase; ph != game.PhaseExcludeOne {
		f.t.Fatalf("expected excludeOne after all selections, got %s", ph)
	}
	for i, id := range ids {
		f.keep(id, finals[i])
	}
	r := f.round()
	if r.Phase != game.PhaseRevealing {
		f.t.Fatalf("expected revealing after all drops, got %s", r.Phase)
	}
	return r
}

func (f *fixture) lives(ids ...string) []int {
	f.t.Helper()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = f.participant(id).CurrentLives
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func expectKind(t *testing.T, err error, target *game.Error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %s, got %v", target.Kind, err)
	}
}
