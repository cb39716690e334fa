package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kiliankoe/dropone/internal/game"

// Engine runs elimination sessions on top of a Store. Every mutating call
// holds the session's lock and commits through Store.WithinTx, so phase
// checks, transitions and resolutions for one session never interleave.
// Events are published only after the commit succeeded and the lock was
// released; events of one call keep their order.
type Engine struct {
	store      Store
	pub        Publisher
	now        func() time.Time
	log        zerolog.Logger
	tracer     trace.Tracer
	defaults   SessionConfig
	exportFile string
	exportMu   sync.Mutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.pub = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDefaults sets the config used to fill zero fields of new sessions.
func WithDefaults(c SessionConfig) Option {
	return func(e *Engine) { e.defaults = c.WithDefaults(DefaultSessionConfig()) }
}

// WithExportFile appends every resolved round to path.
func WithExportFile(path string) Option {
	return func(e *Engine) { e.exportFile = path }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		pub:      discard{},
		now:      time.Now,
		log:      log.Logger,
		tracer:   otel.Tracer(tracerName),
		defaults: DefaultSessionConfig(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tx is the view a mutation works through: the transactional store, the
// session row loaded at the start, and the events waiting for the commit.
type tx struct {
	Store
	sess   *Session
	now    time.Time
	events []Event
}

func (t *tx) emit(ev Event) {
	ev.SessionID = t.sess.ID
	if ev.At.IsZero() {
		ev.At = t.now
	}
	t.events = append(t.events, ev)
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) startSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "game."+op, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// errNoChange aborts a mutation without writing anything; mutate reports
// success.
var errNoChange = errors.New("no change")

// mutate runs fn for sessionID under the session lock inside one store
// transaction. The session row is written back with a version check, so a
// second writer on another node fails with ConcurrencyConflict instead of
// overwriting. Events are published after the lock is released, so a slow
// subscriber never holds up the next call on the session.
func (e *Engine) mutate(ctx context.Context, op, sessionID string, fn func(context.Context, *tx) error) (err error) {
	ctx, span := e.startSpan(ctx, op, sessionID)
	defer func() { endSpan(span, err) }()

	events, err := e.commit(ctx, sessionID, fn)
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		err = translate(err)
		if Retryable(err) {
			e.log.Warn().Err(err).Str("op", op).Str("session", sessionID).Msg("mutation failed")
		}
		return err
	}
	e.publish(ctx, events)
	return nil
}

func (e *Engine) commit(ctx context.Context, sessionID string, fn func(context.Context, *tx) error) ([]Event, error) {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	var events []Event
	err := e.store.WithinTx(ctx, func(s Store) error {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		t := &tx{Store: s, sess: &sess, now: e.now().UTC()}
		if err := fn(ctx, t); err != nil {
			return err
		}
		t.sess.UpdatedAt = t.now
		if err := s.UpdateSession(ctx, *t.sess); err != nil {
			return err
		}
		events = t.events
		return nil
	})
	return events, err
}

// publish hands events to the publisher in order. Export appends are
// serialized so blocks from concurrent calls do not interleave.
func (e *Engine) publish(ctx context.Context, events []Event) {
	for _, ev := range events {
		if err := e.pub.Publish(ctx, ev); err != nil {
			e.log.Error().Err(err).Str("session", ev.SessionID).Str("event", string(ev.Type)).Msg("publish failed")
		}
		if e.exportFile != "" && (ev.Type == EventRoundResolved || ev.Type == EventSessionCompleted) {
			e.exportMu.Lock()
			err := e.export(ctx, ev)
			e.exportMu.Unlock()
			if err != nil {
				e.log.Error().Err(err).Str("session", ev.SessionID).Str("file", e.exportFile).Msg("failed to export round")
			}
		}
	}
}

// CreateSession stores a new session in waiting status.
func (e *Engine) CreateSession(ctx context.Context, name string, cfg SessionConfig) (sess Session, err error) {
	ctx, span := e.startSpan(ctx, "CreateSession", "")
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, newError(KindInvalidArgument, "session name is required")
	}
	now := e.now().UTC()
	sess = Session{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    SessionWaiting,
		Config:    cfg.WithDefaults(e.defaults),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return Session{}, translate(err)
	}
	e.log.Info().Str("session", sess.ID).Str("name", sess.Name).Msg("session created")
	return sess, nil
}

// CloseSession ends a session administratively, whatever phase it is in.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	return e.mutate(ctx, "CloseSession", sessionID, func(ctx context.Context, t *tx) error {
		if t.sess.Status.Terminal() {
			return newError(KindInvalidTransition, "session %s is already %s", t.sess.ID, t.sess.Status)
		}
		if t.sess.CurrentRound > 0 {
			r, err := t.GetRoundByNumber(ctx, t.sess.ID, t.sess.CurrentRound)
			if err != nil {
				return err
			}
			if r.EndedAt == nil {
				ended := t.now
				r.EndedAt = &ended
				if err := t.UpdateRound(ctx, r); err != nil {
					return err
				}
			}
		}
		ended := t.now
		t.sess.Status = SessionClosed
		t.sess.EndedAt = &ended
		t.emit(Event{Type: EventSessionStatus, Status: SessionClosed})
		e.log.Info().Str("session", t.sess.ID).Msg("session closed")
		return nil
	})
}

func (e *Engine) Session(ctx context.Context, sessionID string) (Session, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	return s, translate(err)
}

// Sessions lists sessions in the given statuses, or all when none are given.
func (e *Engine) Sessions(ctx context.Context, statuses ...SessionStatus) ([]Session, error) {
	ss, err := e.store.ListSessions(ctx, statuses...)
	return ss, translate(err)
}

// ScheduledSessionIDs returns the sessions the scheduler must tick: those in
// play plus those waiting on a scheduled start.
func (e *Engine) ScheduledSessionIDs(ctx context.Context) ([]string, error) {
	ss, err := e.store.ListSessions(ctx, SessionWaiting, SessionStarting, SessionInProgress, SessionFinals)
	if err != nil {
		return nil, translate(err)
	}
	ids := make([]string, 0, len(ss))
	for _, s := range ss {
		if s.Status == SessionWaiting && s.Config.ScheduledStartAt == nil {
			continue
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}

type ParticipantView struct {
	Participant
	Selected  bool      `json:"selected"`
	Finalized bool      `json:"finalized"`
	Gestures  []Gesture `json:"gestures,omitempty"`
	Final     Gesture   `json:"final,omitempty"`
}

// View is a read model for presentation. It is assembled without the session
// lock and may trail concurrent writes.
type View struct {
	Session      Session           `json:"session"`
	Round        *Round            `json:"round,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Living       int               `json:"living"`
}

// Snapshot builds the presentation view of a session. Selected gestures show
// once revealing starts, or already during excludeOne in finals rounds.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (View, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return View{}, translate(err)
	}
	ps, err := e.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return View{}, translate(err)
	}
	v := View{Session: sess, Participants: make([]ParticipantView, 0, len(ps))}

	choices := map[string]Choice{}
	if sess.CurrentRound > 0 {
		r, err := e.store.GetRoundByNumber(ctx, sessionID, sess.CurrentRound)
		if err != nil {
			return View{}, translate(err)
		}
		v.Round = &r
		cs, err := e.store.ListChoices(ctx, r.ID)
		if err != nil {
			return View{}, translate(err)
		}
		choices = choicesByParticipant(cs)
	}

	revealed := v.Round != nil && (v.Round.Phase == PhaseRevealing || v.Round.Phase == PhaseCompleted)
	showSelection := revealed || (v.Round != nil && v.Round.Finals && v.Round.Phase == PhaseExcludeOne)
	for _, p := range ps {
		pv := ParticipantView{Participant: p}
		if c, ok := choices[p.ID]; ok {
			pv.Selected = len(c.Selected) > 0
			pv.Finalized = c.HasFinal()
			if showSelection {
				pv.Gestures = c.Selected
			}
			if revealed {
				pv.Final = c.Final
			}
		}
		if p.Living() {
			v.Living++
		}
		v.Participants = append(v.Participants, pv)
	}
	return v, nil
}
