// Package memory keeps game state in process memory. It is the default store
// for local play and the store the engine tests run against.
//
// Every transaction copies the whole dataset, all sessions included, and
// transactions of different sessions run one at a time. That cost grows with
// the total number of records, so long-running or busy deployments should use
// the sqlite or postgres store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/storage"
)

type dataset struct {
	sessions     map[string]game.Session
	participants map[string]game.Participant
	rounds       map[string]game.Round
	choices      map[string]game.Choice // keyed by round and participant
}

func newDataset() *dataset {
	return &dataset{
		sessions:     make(map[string]game.Session),
		participants: make(map[string]game.Participant),
		rounds:       make(map[string]game.Round),
		choices:      make(map[string]game.Choice),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		sessions:     make(map[string]game.Session, len(d.sessions)),
		participants: make(map[string]game.Participant, len(d.participants)),
		rounds:       make(map[string]game.Round, len(d.rounds)),
		choices:      make(map[string]game.Choice, len(d.choices)),
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	for k, v := range d.participants {
		c.participants[k] = v
	}
	for k, v := range d.rounds {
		c.rounds[k] = v
	}
	for k, v := range d.choices {
		c.choices[k] = v
	}
	return c
}

// Store is safe for concurrent use. A transaction works on a private copy
// of the dataset that replaces the shared one on commit; writers are
// serialized so no commit can overwrite another.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *dataset
}

func New() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) read(ctx context.Context, fn func(d *dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) write(ctx context.Context, fn func(d *dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// WithinTx runs fn on a copy of the dataset and publishes the copy only when
// fn succeeds. fn must use the Store it is given, not s.
func (s *Store) WithinTx(ctx context.Context, fn func(game.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	tx := &Store{data: s.data.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = tx.data
	s.mu.Unlock()
	return nil
}

func choiceKey(roundID, participantID string) string {
	return roundID + "/" + participantID
}

func copySession(v game.Session) game.Session {
	if v.Config.ScheduledStartAt != nil {
		at := *v.Config.ScheduledStartAt
		v.Config.ScheduledStartAt = &at
	}
	if v.StartedAt != nil {
		at := *v.StartedAt
		v.StartedAt = &at
	}
	if v.EndedAt != nil {
		at := *v.EndedAt
		v.EndedAt = &at
	}
	return v
}

func copyParticipant(v game.Participant) game.Participant {
	if v.EliminatedAt != nil {
		at := *v.EliminatedAt
		v.EliminatedAt = &at
	}
	return v
}

func copyRound(v game.Round) game.Round {
	v.LosingGestures = append([]game.Gesture(nil), v.LosingGestures...)
	if v.ResolvedAt != nil {
		at := *v.ResolvedAt
		v.ResolvedAt = &at
	}
	if v.EndedAt != nil {
		at := *v.EndedAt
		v.EndedAt = &at
	}
	return v
}

func copyChoice(v game.Choice) game.Choice {
	v.Selected = append([]game.Gesture(nil), v.Selected...)
	return v
}

func (s *Store) CreateSession(ctx context.Context, v game.Session) error {
	return s.write(ctx, func(d *dataset) error {
		if _, ok := d.sessions[v.ID]; ok {
			return storage.ErrAlreadyExists
		}
		d.sessions[v.ID] = copySession(v)
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (game.Session, error) {
	var out game.Session
	err := s.read(ctx, func(d *dataset) error {
		v, ok := d.sessions[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = copySession(v)
		return nil
	})
	return out, err
}

func (s *Store) UpdateSession(ctx context.Context, v game.Session) error {
	return s.write(ctx, func(d *dataset) error {
		cur, ok := d.sessions[v.ID]
		if !ok {
			return storage.ErrNotFound
		}
		if cur.Version != v.Version {
			return storage.ErrConflict
		}
		v.Version++
		d.sessions[v.ID] = copySession(v)
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, statuses ...game.SessionStatus) ([]game.Session, error) {
	var out []game.Session
	err := s.read(ctx, func(d *dataset) error {
		for _, v := range d.sessions {
			if len(statuses) > 0 && !hasStatus(statuses, v.Status) {
				continue
			}
			out = append(out, copySession(v))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func hasStatus(statuses []game.SessionStatus, st game.SessionStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) CreateParticipant(ctx context.Context, v game.Participant) error {
	return s.write(ctx, func(d *dataset) error {
		if _, ok := d.participants[v.ID]; ok {
			return storage.ErrAlreadyExists
		}
		for _, p := range d.participants {
			if p.SessionID == v.SessionID && p.Identity == v.Identity {
				return storage.ErrAlreadyExists
			}
		}
		d.participants[v.ID] = copyParticipant(v)
		return nil
	})
}

func (s *Store) GetParticipant(ctx context.Context, id string) (game.Participant, error) {
	var out game.Participant
	err := s.read(ctx, func(d *dataset) error {
		v, ok := d.participants[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = copyParticipant(v)
		return nil
	})
	return out, err
}

func (s *Store) UpdateParticipant(ctx context.Context, v game.Participant) error {
	return s.write(ctx, func(d *dataset) error {
		if _, ok := d.participants[v.ID]; !ok {
			return storage.ErrNotFound
		}
		d.participants[v.ID] = copyParticipant(v)
		return nil
	})
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]game.Participant, error) {
	var out []game.Participant
	err := s.read(ctx, func(d *dataset) error {
		for _, v := range d.participants {
			if v.SessionID == sessionID {
				out = append(out, copyParticipant(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Store) CreateRound(ctx context.Context, v game.Round) error {
	return s.write(ctx, func(d *dataset) error {
		if _, ok := d.rounds[v.ID]; ok {
			return storage.ErrAlreadyExists
		}
		for _, r := range d.rounds {
			if r.SessionID == v.SessionID && r.Number == v.Number {
				return storage.ErrAlreadyExists
			}
		}
		d.rounds[v.ID] = copyRound(v)
		return nil
	})
}

func (s *Store) GetRound(ctx context.Context, id string) (game.Round, error) {
	var out game.Round
	err := s.read(ctx, func(d *dataset) error {
		v, ok := d.rounds[id]
		if !ok {
			return storage.ErrNotFound
		}
		out = copyRound(v)
		return nil
	})
	return out, err
}

func (s *Store) GetRoundByNumber(ctx context.Context, sessionID string, number int) (game.Round, error) {
	var out game.Round
	err := s.read(ctx, func(d *dataset) error {
		for _, v := range d.rounds {
			if v.SessionID == sessionID && v.Number == number {
				out = copyRound(v)
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return out, err
}

func (s *Store) UpdateRound(ctx context.Context, v game.Round) error {
	return s.write(ctx, func(d *dataset) error {
		if _, ok := d.rounds[v.ID]; !ok {
			return storage.ErrNotFound
		}
		d.rounds[v.ID] = copyRound(v)
		return nil
	})
}

func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]game.Round, error) {
	var out []game.Round
	err := s.read(ctx, func(d *dataset) error {
		for _, v := range d.rounds {
			if v.SessionID == sessionID {
				out = append(out, copyRound(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, err
}

func (s *Store) UpsertChoice(ctx context.Context, v game.Choice) error {
	return s.write(ctx, func(d *dataset) error {
		key := choiceKey(v.RoundID, v.ParticipantID)
		if cur, ok := d.choices[key]; ok {
			v.ID = cur.ID
		}
		d.choices[key] = copyChoice(v)
		return nil
	})
}

func (s *Store) ListChoices(ctx context.Context, roundID string) ([]game.Choice, error) {
	var out []game.Choice
	err := s.read(ctx, func(d *dataset) error {
		for _, v := range d.choices {
			if v.RoundID == roundID {
				out = append(out, copyChoice(v))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, err
}

var _ game.Store = (*Store)(nil)
