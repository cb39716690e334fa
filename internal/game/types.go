package game

import (
	"strings"
	"time"
)

type Gesture string

const (
	Rock     Gesture = "rock"
	Paper    Gesture = "paper"
	Scissors Gesture = "scissors"
)

// Gestures lists every gesture in tally order.
var Gestures = [...]Gesture{Rock, Paper, Scissors}

func (g Gesture) Valid() bool {
	return g == Rock || g == Paper || g == Scissors
}

// ParseGesture accepts the gesture name in any case.
func ParseGesture(s string) (Gesture, error) {
	g := Gesture(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", newError(KindInvalidChoice, "unknown gesture %q", s)
	}
	return g, nil
}

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseSelectTwo  Phase = "selectTwo"
	PhaseExcludeOne Phase = "excludeOne"
	PhaseRevealing  Phase = "revealing"
	PhaseCompleted  Phase = "completed"
)

var phaseNext = map[Phase]Phase{
	PhaseWaiting:    PhaseSelectTwo,
	PhaseSelectTwo:  PhaseExcludeOne,
	PhaseExcludeOne: PhaseRevealing,
	PhaseRevealing:  PhaseCompleted,
}

// Next returns the only phase a round may move to from p.
func (p Phase) Next() (Phase, bool) {
	n, ok := phaseNext[p]
	return n, ok
}

func (p Phase) Valid() bool {
	_, ok := phaseNext[p]
	return ok || p == PhaseCompleted
}

type SessionStatus string

const (
	SessionWaiting    SessionStatus = "waiting"
	SessionStarting   SessionStatus = "starting"
	SessionInProgress SessionStatus = "inProgress"
	SessionFinals     SessionStatus = "finals"
	SessionCompleted  SessionStatus = "completed"
	SessionClosed     SessionStatus = "closed"
)

// Terminal sessions are immutable.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionClosed
}

// InPlay reports whether rounds are being played.
func (s SessionStatus) InPlay() bool {
	return s == SessionInProgress || s == SessionFinals
}

// Open reports whether the roster may still change.
func (s SessionStatus) Open() bool {
	return s == SessionWaiting || s == SessionStarting
}

type ParticipantStatus string

const (
	ParticipantEnrolled   ParticipantStatus = "enrolled"
	ParticipantActive     ParticipantStatus = "active"
	ParticipantEliminated ParticipantStatus = "eliminated"
	ParticipantWinner     ParticipantStatus = "winner"
)

// EliminationReason tags why lives were lost or a participant was removed.
type EliminationReason string

const (
	ReasonNone    EliminationReason = ""
	ReasonTally   EliminationReason = "tally"
	ReasonTimeout EliminationReason = "timeout"
	ReasonIdle    EliminationReason = "idle"
)

// Outcome of a resolved round.
type Outcome string

const (
	OutcomePending     Outcome = ""
	OutcomeElimination Outcome = "elimination"
	OutcomeTie         Outcome = "tie"
	OutcomeReplay      Outcome = "replay"
	OutcomeNoop        Outcome = "noop"
)

// ThreeWayPolicy decides rounds where all three gestures were kept.
type ThreeWayPolicy string

const (
	// ThreeWayReplay replays the round without life loss.
	ThreeWayReplay ThreeWayPolicy = "replay"
	// ThreeWayMinority makes the least-chosen gestures lose, replaying only
	// when all three counts are equal.
	ThreeWayMinority ThreeWayPolicy = "minority"
)

type SessionConfig struct {
	InitialLives      int            `json:"initialLives"`
	WaitingSeconds    int            `json:"waitingSeconds"`
	SelectSeconds     int            `json:"selectSeconds"`
	ExcludeSeconds    int            `json:"excludeSeconds"`
	RevealSeconds     int            `json:"revealSeconds"`
	FinalsThreshold   int            `json:"finalsThreshold"`
	RosterLockSeconds int            `json:"rosterLockSeconds"`
	ThreeWay          ThreeWayPolicy `json:"threeWay,omitempty"`
	ScheduledStartAt  *time.Time     `json:"scheduledStartAt,omitempty"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InitialLives:      3,
		WaitingSeconds:    0,
		SelectSeconds:     10,
		ExcludeSeconds:    10,
		RevealSeconds:     5,
		FinalsThreshold:   4,
		RosterLockSeconds: 60,
		ThreeWay:          ThreeWayReplay,
	}
}

// WithDefaults fills the fields that must be positive from def. Waiting time
// is taken as given since a zero buffer is meaningful.
func (c SessionConfig) WithDefaults(def SessionConfig) SessionConfig {
	if c.InitialLives <= 0 {
		c.InitialLives = def.InitialLives
	}
	if c.WaitingSeconds < 0 {
		c.WaitingSeconds = 0
	}
	if c.SelectSeconds <= 0 {
		c.SelectSeconds = def.SelectSeconds
	}
	if c.ExcludeSeconds <= 0 {
		c.ExcludeSeconds = def.ExcludeSeconds
	}
	if c.RevealSeconds <= 0 {
		c.RevealSeconds = def.RevealSeconds
	}
	if c.FinalsThreshold <= 0 {
		c.FinalsThreshold = def.FinalsThreshold
	}
	if c.RosterLockSeconds <= 0 {
		c.RosterLockSeconds = def.RosterLockSeconds
	}
	if c.ThreeWay == "" {
		c.ThreeWay = def.ThreeWay
	}
	if c.ThreeWay != ThreeWayMinority {
		c.ThreeWay = ThreeWayReplay
	}
	return c
}

// PhaseSeconds is the countdown a round starts with on entering p.
func (c SessionConfig) PhaseSeconds(p Phase) int {
	switch p {
	case PhaseWaiting:
		return c.WaitingSeconds
	case PhaseSelectTwo:
		return c.SelectSeconds
	case PhaseExcludeOne:
		return c.ExcludeSeconds
	case PhaseRevealing:
		return c.RevealSeconds
	}
	return 0
}

// RosterLocked reports whether now falls in the window right before the
// scheduled start during which players may no longer back out.
func (c SessionConfig) RosterLocked(now time.Time) bool {
	if c.ScheduledStartAt == nil || c.RosterLockSeconds <= 0 {
		return false
	}
	lockAt := c.ScheduledStartAt.Add(-time.Duration(c.RosterLockSeconds) * time.Second)
	return !now.Before(lockAt)
}

type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       SessionStatus `json:"status"`
	CurrentRound int           `json:"currentRound"`
	WinnerID     string        `json:"winnerId,omitempty"`
	Config       SessionConfig `json:"config"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
}

type Participant struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"sessionId"`
	Identity          string            `json:"-"`
	Nickname          string            `json:"nickname"`
	InitialLives      int               `json:"initialLives"`
	CurrentLives      int               `json:"currentLives"`
	Status            ParticipantStatus `json:"status"`
	EliminationReason EliminationReason `json:"eliminationReason,omitempty"`
	EnrolledAt        time.Time         `json:"enrolledAt"`
	LastActiveAt      time.Time         `json:"lastActiveAt"`
	EliminatedAt      *time.Time        `json:"eliminatedAt,omitempty"`
}

// Living participants are still in the game.
func (p Participant) Living() bool {
	return p.Status == ParticipantActive && p.CurrentLives > 0
}

type Round struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	Number         int        `json:"number"`
	Phase          Phase      `json:"phase"`
	TimeLeft       int        `json:"timeLeft"`
	Finals         bool       `json:"finals"`
	Tally          Tally      `json:"tally"`
	LosingGestures []Gesture  `json:"losingGestures,omitempty"`
	Outcome        Outcome    `json:"outcome,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

type Choice struct {
	ID            string    `json:"id"`
	RoundID       string    `json:"roundId"`
	ParticipantID string    `json:"participantId"`
	Selected      []Gesture `json:"selected"`
	Final         Gesture   `json:"final,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

func (c Choice) HasFinal() bool { return c.Final != "" }

// Selects reports whether g is among the selected gestures.
func (c Choice) Selects(g Gesture) bool {
	for _, s := range c.Selected {
		if s == g {
			return true
		}
	}
	return false
}

type Tally struct {
	Rock     int `json:"rock"`
	Paper    int `json:"paper"`
	Scissors int `json:"scissors"`
}

func (t *Tally) Add(g Gesture) {
	switch g {
	case Rock:
		t.Rock++
	case Paper:
		t.Paper++
	case Scissors:
		t.Scissors++
	}
}

func (t Tally) Count(g Gesture) int {
	switch g {
	case Rock:
		return t.Rock
	case Paper:
		return t.Paper
	case Scissors:
		return t.Scissors
	}
	return 0
}

// Present returns the gestures with a non-zero count, in tally order.
func (t Tally) Present() []Gesture {
	var out []Gesture
	for _, g := range Gestures {
		if t.Count(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func (t Tally) Total() int { return t.Rock + t.Paper + t.Scissors }

// Delta is the life change applied to one participant by a resolution.
type Delta struct {
	ParticipantID  string            `json:"participantId"`
	LivesLost      int               `json:"livesLost"`
	LivesRemaining int               `json:"livesRemaining"`
	Reason         EliminationReason `json:"reason"`
}
