package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/identity"
	"github.com/kiliankoe/dropone/internal/storage/memory"
)

type testAPI struct {
	t *testing.T
	r *gin.Engine
	v *identity.Verifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := identity.NewVerifier("secret")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	e := game.NewEngine(memory.New(), game.WithLogger(zerolog.Nop()))
	r := NewRouter(RouterConfig{
		Engine:    e,
		Verifier:  v,
		AdminUser: "admin",
		AdminPass: "pw",
		Version:   "test",
		Logger:    zerolog.Nop(),
	})
	return &testAPI{t: t, r: r, v: v}
}

func (a *testAPI) token(subject string) string {
	a.t.Helper()
	tok, err := a.v.Issue(subject, "Nick "+subject, time.Hour)
	if err != nil {
		a.t.Fatalf("issue: %v", err)
	}
	return tok
}

func (a *testAPI) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch {
	case auth == "admin":
		req.SetBasicAuth("admin", "pw")
	case auth != "":
		req.Header.Set("Authorization", "Bearer "+a.token(auth))
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)
	if body := decode[map[string]any](t, w); body["ok"] != true || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthReportsStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := game.NewEngine(memory.New(), game.WithLogger(zerolog.Nop()))
	r := NewRouter(RouterConfig{
		Engine: e,
		Logger: zerolog.Nop(),
		Ping:   func(context.Context) error { return errors.New("db down") },
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	expectStatus(t, w, http.StatusServiceUnavailable)

	// no verifier and no admin: player and admin routes are not mounted
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/sessions", nil))
	expectStatus(t, w, http.StatusNotFound)
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/admin/sessions", "", gin.H{"name": "x"})
	expectStatus(t, w, http.StatusUnauthorized)
	w = a.do(http.MethodPost, "/api/admin/sessions", "admin", gin.H{})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestPlayerRequiresToken(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/admin/sessions", "admin", gin.H{"name": "game"})
	expectStatus(t, w, http.StatusCreated)
	sess := decode[game.Session](t, w)

	w = a.do(http.MethodPost, "/api/sessions/"+sess.ID+"/enroll", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestFullRound(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/admin/sessions", "admin", gin.H{"name": "game", "config": gin.H{"initialLives": 1}})
	expectStatus(t, w, http.StatusCreated)
	sess := decode[game.Session](t, w)
	base := "/api/sessions/" + sess.ID

	w = a.do(http.MethodPost, base+"/enroll", "alice", gin.H{"nickname": "Alice"})
	expectStatus(t, w, http.StatusCreated)
	if p := decode[game.Participant](t, w); p.Nickname != "Alice" || p.CurrentLives != 1 {
		t.Fatalf("unexpected participant %+v", p)
	}
	w = a.do(http.MethodPost, base+"/enroll", "bob", nil)
	expectStatus(t, w, http.StatusCreated)
	if p := decode[game.Participant](t, w); p.Nickname != "Nick bob" {
		t.Fatalf("nickname should come from the token, got %q", p.Nickname)
	}

	w = a.do(http.MethodPost, base+"/enroll", "alice", nil)
	expectStatus(t, w, http.StatusConflict)
	if e := decode[errResp](t, w); e.Error != "DuplicateIdentity" {
		t.Fatalf("unexpected error %+v", e)
	}

	w = a.do(http.MethodPost, base+"/enroll", "carol", nil)
	expectStatus(t, w, http.StatusCreated)
	for _, who := range []string{"alice", "bob", "carol"} {
		expectStatus(t, a.do(http.MethodPost, base+"/activate", who, nil), http.StatusOK)
	}
	w = a.do(http.MethodPost, base+"/heartbeat", "alice", nil)
	expectStatus(t, w, http.StatusNoContent)

	w = a.do(http.MethodPost, base+"/selection", "alice", gin.H{"gestures": []string{"rock", "paper"}})
	if e := decode[errResp](t, w); w.Code != http.StatusConflict || e.Error != "WrongPhase" {
		t.Fatalf("selection before start: %d %+v", w.Code, e)
	}

	w = a.do(http.MethodPost, "/api/admin/sessions/"+sess.ID+"/start", "admin", nil)
	expectStatus(t, w, http.StatusOK)
	v := decode[game.View](t, w)
	if v.Round == nil || v.Round.Phase != game.PhaseSelectTwo {
		t.Fatalf("expected selectTwo after start, got %+v", v.Round)
	}

	w = a.do(http.MethodPost, base+"/selection", "alice", gin.H{"gestures": []string{"rock", "lizard"}})
	expectStatus(t, w, http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodPost, base+"/selection", "alice", gin.H{"roundId": v.Round.ID, "gestures": []string{"rock", "paper"}}), http.StatusOK)
	expectStatus(t, a.do(http.MethodPost, base+"/selection", "bob", gin.H{"gestures": []string{"paper", "scissors"}}), http.StatusOK)
	expectStatus(t, a.do(http.MethodPost, base+"/selection", "carol", gin.H{"gestures": []string{"rock", "scissors"}}), http.StatusOK)

	w = a.do(http.MethodPost, base+"/drop", "alice", gin.H{"gesture": "scissors"})
	expectStatus(t, w, http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodPost, base+"/drop", "alice", gin.H{"gesture": "paper"}), http.StatusOK)
	expectStatus(t, a.do(http.MethodPost, base+"/final", "bob", gin.H{"gesture": "paper"}), http.StatusOK)
	expectStatus(t, a.do(http.MethodPost, base+"/final", "carol", gin.H{"gesture": "rock"}), http.StatusOK)

	w = a.do(http.MethodGet, base, "", nil)
	expectStatus(t, w, http.StatusOK)
	v = decode[game.View](t, w)
	if v.Round.Phase != game.PhaseRevealing || v.Round.Outcome != game.OutcomeElimination {
		t.Fatalf("expected resolved round, got %+v", v.Round)
	}
	if len(v.Round.LosingGestures) != 1 || v.Round.LosingGestures[0] != game.Paper {
		t.Fatalf("the lone paper should lose, got %v", v.Round.LosingGestures)
	}

	w = a.do(http.MethodPost, "/api/admin/sessions/"+sess.ID+"/rounds/"+v.Round.ID+"/resolve", "admin", nil)
	expectStatus(t, w, http.StatusConflict)
	if e := decode[errResp](t, w); e.Error != "AlreadyResolved" {
		t.Fatalf("unexpected error %+v", e)
	}

	w = a.do(http.MethodPost, "/api/admin/sessions/"+sess.ID+"/tick", "admin", gin.H{"elapsed": 5})
	expectStatus(t, w, http.StatusOK)
	v = decode[game.View](t, w)
	if v.Session.CurrentRound != 2 || v.Living != 2 {
		t.Fatalf("expected round 2 with two left, got %+v", v.Session)
	}

	w = a.do(http.MethodGet, base+"/me", "bob", nil)
	expectStatus(t, w, http.StatusOK)
	if p := decode[game.Participant](t, w); p.Status != game.ParticipantEliminated {
		t.Fatalf("bob kept paper and should be out, got %s", p.Status)
	}
	w = a.do(http.MethodPost, base+"/selection", "bob", gin.H{"gestures": []string{"rock"}})
	if e := decode[errResp](t, w); w.Code != http.StatusForbidden || e.Error != "NotLiving" {
		t.Fatalf("eliminated player submitting: %d %+v", w.Code, e)
	}
}

func TestEnrollIgnoresRequestedLives(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/admin/sessions", "admin", gin.H{"name": "game", "config": gin.H{"initialLives": 3}})
	expectStatus(t, w, http.StatusCreated)
	sess := decode[game.Session](t, w)

	w = a.do(http.MethodPost, "/api/sessions/"+sess.ID+"/enroll", "mallory", gin.H{"nickname": "Mallory", "lives": 1000000})
	expectStatus(t, w, http.StatusCreated)
	p := decode[game.Participant](t, w)
	if p.InitialLives != 3 || p.CurrentLives != 3 {
		t.Fatalf("expected the session's 3 lives, got %d/%d", p.CurrentLives, p.InitialLives)
	}
}

func TestListAndMissingSession(t *testing.T) {
	a := newTestAPI(t)
	expectStatus(t, a.do(http.MethodPost, "/api/admin/sessions", "admin", gin.H{"name": "one"}), http.StatusCreated)

	w := a.do(http.MethodGet, "/api/sessions?status=waiting", "", nil)
	expectStatus(t, w, http.StatusOK)
	if body := decode[struct{ Sessions []game.Session }](t, w); len(body.Sessions) != 1 {
		t.Fatalf("expected one session, got %+v", body)
	}
	w = a.do(http.MethodGet, "/api/sessions?status=finals", "", nil)
	if body := decode[struct{ Sessions []game.Session }](t, w); len(body.Sessions) != 0 {
		t.Fatalf("expected none, got %+v", body)
	}

	w = a.do(http.MethodGet, "/api/sessions/nope", "", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestReapValidation(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/admin/reap", "admin", gin.H{"thresholdSeconds": 0})
	expectStatus(t, w, http.StatusBadRequest)
	w = a.do(http.MethodPost, "/api/admin/reap", "admin", gin.H{"thresholdSeconds": 60})
	expectStatus(t, w, http.StatusOK)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{game.ErrNotFound, http.StatusNotFound},
		{game.ErrWrongPhase, http.StatusConflict},
		{game.ErrInvalidChoice, http.StatusBadRequest},
		{game.ErrNotLiving, http.StatusForbidden},
		{game.ErrConcurrencyConflict, http.StatusConflict},
		{game.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: got %d, want %d", tc.err, got, tc.want)
		}
	}
}
