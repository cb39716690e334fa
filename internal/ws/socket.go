package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/dropone/internal/game"
	"github.com/kiliankoe/dropone/internal/identity"
)

// ConnCtx is attached to every socket. Watchers only carry a session; players
// also carry the participant they authenticated as.
type ConnCtx struct {
	SessionID     string
	ParticipantID string
	Role          string // "watcher" | "player"
}

type Server struct {
	engine   *game.Engine
	verifier *identity.Verifier

	mu      sync.RWMutex
	io      *socketio.Server
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(engine *game.Engine, verifier *identity.Verifier) *Server {
	return &Server{engine: engine, verifier: verifier, members: make(map[string]map[string]socketio.Conn)}
}

type watchReq struct {
	SessionID string `json:"sessionId"`
}

type joinReq struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type selectReq struct {
	RoundID  string   `json:"roundId"`
	Gestures []string `json:"gestures"`
}

type gestureReq struct {
	RoundID string `json:"roundId"`
	Gesture string `json:"gesture"`
}

// Mount attaches the Socket.IO server with its handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.mu.Lock()
	srv.io = io
	srv.mu.Unlock()

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// session:watch
	io.OnEvent("/", "session:watch", func(s socketio.Conn, payload watchReq) map[string]any {
		v, err := srv.engine.Snapshot(context.Background(), payload.SessionID)
		if err != nil {
			return srv.err(s, err)
		}
		srv.attach(s, &ConnCtx{SessionID: payload.SessionID, Role: "watcher"})
		log.Info().Str("sid", s.ID()).Str("session", payload.SessionID).Msg("session:watch")
		return map[string]any{"state": v}
	})

	// session:join
	io.OnEvent("/", "session:join", func(s socketio.Conn, payload joinReq) map[string]any {
		cc, resp := srv.join(context.Background(), payload)
		if cc == nil {
			s.Emit("error", resp)
			return resp
		}
		srv.attach(s, cc)
		log.Info().Str("sid", s.ID()).Str("session", cc.SessionID).Str("participant", cc.ParticipantID).Msg("session:join")
		return resp
	})

	io.OnEvent("/", "player:heartbeat", func(s socketio.Conn) map[string]any {
		return srv.reply(s, srv.heartbeat(context.Background(), connCtx(s)))
	})

	io.OnEvent("/", "player:select", func(s socketio.Conn, payload selectReq) map[string]any {
		return srv.reply(s, srv.selectGestures(context.Background(), connCtx(s), payload))
	})

	io.OnEvent("/", "player:drop", func(s socketio.Conn, payload gestureReq) map[string]any {
		return srv.reply(s, srv.drop(context.Background(), connCtx(s), payload))
	})

	io.OnEvent("/", "player:keep", func(s socketio.Conn, payload gestureReq) map[string]any {
		return srv.reply(s, srv.keep(context.Background(), connCtx(s), payload))
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if cc := connCtx(s); cc.SessionID != "" {
			srv.removeMember(cc.SessionID, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// Publish pushes ev to every socket attached to the event's session. Before
// Mount it does nothing.
func (srv *Server) Publish(_ context.Context, ev game.Event) error {
	srv.mu.RLock()
	io := srv.io
	srv.mu.RUnlock()
	if io == nil {
		return nil
	}
	io.BroadcastToRoom("/", ev.SessionID, "game:event", ev)
	return nil
}

func connCtx(s socketio.Conn) *ConnCtx {
	if cc, ok := s.Context().(*ConnCtx); ok && cc != nil {
		return cc
	}
	return &ConnCtx{}
}

func (srv *Server) attach(s socketio.Conn, cc *ConnCtx) {
	if old := connCtx(s); old.SessionID != "" && old.SessionID != cc.SessionID {
		s.Leave(old.SessionID)
		srv.removeMember(old.SessionID, s)
	}
	s.SetContext(cc)
	s.Join(cc.SessionID)
	srv.addMember(cc.SessionID, s)
}

// join authenticates the token and binds the socket to the participant
// enrolled under its subject.
func (srv *Server) join(ctx context.Context, req joinReq) (*ConnCtx, map[string]any) {
	if srv.verifier == nil {
		return nil, errBody("Unauthorized", "player identity is not configured")
	}
	claims, err := srv.verifier.Verify(req.Token)
	if err != nil {
		return nil, errBody("Unauthorized", "invalid token")
	}
	p, err := srv.engine.ParticipantByIdentity(ctx, req.SessionID, claims.Subject)
	if err != nil {
		return nil, errorBody(err)
	}
	if err := srv.engine.RecordActivity(ctx, req.SessionID, p.ID); err != nil {
		return nil, errorBody(err)
	}
	return &ConnCtx{SessionID: req.SessionID, ParticipantID: p.ID, Role: "player"}, map[string]any{"participantId": p.ID}
}

func (srv *Server) heartbeat(ctx context.Context, cc *ConnCtx) error {
	if err := requirePlayer(cc); err != nil {
		return err
	}
	return srv.engine.RecordActivity(ctx, cc.SessionID, cc.ParticipantID)
}

func (srv *Server) selectGestures(ctx context.Context, cc *ConnCtx, req selectReq) error {
	if err := requirePlayer(cc); err != nil {
		return err
	}
	gs := make([]game.Gesture, 0, len(req.Gestures))
	for _, raw := range req.Gestures {
		g, err := game.ParseGesture(raw)
		if err != nil {
			return err
		}
		gs = append(gs, g)
	}
	return srv.engine.SubmitSelection(ctx, cc.SessionID, req.RoundID, cc.ParticipantID, gs)
}

func (srv *Server) drop(ctx context.Context, cc *ConnCtx, req gestureReq) error {
	if err := requirePlayer(cc); err != nil {
		return err
	}
	g, err := game.ParseGesture(req.Gesture)
	if err != nil {
		return err
	}
	return srv.engine.SubmitDrop(ctx, cc.SessionID, req.RoundID, cc.ParticipantID, g)
}

func (srv *Server) keep(ctx context.Context, cc *ConnCtx, req gestureReq) error {
	if err := requirePlayer(cc); err != nil {
		return err
	}
	g, err := game.ParseGesture(req.Gesture)
	if err != nil {
		return err
	}
	return srv.engine.SubmitFinal(ctx, cc.SessionID, req.RoundID, cc.ParticipantID, g)
}

var errNotJoined = &game.Error{Kind: game.KindInvalidArgument, Message: "join a session as player first"}

func requirePlayer(cc *ConnCtx) error {
	if cc.Role != "player" || cc.ParticipantID == "" {
		return errNotJoined
	}
	return nil
}

func (srv *Server) addMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[sessionID] == nil {
		srv.members[sessionID] = make(map[string]socketio.Conn)
	}
	srv.members[sessionID][c.ID()] = c
}

func (srv *Server) removeMember(sessionID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[sessionID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, sessionID)
		}
	}
}

// Members reports how many sockets are attached to a session.
func (srv *Server) Members(sessionID string) int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.members[sessionID])
}

func (srv *Server) reply(s socketio.Conn, err error) map[string]any {
	if err != nil {
		return srv.err(s, err)
	}
	return map[string]any{"ok": true}
}

func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	body := errorBody(err)
	s.Emit("error", body)
	return body
}

func errorBody(err error) map[string]any {
	kind := game.KindOf(err)
	if kind == "" {
		kind = "Internal"
	}
	body := errBody(string(kind), err.Error())
	if game.Retryable(err) {
		body["retry"] = true
	}
	return body
}

func errBody(code, message string) map[string]any {
	return map[string]any{"error": code, "message": message}
}
