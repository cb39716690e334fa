package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/dropone/internal/game"
)

type Handlers struct {
	engine *game.Engine
}

func NewHandlers(engine *game.Engine) *Handlers {
	return &Handlers{engine: engine}
}

func (h *Handlers) ListSessions(c *gin.Context) {
	var statuses []game.SessionStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, game.SessionStatus(strings.TrimSpace(s)))
		}
	}
	ss, err := h.engine.Sessions(c.Request.Context(), statuses...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ss})
}

func (h *Handlers) GetSession(c *gin.Context) {
	v, err := h.engine.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// participant resolves the caller of a player route to the participant
// enrolled under their identity.
func (h *Handlers) participant(c *gin.Context) (game.Participant, bool) {
	p, err := h.engine.ParticipantByIdentity(c.Request.Context(), c.Param("id"), identityOf(c))
	if err != nil {
		writeError(c, err)
		return game.Participant{}, false
	}
	return p, true
}

// enrollReq carries no lives; players always start with the session's
// InitialLives.
type enrollReq struct {
	Nickname string `json:"nickname"`
}

func (h *Handlers) Enroll(c *gin.Context) {
	var req enrollReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid enroll request")
			return
		}
	}
	nickname := req.Nickname
	if strings.TrimSpace(nickname) == "" {
		nickname = c.GetString(ctxName)
	}
	p, err := h.engine.Enroll(c.Request.Context(), c.Param("id"), identityOf(c), nickname, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handlers) Me(c *gin.Context) {
	p, ok := h.participant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) Activate(c *gin.Context) {
	p, ok := h.participant(c)
	if !ok {
		return
	}
	if err := h.engine.Activate(c.Request.Context(), p.SessionID, p.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) Deactivate(c *gin.Context) {
	p, ok := h.participant(c)
	if !ok {
		return
	}
	locked, err := h.engine.Deactivate(c.Request.Context(), p.SessionID, p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": locked})
}

func (h *Handlers) Heartbeat(c *gin.Context) {
	p, ok := h.participant(c)
	if !ok {
		return
	}
	if err := h.engine.RecordActivity(c.Request.Context(), p.SessionID, p.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type selectionReq struct {
	RoundID  string   `json:"roundId"`
	Gestures []string `json:"gestures"`
}

func (h *Handlers) SubmitSelection(c *gin.Context) {
	var req selectionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid selection")
		return
	}
	gs := make([]game.Gesture, 0, len(req.Gestures))
	for _, raw := range req.Gestures {
		g, err := game.ParseGesture(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		gs = append(gs, g)
	}
	p, ok := h.participant(c)
	if !ok {
		return
	}
	if err := h.engine.SubmitSelection(c.Request.Context(), p.SessionID, req.RoundID, p.ID, gs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type gestureReq struct {
	RoundID string `json:"roundId"`
	Gesture string `json:"gesture" binding:"required"`
}

func (h *Handlers) bindGesture(c *gin.Context) (gestureReq, game.Gesture, bool) {
	var req gestureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "gesture is required")
		return req, "", false
	}
	g, err := game.ParseGesture(req.Gesture)
	if err != nil {
		writeError(c, err)
		return req, "", false
	}
	return req, g, true
}

func (h *Handlers) SubmitDrop(c *gin.Context) {
	req, g, ok := h.bindGesture(c)
	if !ok {
		return
	}
	p, ok := h.participant(c)
	if !ok {
		return
	}
	if err := h.engine.SubmitDrop(c.Request.Context(), p.SessionID, req.RoundID, p.ID, g); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) SubmitFinal(c *gin.Context) {
	req, g, ok := h.bindGesture(c)
	if !ok {
		return
	}
	p, ok := h.participant(c)
	if !ok {
		return
	}
	if err := h.engine.SubmitFinal(c.Request.Context(), p.SessionID, req.RoundID, p.ID, g); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Admin

type createReq struct {
	Name   string             `json:"name" binding:"required"`
	Config game.SessionConfig `json:"config"`
}

func (h *Handlers) CreateSession(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	sess, err := h.engine.CreateSession(c.Request.Context(), req.Name, req.Config)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handlers) StartSession(c *gin.Context) {
	h.adminAction(c, h.engine.Start)
}

func (h *Handlers) CloseSession(c *gin.Context) {
	h.adminAction(c, h.engine.CloseSession)
}

// ResolveRound ends excludeOne early; see game.Engine.Resolve for the penalty
// applied to participants who have not dropped yet.
func (h *Handlers) ResolveRound(c *gin.Context) {
	if err := h.engine.Resolve(c.Request.Context(), c.Param("id"), c.Param("round")); err != nil {
		writeError(c, err)
		return
	}
	h.GetSession(c)
}

type tickReq struct {
	Elapsed int `json:"elapsed"`
}

func (h *Handlers) Tick(c *gin.Context) {
	var req tickReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "elapsed seconds required")
		return
	}
	if err := h.engine.Tick(c.Request.Context(), c.Param("id"), req.Elapsed); err != nil {
		writeError(c, err)
		return
	}
	h.GetSession(c)
}

type livesReq struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *Handlers) AdjustLives(c *gin.Context) {
	var req livesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "delta required")
		return
	}
	p, err := h.engine.ApplyLifeDelta(c.Request.Context(), c.Param("id"), c.Param("pid"), req.Delta, game.EliminationReason(req.Reason))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type reapReq struct {
	ThresholdSeconds int `json:"thresholdSeconds"`
}

func (h *Handlers) Reap(c *gin.Context) {
	var req reapReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "thresholdSeconds required")
		return
	}
	n, err := h.engine.CheckAndTimeout(c.Request.Context(), time.Duration(req.ThresholdSeconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *Handlers) adminAction(c *gin.Context, fn func(context.Context, string) error) {
	if err := fn(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	h.GetSession(c)
}
