package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/dropone/internal/game"
)

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(err error) int {
	switch game.KindOf(err) {
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindInvalidChoice, game.KindInvalidArgument:
		return http.StatusBadRequest
	case game.KindNotLiving:
		return http.StatusForbidden
	case game.KindWrongPhase, game.KindInvalidTransition, game.KindSessionLocked,
		game.KindAlreadyResolved, game.KindDuplicateIdentity, game.KindConcurrencyConflict:
		return http.StatusConflict
	case game.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError answers with {"error": kind, "message": ..., "retry": ...}. A
// client seeing WrongPhase or a retryable conflict should re-fetch the
// session before trying again.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := string(game.KindOf(err))
	msg := err.Error()
	if kind == "" {
		kind = "Internal"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg, "retry": game.Retryable(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": game.KindInvalidArgument, "message": msg, "retry": false})
}
