package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/events"
	"github.com/urd-project/urd/internal/protocol"
	"github.com/urd-project/urd/internal/session"
)

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.Registry.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleKickSession removes the session of :userid and disconnects its
// connection with BanNotification{ServerClosed}.
func (s *Server) handleKickSession(c *gin.Context) {
	userID := c.Param("userid")

	kicked, err := s.Registry.Kick(userID, protocol.BanServerClosed)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "userid": userID})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.Metrics.SetSessions(s.Registry.Count())
	if s.Bus != nil {
		s.Bus.Emit(context.WithoutCancel(c.Request.Context()), events.Event{
			Type:   events.EventSessionKicked,
			Source: "api",
			Payload: events.SessionClosedPayload{
				UserID:    kicked.UserID,
				AccountID: kicked.AccountID,
				SessionID: kicked.ID,
				Remote:    kicked.Remote,
				Reason:    "kicked",
			},
		})
	}

	log.Info().
		Str("userid", userID).
		Uint64("session", kicked.ID).
		Str("client_ip", c.ClientIP()).
		Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{
		"status":  "kicked",
		"session": kicked,
	})
}
