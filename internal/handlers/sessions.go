package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/config"
	"github.com/mossy-p/interview-signaling/internal/models"
	"github.com/mossy-p/interview-signaling/internal/redis"
	"github.com/mossy-p/interview-signaling/internal/session"
)

// CreateSession registers a new interview session (requires authentication).
func CreateSession(registry *session.Registry, store *redis.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		sessionID := uuid.New().String()
		if _, err := registry.CreateSession(sessionID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		meta := models.SessionMetadata{
			ID:        sessionID,
			CreatorID: userID.(string),
			CreatedAt: time.Now(),
		}
		if err := store.SaveSession(meta); err != nil {
			// Metadata persistence is best-effort; signaling works without it.
			log.Warn().Err(err).Str("session", sessionID).Msg("failed to persist session metadata")
		}

		log.Info().Str("session", sessionID).Str("creator", userID.(string)).Msg("session created via API")
		c.JSON(http.StatusCreated, models.CreateSessionResponse{SessionID: sessionID})
	}
}

// GetSession returns a live session snapshot (public).
func GetSession(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := registry.GetSession(c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	}
}

// DeleteSession force-ends a session (requires authentication, creator only).
func DeleteSession(registry *session.Registry, store *redis.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}
		sessionID := c.Param("sessionId")

		meta, err := store.GetSession(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if meta.CreatorID != userID.(string) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the session creator can end the session"})
			return
		}

		if sess, err := registry.GetSession(sessionID); err == nil {
			sess.ForceEnd("ended")
		}
		if err := store.DeleteSession(sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("failed to delete session metadata")
		}

		log.Info().Str("session", sessionID).Str("user", userID.(string)).Msg("session ended via API")
		c.JSON(http.StatusOK, gin.H{"message": "session ended"})
	}
}

// ICEServers hands the configured ICE server list to clients (public).
func ICEServers(servers []config.ICEServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}
