package handler

import (
	"net/http"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	store  *service.SessionStore
	config *config.SessionConfig
}

func NewSessionHandler(store *service.SessionStore, cfg *config.SessionConfig) *SessionHandler {
	return &SessionHandler{store: store, config: cfg}
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Create starts a new isolated session and returns its bearer token.
func (h *SessionHandler) Create(c *gin.Context) {
	sess := h.store.Create()

	token, expiresAt, err := middleware.GenerateSessionToken(sess.ID, h.config)
	if err != nil {
		ctx := logger.WithSession(c.Request.Context(), sess.ID)
		logger.Error(ctx, "failed to sign session token", "error", err)
		if err := h.store.Delete(sess.ID); err != nil {
			logger.Warn(ctx, "failed to discard unsigned session", "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	logger.Info(logger.WithSession(c.Request.Context(), sess.ID), "session created", "active_sessions", h.store.Count())

	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

// Get returns the current session snapshot
func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.GetSession(c).Snapshot())
}

// Delete tears the session down, aborting any attempt in flight.
func (h *SessionHandler) Delete(c *gin.Context) {
	sess := middleware.GetSession(c)
	if err := h.store.Delete(sess.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	logger.Info(c.Request.Context(), "session closed")
	c.JSON(http.StatusOK, gin.H{"message": "Session closed"})
}

// Health reports liveness and whether both collaborators are configured.
func Health(cfg *config.Config, store *service.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		missing := cfg.MissingEndpoints()
		status := "ok"
		if len(missing) > 0 {
			status = "degraded"
		} else {
			missing = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            status,
			"timestamp":         time.Now().Format(time.RFC3339),
			"active_sessions":   store.Count(),
			"missing_endpoints": missing,
		})
	}
}
