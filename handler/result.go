package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 15 * time.Second

type ResultHandler struct{}

func NewResultHandler() *ResultHandler {
	return &ResultHandler{}
}

// Notifications drains pending notifications in arrival order.
func (h *ResultHandler) Notifications(c *gin.Context) {
	sess := middleware.GetSession(c)
	c.JSON(http.StatusOK, gin.H{"notifications": sess.Notifications.Drain()})
}

// Medications returns the standardized records of a completed run.
func (h *ResultHandler) Medications(c *gin.Context) {
	result, ok := completedResult(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportCSV streams the standardized records as medications.csv.
func (h *ResultHandler) ExportCSV(c *gin.Context) {
	result, ok := completedResult(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.ExportFilename))
	c.Status(http.StatusOK)
	if err := service.WriteMedicationsCSV(c.Writer, result.Medications); err != nil {
		logger.Error(c.Request.Context(), "failed to write csv export", "error", err)
	}
}

// Events streams process snapshots as server-sent "state" events until the
// client disconnects or the session is torn down.
func (h *ResultHandler) Events(c *gin.Context) {
	sess := middleware.GetSession(c)
	snapshots, unsubscribe := sess.State.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				c.SSEvent("closed", gin.H{"reason": "session closed"})
				return false
			}
			c.SSEvent("state", snap)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func completedResult(c *gin.Context) (*model.StandardizedResult, bool) {
	sess := middleware.GetSession(c)

	snap := sess.State.Snapshot()
	if snap.Phase != model.PhaseCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "No completed result", "phase": snap.Phase})
		return nil, false
	}

	result, err := service.ParseStandardized(c.Request.Context(), snap.StandardizedText)
	if err != nil {
		logger.Error(c.Request.Context(), "stored result is unreadable", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read result"})
		return nil, false
	}
	return result, true
}
