package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
)

// maxFormOverhead covers multipart framing around the files themselves.
const maxFormOverhead = 1 << 20

type UploadHandler struct {
	pipeline *service.Pipeline
	config   *config.PipelineConfig
}

func NewUploadHandler(pipeline *service.Pipeline, cfg *config.PipelineConfig) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, config: cfg}
}

// SelectFile runs the single-file intake over the "file" (or "files") form
// fields. Only the first acceptable file becomes the session's candidate.
func (h *UploadHandler) SelectFile(c *gin.Context) {
	sess := middleware.GetSession(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.config.MaxUploadSize+maxFormOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer form.RemoveAll()

	headers := append(form.File["file"], form.File["files"]...)
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	files := make([]service.FileInput, len(headers))
	for i, fh := range headers {
		files[i] = service.FromMultipart(fh)
	}

	accepted, err := sess.Intake(h.config.MaxUploadSize).Submit(files)
	switch {
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case len(accepted) == 0:
		logger.Warn(c.Request.Context(), "file rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         errorText(err),
			"notifications": sess.Notifications.Drain(),
		})
		return
	}

	candidate := accepted[0]
	logger.Info(c.Request.Context(), "file selected",
		"filename", candidate.Filename,
		"content_type", candidate.ContentType,
		"size", candidate.Size,
	)

	resp := gin.H{"candidate": candidate.Summary()}
	if err != nil {
		resp["warnings"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ClearFile drops the selection and returns the session to idle.
func (h *UploadHandler) ClearFile(c *gin.Context) {
	sess := middleware.GetSession(c)
	if sess.State.Phase().Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrBusy.Error()})
		return
	}

	sess.Intake(h.config.MaxUploadSize).Clear()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Run starts the pipeline for the selected file. The attempt continues after
// the response; progress is observed through the session or its events.
func (h *UploadHandler) Run(c *gin.Context) {
	h.start(c, middleware.GetSession(c))
}

// Retry re-runs the pipeline after a failed or canceled attempt.
func (h *UploadHandler) Retry(c *gin.Context) {
	sess := middleware.GetSession(c)

	candidate := sess.Candidate()
	if candidate == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrNoCandidate.Error()})
		return
	}
	switch candidate.Status() {
	case model.UploadError, model.UploadCanceled:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "Nothing to retry"})
		return
	}

	h.start(c, sess)
}

func (h *UploadHandler) start(c *gin.Context, sess *service.Session) {
	// The attempt outlives the request but keeps its log attributes.
	ctx := context.WithoutCancel(c.Request.Context())

	err := sess.Start(ctx, h.pipeline)
	if err != nil {
		var cfgErr *service.ConfigurationError
		switch {
		case errors.Is(err, service.ErrNoCandidate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &cfgErr):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"phase":     sess.State.Phase(),
		"candidate": sess.Candidate().Summary(),
	})
}

// Cancel aborts the in-flight attempt.
func (h *UploadHandler) Cancel(c *gin.Context) {
	sess := middleware.GetSession(c)
	if !sess.Cancel() {
		c.JSON(http.StatusConflict, gin.H{"error": "No upload in progress"})
		return
	}

	logger.Info(c.Request.Context(), "cancel requested")
	c.JSON(http.StatusAccepted, gin.H{"message": "Cancel requested"})
}

// Reset returns the process state to idle, keeping the selected file.
func (h *UploadHandler) Reset(c *gin.Context) {
	sess := middleware.GetSession(c)
	if sess.State.Phase().Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrBusy.Error()})
		return
	}

	sess.State.Reset()
	if candidate := sess.Candidate(); candidate != nil {
		candidate.SetStatus(model.UploadNone)
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func errorText(err error) string {
	if err == nil {
		return "No file accepted"
	}
	return err.Error()
}
