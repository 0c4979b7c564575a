package ocr

import (
	"net/http"

	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/gin-gonic/gin"
)

// MaxRequestBytes bounds a request body: a 10 MiB image grows by a third
// once base64 encoded.
const MaxRequestBytes = 16 << 20

// ExtractRequest is the body accepted by the extraction endpoint.
type ExtractRequest struct {
	Image string `json:"image"`
}

// Handler serves the extraction endpoint on top of an Engine.
type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Extract decodes, preprocesses and recognizes one image. Every failure is
// reported as a 500 with status "error".
func (h *Handler) Extract(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes)

	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "invalid request body: "+err.Error())
		return
	}

	data, err := DecodeImageDataURI(req.Image)
	if err != nil {
		h.fail(c, err.Error())
		return
	}

	img, err := Preprocess(data)
	if err != nil {
		h.fail(c, err.Error())
		return
	}

	text, err := h.engine.Recognize(ctx, img)
	if err != nil {
		logger.Error(ctx, "recognition failed", "engine", h.engine.Name(), "error", err)
		h.fail(c, err.Error())
		return
	}

	logger.Info(ctx, "image recognized",
		"engine", h.engine.Name(),
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
		"chars", len(text),
	)
	c.JSON(http.StatusOK, gin.H{"text": text, "status": "success"})
}

func (h *Handler) fail(c *gin.Context, msg string) {
	logger.Warn(c.Request.Context(), "extract request failed", "error", msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "status": "error"})
}
