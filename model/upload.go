package model

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
)

// UploadStatus tags the lifecycle of the selected file.
type UploadStatus string

// UploadStatus constants
const (
	UploadNone      UploadStatus = ""
	UploadWaiting   UploadStatus = "waiting"
	UploadUploading UploadStatus = "uploading"
	UploadUploaded  UploadStatus = "uploaded"
	UploadError     UploadStatus = "error"
	UploadCanceled  UploadStatus = "canceled"
)

// CancelToken is a single-use cancellation handle. Once canceled it is spent
// and a new one must be issued for the next attempt.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken returns a live token.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context is done once the token is canceled.
func (t *CancelToken) Context() context.Context { return t.ctx }

// Cancel spends the token. Calling it more than once is harmless.
func (t *CancelToken) Cancel() { t.cancel() }

// Spent reports whether Cancel has been called.
func (t *CancelToken) Spent() bool { return t.ctx.Err() != nil }

// UploadCandidate is the one file selected for a session. Its content never
// changes after creation; only the status tag and the cancel token do.
type UploadCandidate struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte

	mu     sync.Mutex
	status UploadStatus
	token  *CancelToken
}

// NewUploadCandidate wraps accepted file content with a fresh cancel token.
func NewUploadCandidate(filename, contentType string, content []byte) *UploadCandidate {
	return &UploadCandidate{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		Content:     content,
		token:       NewCancelToken(),
	}
}

func (c *UploadCandidate) Status() UploadStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *UploadCandidate) SetStatus(status UploadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// Token returns the current cancel token without renewing it.
func (c *UploadCandidate) Token() *CancelToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Arm returns a live token for a new attempt, replacing a spent one.
func (c *UploadCandidate) Arm() *CancelToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || c.token.Spent() {
		c.token = NewCancelToken()
	}
	return c.token
}

// Cancel spends the current token. It reports false if it was already spent.
func (c *UploadCandidate) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || c.token.Spent() {
		return false
	}
	c.token.Cancel()
	return true
}

// CandidateSummary is the JSON view of a candidate, without its content.
type CandidateSummary struct {
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
	SizeLabel   string       `json:"size_label"`
	Status      UploadStatus `json:"status"`
}

func (c *UploadCandidate) Summary() CandidateSummary {
	return CandidateSummary{
		Filename:    c.Filename,
		ContentType: c.ContentType,
		Size:        c.Size,
		SizeLabel:   humanize.Bytes(uint64(c.Size)),
		Status:      c.Status(),
	}
}
