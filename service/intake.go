package service

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/model"
	"github.com/dustin/go-humanize"
)

// User-facing intake messages.
const (
	msgInvalidType = "Invalid file type. Must be a PNG or JPEG file!"
	msgBusy        = "Must wait for processing to finish"
)

// FileInput is one file offered to the intake.
type FileInput struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromMultipart adapts a multipart form file.
func FromMultipart(fh *multipart.FileHeader) FileInput {
	return FileInput{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Intake validates user-selected files before they reach the pipeline.
type Intake struct {
	MaxSize  int64
	Notifier Notifier
	// Busy, when set, refuses submissions while it reports true.
	Busy func() bool
	// OnSingleFile switches the intake to single-file mode. It receives the
	// accepted candidate, or nil when the selection is cleared.
	OnSingleFile func(*model.UploadCandidate)
}

// Submit validates files and returns the accepted candidates. The returned
// error joins every rejection and may be non-nil alongside accepted files.
func (in *Intake) Submit(files []FileInput) ([]*model.UploadCandidate, error) {
	if in.Busy != nil && in.Busy() {
		in.notify(model.LevelWarning, msgBusy)
		return nil, ErrBusy
	}

	var errs []error
	sized := make([]FileInput, 0, len(files))
	for _, f := range files {
		if f.Size > in.maxSize() {
			errs = append(errs, in.tooLarge(f.Name))
			continue
		}
		sized = append(sized, f)
	}

	if in.OnSingleFile != nil {
		if len(sized) == 0 {
			return nil, errors.Join(errs...)
		}
		candidate, err := in.load(sized[0])
		if err != nil {
			return nil, errors.Join(append(errs, err)...)
		}
		if !isSupportedImage(candidate.ContentType) {
			in.notify(model.LevelError, msgInvalidType)
			errs = append(errs, &ValidationError{File: candidate.Filename, Reason: "unsupported file type " + candidate.ContentType})
			return nil, errors.Join(errs...)
		}
		in.OnSingleFile(candidate)
		return []*model.UploadCandidate{candidate}, errors.Join(errs...)
	}

	accepted := make([]*model.UploadCandidate, 0, len(sized))
	for _, f := range sized {
		candidate, err := in.load(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, candidate)
	}
	return accepted, errors.Join(errs...)
}

// Clear drops the current single-file selection.
func (in *Intake) Clear() {
	if in.OnSingleFile != nil {
		in.OnSingleFile(nil)
	}
}

func (in *Intake) load(f FileInput) (*model.UploadCandidate, error) {
	rc, err := f.Open()
	if err != nil {
		in.notify(model.LevelError, fmt.Sprintf("Failed to read %s", f.Name))
		return nil, &ValidationError{File: f.Name, Reason: fmt.Sprintf("failed to read file: %v", err)}
	}
	defer rc.Close()

	// Declared sizes can lie; never buffer more than the limit.
	content, err := io.ReadAll(io.LimitReader(rc, in.maxSize()+1))
	if err != nil {
		in.notify(model.LevelError, fmt.Sprintf("Failed to read %s", f.Name))
		return nil, &ValidationError{File: f.Name, Reason: fmt.Sprintf("failed to read file: %v", err)}
	}
	if int64(len(content)) > in.maxSize() {
		return nil, in.tooLarge(f.Name)
	}

	contentType := normalizeContentType(f.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(content))
	}

	return model.NewUploadCandidate(f.Name, contentType, content), nil
}

func (in *Intake) tooLarge(name string) error {
	in.notify(model.LevelError, fmt.Sprintf("%s is too large. Maximum file size is %s.", name, humanize.Bytes(uint64(in.maxSize()))))
	return &ValidationError{File: name, Reason: "file exceeds maximum size"}
}

func (in *Intake) maxSize() int64 {
	if in.MaxSize <= 0 {
		return config.DefaultMaxUploadSize
	}
	return in.MaxSize
}

func (in *Intake) notify(level model.NotificationLevel, msg string) {
	if in.Notifier != nil {
		in.Notifier.Notify(level, msg)
	}
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isSupportedImage(contentType string) bool {
	return contentType == "image/png" || contentType == "image/jpeg"
}
