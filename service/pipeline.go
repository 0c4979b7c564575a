package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/pkg/logger"
)

// User-facing pipeline messages.
const (
	MsgProcessed     = "File processed successfully"
	MsgNoText        = "No text could be found in the image"
	MsgNoMedications = "No medications or SIG codes found in the text"
	MsgCanceled      = "File upload cancelled"
)

// Extractor turns a data-URI encoded image into raw text.
type Extractor interface {
	Extract(ctx context.Context, imageDataURI string) (string, error)
}

// Standardizer turns raw text into medication records.
type Standardizer interface {
	Standardize(ctx context.Context, text string) (*model.StandardizedResult, error)
}

// readier is implemented by collaborators that can report missing settings.
type readier interface {
	Ready() error
}

// Pipeline sequences extraction then standardization for one candidate.
// It holds no per-session data and is safe to share.
type Pipeline struct {
	extractor    Extractor
	standardizer Standardizer
	callTimeout  time.Duration
}

func NewPipeline(extractor Extractor, standardizer Standardizer, callTimeout time.Duration) *Pipeline {
	if callTimeout <= 0 {
		callTimeout = config.DefaultCallTimeout
	}
	return &Pipeline{
		extractor:    extractor,
		standardizer: standardizer,
		callTimeout:  callTimeout,
	}
}

// Ready reports the first collaborator that is not configured.
func (p *Pipeline) Ready() error {
	for _, c := range []any{p.extractor, p.standardizer} {
		if r, ok := c.(readier); ok {
			if err := r.Ready(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run executes one attempt for candidate, driving state and notifier. It
// blocks until the attempt ends and returns its terminal error; nil means
// the state reached completed. Every outcome is already reflected in state
// and notifier when Run returns.
func (p *Pipeline) Run(ctx context.Context, state *ProcessState, notifier Notifier, candidate *model.UploadCandidate) error {
	exec, err := p.Start(ctx, state, notifier, candidate)
	if err != nil {
		return err
	}
	return exec()
}

// Start applies the synchronous guards and claims state for a new attempt.
// The returned func performs the attempt and must be called exactly once,
// typically on its own goroutine.
func (p *Pipeline) Start(ctx context.Context, state *ProcessState, notifier Notifier, candidate *model.UploadCandidate) (func() error, error) {
	if candidate == nil {
		return nil, ErrNoCandidate
	}
	if state.Phase().Busy() {
		notifier.Notify(model.LevelWarning, msgBusy)
		return nil, ErrBusy
	}
	if err := p.Ready(); err != nil {
		logger.Error(ctx, "pipeline not configured", "error", err)
		state.SetLastError(err.Error())
		notifier.Notify(model.LevelError, err.Error())
		return nil, err
	}
	if !state.TryBegin() {
		notifier.Notify(model.LevelWarning, msgBusy)
		return nil, ErrBusy
	}

	token := candidate.Arm()
	return func() error {
		return p.execute(ctx, token, state, notifier, candidate)
	}, nil
}

func (p *Pipeline) execute(ctx context.Context, token *model.CancelToken, state *ProcessState, notifier Notifier, candidate *model.UploadCandidate) (err error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(token.Context(), stop)
	defer unhook()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "pipeline panic recovered", "panic", r)
			err = p.fail(ctx, state, notifier, candidate, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	logger.Info(ctx, "pipeline started",
		"filename", candidate.Filename,
		"content_type", candidate.ContentType,
		"size", candidate.Size,
	)

	candidate.SetStatus(model.UploadWaiting)
	image := EncodeDataURI(candidate.ContentType, candidate.Content)

	candidate.SetStatus(model.UploadUploading)
	text, err := callWithTimeout(runCtx, p.callTimeout, StageExtract, func(callCtx context.Context) (string, error) {
		return p.extractor.Extract(callCtx, image)
	})
	if runCtx.Err() != nil || errors.Is(err, ErrCanceled) {
		return p.canceled(ctx, state, notifier, candidate)
	}
	if err != nil {
		return p.fail(ctx, state, notifier, candidate, err)
	}

	state.SetExtractedText(text)
	candidate.SetStatus(model.UploadUploaded)
	logger.Info(ctx, "text extracted", "chars", len(text))

	state.SetPhase(model.PhaseStandardizing)
	result, err := callWithTimeout(runCtx, p.callTimeout, StageStandardize, func(callCtx context.Context) (*model.StandardizedResult, error) {
		return p.standardizer.Standardize(callCtx, text)
	})
	if runCtx.Err() != nil || errors.Is(err, ErrCanceled) {
		return p.canceled(ctx, state, notifier, candidate)
	}
	if err != nil {
		return p.fail(ctx, state, notifier, candidate, err)
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		return p.fail(ctx, state, notifier, candidate, fmt.Errorf("failed to serialize medications: %w", err))
	}

	if !state.Complete(string(serialized), token) {
		return p.canceled(ctx, state, notifier, candidate)
	}
	notifier.Notify(model.LevelSuccess, MsgProcessed)
	logger.Info(ctx, "pipeline completed", "medications", len(result.Medications))
	return nil
}

// callWithTimeout bounds one collaborator call. A deadline hit is reported
// as a timeout even if the callee ignored its context and returned late.
func callWithTimeout[T any](runCtx context.Context, timeout time.Duration, stage string, call func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	out, err := call(callCtx)
	if runCtx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, &NetworkError{Stage: stage, Err: ErrTimeout}
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			err = ErrCanceled
		case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout):
			err = &NetworkError{Stage: stage, Err: ErrTimeout}
		}
	}
	return out, err
}

func (p *Pipeline) canceled(ctx context.Context, state *ProcessState, notifier Notifier, candidate *model.UploadCandidate) error {
	logger.Info(ctx, "pipeline canceled", "filename", candidate.Filename)
	state.Reset()
	candidate.SetStatus(model.UploadCanceled)
	notifier.Notify(model.LevelInfo, MsgCanceled)
	return ErrCanceled
}

func (p *Pipeline) fail(ctx context.Context, state *ProcessState, notifier Notifier, candidate *model.UploadCandidate, err error) error {
	candidate.SetStatus(model.UploadError)

	var empty *EmptyResultError
	if errors.As(err, &empty) {
		logger.Warn(ctx, "pipeline produced no result", "stage", empty.Stage, "reason", err)
		switch {
		case errors.Is(err, ErrNoText):
			state.SetExtractedText("")
			notifier.Notify(model.LevelError, MsgNoText)
		case errors.Is(err, ErrNoMedications):
			state.SetStandardizedText("")
			notifier.Notify(model.LevelError, MsgNoMedications)
		default:
			notifier.Notify(model.LevelError, err.Error())
		}
		state.Fail(err.Error())
		return err
	}

	logger.Error(ctx, "pipeline failed", "error", err)
	state.Fail(err.Error())
	notifier.Notify(model.LevelError, err.Error())
	return err
}
