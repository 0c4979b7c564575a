package service

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Pipeline stages, used in error detail and logs.
const (
	StageExtract     = "extract"
	StageStandardize = "standardize"
)

var (
	// ErrNoText is the extraction "success but nothing found" outcome.
	ErrNoText = errors.New("no text could be extracted from the image")
	// ErrNoMedications is the standardization "success but nothing found" outcome.
	ErrNoMedications = errors.New("no medications or SIG codes could be identified in the text")
	// ErrCanceled marks a user-initiated abort.
	ErrCanceled = errors.New("upload canceled")
	// ErrTimeout marks a collaborator call that exceeded the call timeout.
	ErrTimeout = errors.New("collaborator call timed out")
	// ErrBusy is returned when a run is requested while one is in flight.
	ErrBusy = errors.New("must wait for processing to finish")
	// ErrNoCandidate is returned when a run is requested without a file.
	ErrNoCandidate = errors.New("no file selected")
)

// ConfigurationError reports a required setting that is missing.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

// ValidationError reports a file rejected at intake.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// NetworkError reports a transport failure or a non-2xx response from a
// collaborator. StatusCode is zero for transport failures.
type NetworkError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service: HTTP error! status: %d", e.Stage, e.StatusCode)
	}
	return fmt.Sprintf("%s service: %v", e.Stage, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// EmptyResultError reports a successful call that produced nothing usable.
type EmptyResultError struct {
	Stage string
	Err   error
}

func (e *EmptyResultError) Error() string { return e.Err.Error() }

func (e *EmptyResultError) Unwrap() error { return e.Err }

// transportError classifies an error returned by http.Client.Do.
func transportError(stage string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &NetworkError{Stage: stage, Err: ErrTimeout}
	default:
		return &NetworkError{Stage: stage, Err: err}
	}
}
