package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/service"
)

func TestUploadHandlerSelectFile(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)

	body, ct := multipartBody(t, "file", "label.png", "image/png", pngBytes)
	w := s.do(authed("POST", "/api/session/files", token, body, ct))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Candidate model.CandidateSummary `json:"candidate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Candidate.Filename != "label.png" || resp.Candidate.ContentType != "image/png" {
		t.Errorf("Unexpected candidate: %+v", resp.Candidate)
	}
	if sess.Candidate() == nil {
		t.Error("Expected candidate on session")
	}
}

func TestUploadHandlerRejectsInvalidType(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)

	body, ct := multipartBody(t, "file", "notes.txt", "text/plain", []byte("hello"))
	w := s.do(authed("POST", "/api/session/files", token, body, ct))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid file type. Must be a PNG or JPEG file!") {
		t.Errorf("Expected invalid type notification in body, got %s", w.Body.String())
	}
	if sess.Candidate() != nil {
		t.Error("Expected no candidate")
	}
	if sess.State.Phase() != model.PhaseIdle {
		t.Errorf("Expected no state change, got %s", sess.State.Phase())
	}
}

func TestUploadHandlerRejectsOversizedFile(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)

	body, ct := multipartBody(t, "file", "big.png", "image/png", bytes.Repeat([]byte("a"), 2048))
	w := s.do(authed("POST", "/api/session/files", token, body, ct))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "big.png is too large") {
		t.Errorf("Expected size notification, got %s", w.Body.String())
	}
	if sess.Candidate() != nil {
		t.Error("Expected no candidate")
	}
}

func TestUploadHandlerNoFile(t *testing.T) {
	s := newTestServer(okPipeline())
	token, _ := s.createSession(t)

	w := s.do(authed("POST", "/api/session/files", token, bytes.NewBufferString("{}"), "application/json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUploadHandlerRunToCompletion(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	w := s.do(authed("POST", "/api/session/run", token, nil, ""))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	waitForPhase(t, sess, model.PhaseCompleted)
	if sess.State.ExtractedText() != "Lisinopril 10mg take 1 daily" {
		t.Errorf("Unexpected extracted text: %q", sess.State.ExtractedText())
	}
	if sess.Candidate().Status() != model.UploadUploaded {
		t.Errorf("Expected candidate uploaded, got %s", sess.Candidate().Status())
	}
}

func TestUploadHandlerRunWithoutFile(t *testing.T) {
	s := newTestServer(okPipeline())
	token, _ := s.createSession(t)

	w := s.do(authed("POST", "/api/session/run", token, nil, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUploadHandlerRunNotConfigured(t *testing.T) {
	pipeline := service.NewPipeline(
		service.NewExtractionClient(&config.EndpointConfig{}, 0),
		service.NewStandardizationClient(&config.EndpointConfig{}, 0),
		time.Second,
	)
	s := newTestServer(pipeline)
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	w := s.do(authed("POST", "/api/session/run", token, nil, ""))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	if sess.State.Phase() != model.PhaseIdle {
		t.Errorf("Expected pipeline not to start, got %s", sess.State.Phase())
	}
	if !strings.Contains(sess.State.LastError(), "EXTRACT_ENDPOINT_URL") {
		t.Errorf("Expected last error to name the setting, got %q", sess.State.LastError())
	}
}

func blockingPipeline(started chan<- struct{}) *service.Pipeline {
	return service.NewPipeline(
		stubExtractor{fn: func(ctx context.Context, _ string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}},
		stubStandardizer{fn: func(context.Context, string) (*model.StandardizedResult, error) {
			return nil, nil
		}},
		time.Minute,
	)
}

func TestUploadHandlerBusyAndCancel(t *testing.T) {
	started := make(chan struct{})
	s := newTestServer(blockingPipeline(started))
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	if w := s.do(authed("POST", "/api/session/run", token, nil, "")); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	<-started

	if w := s.do(authed("POST", "/api/session/run", token, nil, "")); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 while busy, got %d", w.Code)
	}
	if w := s.do(authed("POST", "/api/session/reset", token, nil, "")); w.Code != http.StatusConflict {
		t.Errorf("Expected reset to be refused while busy, got %d", w.Code)
	}
	body, ct := multipartBody(t, "file", "other.png", "image/png", pngBytes)
	if w := s.do(authed("POST", "/api/session/files", token, body, ct)); w.Code != http.StatusConflict {
		t.Errorf("Expected selection to be refused while busy, got %d", w.Code)
	}

	if w := s.do(authed("POST", "/api/session/cancel", token, nil, "")); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202 for cancel, got %d", w.Code)
	}

	waitForPhase(t, sess, model.PhaseIdle)
	if sess.Candidate().Status() != model.UploadCanceled {
		t.Errorf("Expected candidate canceled, got %s", sess.Candidate().Status())
	}

	if w := s.do(authed("POST", "/api/session/cancel", token, nil, "")); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when nothing is running, got %d", w.Code)
	}
}

func TestUploadHandlerRetry(t *testing.T) {
	calls := 0
	pipeline := service.NewPipeline(
		stubExtractor{fn: func(context.Context, string) (string, error) {
			calls++
			if calls == 1 {
				return "", &service.NetworkError{Stage: service.StageExtract, StatusCode: 503}
			}
			return "Take 1 tablet daily", nil
		}},
		okPipelineStandardizer(),
		time.Second,
	)
	s := newTestServer(pipeline)
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	if w := s.do(authed("POST", "/api/session/retry", token, nil, "")); w.Code != http.StatusConflict {
		t.Errorf("Expected retry before any attempt to be refused, got %d", w.Code)
	}

	s.do(authed("POST", "/api/session/run", token, nil, ""))
	waitForPhase(t, sess, model.PhaseError)
	if !strings.Contains(sess.State.LastError(), "503") {
		t.Errorf("Expected status in last error, got %q", sess.State.LastError())
	}

	if w := s.do(authed("POST", "/api/session/retry", token, nil, "")); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202 for retry, got %d", w.Code)
	}
	waitForPhase(t, sess, model.PhaseCompleted)

	if w := s.do(authed("POST", "/api/session/retry", token, nil, "")); w.Code != http.StatusConflict {
		t.Errorf("Expected retry after success to be refused, got %d", w.Code)
	}
}

func okPipelineStandardizer() stubStandardizer {
	return stubStandardizer{fn: func(context.Context, string) (*model.StandardizedResult, error) {
		return &model.StandardizedResult{Medications: []model.MedicationRecord{{Medication: "Aspirin", SigCode: "1 tab PO QD"}}}, nil
	}}
}

func TestUploadHandlerResetAndClear(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	s.do(authed("POST", "/api/session/run", token, nil, ""))
	waitForPhase(t, sess, model.PhaseCompleted)

	w := s.do(authed("POST", "/api/session/reset", token, nil, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	snap := sess.State.Snapshot()
	if snap.Phase != model.PhaseIdle || snap.ExtractedText != "" || snap.StandardizedText != "" {
		t.Errorf("Expected reset state, got %+v", snap)
	}
	if sess.Candidate() == nil {
		t.Error("Expected reset to keep the selected file")
	}

	w = s.do(authed("DELETE", "/api/session/files", token, nil, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if sess.Candidate() != nil {
		t.Error("Expected selection to be cleared")
	}
}

func TestUploadHandlerNewSelectionReturnsToIdle(t *testing.T) {
	s := newTestServer(okPipeline())
	token, sess := s.createSession(t)
	selectPNG(t, s, token)

	s.do(authed("POST", "/api/session/run", token, nil, ""))
	waitForPhase(t, sess, model.PhaseCompleted)

	selectPNG(t, s, token)
	if sess.State.Phase() != model.PhaseIdle {
		t.Errorf("Expected new selection to return to idle, got %s", sess.State.Phase())
	}
}
