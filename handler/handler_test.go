package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubExtractor struct {
	fn func(ctx context.Context, image string) (string, error)
}

func (s stubExtractor) Extract(ctx context.Context, image string) (string, error) {
	return s.fn(ctx, image)
}

type stubStandardizer struct {
	fn func(ctx context.Context, text string) (*model.StandardizedResult, error)
}

func (s stubStandardizer) Standardize(ctx context.Context, text string) (*model.StandardizedResult, error) {
	return s.fn(ctx, text)
}

func okPipeline() *service.Pipeline {
	purpose := "blood pressure"
	return service.NewPipeline(
		stubExtractor{fn: func(context.Context, string) (string, error) {
			return "Lisinopril 10mg take 1 daily", nil
		}},
		stubStandardizer{fn: func(context.Context, string) (*model.StandardizedResult, error) {
			return &model.StandardizedResult{Medications: []model.MedicationRecord{{
				Medication: "Lisinopril",
				SigCode:    "1 tab PO QD",
				Dosage:     "10mg",
				Frequency:  "daily",
				Quantity:   "30",
				Refills:    "2",
				Purpose:    &purpose,
			}}}, nil
		}},
		time.Second,
	)
}

type testServer struct {
	router *gin.Engine
	store  *service.SessionStore
	cfg    *config.Config
}

func newTestServer(pipeline *service.Pipeline) *testServer {
	cfg := &config.Config{
		Collaborators: config.CollaboratorsConfig{
			Extract:     config.EndpointConfig{URL: "http://extract.test"},
			Standardize: config.EndpointConfig{URL: "http://standardize.test"},
		},
		Pipeline: config.PipelineConfig{CallTimeout: time.Second, MaxUploadSize: 1024},
		Session:  config.SessionConfig{JWTSecret: "test-secret", TTL: time.Minute, MaxSessions: 10},
	}
	store := service.NewSessionStore(cfg.Session.TTL, cfg.Session.MaxSessions)

	sessionHandler := NewSessionHandler(store, &cfg.Session)
	uploadHandler := NewUploadHandler(pipeline, &cfg.Pipeline)
	resultHandler := NewResultHandler()

	router := gin.New()
	router.GET("/health", Health(cfg, store))
	router.POST("/api/sessions", sessionHandler.Create)

	protected := router.Group("/api/session")
	protected.Use(middleware.SessionAuth(&cfg.Session, store))
	{
		protected.GET("", sessionHandler.Get)
		protected.DELETE("", sessionHandler.Delete)
		protected.POST("/files", uploadHandler.SelectFile)
		protected.DELETE("/files", uploadHandler.ClearFile)
		protected.POST("/run", uploadHandler.Run)
		protected.POST("/retry", uploadHandler.Retry)
		protected.POST("/cancel", uploadHandler.Cancel)
		protected.POST("/reset", uploadHandler.Reset)
		protected.GET("/notifications", resultHandler.Notifications)
		protected.GET("/events", resultHandler.Events)
		protected.GET("/medications", resultHandler.Medications)
		protected.GET("/medications.csv", resultHandler.ExportCSV)
	}

	return &testServer{router: router, store: store, cfg: cfg}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T) (string, *service.Session) {
	t.Helper()
	w := s.do(httptest.NewRequest("POST", "/api/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var resp CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	sess, err := s.store.Get(resp.SessionID)
	if err != nil {
		t.Fatalf("Expected session to exist: %v", err)
	}
	return resp.Token, sess
}

func authed(method, path, token string, body *bytes.Buffer, contentType string) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("Failed to create part: %v", err)
	}
	part.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func selectPNG(t *testing.T, s *testServer, token string) {
	t.Helper()
	body, ct := multipartBody(t, "file", "label.png", "image/png", pngBytes)
	w := s.do(authed("POST", "/api/session/files", token, body, ct))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 selecting file, got %d: %s", w.Code, w.Body.String())
	}
}

func waitForPhase(t *testing.T, sess *service.Session, want model.Phase) {
	t.Helper()
	sess.Wait()
	if got := sess.State.Phase(); got != want {
		t.Fatalf("Expected phase %s, got %s", want, got)
	}
}
