package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/sigscan/model"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Session is one user's isolated workflow: a single file selection, its
// process state and the notifications raised for it.
type Session struct {
	ID            string
	CreatedAt     time.Time
	State         *ProcessState
	Notifications *NotificationQueue

	mu        sync.Mutex
	candidate *model.UploadCandidate
	runs      sync.WaitGroup
}

func newSession() *Session {
	return &Session{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now(),
		State:         NewProcessState(),
		Notifications: NewNotificationQueue(50),
	}
}

func (s *Session) Candidate() *model.UploadCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidate
}

// SetCandidate replaces the selection. A replaced candidate's token is spent.
func (s *Session) SetCandidate(c *model.UploadCandidate) {
	s.mu.Lock()
	prev := s.candidate
	s.candidate = c
	s.mu.Unlock()

	if prev != nil && prev != c {
		prev.Cancel()
	}
}

// Intake returns a single-file intake bound to this session. Selecting or
// clearing a file returns the process state to idle.
func (s *Session) Intake(maxSize int64) *Intake {
	return &Intake{
		MaxSize:  maxSize,
		Notifier: s.Notifications,
		Busy:     func() bool { return s.State.Phase().Busy() },
		OnSingleFile: func(c *model.UploadCandidate) {
			s.SetCandidate(c)
			s.State.Reset()
		},
	}
}

// Start claims the session for a pipeline attempt and runs it in the
// background. Guard failures are returned synchronously.
func (s *Session) Start(ctx context.Context, p *Pipeline) error {
	exec, err := p.Start(ctx, s.State, s.Notifications, s.Candidate())
	if err != nil {
		return err
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := exec(); err != nil {
			logger.Debug(ctx, "pipeline attempt ended", "error", err)
		}
	}()
	return nil
}

// Cancel aborts the in-flight attempt. It reports false when no attempt is
// in flight or its token is already spent. An accepted cancel always ends
// the attempt canceled.
func (s *Session) Cancel() bool {
	return s.State.CancelRun(s.spendToken)
}

func (s *Session) spendToken() bool {
	c := s.Candidate()
	if c == nil {
		return false
	}
	return c.Cancel()
}

// Wait blocks until background attempts have returned.
func (s *Session) Wait() {
	s.runs.Wait()
}

// SessionSnapshot is the JSON view of a session.
type SessionSnapshot struct {
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"created_at"`
	Process   model.ProcessSnapshot   `json:"process"`
	Candidate *model.CandidateSummary `json:"candidate,omitempty"`
	Pending   int                     `json:"pending_notifications"`
}

func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Process:   s.State.Snapshot(),
		Pending:   s.Notifications.Len(),
	}
	if c := s.Candidate(); c != nil {
		summary := c.Summary()
		snap.Candidate = &summary
	}
	return snap
}

func (s *Session) teardown() {
	s.spendToken()
	s.State.Close()
}

// SessionStore keeps sessions in memory with an idle TTL.
type SessionStore struct {
	mu          sync.Mutex
	cache       *cache.Cache
	maxSessions int
}

func NewSessionStore(ttl time.Duration, maxSessions int) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	c := cache.New(ttl, ttl/2)
	c.OnEvicted(func(id string, v interface{}) {
		if sess, ok := v.(*Session); ok {
			sess.teardown()
			logger.Info(logger.WithSession(context.Background(), id), "session evicted")
		}
	})
	return &SessionStore{
		cache:       c,
		maxSessions: maxSessions,
	}
}

// Create registers a new session, evicting the oldest sessions when the
// store is full.
func (st *SessionStore) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.maxSessions > 0 {
		st.cleanup(st.maxSessions - 1)
	}

	sess := newSession()
	st.cache.SetDefault(sess.ID, sess)
	return sess
}

func (st *SessionStore) Get(id string) (*Session, error) {
	v, ok := st.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

// Touch renews the idle TTL of a live session.
func (st *SessionStore) Touch(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.cache.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	st.cache.SetDefault(id, v)
	return nil
}

// Delete tears down a session.
func (st *SessionStore) Delete(id string) error {
	if _, ok := st.cache.Get(id); !ok {
		return ErrSessionNotFound
	}
	st.cache.Delete(id)
	return nil
}

func (st *SessionStore) Count() int {
	return st.cache.ItemCount()
}

// Close tears down every session and waits for their attempts to return.
func (st *SessionStore) Close() {
	items := st.cache.Items()
	st.cache.Flush()
	for _, item := range items {
		if sess, ok := item.Object.(*Session); ok {
			sess.teardown()
			sess.Wait()
		}
	}
}

// cleanup evicts the oldest sessions until at most keep remain.
func (st *SessionStore) cleanup(keep int) {
	items := st.cache.Items()
	if len(items) <= keep {
		return
	}

	type entry struct {
		id      string
		created time.Time
	}
	entries := make([]entry, 0, len(items))
	for id, item := range items {
		if sess, ok := item.Object.(*Session); ok {
			entries = append(entries, entry{id: id, created: sess.CreatedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})

	for i := 0; i < len(entries)-keep; i++ {
		st.cache.Delete(entries[i].id)
	}
}
