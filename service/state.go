package service

import (
	"sync"

	"github.com/AnTengye/sigscan/model"
)

// ProcessState holds one session's pipeline phase and text artifacts.
// Mutations are last-write-wins; every mutation publishes a snapshot to
// subscribers in the order the mutations were applied.
type ProcessState struct {
	mu               sync.RWMutex
	phase            model.Phase
	extractedText    string
	standardizedText string
	lastError        string

	subMu  sync.Mutex
	subs   map[int]chan model.ProcessSnapshot
	nextID int
	closed bool
}

// NewProcessState returns a state in its initial idle values.
func NewProcessState() *ProcessState {
	return &ProcessState{
		phase: model.PhaseIdle,
		subs:  make(map[int]chan model.ProcessSnapshot),
	}
}

func (s *ProcessState) Phase() model.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *ProcessState) SetPhase(phase model.Phase) {
	s.update(func() bool {
		s.phase = phase
		return true
	})
}

func (s *ProcessState) ExtractedText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extractedText
}

func (s *ProcessState) SetExtractedText(text string) {
	s.update(func() bool {
		s.extractedText = text
		return true
	})
}

func (s *ProcessState) StandardizedText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.standardizedText
}

func (s *ProcessState) SetStandardizedText(text string) {
	s.update(func() bool {
		s.standardizedText = text
		return true
	})
}

func (s *ProcessState) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// SetLastError stores msg; an empty string clears it.
func (s *ProcessState) SetLastError(msg string) {
	s.update(func() bool {
		s.lastError = msg
		return true
	})
}

// Fail moves to the error phase and records msg in one step.
func (s *ProcessState) Fail(msg string) {
	s.update(func() bool {
		s.phase = model.PhaseError
		s.lastError = msg
		return true
	})
}

// Reset restores every field to its initial idle value.
func (s *ProcessState) Reset() {
	s.update(func() bool {
		s.phase = model.PhaseIdle
		s.extractedText = ""
		s.standardizedText = ""
		s.lastError = ""
		return true
	})
}

// TryBegin moves to extracting unless a run is already in flight. It clears
// the artifacts of any previous run. It reports whether the run may proceed.
func (s *ProcessState) TryBegin() bool {
	return s.update(func() bool {
		if s.phase.Busy() {
			return false
		}
		s.phase = model.PhaseExtracting
		s.extractedText = ""
		s.standardizedText = ""
		s.lastError = ""
		return true
	})
}

// Complete stores the standardized text and moves to completed, unless token
// was spent first. It reports whether the run completed.
func (s *ProcessState) Complete(standardized string, token *model.CancelToken) bool {
	return s.update(func() bool {
		if token.Spent() {
			return false
		}
		s.standardizedText = standardized
		s.phase = model.PhaseCompleted
		return true
	})
}

// CancelRun calls cancel only while a run is in flight. It reports whether
// cancel was called and succeeded.
func (s *ProcessState) CancelRun(cancel func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.Busy() {
		return false
	}
	return cancel()
}

func (s *ProcessState) Snapshot() model.ProcessSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *ProcessState) snapshotLocked() model.ProcessSnapshot {
	return model.ProcessSnapshot{
		Phase:            s.phase,
		ExtractedText:    s.extractedText,
		StandardizedText: s.standardizedText,
		LastError:        s.lastError,
	}
}

// Subscribe returns a channel that receives a snapshot after every mutation,
// starting with the current one. A slow reader skips intermediate snapshots
// but always receives the latest. The returned func unsubscribes and closes
// the channel.
func (s *ProcessState) Subscribe() (<-chan model.ProcessSnapshot, func()) {
	ch := make(chan model.ProcessSnapshot, 8)

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch <- s.snapshotLocked()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later mutations are not published.
func (s *ProcessState) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// update applies fn under the write lock and, if it reports a change,
// publishes the resulting snapshot before releasing the lock.
func (s *ProcessState) update(fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn() {
		return false
	}

	snap := s.snapshotLocked()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		deliver(ch, snap)
	}
	return true
}

// deliver sends snap, discarding the oldest queued snapshot when ch is full.
// Callers hold subMu, so they are the only sender.
func deliver(ch chan model.ProcessSnapshot, snap model.ProcessSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
