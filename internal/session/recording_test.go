package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/interview-signaling/internal/models"
)

type fakeBackend struct {
	mu       sync.Mutex
	starts   []string
	stops    []string
	failNext bool
}

func (b *fakeBackend) StartRecording(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errors.New("recorder unavailable")
	}
	b.starts = append(b.starts, sessionID)
	return nil
}

func (b *fakeBackend) StopRecording(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops = append(b.stops, sessionID)
	return nil
}

func newRecordingSession(t *testing.T) (*Session, *captureEmitter, *fakeBackend) {
	t.Helper()
	emitter := newCaptureEmitter()
	backend := &fakeBackend{}
	reg := NewRegistry(emitter, nil, backend, testTimeouts)
	reg.now = newFakeClock().Now
	s, err := reg.CreateSession("sess-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	mustJoin(t, s, "alice", models.RoleInterviewer, models.MediaState{Audio: true})
	mustJoin(t, s, "bob", models.RoleInterviewee, models.MediaState{Audio: true})
	return s, emitter, backend
}

func TestRecordingStartRequiresInterviewer(t *testing.T) {
	s, emitter, _ := newRecordingSession(t)

	assertCode(t, s.RecordingStart("bob"), CodeRecordingFailed)
	if len(emitter.broadcastsOfType(models.MessageTypeRecordingStart)) != 0 {
		t.Fatalf("RECORDING_START broadcast after rejected start")
	}

	if err := s.RecordingStart("alice"); err != nil {
		t.Fatalf("RecordingStart: %v", err)
	}
	if !s.Snapshot().RecordingActive {
		t.Fatalf("recordingActive not set")
	}
	if len(emitter.broadcastsOfType(models.MessageTypeRecordingStart)) != 1 {
		t.Fatalf("missing RECORDING_START broadcast")
	}

	assertCode(t, s.RecordingStart("alice"), CodeRecordingFailed)
}

func TestRecordingStartRequiresActiveSession(t *testing.T) {
	emitter := newCaptureEmitter()
	reg := NewRegistry(emitter, nil, nil, testTimeouts)
	reg.now = newFakeClock().Now
	s, _ := reg.CreateSession("sess-1")
	mustJoin(t, s, "alice", models.RoleInterviewer, models.MediaState{})

	// Session is still WAITING with no interviewee.
	assertCode(t, s.RecordingStart("alice"), CodeRecordingFailed)
}

func TestRecordingStopIsIdempotent(t *testing.T) {
	s, emitter, _ := newRecordingSession(t)

	if err := s.RecordingStop("alice"); err != nil {
		t.Fatalf("first stop with no recording: %v", err)
	}
	if err := s.RecordingStop("alice"); err != nil {
		t.Fatalf("second stop with no recording: %v", err)
	}
	if got := len(emitter.broadcastsOfType(models.MessageTypeRecordingStop)); got != 0 {
		t.Fatalf("RECORDING_STOP broadcasts = %d, want 0", got)
	}

	if err := s.RecordingStart("alice"); err != nil {
		t.Fatalf("RecordingStart: %v", err)
	}
	if err := s.RecordingStop("alice"); err != nil {
		t.Fatalf("RecordingStop: %v", err)
	}
	if got := len(emitter.broadcastsOfType(models.MessageTypeRecordingStop)); got != 1 {
		t.Fatalf("RECORDING_STOP broadcasts = %d, want 1", got)
	}
}

func TestRecordingBackendFailureRejectsStart(t *testing.T) {
	s, _, backend := newRecordingSession(t)
	backend.mu.Lock()
	backend.failNext = true
	backend.mu.Unlock()

	assertCode(t, s.RecordingStart("alice"), CodeRecordingFailed)
	if s.Snapshot().RecordingActive {
		t.Fatalf("recordingActive set despite backend failure")
	}
}

func TestRecordingStopsWhenInterviewerTimesOut(t *testing.T) {
	emitter := newCaptureEmitter()
	backend := &fakeBackend{}
	clock := newFakeClock()
	reg := NewRegistry(emitter, nil, backend, testTimeouts)
	reg.now = clock.Now
	s, _ := reg.CreateSession("sess-1")
	mustJoin(t, s, "alice", models.RoleInterviewer, models.MediaState{Audio: true})
	mustJoin(t, s, "bob", models.RoleInterviewee, models.MediaState{Audio: true})

	if err := s.RecordingStart("alice"); err != nil {
		t.Fatalf("RecordingStart: %v", err)
	}

	clock.Advance(60 * time.Second)
	s.Touch("bob")
	clock.Advance(40 * time.Second)
	s.Sweep(clock.Now())

	if s.Snapshot().RecordingActive {
		t.Fatalf("recording still active without an interviewer")
	}
	backend.mu.Lock()
	stops := len(backend.stops)
	backend.mu.Unlock()
	if stops != 1 {
		t.Fatalf("backend stops = %d, want 1", stops)
	}
}
