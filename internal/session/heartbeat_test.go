package session

import (
	"testing"
	"time"

	"github.com/mossy-p/interview-signaling/internal/models"
)

func TestMonitorSweepsEverySession(t *testing.T) {
	reg, emitter, clock := newTestRegistry(t)
	s1, _ := reg.CreateSession("sess-1")
	s2, _ := reg.CreateSession("sess-2")
	mustJoin(t, s1, "alice", models.RoleInterviewer, models.MediaState{})
	mustJoin(t, s2, "bob", models.RoleInterviewee, models.MediaState{})

	m := NewHeartbeatMonitor(reg, testTimeouts.HeartbeatInterval)
	m.now = clock.Now

	clock.Advance(45 * time.Second)
	m.SweepOnce()

	emitter.mu.Lock()
	probes := append([]string(nil), emitter.probes...)
	emitter.mu.Unlock()
	if len(probes) != 2 {
		t.Fatalf("probes = %v, want one per silent peer across sessions", probes)
	}
}

func TestMonitorDrivesImplicitLeave(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	s, _ := reg.CreateSession("sess-1")
	mustJoin(t, s, "alice", models.RoleInterviewer, models.MediaState{})
	mustJoin(t, s, "bob", models.RoleInterviewee, models.MediaState{})

	m := NewHeartbeatMonitor(reg, testTimeouts.HeartbeatInterval)
	m.now = clock.Now

	clock.Advance(60 * time.Second)
	s.Touch("bob")
	clock.Advance(40 * time.Second)
	m.SweepOnce()

	if got := s.Status(); got != models.StatusPaused {
		t.Fatalf("status = %s, want PAUSED after monitor-driven leave", got)
	}
}

func TestMonitorStartStop(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	m := NewHeartbeatMonitor(reg, 10*time.Millisecond)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
}
