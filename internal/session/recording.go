package session

import (
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/internal/models"
)

// RecordingCoordinator runs the start/stop recording protocol on top of the
// session state machine. It holds no state of its own beyond the backend
// handle; recordingActive lives on the session so the status invariants stay
// in one place.
type RecordingCoordinator struct {
	session *Session
	backend RecordingBackend
}

// startLocked begins a recording. The caller must hold the session lock.
// Only an interviewer may start, and only while the session is ACTIVE.
func (rc *RecordingCoordinator) startLocked(userID string) error {
	s := rc.session
	peer, ok := s.participants[userID]
	if !ok {
		return newError(CodeRecordingFailed, "user %s is not in session %s", userID, s.id)
	}
	if peer.Role != models.RoleInterviewer {
		return newError(CodeRecordingFailed, "only the interviewer may start recording")
	}
	if s.status != models.StatusActive {
		return newError(CodeRecordingFailed, "recording requires an active session, status is %s", s.status)
	}
	if s.recordingActive {
		return newError(CodeRecordingFailed, "recording already active")
	}
	if rc.backend != nil {
		if err := rc.backend.StartRecording(s.id); err != nil {
			return newError(CodeRecordingFailed, "recording backend: %v", err)
		}
	}
	s.recordingActive = true
	peer.LastActivity = s.now()
	s.emitter.Broadcast(s.id, "", models.NewMessage(models.MessageTypeRecordingStart, s.id, userID, nil))
	log.Info().Str("session", s.id).Str("user", userID).Msg("recording started")
	return nil
}

// stopLocked ends a recording. Idempotent: stopping when nothing is recording
// returns success without a broadcast, which silences client retry storms.
func (rc *RecordingCoordinator) stopLocked(userID string) error {
	s := rc.session
	if !s.recordingActive {
		return nil
	}
	rc.stopBackend()
	s.recordingActive = false
	s.emitter.Broadcast(s.id, "", models.NewMessage(models.MessageTypeRecordingStop, s.id, userID, nil))
	log.Info().Str("session", s.id).Str("user", userID).Msg("recording stopped")
	return nil
}

// forceStopLocked tears recording down on pause, interviewer loss, or session
// end, broadcasting the stop to whoever is still present.
func (rc *RecordingCoordinator) forceStopLocked() {
	s := rc.session
	if !s.recordingActive {
		return
	}
	rc.stopBackend()
	s.recordingActive = false
	s.emitter.Broadcast(s.id, "", models.NewMessage(models.MessageTypeRecordingStop, s.id, "", nil))
	log.Info().Str("session", s.id).Msg("recording force-stopped")
}

func (rc *RecordingCoordinator) stopBackend() {
	if rc.backend == nil {
		return
	}
	if err := rc.backend.StopRecording(rc.session.id); err != nil {
		log.Warn().Err(err).Str("session", rc.session.id).Msg("recording backend stop failed")
	}
}
