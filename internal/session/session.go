package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/internal/models"
)

// Emitter is the outbound side of the transport. Delivery is fire-and-forget:
// a failed send degrades the target peer but never blocks event processing.
type Emitter interface {
	Unicast(sessionID, userID string, msg models.SignalingMessage) error
	Broadcast(sessionID, excludeUserID string, msg models.SignalingMessage)
	Probe(sessionID, userID string) error
}

// Notifier is the analytics/persistence hook, invoked off the session's
// critical path on lifecycle transitions.
type Notifier interface {
	SessionStarted(sessionID string)
	SessionEnded(sessionID, reason string)
}

// RecordingBackend starts and stops the external media recorder. This core
// only coordinates the handshake; media bytes never pass through it.
type RecordingBackend interface {
	StartRecording(sessionID string) error
	StopRecording(sessionID string) error
}

// Timeouts carries every timing knob a session needs. Zero values disable the
// corresponding sweep check, which the tests rely on.
type Timeouts struct {
	MaxSessionDuration time.Duration
	HeartbeatInterval  time.Duration
	ConnectionTimeout  time.Duration
	ReconnectGrace     time.Duration
	NegotiationTimeout time.Duration
}

// Session end reasons reported in SESSION_LEFT broadcasts.
const (
	ReasonLeft     = "left"
	ReasonTimeout  = "timeout"
	ReasonExpired  = "session_expired"
	ReasonShutdown = "shutdown"
)

// iceBufferCap bounds queued candidates per absent target; overflow drops the
// oldest with a warning rather than failing the sender.
const iceBufferCap = 64

type pendingOffer struct {
	target   string
	deadline time.Time
}

// Session owns all state for one interview session. Every operation takes the
// session mutex for its full duration, so events are processed strictly in
// arrival order with no interleaving, while independent sessions run in
// parallel. The heartbeat sweep goes through the same lock.
type Session struct {
	id       string
	registry *Registry
	emitter  Emitter
	notifier Notifier
	recorder *RecordingCoordinator
	timeouts Timeouts
	now      func() time.Time

	mu              sync.Mutex
	status          models.SessionStatus
	createdAt       time.Time
	participants    map[string]*models.PeerConnectionState
	mediaStreams    map[string]*models.MediaStreamInfo
	recordingActive bool
	pendingOffers   map[string]*pendingOffer
	candidateBuffer map[string][]models.SignalingMessage
	graceDeadline   time.Time
}

func newSession(id string, reg *Registry) *Session {
	s := &Session{
		id:              id,
		registry:        reg,
		emitter:         reg.emitter,
		notifier:        reg.notifier,
		timeouts:        reg.timeouts,
		now:             reg.now,
		status:          models.StatusWaiting,
		createdAt:       reg.now(),
		participants:    make(map[string]*models.PeerConnectionState),
		mediaStreams:    make(map[string]*models.MediaStreamInfo),
		pendingOffers:   make(map[string]*pendingOffer),
		candidateBuffer: make(map[string][]models.SignalingMessage),
	}
	s.recorder = &RecordingCoordinator{session: s, backend: reg.backend}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a read-only copy of the session state.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := models.SessionSnapshot{
		ID:              s.id,
		Status:          s.status,
		CreatedAt:       s.createdAt,
		RecordingActive: s.recordingActive,
		Participants:    s.rosterLocked(),
	}
	for _, ms := range s.mediaStreams {
		snap.MediaStreams = append(snap.MediaStreams, *ms)
	}
	return snap
}

// Join inserts or refreshes the participant record. A userId with a still-live
// prior join is rejected; a participant that timed out may rejoin, which
// restores a PAUSED session to ACTIVE within the grace window.
func (s *Session) Join(userID string, role models.PeerRole, constraints models.MediaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.StatusEnded {
		return newError(CodeSessionNotFound, "session %s has ended", s.id)
	}
	if existing, ok := s.participants[userID]; ok && existing.ConnectionState != models.ConnDisconnected {
		return newError(CodeUserAlreadyInSession, "user %s is already in session %s", userID, s.id)
	}
	if err := s.registry.bindUser(userID, s.id); err != nil {
		return err
	}

	now := s.now()
	s.participants[userID] = &models.PeerConnectionState{
		ID:              uuid.NewString(),
		UserID:          userID,
		SessionID:       s.id,
		Role:            role,
		ConnectionState: models.ConnNew,
		MediaState:      constraints,
		ConnectedAt:     now,
		LastActivity:    now,
	}
	if constraints.Audio {
		s.openStreamLocked(userID, models.StreamAudio, now)
	}
	if constraints.Video {
		s.openStreamLocked(userID, models.StreamVideo, now)
	}
	if constraints.Screen {
		s.openStreamLocked(userID, models.StreamScreen, now)
	}

	if s.rolesSatisfiedLocked() {
		switch s.status {
		case models.StatusWaiting:
			s.status = models.StatusActive
			log.Info().Str("session", s.id).Msg("session activated")
			if s.notifier != nil {
				go s.notifier.SessionStarted(s.id)
			}
		case models.StatusPaused:
			// Reconnection within the grace window.
			s.status = models.StatusActive
			s.graceDeadline = time.Time{}
			log.Info().Str("session", s.id).Str("user", userID).Msg("session resumed")
		}
	}

	s.flushCandidatesLocked(userID)

	roster := models.RosterData{UserID: userID, Participants: s.rosterLocked()}
	s.unicastLocked(userID, models.NewMessage(models.MessageTypeSessionJoined, s.id, userID, roster))
	s.emitter.Broadcast(s.id, userID, models.NewMessage(models.MessageTypeSessionJoined, s.id, userID, roster))
	return nil
}

// Leave removes the participant. Explicit leaves end an activated session once
// the required roles are no longer covered; timeout-driven leaves pause it and
// open a reconnection grace window instead.
func (s *Session) Leave(userID string, explicit bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(userID, explicit, reason)
}

func (s *Session) leaveLocked(userID string, explicit bool, reason string) error {
	peer, ok := s.participants[userID]
	if !ok {
		// Timeout sweep and explicit leave can race; the second one is a no-op.
		return nil
	}
	peer.ConnectionState = models.ConnClosed
	delete(s.participants, userID)
	s.registry.releaseUser(userID)
	s.closeStreamsLocked(userID)
	s.dropNegotiationsLocked(userID)
	delete(s.candidateBuffer, userID)

	s.emitter.Broadcast(s.id, userID, models.NewMessage(models.MessageTypeSessionLeft, s.id, userID,
		models.RosterData{UserID: userID, Participants: s.rosterLocked(), Reason: reason}))
	log.Info().Str("session", s.id).Str("user", userID).Bool("explicit", explicit).Str("reason", reason).Msg("participant left")

	if len(s.participants) == 0 {
		s.endLocked(reason)
		return nil
	}

	wasActivated := s.status == models.StatusActive || s.status == models.StatusPaused
	if explicit {
		if wasActivated && !s.rolesSatisfiedLocked() {
			s.endLocked(reason)
		}
		return nil
	}

	if s.status == models.StatusActive && !s.rolesSatisfiedLocked() {
		s.status = models.StatusPaused
		s.graceDeadline = s.now().Add(s.timeouts.ReconnectGrace)
		s.ensureRecordingInvariantLocked()
		failed := models.ErrorData{Code: string(CodeConnectionTimeout), Message: "peer " + userID + " timed out"}
		for uid := range s.participants {
			s.unicastLocked(uid, models.NewMessage(models.MessageTypeConnectionFailed, s.id, uid, failed))
		}
	}
	s.ensureRecordingInvariantLocked()
	return nil
}

// Relay forwards OFFER/ANSWER/ICE_CANDIDATE verbatim after gating on the
// sender's negotiation state. Violations fail locally without mutating state.
func (s *Session) Relay(msg models.SignalingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants[msg.UserID]
	if !ok {
		return newError(CodeInvalidMessageFormat, "sender %s is not in session %s", msg.UserID, s.id)
	}
	sender.LastActivity = s.now()

	target := msg.TargetID
	if target == "" {
		target = s.soleCounterpartLocked(msg.UserID)
		if target == "" {
			return newError(CodeInvalidMessageFormat, "targetId required for %s", msg.Type)
		}
		msg.TargetID = target
	}
	if target == msg.UserID {
		return newError(CodeInvalidMessageFormat, "cannot relay %s to self", msg.Type)
	}

	switch msg.Type {
	case models.MessageTypeOffer:
		if sender.ConnectionState != models.ConnNew && sender.ConnectionState != models.ConnConnecting {
			return newError(CodeInvalidMessageFormat, "offer not allowed in connection state %s", sender.ConnectionState)
		}
		if _, exists := s.pendingOffers[msg.UserID]; exists {
			return newError(CodeInvalidMessageFormat, "offer from %s is already pending", msg.UserID)
		}
		s.pendingOffers[msg.UserID] = &pendingOffer{
			target:   target,
			deadline: s.now().Add(s.timeouts.NegotiationTimeout),
		}
		sender.ConnectionState = models.ConnConnecting
		s.forwardLocked(target, msg)

	case models.MessageTypeAnswer:
		po, exists := s.pendingOffers[target]
		if !exists || po.target != msg.UserID {
			return newError(CodeInvalidMessageFormat, "no pending offer awaiting answer from %s", msg.UserID)
		}
		delete(s.pendingOffers, target)
		sender.ConnectionState = models.ConnConnected
		if offerer, ok := s.participants[target]; ok {
			offerer.ConnectionState = models.ConnConnected
		}
		s.forwardLocked(target, msg)

	case models.MessageTypeICECandidate:
		if sender.ConnectionState == models.ConnClosed {
			return newError(CodeInvalidMessageFormat, "candidate from closed connection")
		}
		if _, present := s.participants[target]; !present {
			s.bufferCandidateLocked(target, msg)
			return nil
		}
		s.forwardLocked(target, msg)

	default:
		return newError(CodeInvalidMessageFormat, "%s is not a relay message", msg.Type)
	}
	return nil
}

// MediaStateChange updates the participant's media flags, maintaining the
// stream ledger: a flag flipping on opens a stream entry, flipping off marks
// the existing one inactive.
func (s *Session) MediaStateChange(userID string, state models.MediaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.participants[userID]
	if !ok {
		return newError(CodeInvalidMessageFormat, "user %s is not in session %s", userID, s.id)
	}
	now := s.now()
	peer.LastActivity = now

	old := peer.MediaState
	s.applyFlagLocked(userID, models.StreamAudio, old.Audio, state.Audio, now)
	s.applyFlagLocked(userID, models.StreamVideo, old.Video, state.Video, now)
	s.applyFlagLocked(userID, models.StreamScreen, old.Screen, state.Screen, now)
	peer.MediaState = state

	s.emitter.Broadcast(s.id, userID, models.NewMessage(models.MessageTypeMediaStateChange, s.id, userID, state))
	return nil
}

// RecordingStart delegates to the recording coordinator.
func (s *Session) RecordingStart(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.startLocked(userID)
}

// RecordingStop delegates to the recording coordinator. Stopping an inactive
// recording succeeds silently.
func (s *Session) RecordingStop(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder.stopLocked(userID)
}

// Touch refreshes the participant's liveness clock. The transport calls this
// on every pong.
func (s *Session) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer, ok := s.participants[userID]; ok {
		peer.LastActivity = s.now()
	}
}

// ForceEnd terminates the session regardless of state, notifying every
// participant with the given reason.
func (s *Session) ForceEnd(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(reason)
}

// Sweep is the synthetic timer event injected by the heartbeat monitor. It
// runs under the same lock as every other event, so its transitions never
// interleave with inbound message handling.
func (s *Session) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.StatusEnded {
		return
	}
	if s.timeouts.MaxSessionDuration > 0 && now.Sub(s.createdAt) > s.timeouts.MaxSessionDuration {
		s.endLocked(ReasonExpired)
		return
	}
	if s.status == models.StatusPaused && !s.graceDeadline.IsZero() && now.After(s.graceDeadline) {
		s.endLocked(ReasonTimeout)
		return
	}

	for offerer, po := range s.pendingOffers {
		if !now.After(po.deadline) {
			continue
		}
		delete(s.pendingOffers, offerer)
		if p, ok := s.participants[offerer]; ok {
			p.ConnectionState = models.ConnFailed
		}
		failed := models.ErrorData{Code: string(CodeConnectionTimeout), Message: "negotiation timed out"}
		s.unicastLocked(offerer, models.NewMessage(models.MessageTypeConnectionFailed, s.id, offerer, failed))
		s.unicastLocked(po.target, models.NewMessage(models.MessageTypeConnectionFailed, s.id, po.target, failed))
		log.Warn().Str("session", s.id).Str("offerer", offerer).Str("target", po.target).Msg("pending offer expired")
	}

	var timedOut []string
	for uid, p := range s.participants {
		age := now.Sub(p.LastActivity)
		switch {
		case s.timeouts.ConnectionTimeout > 0 && age > s.timeouts.ConnectionTimeout:
			p.ConnectionState = models.ConnDisconnected
			timedOut = append(timedOut, uid)
		case s.timeouts.HeartbeatInterval > 0 && age > s.timeouts.HeartbeatInterval:
			// A failed ping is only a missed check; the peer keeps its
			// state until the connection timeout declares it gone.
			if err := s.emitter.Probe(s.id, uid); err != nil {
				log.Warn().Err(err).Str("session", s.id).Str("user", uid).Msg("liveness probe failed")
			}
		}
	}
	for _, uid := range timedOut {
		if s.status == models.StatusEnded {
			return
		}
		_ = s.leaveLocked(uid, false, ReasonTimeout)
	}
}

func (s *Session) endLocked(reason string) {
	if s.status == models.StatusEnded {
		return
	}
	s.recorder.forceStopLocked()
	s.status = models.StatusEnded
	s.graceDeadline = time.Time{}

	left := models.NewMessage(models.MessageTypeSessionLeft, s.id, "", models.RosterData{Reason: reason})
	s.emitter.Broadcast(s.id, "", left)
	for uid, p := range s.participants {
		p.ConnectionState = models.ConnClosed
		s.registry.releaseUser(uid)
	}
	s.participants = make(map[string]*models.PeerConnectionState)
	s.pendingOffers = make(map[string]*pendingOffer)
	s.candidateBuffer = make(map[string][]models.SignalingMessage)

	s.registry.dropSession(s.id)
	if s.notifier != nil {
		go s.notifier.SessionEnded(s.id, reason)
	}
	log.Info().Str("session", s.id).Str("reason", reason).Msg("session ended")
}

func (s *Session) rolesSatisfiedLocked() bool {
	var interviewer, interviewee bool
	for _, p := range s.participants {
		switch p.Role {
		case models.RoleInterviewer:
			interviewer = true
		case models.RoleInterviewee:
			interviewee = true
		}
	}
	return interviewer && interviewee
}

func (s *Session) hasInterviewerLocked() bool {
	for _, p := range s.participants {
		if p.Role == models.RoleInterviewer {
			return true
		}
	}
	return false
}

func (s *Session) ensureRecordingInvariantLocked() {
	if s.recordingActive && (s.status != models.StatusActive || !s.hasInterviewerLocked()) {
		s.recorder.forceStopLocked()
	}
}

func (s *Session) rosterLocked() []models.ParticipantInfo {
	roster := make([]models.ParticipantInfo, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, models.ParticipantInfo{
			UserID:          p.UserID,
			Role:            p.Role,
			ConnectionState: p.ConnectionState,
			MediaState:      p.MediaState,
		})
	}
	return roster
}

// soleCounterpartLocked resolves the implicit relay target in the common
// two-party case. Ambiguous with more participants.
func (s *Session) soleCounterpartLocked(userID string) string {
	var found string
	for uid := range s.participants {
		if uid == userID {
			continue
		}
		if found != "" {
			return ""
		}
		found = uid
	}
	return found
}

func (s *Session) forwardLocked(target string, msg models.SignalingMessage) {
	if err := s.emitter.Unicast(s.id, target, msg); err != nil {
		if p, ok := s.participants[target]; ok {
			p.ConnectionState = models.ConnFailed
		}
		log.Warn().Err(err).Str("session", s.id).Str("target", target).Str("type", string(msg.Type)).Msg("relay delivery failed")
	}
}

func (s *Session) unicastLocked(userID string, msg models.SignalingMessage) {
	if err := s.emitter.Unicast(s.id, userID, msg); err != nil {
		log.Warn().Err(err).Str("session", s.id).Str("user", userID).Str("type", string(msg.Type)).Msg("delivery failed")
	}
}

func (s *Session) bufferCandidateLocked(target string, msg models.SignalingMessage) {
	buf := s.candidateBuffer[target]
	if len(buf) >= iceBufferCap {
		buf = buf[1:]
		log.Warn().Str("session", s.id).Str("target", target).Msg("candidate buffer full, dropping oldest")
	}
	s.candidateBuffer[target] = append(buf, msg)
}

func (s *Session) flushCandidatesLocked(userID string) {
	for _, msg := range s.candidateBuffer[userID] {
		s.forwardLocked(userID, msg)
	}
	delete(s.candidateBuffer, userID)
}

func (s *Session) dropNegotiationsLocked(userID string) {
	delete(s.pendingOffers, userID)
	for offerer, po := range s.pendingOffers {
		if po.target == userID {
			delete(s.pendingOffers, offerer)
		}
	}
}

func (s *Session) openStreamLocked(userID string, typ models.StreamType, now time.Time) {
	id := uuid.NewString()
	s.mediaStreams[id] = &models.MediaStreamInfo{
		UserID:    userID,
		StreamID:  id,
		Type:      typ,
		Active:    true,
		StartedAt: now,
	}
}

func (s *Session) closeStreamLocked(userID string, typ models.StreamType) {
	for _, ms := range s.mediaStreams {
		if ms.UserID == userID && ms.Type == typ && ms.Active {
			ms.Active = false
		}
	}
}

func (s *Session) closeStreamsLocked(userID string) {
	for _, ms := range s.mediaStreams {
		if ms.UserID == userID && ms.Active {
			ms.Active = false
		}
	}
}

func (s *Session) applyFlagLocked(userID string, typ models.StreamType, before, after bool, now time.Time) {
	switch {
	case !before && after:
		s.openStreamLocked(userID, typ, now)
	case before && !after:
		s.closeStreamLocked(userID, typ)
	}
}
