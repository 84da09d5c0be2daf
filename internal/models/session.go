package models

import "time"

// SessionStatus is the lifecycle state of an interview session. Transitions
// are monotonic except for the ACTIVE/PAUSED cycle; ENDED is terminal.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "WAITING"
	StatusActive  SessionStatus = "ACTIVE"
	StatusPaused  SessionStatus = "PAUSED"
	StatusEnded   SessionStatus = "ENDED"
)

// PeerRole distinguishes the two required participant roles. A session
// activates once at least one of each is present.
type PeerRole string

const (
	RoleInterviewer PeerRole = "interviewer"
	RoleInterviewee PeerRole = "interviewee"
)

// ConnState is the negotiation state of one peer connection.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// MediaState holds the participant's current media flags.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen,omitempty"`
}

// PeerConnectionState is the per-participant record owned by a session.
type PeerConnectionState struct {
	ID              string
	UserID          string
	SessionID       string
	Role            PeerRole
	ConnectionState ConnState
	MediaState      MediaState
	ConnectedAt     time.Time
	LastActivity    time.Time
}

// StreamType identifies what a media stream carries.
type StreamType string

const (
	StreamAudio  StreamType = "audio"
	StreamVideo  StreamType = "video"
	StreamScreen StreamType = "screen"
)

// MediaStreamInfo tracks one announced media stream. Entries are created when
// a media flag flips on and marked inactive when it flips off, never deleted.
type MediaStreamInfo struct {
	UserID    string     `json:"userId"`
	StreamID  string     `json:"streamId"`
	Type      StreamType `json:"type"`
	Active    bool       `json:"active"`
	StartedAt time.Time  `json:"startedAt"`
}

// SessionSnapshot is a read-only copy of session state for the REST API.
type SessionSnapshot struct {
	ID              string            `json:"id"`
	Status          SessionStatus     `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	RecordingActive bool              `json:"recordingActive"`
	Participants    []ParticipantInfo `json:"participants"`
	MediaStreams    []MediaStreamInfo `json:"mediaStreams"`
}

// SessionMetadata is what the REST API persists about a session (redis-backed).
type SessionMetadata struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateSessionResponse is the response for creating a session.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}
