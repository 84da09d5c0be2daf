package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the closed tag on every signaling message. The router refuses
// anything outside this set before it reaches a session.
type MessageType string

const (
	// Client → server.
	MessageTypeJoinSession  MessageType = "JOIN_SESSION"
	MessageTypeLeaveSession MessageType = "LEAVE_SESSION"

	// Relayed peer-to-peer, payload opaque.
	MessageTypeOffer        MessageType = "OFFER"
	MessageTypeAnswer       MessageType = "ANSWER"
	MessageTypeICECandidate MessageType = "ICE_CANDIDATE"

	// Client → server, broadcast back out.
	MessageTypeMediaStateChange MessageType = "MEDIA_STATE_CHANGE"
	MessageTypeRecordingStart   MessageType = "RECORDING_START"
	MessageTypeRecordingStop    MessageType = "RECORDING_STOP"

	// Server → client only.
	MessageTypeSessionJoined    MessageType = "SESSION_JOINED"
	MessageTypeSessionLeft      MessageType = "SESSION_LEFT"
	MessageTypeError            MessageType = "ERROR"
	MessageTypeConnectionFailed MessageType = "CONNECTION_FAILED"
)

var inboundTypes = map[MessageType]bool{
	MessageTypeJoinSession:      true,
	MessageTypeLeaveSession:     true,
	MessageTypeOffer:            true,
	MessageTypeAnswer:           true,
	MessageTypeICECandidate:     true,
	MessageTypeMediaStateChange: true,
	MessageTypeRecordingStart:   true,
	MessageTypeRecordingStop:    true,
}

// SignalingMessage is the wire envelope. Data carries the per-type payload and
// is never interpreted for relayed types; it is forwarded byte-for-byte.
type SignalingMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	TargetID  string          `json:"targetId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope shape for an inbound message: the type must be
// one a client is allowed to send and the addressing fields must be present.
func (m *SignalingMessage) Validate() error {
	if !inboundTypes[m.Type] {
		return fmt.Errorf("unrecognized message type %q", m.Type)
	}
	if m.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}

// IsRelay reports whether the message is forwarded verbatim between peers.
func (m *SignalingMessage) IsRelay() bool {
	switch m.Type {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}

// NewMessage builds an outbound envelope, marshaling payload into Data.
// A nil payload leaves Data empty.
func NewMessage(typ MessageType, sessionID, userID string, payload any) SignalingMessage {
	msg := SignalingMessage{
		Type:      typ,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			// Payload types are all structs defined below; this cannot fail
			// outside of a programming error.
			panic(fmt.Sprintf("marshal %s payload: %v", typ, err))
		}
		msg.Data = data
	}
	return msg
}

// JoinData is the JOIN_SESSION payload.
type JoinData struct {
	Role             PeerRole   `json:"userRole"`
	MediaConstraints MediaState `json:"mediaConstraints"`
}

// RosterData is the SESSION_JOINED / SESSION_LEFT payload.
type RosterData struct {
	UserID       string            `json:"userId"`
	Participants []ParticipantInfo `json:"participants"`
	Reason       string            `json:"reason,omitempty"`
}

// ParticipantInfo is the wire view of one participant's state.
type ParticipantInfo struct {
	UserID          string     `json:"userId"`
	Role            PeerRole   `json:"role"`
	ConnectionState ConnState  `json:"connectionState"`
	MediaState      MediaState `json:"mediaState"`
}

// ErrorData is the ERROR and CONNECTION_FAILED payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
