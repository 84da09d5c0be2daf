// Package router validates inbound signaling envelopes, resolves the target
// session, and dispatches to its serialized handler. Handler failures come
// back to the originating connection as unicast ERROR messages; state
// mutations and fan-out happen inside the session.
package router

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/internal/models"
	"github.com/mossy-p/interview-signaling/internal/session"
)

// ReplyFunc delivers a message straight back to the connection that produced
// the inbound message, bypassing the session roster. Used for errors, which
// must reach senders that never managed to join.
type ReplyFunc func(models.SignalingMessage)

type Router struct {
	registry *session.Registry
}

func New(registry *session.Registry) *Router {
	return &Router{registry: registry}
}

// Dispatch routes one inbound message. Protocol violations are answered on
// the wire as ERROR messages and logged; the returned error mirrors that
// outcome so the transport can tell whether the operation took effect.
func (rt *Router) Dispatch(msg models.SignalingMessage, reply ReplyFunc) error {
	if err := msg.Validate(); err != nil {
		sigErr := &session.SignalError{
			Code:    session.CodeInvalidMessageFormat,
			Message: err.Error(),
		}
		rt.replyError(msg, reply, sigErr)
		return sigErr
	}

	sess, err := rt.registry.GetSession(msg.SessionID)
	if err != nil {
		rt.replyError(msg, reply, err)
		return err
	}

	switch msg.Type {
	case models.MessageTypeJoinSession:
		err = rt.handleJoin(sess, msg)
	case models.MessageTypeLeaveSession:
		err = sess.Leave(msg.UserID, true, session.ReasonLeft)
	case models.MessageTypeOffer, models.MessageTypeAnswer, models.MessageTypeICECandidate:
		err = sess.Relay(msg)
	case models.MessageTypeMediaStateChange:
		var state models.MediaState
		if jsonErr := json.Unmarshal(msg.Data, &state); jsonErr != nil {
			err = &session.SignalError{Code: session.CodeInvalidMessageFormat, Message: "malformed media state payload"}
		} else {
			err = sess.MediaStateChange(msg.UserID, state)
		}
	case models.MessageTypeRecordingStart:
		err = sess.RecordingStart(msg.UserID)
	case models.MessageTypeRecordingStop:
		err = sess.RecordingStop(msg.UserID)
	}

	if err != nil {
		rt.replyError(msg, reply, err)
	}
	return err
}

func (rt *Router) handleJoin(sess *session.Session, msg models.SignalingMessage) error {
	var data models.JoinData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return &session.SignalError{Code: session.CodeInvalidMessageFormat, Message: "malformed join payload"}
	}
	if data.Role != models.RoleInterviewer && data.Role != models.RoleInterviewee {
		return &session.SignalError{Code: session.CodeInvalidMessageFormat, Message: "userRole must be interviewer or interviewee"}
	}
	// A user bound to a different session must leave it before joining here.
	if bound, ok := rt.registry.UserSession(msg.UserID); ok && bound != msg.SessionID {
		return &session.SignalError{Code: session.CodeUserAlreadyInSession, Message: "user " + msg.UserID + " is already in session " + bound}
	}
	return sess.Join(msg.UserID, data.Role, data.MediaConstraints)
}

func (rt *Router) replyError(msg models.SignalingMessage, reply ReplyFunc, err error) {
	code := session.CodeOf(err)
	log.Debug().Str("session", msg.SessionID).Str("user", msg.UserID).Str("type", string(msg.Type)).Str("code", string(code)).Msg("rejected message")
	if reply == nil {
		return
	}
	reply(models.NewMessage(models.MessageTypeError, msg.SessionID, msg.UserID, models.ErrorData{
		Code:    string(code),
		Message: err.Error(),
	}))
}
