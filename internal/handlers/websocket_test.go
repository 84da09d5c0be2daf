package handlers

import (
	"encoding/json"
	"testing"

	"github.com/mossy-p/interview-signaling/internal/models"
	"github.com/mossy-p/interview-signaling/internal/router"
	"github.com/mossy-p/interview-signaling/internal/session"
)

func newJoinHarness(t *testing.T, sessionID string) (*Hub, *router.Router, *session.Registry) {
	t.Helper()
	hub := NewHub()
	reg := session.NewRegistry(hub, nil, nil, session.Timeouts{})
	if _, err := reg.CreateSession(sessionID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return hub, router.New(reg), reg
}

func joinMsg(sessionID, userID string, role models.PeerRole) models.SignalingMessage {
	return models.NewMessage(models.MessageTypeJoinSession, sessionID, userID, models.JoinData{Role: role})
}

func collectReplies(out *[]models.SignalingMessage) router.ReplyFunc {
	return func(msg models.SignalingMessage) { *out = append(*out, msg) }
}

func TestDuplicateJoinKeepsLiveConnection(t *testing.T) {
	hub, rt, reg := newJoinHarness(t, "sess-1")

	c1 := newTestClient("alice", 8)
	c1.hub = hub
	var c1Replies []models.SignalingMessage
	c1.handleJoin(rt, joinMsg("sess-1", "alice", models.RoleInterviewer), collectReplies(&c1Replies))
	if len(c1Replies) != 0 {
		t.Fatalf("first join replied with an error: %+v", c1Replies)
	}
	if c1.joinedSession() != "sess-1" {
		t.Fatalf("first connection did not record its session")
	}

	bob := newTestClient("bob", 8)
	bob.hub = hub
	var bobReplies []models.SignalingMessage
	bob.handleJoin(rt, joinMsg("sess-1", "bob", models.RoleInterviewee), collectReplies(&bobReplies))

	sess, err := reg.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status() != models.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", sess.Status())
	}

	// A second connection for an already-joined user is rejected and must
	// not displace the live one.
	c2 := newTestClient("alice", 8)
	c2.hub = hub
	var c2Replies []models.SignalingMessage
	c2.handleJoin(rt, joinMsg("sess-1", "alice", models.RoleInterviewer), collectReplies(&c2Replies))

	if len(c2Replies) != 1 || c2Replies[0].Type != models.MessageTypeError {
		t.Fatalf("duplicate join replies = %+v, want one ERROR", c2Replies)
	}
	var errData models.ErrorData
	if err := json.Unmarshal(c2Replies[0].Data, &errData); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if errData.Code != string(session.CodeUserAlreadyInSession) {
		t.Fatalf("error code = %s, want %s", errData.Code, session.CodeUserAlreadyInSession)
	}
	if c2.joinedSession() != "" {
		t.Fatalf("rejected connection recorded session %q", c2.joinedSession())
	}

	// The live connection still receives unicasts addressed to alice.
	queued := len(c1.send)
	if err := hub.Unicast("sess-1", "alice", models.NewMessage(models.MessageTypeOffer, "sess-1", "bob", nil)); err != nil {
		t.Fatalf("Unicast after duplicate join: %v", err)
	}
	if len(c1.send) != queued+1 {
		t.Fatalf("unicast did not reach the live connection")
	}
	if len(c2.send) != 0 {
		t.Fatalf("rejected connection received session traffic: %d queued", len(c2.send))
	}

	// Closing the rejected connection must not disturb the session.
	c2.handleDisconnect(reg)
	if sess.Status() != models.StatusActive {
		t.Fatalf("status after duplicate disconnect = %s, want ACTIVE", sess.Status())
	}
	found := false
	for _, p := range sess.Snapshot().Participants {
		if p.UserID == "alice" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alice dropped from the roster by a rejected connection")
	}
}

func TestStaleConnectionCloseAfterRejoin(t *testing.T) {
	hub, rt, reg := newJoinHarness(t, "sess-1")

	c1 := newTestClient("alice", 8)
	c1.hub = hub
	c1.handleJoin(rt, joinMsg("sess-1", "alice", models.RoleInterviewer), nil)

	bob := newTestClient("bob", 8)
	bob.hub = hub
	bob.handleJoin(rt, joinMsg("sess-1", "bob", models.RoleInterviewee), nil)

	sess, err := reg.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	// Alice's transport stalls and the sweep pauses the session; she then
	// rejoins over a fresh connection before the first one unwinds.
	if err := sess.Leave("alice", false, session.ReasonTimeout); err != nil {
		t.Fatalf("implicit leave: %v", err)
	}
	c2 := newTestClient("alice", 8)
	c2.hub = hub
	var c2Replies []models.SignalingMessage
	c2.handleJoin(rt, joinMsg("sess-1", "alice", models.RoleInterviewer), collectReplies(&c2Replies))
	if len(c2Replies) != 0 {
		t.Fatalf("rejoin replied with an error: %+v", c2Replies)
	}
	if sess.Status() != models.StatusActive {
		t.Fatalf("status after rejoin = %s, want ACTIVE", sess.Status())
	}

	// The stale connection finally errors out; it no longer owns the slot
	// and must not pull the rejoined alice back out.
	c1.handleDisconnect(reg)
	if sess.Status() != models.StatusActive {
		t.Fatalf("status after stale disconnect = %s, want ACTIVE", sess.Status())
	}
	if err := hub.Unicast("sess-1", "alice", models.NewMessage(models.MessageTypeOffer, "sess-1", "bob", nil)); err != nil {
		t.Fatalf("Unicast after stale disconnect: %v", err)
	}
	if len(c2.send) == 0 {
		t.Fatalf("unicast did not reach the rejoined connection")
	}
}
