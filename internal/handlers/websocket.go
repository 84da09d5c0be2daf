package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/interview-signaling/internal/models"
	"github.com/mossy-p/interview-signaling/internal/router"
	"github.com/mossy-p/interview-signaling/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware.
		return true
	},
}

var errSendBufferFull = errors.New("send buffer full")
var errClientGone = errors.New("client not connected")

// Client is one authenticated WebSocket connection.
type Client struct {
	UserID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	ping chan struct{}

	mu        sync.Mutex
	closed    bool
	sessionID string
}

// Hub maps (sessionID, userID) to live connections and implements the
// session.Emitter contract. Sends never block: a full buffer counts as a
// delivery failure and the session degrades the peer.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[string]*Client // sessionID → userID → client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[string]*Client)}
}

// Unicast delivers one message to one named peer.
func (h *Hub) Unicast(sessionID, userID string, msg models.SignalingMessage) error {
	h.mu.RLock()
	client := h.clients[sessionID][userID]
	h.mu.RUnlock()
	if client == nil {
		return errClientGone
	}
	return client.trySend(msg)
}

// Broadcast fans a message out to every connection in the session except
// excludeUserID. Individual failures are logged, not propagated.
func (h *Hub) Broadcast(sessionID, excludeUserID string, msg models.SignalingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[sessionID]))
	for uid, c := range h.clients[sessionID] {
		if uid != excludeUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.trySend(msg); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("user", c.UserID).Str("type", string(msg.Type)).Msg("broadcast delivery failed")
		}
	}
}

// Probe asks the connection to emit a WebSocket ping; the pong refreshes the
// peer's liveness clock.
func (h *Hub) Probe(sessionID, userID string) error {
	h.mu.RLock()
	client := h.clients[sessionID][userID]
	h.mu.RUnlock()
	if client == nil {
		return errClientGone
	}
	select {
	case client.ping <- struct{}{}:
	default:
		// A ping is already queued; the pending one covers this check.
	}
	return nil
}

// register claims the (session, user) slot for c and returns whatever
// connection held it before, so a failed join can put it back.
func (h *Hub) register(sessionID string, c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.clients[sessionID]
	if !ok {
		peers = make(map[string]*Client)
		h.clients[sessionID] = peers
	}
	prev := peers[c.UserID]
	peers[c.UserID] = c
	return prev
}

// unregister releases the slot only if c still owns it, and reports whether
// it did. A stale connection closing after being displaced must not touch
// the current owner's registration or session state.
func (h *Hub) unregister(sessionID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.clients[sessionID]
	if !ok || peers[c.UserID] != c {
		return false
	}
	delete(peers, c.UserID)
	if len(peers) == 0 {
		delete(h.clients, sessionID)
	}
	return true
}

// HandleSignaling upgrades the authenticated connection and starts the pumps.
// The JWT middleware has already verified the caller and set user_id.
func HandleSignaling(hub *Hub, rt *router.Router, registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to upgrade connection")
			return
		}

		client := &Client{
			UserID: userID,
			hub:    hub,
			conn:   conn,
			send:   make(chan []byte, sendBufferSize),
			ping:   make(chan struct{}, 1),
		}
		log.Info().Str("user", userID).Msg("signaling connection established")

		go client.writePump()
		go client.readPump(rt, registry)
	}
}

func (c *Client) trySend(msg models.SignalingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *Client) joinedSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// handleJoin claims the hub slot before dispatching so the join confirmation
// and any buffered candidates reach this connection. A rejected join hands
// the slot back: a duplicate connection for an already-joined user must not
// displace the live one, and must not remember a session it never entered.
func (c *Client) handleJoin(rt *router.Router, msg models.SignalingMessage, reply router.ReplyFunc) {
	prev := c.hub.register(msg.SessionID, c)
	if err := rt.Dispatch(msg, reply); err != nil {
		if c.hub.unregister(msg.SessionID, c) && prev != nil {
			c.hub.register(msg.SessionID, prev)
		}
		return
	}
	c.setSession(msg.SessionID)
}

// handleDisconnect turns a dropped transport into an implicit leave, so the
// grace window lets the peer reconnect before the session is torn down. If a
// newer connection has since taken over the slot, the session stays as is.
func (c *Client) handleDisconnect(registry *session.Registry) {
	sid := c.joinedSession()
	if sid == "" {
		return
	}
	if !c.hub.unregister(sid, c) {
		return
	}
	if sess, err := registry.GetSession(sid); err == nil {
		_ = sess.Leave(c.UserID, false, session.ReasonTimeout)
	}
}

func (c *Client) readPump(rt *router.Router, registry *session.Registry) {
	defer func() {
		c.handleDisconnect(registry)
		c.close()
		log.Info().Str("user", c.UserID).Msg("signaling connection closed")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if sid := c.joinedSession(); sid != "" {
			if sess, err := registry.GetSession(sid); err == nil {
				sess.Touch(c.UserID)
			}
		}
		return nil
	})

	reply := func(msg models.SignalingMessage) {
		if err := c.trySend(msg); err != nil {
			log.Warn().Err(err).Str("user", c.UserID).Msg("failed to deliver error reply")
		}
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user", c.UserID).Msg("websocket read error")
			}
			return
		}

		var msg models.SignalingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			reply(models.NewMessage(models.MessageTypeError, "", c.UserID, models.ErrorData{
				Code:    string(session.CodeInvalidMessageFormat),
				Message: "malformed message",
			}))
			continue
		}

		// The sender identity comes from the verified token, never the wire.
		msg.UserID = c.UserID

		switch msg.Type {
		case models.MessageTypeJoinSession:
			c.handleJoin(rt, msg, reply)
		case models.MessageTypeLeaveSession:
			rt.Dispatch(msg, reply)
			if sid := c.joinedSession(); sid != "" {
				c.hub.unregister(sid, c)
				c.setSession("")
			}
		default:
			rt.Dispatch(msg, reply)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("user", c.UserID).Msg("failed to write message")
				return
			}

		case <-c.ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
