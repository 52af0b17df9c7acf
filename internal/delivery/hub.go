package delivery

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
)

type EventType string

const (
	EventMessage             EventType = "message"
	EventParticipantsChanged EventType = "participants_changed"
	EventNotification        EventType = "notification"
	EventPing                EventType = "ping"
)

// Event is one discrete frame pushed to a stream client.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// session is one live stream. conversationID 0 means the notifications
// scope. Only the polling goroutine writes to the connection.
type session struct {
	conn           *websocket.Conn
	principal      models.Principal
	conversationID uint

	closeOnce sync.Once
	closeCh   chan struct{}
	nudgeCh   chan struct{}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

func (s *session) nudge() {
	select {
	case s.nudgeCh <- struct{}{}:
	default:
	}
}

// Hub runs the stream sessions. Each session is a cooperative loop that
// re-reads the gateway's authoritative query on a short interval, pushes
// new events, heartbeats, and self-terminates on disconnect, authorization
// loss, or the maximum session duration. Nudges from writers only shorten
// the wait; the next tick would observe the same state.
type Hub struct {
	gateway *Gateway

	mu       sync.RWMutex
	sessions map[*session]struct{}

	pollInterval       time.Duration
	pingInterval       time.Duration
	maxSessionDuration time.Duration
}

func NewHub(gateway *Gateway) *Hub {
	return &Hub{
		gateway:            gateway,
		sessions:           make(map[*session]struct{}),
		pollInterval:       2 * time.Second,
		pingInterval:       25 * time.Second,
		maxSessionDuration: 30 * time.Minute,
	}
}

// ConversationChanged wakes every stream on a conversation.
func (h *Hub) ConversationChanged(conversationID uint) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.conversationID == conversationID && conversationID != 0 {
			s.nudge()
		}
	}
}

// NotificationsChanged wakes a principal's notification streams.
func (h *Hub) NotificationsChanged(p models.Principal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.conversationID == 0 && s.principal.Is(p) {
			s.nudge()
		}
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RunConversationSession serves one conversation stream until it ends.
// Blocks; call from the websocket handler goroutine.
func (h *Hub) RunConversationSession(conn *websocket.Conn, p models.Principal, conversationID uint, sinceID uint) {
	h.run(conn, p, conversationID, sinceID)
}

// RunNotificationSession serves one notifications stream until it ends.
func (h *Hub) RunNotificationSession(conn *websocket.Conn, p models.Principal, sinceID uint) {
	h.run(conn, p, 0, sinceID)
}

func (h *Hub) run(conn *websocket.Conn, p models.Principal, conversationID uint, sinceID uint) {
	s := &session{
		conn:           conn,
		principal:      p,
		conversationID: conversationID,
		closeCh:        make(chan struct{}),
		nudgeCh:        make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// The client sends nothing meaningful; the reader exists to observe
	// disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.close()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.maxSessionDuration)
	defer deadline.Stop()

	state := &sessionState{sinceID: sinceID, lastPing: time.Now()}
	for {
		if !h.pollOnce(s, state) {
			return
		}
		select {
		case <-s.closeCh:
			return
		case <-deadline.C:
			// Bounded session duration reached; normal termination. The
			// client reconnects with a fresh token.
			return
		case <-ticker.C:
		case <-s.nudgeCh:
		}
	}
}

type sessionState struct {
	sinceID             uint
	participantsVersion int64
	lastPing            time.Time
}

// pollOnce runs one iteration of the authoritative query and pushes any new
// events. Returns false when the session must end. No transaction stays
// open between iterations.
func (h *Hub) pollOnce(s *session, state *sessionState) bool {
	if s.conversationID != 0 {
		snap, err := h.gateway.ConversationChanges(s.principal, s.conversationID, state.sinceID)
		if err != nil {
			if errors.Is(err, service.ErrNotAuthorized) || errors.Is(err, service.ErrNotFound) {
				// Participation lost mid-session; normal termination.
				return false
			}
			log.Printf("stream poll failed for %s conv %d: %v", s.principal, s.conversationID, err)
			return true
		}
		for i := range snap.Messages {
			if err := s.conn.WriteJSON(Event{Type: EventMessage, Data: snap.Messages[i]}); err != nil {
				return false
			}
			state.sinceID = snap.Messages[i].ID
		}
		if state.participantsVersion != 0 && snap.ParticipantsVersion != state.participantsVersion {
			if err := s.conn.WriteJSON(Event{Type: EventParticipantsChanged}); err != nil {
				return false
			}
		}
		state.participantsVersion = snap.ParticipantsVersion
	} else {
		snap, err := h.gateway.NotificationChanges(s.principal, 0)
		if err != nil {
			log.Printf("stream poll failed for %s notifications: %v", s.principal, err)
			return true
		}
		// Unread list is newest-first; emit only what the client has not
		// seen, oldest first so ordering is preserved.
		for i := len(snap.Notifications) - 1; i >= 0; i-- {
			n := snap.Notifications[i]
			if n.ID <= state.sinceID {
				continue
			}
			if err := s.conn.WriteJSON(Event{Type: EventNotification, Data: n}); err != nil {
				return false
			}
			state.sinceID = n.ID
		}
	}

	if time.Since(state.lastPing) >= h.pingInterval {
		if err := s.conn.WriteJSON(Event{Type: EventPing}); err != nil {
			return false
		}
		state.lastPing = time.Now()
	}
	return true
}
