package server

import (
	"sync"

	"github.com/gorilla/websocket"
)

// TurnRecord is an invocation the chat hub accepted.
type TurnRecord struct {
	InvocationID     string
	Text             string
	IsStartOfSession bool
}

// Conversation is a conversation issued by the create endpoint.
type Conversation struct {
	ID        string
	ClientID  string
	Signature string
	Cookie    string

	turns []TurnRecord
}

// stream is one chat hub websocket in progress.
type stream struct {
	conn       *websocket.Conn
	remoteAddr string
}

// Hub tracks issued conversations and open chat hub streams.
type Hub struct {
	conversations map[string]*Conversation
	streams       map[*stream]bool
	mu            sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		conversations: make(map[string]*Conversation),
		streams:       make(map[*stream]bool),
	}
}

// Register adds a conversation to the hub.
func (h *Hub) Register(c *Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversations[c.ID] = c
}

// lookup returns the conversation matching id and signature.
func (h *Hub) lookup(id, signature string) (*Conversation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conversations[id]
	if !ok || c.Signature != signature {
		return nil, false
	}
	return c, true
}

func (h *Hub) record(c *Conversation, turn TurnRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.turns = append(c.turns, turn)
}

// Turns returns the invocations accepted for a conversation, oldest first.
func (h *Hub) Turns(conversationID string) []TurnRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]TurnRecord(nil), c.turns...)
}

func (h *Hub) open(s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[s] = true
}

func (h *Hub) release(s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, s)
}

// ConversationCount returns number of issued conversations.
func (h *Hub) ConversationCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations)
}

// StreamCount returns number of open chat hub streams.
func (h *Hub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// closeStreams drops every open stream.
func (h *Hub) closeStreams() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for st := range h.streams {
		st.conn.Close()
	}
}

// ConversationIDs returns the ids of all issued conversations.
func (h *Hub) ConversationIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.conversations))
	for id := range h.conversations {
		ids = append(ids, id)
	}
	return ids
}
