package chat

import "sync"

// lease is one turn's claim on a conversation's connection slot.
type lease struct {
	conn Conn // nil while dialing
}

// connSlot holds the write half of the conversation's only connection.
// A lease is granted only while the slot is empty, so at most one turn is
// in flight per conversation.
type connSlot struct {
	mu    sync.Mutex
	lease *lease
}

// tryAcquire claims the empty slot.
func (s *connSlot) tryAcquire() (*lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != nil {
		return nil, false
	}
	s.lease = &lease{}
	return s.lease, true
}

// present reports whether a turn holds the slot.
func (s *connSlot) present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease != nil
}

// attach stores the dialed connection under l.
func (s *connSlot) attach(l *lease, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != l {
		return false
	}
	l.conn = conn
	return true
}

// writer returns the connection held by l.
func (s *connSlot) writer(l *lease) (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != l || l.conn == nil {
		return nil, false
	}
	return l.conn, true
}

// take empties the slot if l still holds it and hands back the connection.
// It returns nil when l was already released, so a stale turn can never
// clear a newer one.
func (s *connSlot) take(l *lease) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != l {
		return nil
	}
	s.lease = nil
	return l.conn
}
