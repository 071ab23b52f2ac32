package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/altfoxie/bing-client/internal/chat"
	"github.com/altfoxie/bing-client/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// mockConn is a scripted chat.Conn. Messages queued on readCh are returned
// by Read; closing readCh ends the stream with io.EOF.
type mockConn struct {
	readCh  chan []byte
	readErr error

	mu              sync.Mutex
	written         [][]byte
	writeErr        error
	failWriteAt     int
	closeHandshakes int
	closed          bool
	onCloseHS       func()
}

func newMockConn() *mockConn {
	return &mockConn{readCh: make(chan []byte, 32), failWriteAt: -1}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil && len(m.written) == m.failWriteAt {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) CloseHandshake(ctx context.Context) error {
	m.mu.Lock()
	m.closeHandshakes++
	cb := m.onCloseHS
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return "mock"
}

func (m *mockConn) push(s string) {
	m.readCh <- []byte(s)
}

func (m *mockConn) writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *mockConn) handshakes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeHandshakes
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockDialer hands out queued connections in order.
type mockDialer struct {
	mu    sync.Mutex
	conns []*mockConn
	err   error
	dials int
	urls  []string
}

func (d *mockDialer) Dial(ctx context.Context, url string) (chat.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more connections")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

var testIdentity = chat.Identity{
	ConversationID:        "conv-1",
	ClientID:              "client-1",
	ConversationSignature: "sig-1",
}

func newTestConversation(d *mockDialer) *chat.Conversation {
	return chat.Resume(chat.Config{
		ChatHubURL: "wss://hub.test/sydney/ChatHub",
		Dialer:     d,
	}, testIdentity)
}

const ack = "{}\x1e"

func updateFrame(text string) string {
	data, _ := json.Marshal(map[string]any{
		"type":   1,
		"target": "update",
		"arguments": []any{map[string]any{
			"messages": []any{map[string]any{"text": text, "author": "bot"}},
		}},
	})
	return string(data) + "\x1e"
}

const (
	completeFrame = "{\"type\":2,\"invocationId\":\"0\",\"item\":{}}\x1e"
	closeFrame    = "{\"type\":3,\"invocationId\":\"0\"}\x1e"
)

// collect reads events until the stream closes.
func collect(t *testing.T, turn *chat.Turn) []chat.Event {
	t.Helper()
	var events []chat.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-turn.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("timeout waiting for events")
			return nil
		}
	}
}

func waitDone(t *testing.T, turn *chat.Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for turn to finish")
	}
}

// decodeInvocation returns the single invocation argument of a written frame.
func decodeInvocation(t *testing.T, data []byte) protocol.InvocationArgument {
	t.Helper()
	frames, skipped := protocol.Decode(data)
	require.Empty(t, skipped)
	require.Len(t, frames, 1)

	var inv protocol.Invocation
	require.NoError(t, frames[0].Unmarshal(&inv))
	require.Len(t, inv.Arguments, 1)
	return inv.Arguments[0]
}
