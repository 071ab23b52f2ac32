// Package chat implements the conversation protocol engine: session
// bootstrap, the chat hub handshake, single-flight turn taking and the
// demultiplexing of streamed answers into conversation events.
package chat

import (
	"context"

	"github.com/altfoxie/bing-client/internal/transport/ws"
)

// Conn abstracts the chat hub connection.
// This interface isolates transport details from the turn protocol.
type Conn interface {
	// Read reads a single message.
	// Returns io.EOF when the server closed the stream.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text message.
	Write(ctx context.Context, data []byte) error

	// CloseHandshake sends a close frame without tearing the connection down.
	CloseHandshake(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens chat hub connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WSDialer dials with the gobwas based transport.
func WSDialer(d ws.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		conn, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
