// Package ws provides the client side WebSocket transport for the chat hub.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Dialer opens client connections.
type Dialer struct {
	// Header is sent with the upgrade request.
	Header http.Header
	// Timeout bounds the TCP dial and the upgrade handshake.
	Timeout time.Duration
}

// Dial connects to url and performs the WebSocket upgrade.
func (d Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	if len(d.Header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(d.Header)
	}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewConn(conn, br), nil
}

// Conn is a client side WebSocket connection carrying text messages.
// Read may run concurrently with Write and CloseHandshake.
type Conn struct {
	conn net.Conn
	rd   *wsutil.Reader

	// control frame replies are staged here by the reader, then written
	// under wmu
	ctrl    bytes.Buffer
	control wsutil.FrameHandlerFunc

	wmu       sync.Mutex
	closeSent atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded connection. br holds bytes the server sent
// right after the handshake and may be nil.
func NewConn(conn net.Conn, br io.Reader) *Conn {
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c := &Conn{conn: conn}
	c.control = wsutil.ControlFrameHandler(&c.ctrl, ws.StateClientSide)
	c.rd = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	return c
}

// Read returns the payload of the next text or binary message.
// It returns io.EOF once the server has closed the stream.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.rd); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.rd.Discard(); err != nil {
				return nil, c.readErr(ctx, err)
			}
			continue
		}
		data, err := io.ReadAll(c.rd)
		if err != nil {
			return nil, c.readErr(ctx, err)
		}
		return data, nil
	}
}

// Write sends data as a single text message.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// CloseHandshake sends a normal closure frame. The connection stays open so
// the reader can observe the server's reply. Only one close frame is ever
// sent per connection.
func (c *Conn) CloseHandshake(ctx context.Context) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if !c.closeSent.CompareAndSwap(false, true) {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	if err := wsutil.WriteClientMessage(c.conn, ws.OpClose, body); err != nil {
		return fmt.Errorf("failed to send close frame: %w", err)
	}
	return nil
}

// Close releases the underlying network connection. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the server address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	err := c.control(hdr, r)
	if c.ctrl.Len() == 0 {
		return err
	}
	defer c.ctrl.Reset()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	// the server's close answers ours and must not be echoed
	if hdr.OpCode == ws.OpClose && !c.closeSent.CompareAndSwap(false, true) {
		return err
	}
	if _, werr := c.conn.Write(c.ctrl.Bytes()); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (c *Conn) readErr(ctx context.Context, err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return io.EOF
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
