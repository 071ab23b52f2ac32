package chat

import "errors"

var (
	// ErrCookieNotFound means the credential lists several cookies and none
	// of them is _U.
	ErrCookieNotFound = errors.New(`cookie "_U" not found`)

	// ErrProtocol wraps HTTP and websocket transport failures.
	ErrProtocol = errors.New("protocol error")

	// ErrDecode wraps malformed bodies where decoding is mandatory.
	ErrDecode = errors.New("decode error")

	// ErrInit means the handshake ack never arrived.
	ErrInit = errors.New("init error, failed to read first message")

	// ErrBusy means a turn is already in flight on the conversation.
	ErrBusy = errors.New("websocket connection is busy")

	// ErrNotConnected means a write was attempted without an open connection.
	ErrNotConnected = errors.New("not connected")
)
