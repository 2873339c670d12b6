package signaling

import "errors"

var (
	// ErrMissingUsername indicates an upgrade request without a usable
	// username query parameter. Only that handshake is rejected.
	ErrMissingUsername = errors.New("missing or malformed username")

	// ErrMalformedControl indicates a decrypted control message that does
	// not parse.
	ErrMalformedControl = errors.New("malformed control message")

	// ErrDial indicates the relay could not be reached.
	ErrDial = errors.New("relay dial failed")

	// ErrClientClosed indicates SendMessage after the client was torn down.
	ErrClientClosed = errors.New("signaling client closed")

	// ErrServerRunning indicates Start was called twice.
	ErrServerRunning = errors.New("relay already running")
)
