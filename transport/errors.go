package transport

import "errors"

var (
	// ErrPeerNotReady is returned by Send before the readiness handshake
	// completes. Callers drop the frame and keep going.
	ErrPeerNotReady = errors.New("peer not ready")

	// ErrMalformedPacket indicates a datagram too short to carry a
	// sequence number.
	ErrMalformedPacket = errors.New("malformed voice packet")

	// ErrBind indicates the local UDP endpoint could not be bound.
	ErrBind = errors.New("bind failed")

	// ErrConnectionFailed indicates a fatal socket error on the receive
	// path or an unusable remote address.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrAlreadyConnected indicates Connect or STUN discovery was attempted
	// after the receive loop started.
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrNotBound indicates an operation that needs the local socket was
	// called before Bind.
	ErrNotBound = errors.New("transport not bound")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("transport closed")

	// ErrSTUNFailed indicates no STUN server produced a mapping.
	ErrSTUNFailed = errors.New("STUN discovery failed")
)
