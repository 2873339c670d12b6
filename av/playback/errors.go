package playback

import "errors"

var (
	// ErrDecode indicates a queued payload the decoder rejected. It is
	// counted and the callback outputs silence for that cycle.
	ErrDecode = errors.New("payload decode failed")

	// ErrSchedulerRunning indicates Start was called twice.
	ErrSchedulerRunning = errors.New("playback scheduler already running")
)
