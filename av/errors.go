package av

import "errors"

// Sentinel errors for runtime settings.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrInvalidBitRate indicates an encoder bitrate outside the codec range.
	ErrInvalidBitRate = errors.New("invalid bit rate")

	// ErrInvalidConfig indicates an audio configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid audio configuration")
)
