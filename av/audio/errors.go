package audio

import "errors"

var (
	// ErrUnsupportedChannels indicates a channel count the codec cannot be
	// built for. It is reported at construction, never per frame.
	ErrUnsupportedChannels = errors.New("unsupported channel count")

	// ErrCodecInitialization indicates codec setup failed.
	ErrCodecInitialization = errors.New("codec initialization failed")

	// ErrEmptyFrame indicates an empty PCM frame or compressed payload.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrEncoderClosed indicates the encoder was used after Close.
	ErrEncoderClosed = errors.New("encoder closed")
)
