package crypto

import "errors"

var (
	// ErrInvalidKey indicates a key that is not base64 or not 256 bits long.
	ErrInvalidKey = errors.New("invalid cipher key")

	// ErrDecryptFailed indicates a blob that could not be authenticated or
	// decoded. Callers on the signaling path drop the message.
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrUnknownSuite indicates an unsupported cipher suite name or value.
	ErrUnknownSuite = errors.New("unknown cipher suite")
)
