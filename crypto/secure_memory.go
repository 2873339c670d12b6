package crypto

import (
	"errors"
	"runtime"
)

// errWipeNil is returned by SecureWipe for a nil slice.
var errWipeNil = errors.New("cannot wipe nil buffer")

// SecureWipe overwrites key material with zeros. KeepAlive keeps the write
// from being discarded as dead.
func SecureWipe(buf []byte) error {
	if buf == nil {
		return errWipeNil
	}
	clear(buf)
	runtime.KeepAlive(buf)
	return nil
}

// ZeroBytes is SecureWipe for callers that have nothing to do on a nil
// buffer.
func ZeroBytes(buf []byte) {
	_ = SecureWipe(buf)
}
