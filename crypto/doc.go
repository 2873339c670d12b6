// Package crypto protects signaling messages with a shared symmetric key.
//
// A CipherBox wraps an AEAD keyed with 256 bits of key material. The host
// generates the key and shows it to the user, who passes it to the peer out
// of band. Both ends of a relay session must use the same key and suite.
//
// # Blob Format
//
// Encrypt returns a single line of base64 (standard alphabet, no padding):
//
//	base64( nonce (12 bytes) || ciphertext || tag (16 bytes) )
//
// A fresh random nonce is drawn for every message, so encrypting the same
// plaintext twice yields different blobs. Decrypt accepts blobs with or
// without trailing padding.
//
// # Suites
//
//   - SuiteAES256GCM: AES-256-GCM, the default
//   - SuiteChaCha20Poly1305: ChaCha20-Poly1305 from golang.org/x/crypto
//
// Usage:
//
//	box, err := crypto.NewCipherBox("")
//	if err != nil {
//	    return err
//	}
//	blob, _ := box.Encrypt("hello")
//	peer, _ := crypto.NewCipherBox(box.Key())
//	text, err := peer.Decrypt(blob)
//
// Every Decrypt failure wraps ErrDecryptFailed. Decrypt never panics on
// arbitrary input, which lets the relay drop tampered frames and carry on.
//
// Raw key bytes are wiped with ZeroBytes once the AEAD has been built.
// Log output never includes key material or blob bytes. SecureFieldHash
// reports a blob by size and SHA-256 fingerprint.
package crypto
