package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a raw cipher key in bytes (256 bits).
const KeySize = 32

// NonceSize is the length of the nonce prefixed to every blob.
const NonceSize = 12

// encoding is used for keys and blobs: standard alphabet, no padding.
var encoding = base64.RawStdEncoding

// Suite selects the AEAD used by a CipherBox.
type Suite uint8

const (
	// SuiteAES256GCM is AES-256 in GCM mode with a 12-byte nonce.
	SuiteAES256GCM Suite = iota
	// SuiteChaCha20Poly1305 is ChaCha20-Poly1305 (RFC 8439) with a 12-byte nonce.
	SuiteChaCha20Poly1305
)

// String returns the configuration name of the suite.
func (s Suite) String() string {
	switch s {
	case SuiteAES256GCM:
		return "aes-256-gcm"
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("suite(%d)", uint8(s))
	}
}

// ParseSuite maps a configuration name to a Suite. An empty name selects
// SuiteAES256GCM.
func ParseSuite(name string) (Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-256-gcm", "aes256gcm":
		return SuiteAES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return SuiteChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
}

// GenerateKey returns a fresh random 256-bit key encoded as base64 without
// padding.
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	defer ZeroBytes(raw)
	return encoding.EncodeToString(raw), nil
}

// CipherBox encrypts and decrypts short text messages with a symmetric key.
// The key is fixed for the lifetime of the box and the box is safe for
// concurrent use.
type CipherBox struct {
	key   string
	suite Suite
	aead  cipher.AEAD
}

// NewCipherBox creates a CipherBox using SuiteAES256GCM. An empty key makes
// the box generate its own, which is what a hosting peer does.
func NewCipherBox(key string) (*CipherBox, error) {
	return NewCipherBoxWithSuite(key, SuiteAES256GCM)
}

// NewCipherBoxWithSuite creates a CipherBox for the given key and suite.
func NewCipherBoxWithSuite(key string, suite Suite) (*CipherBox, error) {
	generated := false
	if key == "" {
		var err error
		if key, err = GenerateKey(); err != nil {
			return nil, err
		}
		generated = true
	}

	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(raw)

	aead, err := newAEAD(raw, suite)
	if err != nil {
		return nil, err
	}

	log := NewLogger("NewCipherBoxWithSuite").
		WithSuite(suite).
		WithFields(logrus.Fields{"generated": generated})
	if generated {
		log.Info("Session key generated")
	} else {
		log.Debug("Cipher box created")
	}

	return &CipherBox{key: strings.TrimRight(key, "="), suite: suite, aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	raw, err := encoding.DecodeString(strings.TrimRight(strings.TrimSpace(key), "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		ZeroBytes(raw)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	return raw, nil
}

func newAEAD(raw []byte, suite Suite) (cipher.AEAD, error) {
	switch suite {
	case SuiteAES256GCM:
		block, err := aes.NewCipher(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return cipher.NewGCM(block)
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownSuite, uint8(suite))
	}
}

// Key returns the base64 encoded key. Hosts show it to the user so it can be
// handed to the connecting peer out of band.
func (c *CipherBox) Key() string {
	return c.key
}

// Suite returns the AEAD suite of the box.
func (c *CipherBox) Suite() Suite {
	return c.suite
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext) on a single line without padding.
func (c *CipherBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		NewLogger("CipherBox.Encrypt").WithError(err, "nonce").Warn("Entropy source failed")
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure wraps
// ErrDecryptFailed and never panics, whatever the input.
func (c *CipherBox) Decrypt(blob string) (string, error) {
	data, err := encoding.DecodeString(strings.TrimRight(strings.TrimSpace(blob), "="))
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrDecryptFailed, err)
	}
	if len(data) < NonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short (%d bytes)", ErrDecryptFailed, len(data))
	}

	nonce, ciphertext := data[:NonceSize], data[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		NewLogger("CipherBox.Decrypt").
			WithSuite(c.suite).
			WithFields(SecureFieldHash(data, "blob")).
			Debug("Authentication failed")
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecryptFailed)
	}
	return string(plaintext), nil
}
