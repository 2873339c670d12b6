package signaling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Separator splits the key and value of the welcome message. It is outside
// ASCII so it cannot collide with usernames or ids.
const Separator = "¬"

const welcomeKey = "id"

// FormatWelcome renders the id assignment message.
func FormatWelcome(id uint64) string {
	return welcomeKey + Separator + strconv.FormatUint(id, 10) + "\n"
}

// ParseWelcome extracts the id from a welcome message.
func ParseWelcome(text string) (uint64, error) {
	key, value, ok := strings.Cut(strings.TrimRight(text, "\r\n"), Separator)
	if !ok || key != welcomeKey {
		return 0, fmt.Errorf("%w: not a welcome: %q", ErrMalformedControl, text)
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: welcome id %q: %v", ErrMalformedControl, value, err)
	}
	return id, nil
}

// IsWelcome reports whether text looks like a welcome message.
func IsWelcome(text string) bool {
	return strings.HasPrefix(text, welcomeKey+Separator)
}

// Envelope types.
const (
	// TypeEndpoint announces the sender's UDP voice endpoint.
	TypeEndpoint = "endpoint"

	// TypeBye announces that the sender is leaving.
	TypeBye = "bye"
)

// Envelope is a rendezvous message exchanged between peers through the
// relay. It is JSON encoded and then encrypted.
type Envelope struct {
	Type     string `json:"type"`
	ID       uint64 `json:"id"`
	Username string `json:"username,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Marshal encodes the envelope.
func (e Envelope) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseEnvelope decodes an envelope and checks its required fields.
func ParseEnvelope(text string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	switch e.Type {
	case TypeEndpoint:
		if e.Address == "" {
			return Envelope{}, fmt.Errorf("%w: endpoint without address", ErrMalformedControl)
		}
	case TypeBye:
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedControl, e.Type)
	}
	return e, nil
}
