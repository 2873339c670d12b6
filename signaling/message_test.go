package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatWelcome(t *testing.T) {
	assert.Equal(t, "id¬0\n", FormatWelcome(0))
	assert.Equal(t, "id¬17\n", FormatWelcome(17))
}

func TestParseWelcome(t *testing.T) {
	id, err := ParseWelcome("id¬42\n")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"", "id:1\n", "name¬1\n", "id¬x\n", "id¬-1\n"} {
		_, err := ParseWelcome(bad)
		assert.ErrorIs(t, err, ErrMalformedControl, "input %q", bad)
	}
}

func TestIsWelcome(t *testing.T) {
	assert.True(t, IsWelcome(FormatWelcome(3)))
	assert.False(t, IsWelcome(`{"type":"bye"}`))
}

func TestEnvelope(t *testing.T) {
	text, err := Envelope{Type: TypeEndpoint, ID: 1, Username: "ana", Address: "192.0.2.1:4000"}.Marshal()
	require.NoError(t, err)

	e, err := ParseEnvelope(text)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:4000", e.Address)
	assert.Equal(t, uint64(1), e.ID)

	_, err = ParseEnvelope(`{"type":"endpoint","id":1}`)
	assert.ErrorIs(t, err, ErrMalformedControl)
	_, err = ParseEnvelope(`{"type":"shout"}`)
	assert.ErrorIs(t, err, ErrMalformedControl)
	_, err = ParseEnvelope(`not json`)
	assert.ErrorIs(t, err, ErrMalformedControl)
}

func TestOutbox_FIFOAndClose(t *testing.T) {
	o := newOutbox()
	require.True(t, o.push("a"))
	require.True(t, o.push("b"))
	o.close()
	assert.False(t, o.push("c"))

	msg, ok := o.pop()
	assert.True(t, ok)
	assert.Equal(t, "a", msg)
	msg, ok = o.pop()
	assert.True(t, ok)
	assert.Equal(t, "b", msg)
	_, ok = o.pop()
	assert.False(t, ok)
}

func TestPeerTable_IDsNeverReused(t *testing.T) {
	table := NewPeerTable()
	first := table.allocateID()
	require.True(t, table.insert(&peer{info: PeerInfo{ID: first, RemoteAddr: "a"}, out: newOutbox()}))
	second := table.allocateID()
	require.True(t, table.insert(&peer{info: PeerInfo{ID: second, RemoteAddr: "b"}, out: newOutbox()}))

	table.remove("a")
	assert.Equal(t, uint64(2), table.allocateID())
	assert.Equal(t, 1, table.Len())
}

func TestPeerTable_BroadcastSkipsSenderAndClosed(t *testing.T) {
	table := NewPeerTable()
	a, b, c := newOutbox(), newOutbox(), newOutbox()
	table.insert(&peer{info: PeerInfo{ID: 0, RemoteAddr: "a"}, out: a})
	table.insert(&peer{info: PeerInfo{ID: 1, RemoteAddr: "b"}, out: b})
	table.insert(&peer{info: PeerInfo{ID: 2, RemoteAddr: "c"}, out: c})
	c.close()

	assert.Equal(t, 1, table.Broadcast("a", "hi"))

	b.close()
	msg, ok := b.pop()
	assert.True(t, ok)
	assert.Equal(t, "hi", msg)

	a.close()
	_, ok = a.pop()
	assert.False(t, ok, "sender does not receive its own message")
}

func TestParseUsername(t *testing.T) {
	name, err := parseUsername("username=ana%20maria")
	require.NoError(t, err)
	assert.Equal(t, "ana maria", name)

	_, err = parseUsername("")
	assert.ErrorIs(t, err, ErrMissingUsername)
	_, err = parseUsername("username=%zz")
	assert.ErrorIs(t, err, ErrMissingUsername)
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/?username=ana", BuildURL("127.0.0.1", 8080, "ana"))
	assert.Equal(t, "ws://[::1]:8080/?username=a+b", BuildURL("[::1]", 8080, "a b"))
	assert.Equal(t, "ws://[::1]:8080/?username=a+b", BuildURL("::1", 8080, "a b"))
}
