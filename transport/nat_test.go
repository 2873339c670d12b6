package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSTUNClient_DiscoverExternalAddress(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 4), Port: 40000}
	client := NewSTUNClient()
	client.SetServers([]string{fakeSTUNServer(t, mapped)})
	client.SetTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := client.DiscoverExternalAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4:40000", addr)
}

func TestSTUNClient_DiscoverExternalAddressFails(t *testing.T) {
	client := NewSTUNClient()
	client.SetServers([]string{silentServer(t)})
	client.SetTimeout(100 * time.Millisecond)

	_, err := client.DiscoverExternalAddress(context.Background())
	assert.ErrorIs(t, err, ErrSTUNFailed)
}

func TestIsPrivateAddress(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want bool
	}{
		{"rfc1918 10/8", &net.UDPAddr{IP: net.ParseIP("10.1.2.3")}, true},
		{"rfc1918 172.16/12", &net.UDPAddr{IP: net.ParseIP("172.20.0.1")}, true},
		{"rfc1918 192.168/16", &net.TCPAddr{IP: net.ParseIP("192.168.1.10")}, true},
		{"loopback", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, true},
		{"ipv6 loopback", &net.UDPAddr{IP: net.IPv6loopback}, true},
		{"ipv6 link local", &net.UDPAddr{IP: net.ParseIP("fe80::1")}, true},
		{"ipv6 ula", &net.UDPAddr{IP: net.ParseIP("fd00::1")}, true},
		{"public v4", &net.UDPAddr{IP: net.ParseIP("198.51.100.4")}, false},
		{"public v6", &net.UDPAddr{IP: net.ParseIP("2001:db8::1")}, false},
		{"172.32 is public", &net.UDPAddr{IP: net.ParseIP("172.32.0.1")}, false},
		{"nil ip", &net.UDPAddr{}, false},
		{"unix", &net.UnixAddr{Name: "/tmp/x", Net: "unix"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivateAddress(tt.addr))
		})
	}
}
