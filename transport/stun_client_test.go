package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSTUNServer answers binding requests with a fixed mapped address.
func fakeSTUNServer(t *testing.T, mapped *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			resp, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: mapped.IP, Port: mapped.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(resp.Raw, from)
		}
	}()

	return conn.LocalAddr().String()
}

// silentServer returns the address of a socket that never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.LocalAddr().String()
}

func TestSTUNClient_DiscoverPublicAddress(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 7), Port: 40000}
	client := NewSTUNClient()
	client.SetServers([]string{fakeSTUNServer(t, mapped)})
	client.SetTimeout(time.Second)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	addr, err := client.DiscoverPublicAddress(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7:40000", addr.String())
}

func TestSTUNClient_FallsBackToNextServer(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 1), Port: 1234}
	client := NewSTUNClient()
	client.SetServers([]string{silentServer(t), fakeSTUNServer(t, mapped)})
	client.SetTimeout(100 * time.Millisecond)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	addr, err := client.DiscoverPublicAddress(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1:1234", addr.String())
}

func TestSTUNClient_AllServersFail(t *testing.T) {
	client := NewSTUNClient()
	client.SetServers([]string{silentServer(t)})
	client.SetTimeout(50 * time.Millisecond)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	_, err = client.DiscoverPublicAddress(context.Background(), conn)
	assert.ErrorIs(t, err, ErrSTUNFailed)
}

func TestSTUNClient_Defaults(t *testing.T) {
	client := NewSTUNClient()
	assert.Equal(t, DefaultSTUNServers, client.servers)
	assert.Equal(t, DefaultSTUNTimeout, client.timeout)

	client.SetServers(nil)
	assert.Equal(t, DefaultSTUNServers, client.servers)
	client.SetTimeout(0)
	assert.Equal(t, DefaultSTUNTimeout, client.timeout)
}

func TestPeerTransport_DiscoverExternalAddress(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 5555}
	client := NewSTUNClient()
	client.SetServers([]string{fakeSTUNServer(t, mapped)})

	pt := newLoopbackTransport(t, nil, nil)
	addr, err := pt.DiscoverExternalAddress(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10:5555", addr)

	remote := rawPeer(t)
	require.NoError(t, pt.Connect(remote.LocalAddr().String()))
	_, err = pt.DiscoverExternalAddress(context.Background(), client)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}
