package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// DiscoverExternalAddress reports the public host:port of a fresh
// ephemeral UDP socket using the default STUN servers.
func DiscoverExternalAddress(ctx context.Context) (string, error) {
	return NewSTUNClient().DiscoverExternalAddress(ctx)
}

// DiscoverExternalAddress binds an ephemeral dual-stack UDP socket, queries
// the configured servers through it and releases the socket.
func (sc *STUNClient) DiscoverExternalAddress(ctx context.Context) (string, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBind, err)
	}
	defer conn.Close()

	addr, err := sc.DiscoverPublicAddress(ctx, conn)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "STUNClient.DiscoverExternalAddress",
		"local":    conn.LocalAddr().String(),
		"external": addr.String(),
	}).Debug("External address resolved")
	return addr.String(), nil
}

// IsPrivateAddress reports whether addr lies in RFC 1918, loopback or
// link-local space and so is unlikely to be reachable across a NAT.
func IsPrivateAddress(addr net.Addr) bool {
	var ip net.IP
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return false
	}
	return isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	return ip.IsPrivate()
}
