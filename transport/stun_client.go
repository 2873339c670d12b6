package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"github.com/sirupsen/logrus"
)

// DefaultSTUNTimeout bounds a single STUN server query.
const DefaultSTUNTimeout = 5 * time.Second

// DefaultSTUNServers are public STUN servers tried in order.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// STUNClient discovers the public address of a UDP socket through STUN
// binding requests.
type STUNClient struct {
	servers []string
	timeout time.Duration
}

// NewSTUNClient creates a client using DefaultSTUNServers.
func NewSTUNClient() *STUNClient {
	return &STUNClient{
		servers: append([]string(nil), DefaultSTUNServers...),
		timeout: DefaultSTUNTimeout,
	}
}

// SetServers replaces the server list. An empty list restores the defaults.
func (sc *STUNClient) SetServers(servers []string) {
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	sc.servers = append([]string(nil), servers...)
}

// SetTimeout sets the per-server query timeout.
func (sc *STUNClient) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		sc.timeout = timeout
	}
}

// DiscoverPublicAddress sends a binding request from conn to each server in
// turn and returns the first mapped address. The socket's read deadline is
// cleared before returning. conn must not be read concurrently.
func (sc *STUNClient) DiscoverPublicAddress(ctx context.Context, conn net.PacketConn) (net.Addr, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	defer conn.SetReadDeadline(time.Time{})

	var lastErr error
	for _, server := range sc.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		addr, err := sc.query(ctx, conn, server)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function":    "STUNClient.DiscoverPublicAddress",
				"server":      server,
				"public_addr": addr.String(),
			}).Info("Public address discovered")
			return addr, nil
		}
		lastErr = err

		logrus.WithFields(logrus.Fields{
			"function": "STUNClient.DiscoverPublicAddress",
			"server":   server,
			"error":    err.Error(),
		}).Debug("STUN server failed")
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrSTUNFailed, lastErr)
}

func (sc *STUNClient) query(ctx context.Context, conn net.PacketConn, server string) (net.Addr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}

	request, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	deadline := time.Now().Add(sc.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.WriteTo(request.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("send request to %s: %w", server, err)
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, fmt.Errorf("read response from %s: %w", server, err)
		}
		if !stun.IsMessage(buf[:n]) || !sameAddr(from, serverAddr) {
			continue
		}

		response := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := response.Decode(); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if response.TransactionID != request.TransactionID {
			continue
		}
		return parseBindingResponse(response)
	}
}

// parseBindingResponse extracts the mapped address, preferring the XOR form.
func parseBindingResponse(m *stun.Message) (net.Addr, error) {
	if m.Type != stun.BindingSuccess {
		var code stun.ErrorCodeAttribute
		if err := code.GetFrom(m); err == nil {
			return nil, fmt.Errorf("binding error %d: %s", code.Code, code.Reason)
		}
		return nil, fmt.Errorf("unexpected message type %s", m.Type)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(m); err != nil {
		return nil, fmt.Errorf("no mapped address in response: %w", err)
	}
	return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
}

func sameAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	return ok && sameEndpoint(ua, b)
}
