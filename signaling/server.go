package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/savi/crypto"
	"github.com/opd-ai/savi/limits"
	"github.com/opd-ai/savi/observe"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Defaults for ServerConfig.
const (
	DefaultListenAddress = "[::]"
	DefaultHandshakeTime = 10 * time.Second
)

// ServerConfig configures a relay server.
type ServerConfig struct {
	// ListenAddress is the host to bind. Default: "[::]".
	ListenAddress string

	// Port is the TCP port. 0 picks an ephemeral port.
	Port int

	// Suite selects the cipher used for the welcome message.
	Suite crypto.Suite

	// HandshakeTimeout bounds the WebSocket upgrade. Default: 10s.
	HandshakeTimeout time.Duration
}

// Server is the signaling relay. One cipher key is generated per server and
// stays fixed for its lifetime.
type Server struct {
	cfg      ServerConfig
	cipher   *crypto.CipherBox
	peers    *PeerTable
	metrics  *observe.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	group    *errgroup.Group
	cancel   context.CancelFunc
	closed   bool
	conns    sync.WaitGroup
}

// NewServer creates a relay and generates its cipher key. A nil metrics uses
// observe.DefaultMetrics.
func NewServer(cfg ServerConfig, metrics *observe.Metrics) (*Server, error) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTime
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	cipher, err := crypto.NewCipherBoxWithSuite("", cfg.Suite)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		cipher:  cipher,
		peers:   NewPeerTable(),
		metrics: metrics,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		// Peers connect from native clients, not browsers.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s, nil
}

// CipherKey returns the key clients need to read and write relay traffic.
func (s *Server) CipherKey() string {
	return s.cipher.Key()
}

// Start binds the listener and serves until ctx is cancelled or Close is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrServerRunning
	}

	addr := net.JoinHostPort(trimBrackets(s.cfg.ListenAddress), strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	s.cancel = cancel
	srv := s.httpSrv
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"addr":     ln.Addr().String(),
		"suite":    s.cipher.Suite().String(),
	}).Info("Signaling relay listening")
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAddress returns a host:port clients can dial. An unspecified bind
// host is replaced by the first non-loopback interface address.
func (s *Server) ListenAddress() string {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	ip := addr.IP
	if ip == nil || ip.IsUnspecified() {
		ip = LocalIP()
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(addr.Port))
}

// Peers returns the connected peers ordered by id.
func (s *Server) Peers() []PeerInfo {
	return s.peers.Snapshot()
}

// Close stops accepting connections, disconnects every peer and waits for
// the connection handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	group, cancel := s.group, s.cancel
	s.mu.Unlock()
	if group == nil {
		return nil
	}

	cancel()
	err := group.Wait()
	s.conns.Wait()
	return err
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		_ = srv.Close()
	}
	for _, p := range s.peers.drain() {
		p.out.close()
		_ = p.conn.Close()
	}
}

// ServeHTTP upgrades a relay connection and runs it until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username, err := parseUsername(r.URL.RawQuery)
	if err != nil {
		s.metrics.RelayRejected.Add(ctx, 1, observe.Reason("username"))
		logrus.WithFields(logrus.Fields{
			"function": "Server.ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("Rejecting relay handshake")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RelayRejected.Add(ctx, 1, observe.Reason("upgrade"))
		return
	}
	conn.SetReadLimit(limits.MaxControlMessage)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()
	s.handle(conn, r.RemoteAddr, username)
}

func (s *Server) handle(conn *websocket.Conn, remoteAddr, username string) {
	ctx := context.Background()
	out := newOutbox()
	id := s.peers.allocateID()

	welcome, err := s.cipher.Encrypt(FormatWelcome(id))
	if err != nil {
		_ = conn.Close()
		return
	}
	out.push(welcome)

	p := &peer{
		info: PeerInfo{ID: id, ConnID: uuid.New(), Username: username, RemoteAddr: remoteAddr},
		out:  out,
		conn: conn,
	}
	if !s.peers.insert(p) {
		_ = conn.Close()
		return
	}
	s.metrics.RelayPeers.Add(ctx, 1)

	log := logrus.WithFields(logrus.Fields{
		"function": "Server.handle",
		"peer_id":  id,
		"conn_id":  p.info.ConnID.String(),
		"username": username,
		"remote":   remoteAddr,
	})
	log.Info("Peer joined relay")

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		if err := forward(conn, out); err != nil {
			log.WithField("error", err.Error()).Debug("Forwarding stopped")
		}
		// A dead writer ends the read side too.
		_ = conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		n := s.peers.Broadcast(remoteAddr, string(data))
		s.metrics.RelayMessages.Add(ctx, int64(n))
	}

	s.peers.remove(remoteAddr)
	out.close()
	_ = conn.Close()
	<-forwardDone
	s.metrics.RelayPeers.Add(ctx, -1)
	log.Info("Peer left relay")
}

// parseUsername extracts a non-empty username from a raw query string.
func parseUsername(rawQuery string) (string, error) {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingUsername, err)
	}
	name := q.Get("username")
	if name == "" {
		return "", ErrMissingUsername
	}
	return name, nil
}

func trimBrackets(host string) string {
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}

// LocalIP returns the first non-loopback unicast address of this host,
// preferring IPv4, or the IPv4 loopback when none exists.
func LocalIP() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4(127, 0, 0, 1)
	}
	var v6 net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || !ipNet.IP.IsGlobalUnicast() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4
		}
		if v6 == nil {
			v6 = ipNet.IP
		}
	}
	if v6 != nil {
		return v6
	}
	return net.IPv4(127, 0, 0, 1)
}
