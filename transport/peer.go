package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opd-ai/savi/av"
	"github.com/opd-ai/savi/limits"
	"github.com/opd-ai/savi/observe"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Defaults for Config.
const (
	DefaultBindAddress  = "[::]:0"
	DefaultPollInterval = 10 * time.Millisecond

	// readBatchSize is the most datagrams taken from the socket per wake-up.
	readBatchSize = 16
)

// Sink receives batches of playback items in sequence order.
type Sink interface {
	Push(items ...[]byte)
}

// Config configures a PeerTransport.
type Config struct {
	// BindAddress is the local UDP endpoint. Default: "[::]:0".
	BindAddress string

	// PollInterval bounds how long the receive loop blocks in a single read
	// before it re-checks the reorder buffer. Default: 10ms.
	PollInterval time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:  DefaultBindAddress,
		PollInterval: DefaultPollInterval,
	}
}

// PeerTransport is a point-to-point UDP voice channel with a readiness
// handshake and receive-side reordering.
//
// State moves from unbound to connected (not ready) on Connect, and to ready
// once the remote's handshake datagram arrives. Send is safe for concurrent
// use.
type PeerTransport struct {
	cfg      Config
	settings *av.Settings
	sink     Sink
	metrics  *observe.Metrics

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	looped bool
	closed bool

	ready   atomic.Bool
	seq     atomic.Uint64
	reorder *ReorderBuffer

	done      chan struct{}
	doneOnce  sync.Once
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

// NewPeerTransport creates an unbound transport delivering received items to
// sink. Zero config fields take their defaults. A nil settings uses
// av.NewSettings; a nil metrics uses observe.DefaultMetrics.
func NewPeerTransport(cfg Config, settings *av.Settings, sink Sink, metrics *observe.Metrics) *PeerTransport {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if settings == nil {
		settings = av.NewSettings()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &PeerTransport{
		cfg:      cfg,
		settings: settings,
		sink:     sink,
		metrics:  metrics,
		reorder:  NewReorderBuffer(),
		done:     make(chan struct{}),
	}
}

// Bind opens the local UDP socket. It is a no-op when already bound.
func (t *PeerTransport) Bind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bindLocked()
}

func (t *PeerTransport) bindLocked() error {
	if t.closed {
		return ErrClosed
	}
	if t.conn != nil {
		return nil
	}

	laddr, err := net.ResolveUDPAddr("udp", t.cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, t.cfg.BindAddress, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, t.cfg.BindAddress, err)
	}
	t.conn = conn

	logrus.WithFields(logrus.Fields{
		"function":   "PeerTransport.Bind",
		"local_addr": conn.LocalAddr().String(),
	}).Info("Voice socket bound")
	return nil
}

// LocalAddr returns the bound local address, or nil before Bind.
func (t *PeerTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// DiscoverExternalAddress asks STUN servers for the public mapping of the
// bound socket. It must run before Connect since the receive loop owns the
// socket afterwards.
func (t *PeerTransport) DiscoverExternalAddress(ctx context.Context, client *STUNClient) (string, error) {
	t.mu.Lock()
	conn, looped := t.conn, t.looped
	t.mu.Unlock()

	if conn == nil {
		return "", ErrNotBound
	}
	if looped {
		return "", ErrAlreadyConnected
	}

	addr, err := client.DiscoverPublicAddress(ctx, conn)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Connect binds if needed, records remote, sends the handshake datagram and
// starts the receive loop. Connect does not wait for the remote to answer.
func (t *PeerTransport) Connect(remote string) error {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrConnectionFailed, remote, err)
	}

	t.mu.Lock()
	if t.looped {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := t.bindLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.remote = raddr
	t.looped = true
	conn := t.conn
	t.mu.Unlock()

	// The handshake goes out before the first read so that both loops see
	// traffic even when neither side has received anything yet.
	if _, err := conn.WriteToUDP(livenessPacket, raddr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PeerTransport.Connect",
			"remote":   raddr.String(),
			"error":    err.Error(),
		}).Warn("Initial handshake send failed")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "PeerTransport.Connect",
		"local_addr": conn.LocalAddr().String(),
		"remote":     raddr.String(),
	}).Info("Voice transport connecting")

	go t.receiveLoop(conn, raddr)
	return nil
}

// Send transmits one compressed frame with the next sequence number.
func (t *PeerTransport) Send(payload []byte) (int, error) {
	if !t.ready.Load() {
		return 0, ErrPeerNotReady
	}
	if err := limits.ValidatePayload(payload); err != nil {
		return 0, err
	}

	t.mu.Lock()
	conn, remote := t.conn, t.remote
	t.mu.Unlock()
	if conn == nil || remote == nil {
		return 0, ErrClosed
	}

	seq := t.seq.Add(1) - 1
	n, err := conn.WriteToUDP(EncodeVoicePacket(payload, seq), remote)
	if err != nil {
		return n, fmt.Errorf("%w: send: %v", ErrConnectionFailed, err)
	}
	t.metrics.PacketsSent.Add(context.Background(), 1)
	return n, nil
}

// IsReady reports whether the readiness handshake has completed.
func (t *PeerTransport) IsReady() bool {
	return t.ready.Load()
}

// RemoteAddr returns the connected remote, or nil before Connect.
func (t *PeerTransport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return nil
	}
	return t.remote
}

// Done is closed when the receive loop exits, or on Close if it never ran.
func (t *PeerTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the fatal error that ended the receive loop, if any.
func (t *PeerTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close shuts the socket and waits for the receive loop to exit.
func (t *PeerTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn, looped := t.conn, t.looped
		t.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		if !looped {
			t.finish(nil)
		}
		<-t.done
	})
	return err
}

func (t *PeerTransport) finish(err error) {
	t.doneOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
	})
}

// batchReader reads every datagram already queued on the socket in one call.
type batchReader interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

func newBatchReader(conn *net.UDPConn) batchReader {
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() != nil {
		return ipv4.NewPacketConn(conn)
	}
	return ipv6.NewPacketConn(conn)
}

// receiveLoop owns the reorder buffer. Each read blocks for at most one
// poll interval and returns every datagram queued at wake-up; the timeout
// is the idle path. The buffer is flushed after every wake-up.
func (t *PeerTransport) receiveLoop(conn *net.UDPConn, remote *net.UDPAddr) {
	reader := newBatchReader(conn)
	msgs := make([]ipv4.Message, readBatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, limits.MaxDatagramSize)}
	}
	ctx := context.Background()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PollInterval))
		n, err := reader.ReadBatch(msgs, 0)

		switch {
		case err == nil:
			for i := range msgs[:n] {
				m := &msgs[i]
				from, _ := m.Addr.(*net.UDPAddr)
				if sameEndpoint(from, remote) {
					t.handleDatagram(conn, remote, m.Buffers[0][:m.N])
				} else {
					t.metrics.PacketsDiscarded.Add(ctx, 1, observe.Reason("foreign_source"))
				}
			}
		case isTimeout(err):
		case errors.Is(err, syscall.ECONNREFUSED):
			logrus.WithFields(logrus.Fields{
				"function": "PeerTransport.receiveLoop",
				"remote":   remote.String(),
			}).Debug("Remote refused datagram, retrying")
		case errors.Is(err, net.ErrClosed):
			t.finish(nil)
			return
		default:
			logrus.WithFields(logrus.Fields{
				"function": "PeerTransport.receiveLoop",
				"remote":   remote.String(),
				"error":    err.Error(),
			}).Error("Voice socket failed")
			_ = conn.Close()
			t.finish(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
			return
		}

		t.flush(ctx)
	}
}

func (t *PeerTransport) handleDatagram(conn *net.UDPConn, remote *net.UDPAddr, data []byte) {
	ctx := context.Background()

	if IsLiveness(data) && !t.ready.Load() {
		t.ready.Store(true)
		if _, err := conn.WriteToUDP(livenessPacket, remote); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "PeerTransport.handleDatagram",
				"error":    err.Error(),
			}).Warn("Handshake echo failed")
		}
		t.metrics.Handshakes.Add(ctx, 1)
		logrus.WithFields(logrus.Fields{
			"function": "PeerTransport.handleDatagram",
			"remote":   remote.String(),
		}).Info("Peer ready")
		return
	}

	payload, seq, err := DecodeVoicePacket(data)
	if err != nil {
		t.metrics.PacketsDiscarded.Add(ctx, 1, observe.Reason("malformed"))
		return
	}

	item := make([]byte, len(payload)+1)
	copy(item, payload)
	item[len(payload)] = t.settings.Volume()
	t.reorder.Push(seq, item)
	t.metrics.PacketsReceived.Add(ctx, 1)
}

func (t *PeerTransport) flush(ctx context.Context) {
	if t.reorder.Len() <= 1 {
		return
	}
	items := t.reorder.Drain()
	t.metrics.ReorderBatch.Record(ctx, int64(len(items)))
	if t.sink != nil {
		t.sink.Push(items...)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.Port == b.Port && a.IP.Equal(b.IP)
}
