package savi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/opd-ai/savi/av"
	"github.com/opd-ai/savi/av/audio"
	"github.com/opd-ai/savi/av/device"
	"github.com/opd-ai/savi/av/playback"
	"github.com/opd-ai/savi/config"
	"github.com/opd-ai/savi/observe"
	"github.com/opd-ai/savi/signaling"
	"github.com/opd-ai/savi/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyJoined indicates Host or Connect was called on a session
	// that already joined a relay.
	ErrAlreadyJoined = errors.New("session already joined a relay")

	// ErrSessionClosed indicates use of a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// EncoderFactory builds the capture codec.
type EncoderFactory func(sampleRate, channels, bitrate int) (audio.Encoder, error)

// DecoderFactory builds the playback codec.
type DecoderFactory func(sampleRate, channels int) (audio.Decoder, error)

// Options configures a Session.
type Options struct {
	// Config is the engine configuration. Default: config.Default().
	Config *config.Config

	// Username identifies this peer on the relay. Overrides
	// Config.Signaling.Username when set.
	Username string

	// Metrics receives instrumentation. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics

	// NewEncoder and NewDecoder build the codecs. Default: libopus.
	NewEncoder EncoderFactory
	NewDecoder DecoderFactory

	// STUN is used when Config.Network.DiscoverExternal is set.
	STUN *transport.STUNClient
}

// NewOptions returns Options with the default configuration.
func NewOptions() *Options {
	return &Options{
		Config:     config.Default(),
		NewEncoder: defaultEncoder,
		NewDecoder: defaultDecoder,
	}
}

func defaultEncoder(sampleRate, channels, bitrate int) (audio.Encoder, error) {
	return audio.NewOpusEncoder(sampleRate, channels, bitrate)
}

func defaultDecoder(sampleRate, channels int) (audio.Decoder, error) {
	return audio.NewOpusDecoder(sampleRate, channels)
}

// HostInfo is what the hosting side hands to the other participant out of
// band.
type HostInfo struct {
	ListenAddress string
	Key           string
}

// Session is one participant of a voice call: capture, playback, the direct
// voice transport and the relay connection used to find the other peer.
type Session struct {
	cfg      *config.Config
	opts     Options
	username string
	settings *av.Settings
	metrics  *observe.Metrics
	queue    *playback.Queue
	peer     *transport.PeerTransport

	mu        sync.Mutex
	vad       *audio.VoiceActivityEncoder
	capture   *audio.Capture
	scheduler *playback.Scheduler
	server    *signaling.Server
	client    *signaling.Client
	endpoint  string
	selfID    uint64
	hasID     bool
	remoteID  uint64
	connected bool
	closed    bool
	pump      sync.WaitGroup
}

// New creates an idle session.
func New(opts *Options) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	o := *opts
	if o.Config == nil {
		o.Config = config.Default()
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	if o.NewEncoder == nil {
		o.NewEncoder = defaultEncoder
	}
	if o.NewDecoder == nil {
		o.NewDecoder = defaultDecoder
	}
	if o.Metrics == nil {
		o.Metrics = observe.DefaultMetrics()
	}
	if o.STUN == nil {
		o.STUN = transport.NewSTUNClient()
		o.STUN.SetServers(o.Config.Network.STUNServers)
		o.STUN.SetTimeout(o.Config.Network.STUNTimeout)
	}

	settings, err := o.Config.Settings()
	if err != nil {
		return nil, err
	}

	username := o.Username
	if username == "" {
		username = o.Config.Signaling.Username
	}
	if username == "" {
		username = "savi"
	}

	queue := playback.NewQueue()
	peer := transport.NewPeerTransport(transport.Config{
		BindAddress:  o.Config.Network.BindAddress,
		PollInterval: o.Config.Network.PollInterval,
	}, settings, queue, o.Metrics)

	return &Session{
		cfg:      o.Config,
		opts:     o,
		username: username,
		settings: settings,
		metrics:  o.Metrics,
		queue:    queue,
		peer:     peer,
	}, nil
}

// StartCapture starts feeding dev into the encoder. The encoder is built on
// the first call and kept across restarts.
func (s *Session) StartCapture(dev device.CaptureDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.capture != nil && s.capture.Running() {
		return audio.ErrCaptureRunning
	}

	if s.vad == nil {
		dc := s.cfg.CaptureDevice()
		enc, err := s.opts.NewEncoder(dc.SampleRate, dc.Channels, int(s.settings.Bitrate()))
		if err != nil {
			return err
		}
		vad, err := audio.NewVoiceActivityEncoder(enc, s.settings, dc.Channels, s.cfg.Audio.OutboundQueue, s.metrics)
		if err != nil {
			_ = enc.Close()
			return err
		}
		s.vad = vad
		s.pump.Add(1)
		go s.pumpFrames(vad.Frames())
	}

	s.capture = audio.NewCapture(dev, s.vad)
	return s.capture.Start()
}

// StopCapture stops the capture device.
func (s *Session) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil
	}
	return s.capture.Stop()
}

// StartPlayback starts rendering received audio on dev.
func (s *Session) StartPlayback(dev device.PlaybackDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.scheduler != nil {
		return playback.ErrSchedulerRunning
	}

	dc := s.cfg.PlaybackDevice()
	dec, err := s.opts.NewDecoder(dc.SampleRate, dc.Channels)
	if err != nil {
		return err
	}
	sched, err := playback.NewScheduler(s.queue, dec, dev, dc.Channels, s.metrics)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	s.scheduler = sched
	return nil
}

// StopPlayback stops the playback device. Received audio keeps queueing.
func (s *Session) StopPlayback() error {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Stop()
}

// SetThreshold sets the voice activity gate.
func (s *Session) SetThreshold(threshold int32) {
	s.settings.SetThreshold(threshold)
}

// SetBitrate sets the encoder target bitrate. It applies to the running
// encoder without rebuilding it.
func (s *Session) SetBitrate(bitrate int32) error {
	s.mu.Lock()
	vad := s.vad
	s.mu.Unlock()
	if vad != nil {
		return vad.SetBitrate(bitrate)
	}
	return s.settings.SetBitrate(bitrate)
}

// SetVolume sets the playback volume for packets received from now on.
func (s *Session) SetVolume(volume uint8) {
	s.settings.SetVolume(volume)
}

// Intensity returns the level of the last captured frame.
func (s *Session) Intensity() int32 {
	s.mu.Lock()
	vad := s.vad
	s.mu.Unlock()
	if vad == nil {
		return 0
	}
	return vad.Intensity()
}

// Ready reports whether the voice channel to the other peer is up.
func (s *Session) Ready() bool {
	return s.peer.IsReady()
}

// Host starts a relay, joins it and returns the address and key the other
// participant needs.
func (s *Session) Host(ctx context.Context) (HostInfo, error) {
	s.mu.Lock()
	if err := s.joinableLocked(); err != nil {
		s.mu.Unlock()
		return HostInfo{}, err
	}
	server, err := signaling.NewServer(signaling.ServerConfig{
		ListenAddress: s.cfg.Signaling.ListenAddress,
		Port:          s.cfg.Signaling.ListenPort,
		Suite:         s.cfg.Signaling.Suite,
	}, s.metrics)
	if err != nil {
		s.mu.Unlock()
		return HostInfo{}, err
	}
	if err := server.Start(context.WithoutCancel(ctx)); err != nil {
		s.mu.Unlock()
		return HostInfo{}, err
	}
	s.server = server
	s.mu.Unlock()

	host, port := loopbackFor(server.Addr())
	if err := s.join(ctx, host, port, server.CipherKey()); err != nil {
		_ = server.Close()
		s.mu.Lock()
		s.server = nil
		s.mu.Unlock()
		return HostInfo{}, err
	}

	info := HostInfo{ListenAddress: server.ListenAddress(), Key: server.CipherKey()}
	logrus.WithFields(logrus.Fields{
		"function": "Session.Host",
		"address":  info.ListenAddress,
	}).Info("Hosting voice session")
	return info, nil
}

// Connect joins the relay at address ("host:port") with the host's key.
func (s *Session) Connect(ctx context.Context, address, key string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", signaling.ErrDial, address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: port %q", signaling.ErrDial, portStr)
	}

	s.mu.Lock()
	err = s.joinableLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.join(ctx, host, port, key)
}

func (s *Session) joinableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.client != nil || s.server != nil {
		return ErrAlreadyJoined
	}
	return nil
}

// join binds the voice socket, works out the endpoint to announce and
// connects to the relay. The announcement goes out once the welcome arrives.
func (s *Session) join(ctx context.Context, host string, port int, key string) error {
	if err := s.peer.Bind(); err != nil {
		return err
	}
	endpoint, err := s.voiceEndpoint(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()

	client, err := signaling.Dial(ctx, signaling.ClientConfig{
		Host:     host,
		Port:     port,
		Username: s.username,
		Key:      key,
		Suite:    s.cfg.Signaling.Suite,
	}, s.onControl, s.metrics)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = client.Close()
		return ErrSessionClosed
	}
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *Session) voiceEndpoint(ctx context.Context) (string, error) {
	if s.cfg.Network.DiscoverExternal {
		addr, err := s.peer.DiscoverExternalAddress(ctx, s.opts.STUN)
		if err == nil {
			return addr, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Session.voiceEndpoint",
			"error":    err.Error(),
		}).Warn("STUN discovery failed, announcing local address")
	}

	local, ok := s.peer.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", transport.ErrNotBound
	}
	ip := local.IP
	if ip == nil || ip.IsUnspecified() {
		ip = signaling.LocalIP()
	}
	announced := &net.UDPAddr{IP: ip, Port: local.Port}
	if transport.IsPrivateAddress(announced) {
		logrus.WithFields(logrus.Fields{
			"function": "Session.voiceEndpoint",
			"endpoint": announced.String(),
		}).Debug("Announcing private address, peer must share the network")
	}
	return announced.String(), nil
}

// onControl handles decrypted relay messages on the client's read goroutine.
func (s *Session) onControl(msg string) {
	ctx := context.Background()

	if signaling.IsWelcome(msg) {
		id, err := signaling.ParseWelcome(msg)
		if err != nil {
			s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("malformed"))
			return
		}
		s.mu.Lock()
		s.selfID, s.hasID = id, true
		s.mu.Unlock()
		s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("welcome"))
		logrus.WithFields(logrus.Fields{
			"function": "Session.onControl",
			"peer_id":  id,
		}).Info("Joined relay")
		s.announce()
		return
	}

	env, err := signaling.ParseEnvelope(msg)
	if err != nil {
		s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("malformed"))
		logrus.WithFields(logrus.Fields{
			"function": "Session.onControl",
			"error":    err.Error(),
		}).Debug("Ignoring control message")
		return
	}

	switch env.Type {
	case signaling.TypeEndpoint:
		s.onEndpoint(env)
	case signaling.TypeBye:
		s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("bye"))
		logrus.WithFields(logrus.Fields{
			"function": "Session.onControl",
			"peer_id":  env.ID,
			"username": env.Username,
		}).Info("Peer left")
	}
}

func (s *Session) onEndpoint(env signaling.Envelope) {
	ctx := context.Background()

	s.mu.Lock()
	if !s.hasID || env.ID == s.selfID || s.connected {
		s.mu.Unlock()
		s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("endpoint_ignored"))
		return
	}
	s.connected = true
	s.remoteID = env.ID
	s.mu.Unlock()

	if err := s.peer.Connect(env.Address); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.onEndpoint",
			"address":  env.Address,
			"error":    err.Error(),
		}).Error("Voice transport connect failed")
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		return
	}
	s.metrics.RendezvousEvents.Add(ctx, 1, observe.Event("endpoint"))
	logrus.WithFields(logrus.Fields{
		"function": "Session.onEndpoint",
		"peer_id":  env.ID,
		"username": env.Username,
		"address":  env.Address,
	}).Info("Connecting voice channel")

	// The peer that announced first has not heard from us yet.
	s.announce()
}

func (s *Session) announce() {
	s.mu.Lock()
	client := s.client
	env := signaling.Envelope{
		Type:     signaling.TypeEndpoint,
		ID:       s.selfID,
		Username: s.username,
		Address:  s.endpoint,
	}
	s.mu.Unlock()
	if client == nil {
		return
	}

	text, err := env.Marshal()
	if err == nil {
		err = client.SendMessage(text)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Session.announce",
			"error":    err.Error(),
		}).Warn("Endpoint announcement failed")
	}
}

// pumpFrames sends encoded frames until the encoder closes. Frames produced
// before the handshake completes are dropped.
func (s *Session) pumpFrames(frames <-chan []byte) {
	defer s.pump.Done()
	ctx := context.Background()
	for frame := range frames {
		_, err := s.peer.Send(frame)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrPeerNotReady):
			s.metrics.FramesDropped.Add(ctx, 1, observe.Reason("not_ready"))
		default:
			s.metrics.FramesDropped.Add(ctx, 1, observe.Reason("send_error"))
			logrus.WithFields(logrus.Fields{
				"function": "Session.pumpFrames",
				"error":    err.Error(),
			}).Debug("Voice send failed")
		}
	}
}

// Close says goodbye on the relay and releases every resource.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	capture, vad, sched := s.capture, s.vad, s.scheduler
	client, server := s.client, s.server
	env := signaling.Envelope{Type: signaling.TypeBye, ID: s.selfID, Username: s.username}
	s.mu.Unlock()

	var errs []error
	if client != nil {
		if text, err := env.Marshal(); err == nil {
			_ = client.SendMessage(text)
		}
	}
	if capture != nil {
		errs = append(errs, capture.Stop())
	}
	if sched != nil {
		errs = append(errs, sched.Stop())
	}
	if vad != nil {
		errs = append(errs, vad.Close())
	}
	s.pump.Wait()
	errs = append(errs, s.peer.Close())
	s.queue.Close()
	if client != nil {
		errs = append(errs, client.Close())
	}
	if server != nil {
		errs = append(errs, server.Close())
	}
	return errors.Join(errs...)
}

// loopbackFor returns a dialable host for a listener address, mapping the
// unspecified address to loopback of the same family.
func loopbackFor(addr net.Addr) (string, int) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "127.0.0.1", 0
	}
	switch {
	case !tcp.IP.IsUnspecified():
		return tcp.IP.String(), tcp.Port
	case tcp.IP.To4() != nil:
		return "127.0.0.1", tcp.Port
	default:
		return "::1", tcp.Port
	}
}
