// Package config loads the settings.ini file that drives the voice engine
// and configures process logging.
//
// Every key is optional. Missing keys take the defaults returned by
// Default, so an empty file (or no file at all) yields a working
// configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/savi/av"
	"github.com/opd-ai/savi/av/device"
	"github.com/opd-ai/savi/crypto"
	ini "gopkg.in/ini.v1"
)

// ErrInvalidConfig indicates a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full engine configuration.
type Config struct {
	Audio     AudioConfig
	Network   NetworkConfig
	Signaling SignalingConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
}

// AudioConfig holds the [audio] section.
type AudioConfig struct {
	Backend          device.Backend
	CaptureChannels  int
	PlaybackChannels int
	SampleRate       int
	Period           time.Duration
	Bitrate          int32
	Threshold        int32
	Volume           uint8
	OutboundQueue    int

	// Decoder selects the playback codec: "opus" (libopus) or "pion"
	// (pure Go, SILK only).
	Decoder string
}

// NetworkConfig holds the [network] section.
type NetworkConfig struct {
	BindAddress      string
	PollInterval     time.Duration
	DiscoverExternal bool
	STUNServers      []string
	STUNTimeout      time.Duration
}

// SignalingConfig holds the [signaling] section.
type SignalingConfig struct {
	ListenAddress string
	ListenPort    int
	Username      string
	Suite         crypto.Suite
}

// LoggingConfig holds the [logging] section.
type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// MetricsConfig holds the [metrics] section. An empty ListenAddress
// disables the metrics endpoint.
type MetricsConfig struct {
	ListenAddress string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:          device.BackendNull,
			CaptureChannels:  1,
			PlaybackChannels: 2,
			SampleRate:       48000,
			Period:           10 * time.Millisecond,
			Bitrate:          av.DefaultBitrate,
			Threshold:        av.DefaultThreshold,
			Volume:           av.DefaultVolume,
			OutboundQueue:    64,
			Decoder:          "opus",
		},
		Network: NetworkConfig{
			BindAddress:  "[::]:0",
			PollInterval: 10 * time.Millisecond,
			STUNTimeout:  5 * time.Second,
		},
		Signaling: SignalingConfig{
			ListenAddress: "[::]",
			Suite:         crypto.SuiteAES256GCM,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 1,
		},
	}
}

// Load reads path. A missing path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return FromFile(f)
}

// FromFile reads an already parsed ini file and validates the result.
func FromFile(f *ini.File) (*Config, error) {
	def := Default()
	c := &Config{}

	sec := f.Section("audio")
	c.Audio.Backend = device.ParseBackend(sec.Key("backend").MustString(def.Audio.Backend.String()))
	c.Audio.CaptureChannels = sec.Key("capture_channels").MustInt(def.Audio.CaptureChannels)
	c.Audio.PlaybackChannels = sec.Key("playback_channels").MustInt(def.Audio.PlaybackChannels)
	c.Audio.SampleRate = sec.Key("sample_rate").MustInt(def.Audio.SampleRate)
	c.Audio.Period = time.Duration(sec.Key("period_ms").MustInt(int(def.Audio.Period/time.Millisecond))) * time.Millisecond
	c.Audio.Bitrate = int32(sec.Key("bitrate").MustInt(int(def.Audio.Bitrate)))
	c.Audio.Threshold = int32(sec.Key("threshold").MustInt(int(def.Audio.Threshold)))
	volume := sec.Key("volume").MustInt(int(def.Audio.Volume))
	c.Audio.OutboundQueue = sec.Key("outbound_queue").MustInt(def.Audio.OutboundQueue)
	c.Audio.Decoder = sec.Key("decoder").In(def.Audio.Decoder, []string{"opus", "pion"})

	sec = f.Section("network")
	c.Network.BindAddress = sec.Key("bind_address").MustString(def.Network.BindAddress)
	c.Network.PollInterval = time.Duration(sec.Key("poll_interval_ms").MustInt(int(def.Network.PollInterval/time.Millisecond))) * time.Millisecond
	c.Network.DiscoverExternal = sec.Key("discover_external").MustBool(false)
	c.Network.STUNServers = splitList(sec.Key("stun_servers").String())
	c.Network.STUNTimeout = time.Duration(sec.Key("stun_timeout_ms").MustInt(int(def.Network.STUNTimeout/time.Millisecond))) * time.Millisecond

	sec = f.Section("signaling")
	c.Signaling.ListenAddress = sec.Key("listen_address").MustString(def.Signaling.ListenAddress)
	c.Signaling.ListenPort = sec.Key("listen_port").MustInt(0)
	c.Signaling.Username = sec.Key("username").String()
	suite, err := crypto.ParseSuite(sec.Key("cipher_suite").MustString(def.Signaling.Suite.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: signaling.cipher_suite: %v", ErrInvalidConfig, err)
	}
	c.Signaling.Suite = suite

	sec = f.Section("logging")
	c.Logging.Level = sec.Key("level").MustString(def.Logging.Level)
	c.Logging.Format = sec.Key("format").MustString(def.Logging.Format)
	c.Logging.File = sec.Key("file").String()
	c.Logging.MaxSizeMB = sec.Key("max_size_mb").MustInt(def.Logging.MaxSizeMB)
	c.Logging.MaxBackups = sec.Key("max_backups").MustInt(def.Logging.MaxBackups)

	c.Metrics.ListenAddress = f.Section("metrics").Key("listen_address").String()

	if volume < 0 || volume > 255 {
		return nil, fmt.Errorf("%w: audio.volume %d outside [0, 255]", ErrInvalidConfig, volume)
	}
	c.Audio.Volume = uint8(volume)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	for _, dc := range []device.Config{c.CaptureDevice(), c.PlaybackDevice()} {
		if err := dc.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Audio.Bitrate < av.MinBitrate || c.Audio.Bitrate > av.MaxBitrate {
		return fmt.Errorf("%w: audio.bitrate %d outside [%d, %d]", ErrInvalidConfig, c.Audio.Bitrate, av.MinBitrate, av.MaxBitrate)
	}
	if c.Audio.OutboundQueue <= 0 {
		return fmt.Errorf("%w: audio.outbound_queue must be positive", ErrInvalidConfig)
	}
	if c.Network.PollInterval <= 0 {
		return fmt.Errorf("%w: network.poll_interval_ms must be positive", ErrInvalidConfig)
	}
	if c.Signaling.ListenPort < 0 || c.Signaling.ListenPort > 65535 {
		return fmt.Errorf("%w: signaling.listen_port %d", ErrInvalidConfig, c.Signaling.ListenPort)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// CaptureDevice returns the capture device configuration.
func (c *Config) CaptureDevice() device.Config {
	return device.Config{
		Backend:    c.Audio.Backend,
		Channels:   c.Audio.CaptureChannels,
		SampleRate: c.Audio.SampleRate,
		Period:     c.Audio.Period,
	}
}

// PlaybackDevice returns the playback device configuration.
func (c *Config) PlaybackDevice() device.Config {
	return device.Config{
		Backend:    c.Audio.Backend,
		Channels:   c.Audio.PlaybackChannels,
		SampleRate: c.Audio.SampleRate,
		Period:     c.Audio.Period,
	}
}

// Settings returns fresh runtime settings seeded from the configuration.
func (c *Config) Settings() (*av.Settings, error) {
	s := av.NewSettings()
	s.SetThreshold(c.Audio.Threshold)
	s.SetVolume(c.Audio.Volume)
	if err := s.SetBitrate(c.Audio.Bitrate); err != nil {
		return nil, err
	}
	return s, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
