// Package main provides the savi command: a two-party voice call over a
// direct UDP channel, set up through an encrypted WebSocket relay.
//
// Hosting prints the relay address and key to hand to the other side:
//
//	savi -host -username ana -wav mic.wav
//	savi -connect 192.0.2.10:40123 -key <key> -username bo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/savi"
	"github.com/opd-ai/savi/av/audio"
	"github.com/opd-ai/savi/av/device"
	"github.com/opd-ai/savi/config"
	"github.com/opd-ai/savi/observe"
	"github.com/opd-ai/savi/signaling"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds the command-line flags.
type CLIConfig struct {
	configPath string
	host       bool
	connect    string
	key        string
	username   string
	wavPath    string
	relayOnly  bool
	help       bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.configPath, "config", "", "Path to settings.ini (default: built-in settings)")
	flag.BoolVar(&cli.host, "host", false, "Host a call: start a relay and wait for the other peer")
	flag.StringVar(&cli.connect, "connect", "", "Join a call hosted at host:port")
	flag.StringVar(&cli.key, "key", "", "Relay key printed by the hosting side")
	flag.StringVar(&cli.username, "username", "", "Name shown to the other peer")
	flag.StringVar(&cli.wavPath, "wav", "", "WAV file used as the capture source")
	flag.BoolVar(&cli.relayOnly, "relay-only", false, "Run only the signaling relay")
	flag.BoolVar(&cli.help, "help", false, "Show help message")

	flag.Parse()
	return cli
}

// printUsage prints the usage information.
func printUsage() {
	fmt.Println("savi - peer-to-peer voice chat")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  savi -host [-wav FILE] [-username NAME]")
	fmt.Println("  savi -connect HOST:PORT -key KEY [-wav FILE] [-username NAME]")
	fmt.Println("  savi -relay-only")
	fmt.Println()
	flag.PrintDefaults()
}

func main() {
	cli := parseCLIFlags()
	if cli.help {
		printUsage()
		return
	}
	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "savi: %v\n", err)
		os.Exit(1)
	}
}

func run(cli *CLIConfig) error {
	if !cli.relayOnly && !cli.host && cli.connect == "" {
		printUsage()
		return errors.New("one of -host, -connect or -relay-only is required")
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	closeLog, err := config.SetupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := startMetrics(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	if cli.relayOnly {
		return runRelay(ctx, cfg)
	}
	return runCall(ctx, cfg, cli)
}

// startMetrics serves Prometheus metrics when a listen address is set.
func startMetrics(ctx context.Context, mc config.MetricsConfig) (func(), error) {
	if mc.ListenAddress == "" {
		return func() {}, nil
	}

	shutdownProvider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "savi"})
	if err != nil {
		return nil, fmt.Errorf("metrics provider: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: mc.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "startMetrics",
				"addr":     mc.ListenAddress,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "startMetrics",
		"addr":     mc.ListenAddress,
	}).Info("Serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = shutdownProvider(shutdownCtx)
	}, nil
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	server, err := signaling.NewServer(signaling.ServerConfig{
		ListenAddress: cfg.Signaling.ListenAddress,
		Port:          cfg.Signaling.ListenPort,
		Suite:         cfg.Signaling.Suite,
	}, nil)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Close()

	fmt.Printf("Relay address: %s\n", server.ListenAddress())
	fmt.Printf("Relay key:     %s\n", server.CipherKey())

	<-ctx.Done()
	return nil
}

func runCall(ctx context.Context, cfg *config.Config, cli *CLIConfig) error {
	opts := savi.NewOptions()
	opts.Config = cfg
	opts.Username = cli.username
	if cfg.Audio.Decoder == "pion" {
		opts.NewDecoder = func(sampleRate, channels int) (audio.Decoder, error) {
			dec, err := audio.NewPionDecoder(sampleRate, channels)
			if err != nil {
				return nil, err
			}
			return dec, nil
		}
	}

	session, err := savi.New(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	speaker, err := device.NewSpeaker(cfg.PlaybackDevice())
	if err != nil {
		return err
	}
	if err := session.StartPlayback(speaker); err != nil {
		return err
	}

	var source *device.WAVSource
	if cli.wavPath != "" {
		source, err = device.OpenWAVSource(cli.wavPath, cfg.CaptureDevice())
		if err != nil {
			return err
		}
		defer source.Close()
		if err := session.StartCapture(source); err != nil {
			return err
		}
	}

	if cli.host {
		info, err := session.Host(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Listen address: %s\n", info.ListenAddress)
		fmt.Printf("Key:            %s\n", info.Key)
	} else {
		if err := session.Connect(ctx, cli.connect, cli.key); err != nil {
			return err
		}
	}

	return waitForCall(ctx, session, source)
}

// waitForCall reports when the voice channel comes up and returns on
// interrupt. The call stays up after the capture file ends.
func waitForCall(ctx context.Context, session *savi.Session, source *device.WAVSource) error {
	var sourceDone <-chan struct{}
	if source != nil {
		sourceDone = source.Done()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	announced := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sourceDone:
			logrus.WithFields(logrus.Fields{
				"function": "waitForCall",
			}).Info("Capture source finished")
			sourceDone = nil
		case <-ticker.C:
			if !announced && session.Ready() {
				announced = true
				fmt.Println("Voice channel ready")
			}
			logrus.WithFields(logrus.Fields{
				"function":  "waitForCall",
				"intensity": session.Intensity(),
				"ready":     session.Ready(),
			}).Debug("Call status")
		}
	}
}
