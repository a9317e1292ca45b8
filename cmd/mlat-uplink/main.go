// mlat-uplink relays decoded surveillance messages and sync pairs to an
// MLAT aggregation server. The control plane is a tab-separated text
// protocol spoken with the parent process over stdin/stdout; the data
// plane optionally runs over a compact binary UDP stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mlat-uplink/internal/adept"
	"mlat-uplink/internal/config"
	"mlat-uplink/internal/stats"
	"mlat-uplink/internal/version"
	"mlat-uplink/internal/wire"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "mlat-uplink",
		Short:         "Relay decoded MLAT surveillance data to an aggregation server",
		Version:       version.Client,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "./mlat-uplink.yaml", "Path to YAML config")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log_level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	// The control plane owns stdout; logs go to stderr only.
	logrus.SetOutput(os.Stderr)

	log := logrus.WithField("component", "uplink")

	ctrs := &stats.Counters{}

	var udpTransport adept.UDPTransport
	if cfg.Server.UDP.Enable {
		batcher, err := wire.NewBatcher(cfg.Server.UDP.Dest, cfg.Server.UDP.Key, ctrs)
		if err != nil {
			return fmt.Errorf("udp uplink init failed: %w", err)
		}
		udpTransport = batcher
		log.WithField("dest", cfg.Server.UDP.Dest).Info("udp uplink enabled")
	} else {
		log.Info("udp uplink disabled, sending over the control plane")
	}

	conn := adept.NewConnection(os.Stdout, udpTransport, ctrs, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coord := &logCoordinator{log: logrus.WithField("component", "coordinator")}
	if err := conn.Start(coord); err != nil {
		return err
	}

	// All connection callbacks run on this goroutine; the read
	// goroutine only moves bytes into the channel.
	chunks := make(chan []byte, 1)
	go func() {
		defer close(chunks)
		buf := make([]byte, cfg.Server.ReadChunkBytes)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(cfg.Server.HeartbeatInterval)
	defer ticker.Stop()

	log.Info("mlat-uplink starting")

	for {
		select {
		case <-ctx.Done():
			_ = conn.Drain()
			conn.Disconnect()
			log.Info("mlat-uplink stopping")
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				// End of stream: the parent is gone.
				conn.OnBytes(nil)
			} else {
				conn.OnBytes(chunk)
			}
		case now := <-ticker.C:
			conn.Heartbeat(now)
		}

		if err := conn.Drain(); err != nil {
			return err
		}
		if conn.State() == adept.StateClosed {
			log.Info("mlat-uplink stopping")
			return nil
		}
	}
}

// logCoordinator stands in for the upstream consumer of server events;
// the real receiver-side plumbing lives in the parent process.
type logCoordinator struct {
	log *logrus.Entry
}

func (l *logCoordinator) ServerStartSending(wanted map[uint32]struct{}) {
	l.log.WithField("count", len(wanted)).Debug("server started wanting aircraft")
}

func (l *logCoordinator) ServerStopSending(unwanted map[uint32]struct{}) {
	l.log.WithField("count", len(unwanted)).Debug("server stopped wanting aircraft")
}

func (l *logCoordinator) ServerMlatResult(r adept.Result) {
	l.log.WithFields(logrus.Fields{
		"hexid": fmt.Sprintf("%06X", r.Address),
		"lat":   r.Lat,
		"lon":   r.Lon,
		"alt":   r.Alt,
	}).Debug("mlat result")
}

func (l *logCoordinator) ServerConnected() {
	l.log.Info("server connection ready")
}

func (l *logCoordinator) ServerDisconnected() {
	l.log.Info("server connection closed")
}
