// Command syncpeerd runs one peer side of a content-addressed CRDT sync
// relationship against a LevelBackend-backed document store. It is a
// reference host for the syncstate state machine, not part of the sync
// protocol itself: a real deployment embeds
// backend.Backend, syncstate.State, and a transport.Channel directly
// and drives the same Generate/Receive loop this daemon demonstrates.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/crdtsync/crdtsync/backend"
	"github.com/crdtsync/crdtsync/log"
	"github.com/crdtsync/crdtsync/metrics"
	"github.com/crdtsync/crdtsync/syncstate"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:  "syncpeerd",
		Usage: "run one side of a CRDT sync peer relationship",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: DefaultConfig().DataDir, Usage: "directory for the change store and persisted peer state"},
			&cli.IntFlag{Name: "cache-bytes", Value: DefaultConfig().CacheBytes, Usage: "fastcache size in bytes for the change store"},
			&cli.StringFlag{Name: "transport", Value: string(DefaultConfig().Transport), Usage: "udp, unix, or tcp"},
			&cli.StringFlag{Name: "listen", Required: true, Usage: "local address to listen on"},
			&cli.StringFlag{Name: "peer", Required: true, Usage: "remote peer address"},
			&cli.DurationFlag{Name: "sync-interval", Value: DefaultConfig().SyncInterval, Usage: "how often to call generateSyncMessage"},
			&cli.StringFlag{Name: "metrics-listen", Usage: "if set, serve /metrics (hand-rolled) and /metrics/client_golang (prometheus client) here"},
			&cli.StringFlag{Name: "sentry-dsn", EnvVars: []string{"SYNCPEERD_SENTRY_DSN"}, Usage: "Sentry DSN for fatal-error reporting"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
			&cli.StringFlag{Name: "log-format", Value: DefaultConfig().LogFormat, Usage: "terminal or json"},
			&cli.StringFlag{Name: "log-file", Usage: "if set, write rotated JSON logs here instead of stderr"},
		},
		Action: func(c *cli.Context) error {
			cfg := DefaultConfig()
			cfg.DataDir = c.String("datadir")
			cfg.CacheBytes = c.Int("cache-bytes")
			cfg.Transport = TransportKind(c.String("transport"))
			cfg.ListenAddr = c.String("listen")
			cfg.PeerAddr = c.String("peer")
			cfg.SyncInterval = c.Duration("sync-interval")
			cfg.MetricsListen = c.String("metrics-listen")
			cfg.SentryDSN = c.String("sentry-dsn")
			cfg.LogLevel = c.String("log-level")
			cfg.LogFormat = c.String("log-format")
			cfg.LogPath = c.String("log-file")
			return runDaemon(cfg)
		},
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, "syncpeerd:", err)
		return 1
	}
	return 0
}

func runDaemon(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	setupLogging(cfg)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn("sentry init failed, continuing without crash reporting", "err", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("syncpeerd: create datadir: %w", err)
	}

	be, err := backend.OpenLevelBackend(cfg.DataDir, cfg.CacheBytes)
	if err != nil {
		return fmt.Errorf("syncpeerd: open backend: %w", err)
	}
	defer be.Close()

	syncCfg := syncstate.DefaultConfig()
	state, err := loadPeerState(cfg.DataDir, &syncCfg)
	if err != nil {
		return err
	}

	channel, err := openChannel(cfg)
	if err != nil {
		return fmt.Errorf("syncpeerd: open channel: %w", err)
	}
	defer channel.Close()

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		metricsServer = startMetricsServer(cfg.MetricsListen)
		defer metricsServer.Close()
	}
	metrics.PeersConnected.Inc()
	defer metrics.PeersConnected.Dec()

	actor := &peerActor{cfg: cfg, be: be, channel: channel, state: state}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		close(stop)
	}()

	logger.Info("syncpeerd starting",
		"datadir", cfg.DataDir, "transport", cfg.Transport,
		"listen", cfg.ListenAddr, "peer", cfg.PeerAddr)

	return actor.run(stop)
}

// setupLogging replaces the process default logger per the configured
// level, format, and optional rotated file sink, and rebinds this
// package's module logger to it.
func setupLogging(cfg Config) {
	opts := log.Options{Level: log.ParseLevel(cfg.LogLevel)}
	if cfg.LogPath != "" {
		opts.File = cfg.LogPath
	} else if cfg.LogFormat == "terminal" {
		opts.Format = log.FormatTerminal
		opts.Color = term.IsTerminal(int(os.Stderr.Fd()))
	}
	log.SetDefault(log.Open(opts))
	logger = log.Default().Module("syncpeerd")
}

// startMetricsServer exposes the registry twice: the in-process text
// exporter on /metrics, and the same counters re-collected through the
// client_golang library on /metrics/client_golang for scrape
// infrastructure that requires the real client's content negotiation.
func startMetricsServer(addr string) *http.Server {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewClientGolangCollector(metrics.DefaultRegistry, "syncpeerd"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.Handle("/metrics/client_golang", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
	return srv
}
