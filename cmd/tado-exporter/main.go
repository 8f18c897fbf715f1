package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/tado-exporter/internal/config"
	"github.com/joshp123/tado-exporter/internal/logging"
	"github.com/joshp123/tado-exporter/internal/mqttsink"
	"github.com/joshp123/tado-exporter/internal/oauth"
	"github.com/joshp123/tado-exporter/internal/poller"
	"github.com/joshp123/tado-exporter/internal/rate"
	"github.com/joshp123/tado-exporter/internal/server"
	"github.com/joshp123/tado-exporter/plugins/tado"
)

var version = "dev"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		os.Exit(serve())
	case "activate":
		os.Exit(activate())
	case "zones":
		os.Exit(zones(os.Args[2:]))
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(poller.ExitConfig)
	}
}

func usage() {
	fmt.Println("tado-exporter [command]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve     poll the Tado API and serve /metrics (default)")
	fmt.Println("  activate  run the device activation and store the refresh token")
	fmt.Println("  zones     poll once and print the zone readings [--json]")
	fmt.Println("  version   print the version")
}

// setup loads the configuration and logger shared by every command.
func setup() (config.Config, *zap.SugaredLogger, bool) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tado-exporter: %v\n", err)
		return config.Config{}, nil, false
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tado-exporter: %v\n", err)
		return config.Config{}, nil, false
	}
	return cfg, log, true
}

func newCredentials(cfg config.Config, log *zap.SugaredLogger) (*oauth.Manager, error) {
	// A nil *S3Store inside the interface would not compare equal to nil.
	var blob oauth.BlobStore
	if cfg.Blob.Enabled() {
		store, err := oauth.NewS3Store(cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		blob = store
	}

	return oauth.NewManager(oauth.Declaration{
		Provider:      tado.ProviderName,
		ClientID:      cfg.OAuth.ClientID,
		TokenURL:      cfg.OAuth.TokenURL,
		DeviceAuthURL: cfg.OAuth.DeviceAuthURL,
		Scope:         cfg.OAuth.Scope,
		StatePath:     cfg.OAuth.TokenFile,
	}, blob, log.Named("oauth"))
}

func serve() int {
	cfg, log, ok := setup()
	if !ok {
		return poller.ExitConfig
	}
	defer func() { _ = log.Sync() }()

	creds, err := newCredentials(cfg, log)
	if err != nil {
		log.Errorw("Cannot set up credentials", "error", err)
		return poller.ExitConfig
	}

	clientCfg, err := tado.ConfigFromAPI(cfg.API)
	if err != nil {
		log.Errorw("Invalid API configuration", "error", err)
		return poller.ExitConfig
	}
	client, err := tado.NewClient(clientCfg, creds, rate.NewObserver(tado.ProviderName))
	if err != nil {
		log.Errorw("Cannot create Tado client", "error", err)
		return poller.ExitConfig
	}

	gauges := tado.NewGauges()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		gauges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "tado_exporter_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": version},
		}, func() float64 { return 1 }),
	)
	registry.MustRegister(rate.MetricsCollectors()...)
	registry.MustRegister(oauth.MetricsCollectors()...)

	var observer tado.Observer = gauges
	if cfg.MQTT.Enabled() {
		sink, err := mqttsink.Connect(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			log.Errorw("Cannot connect to MQTT broker", "error", err)
			return poller.ExitFailure
		}
		defer sink.Close()
		observer = tado.Tee(gauges, sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	httpServer := server.NewHTTPServer(cfg.ListenAddr, server.NewRouter(registry, gauges.Ready), log.Named("http"))
	startServer := func() error {
		ln, err := httpServer.Listen()
		if err != nil {
			return err
		}
		g.Go(func() error { return httpServer.Serve(gctx, ln) })
		log.Infow("Exporter ready", "addr", cfg.ListenAddr, "interval", cfg.RefreshInterval())
		return nil
	}

	loop, err := poller.New(poller.Config{
		Interval:   cfg.RefreshInterval(),
		MaxRetries: cfg.MaxRetries,
		Unit:       cfg.TemperatureUnit,
		Weather:    cfg.Weather,
	}, client, observer,
		poller.WithCredentials(creds),
		poller.WithHealth(gauges),
		poller.WithLogger(log.Named("poller")),
		poller.WithConnected(startServer),
	)
	if err != nil {
		log.Errorw("Cannot create poll loop", "error", err)
		return poller.ExitConfig
	}

	g.Go(func() error { return loop.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info("Shutting down")
		return 0
	}
	return poller.ExitCode(err)
}
