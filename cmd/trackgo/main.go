package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/star/trackgo/internal/api"
	"github.com/star/trackgo/internal/auth"
	"github.com/star/trackgo/internal/config"
	"github.com/star/trackgo/internal/httputil"
	"github.com/star/trackgo/internal/keyhole"
	"github.com/star/trackgo/internal/link"
	"github.com/star/trackgo/internal/logging"
	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/mount"
	"github.com/star/trackgo/internal/passes"
	"github.com/star/trackgo/internal/propagation"
	"github.com/star/trackgo/internal/protocol"
	"github.com/star/trackgo/internal/publish"
	"github.com/star/trackgo/internal/scheduler"
	"github.com/star/trackgo/internal/stream"
	"github.com/star/trackgo/internal/tle"
	"github.com/star/trackgo/internal/track"
	"github.com/star/trackgo/internal/transform"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKGO_CONFIG"), "path to YAML configuration")
	flag.Parse()

	boot := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(*configPath, boot)
	if err != nil {
		boot.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		AddSource:  cfg.Logging.AddSource,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("trackgo stopped", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("trackgo stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sets := tle.NewStore()
	loader := newSetLoader(cfg.TLE, sets, logger, m)
	loader.load(ctx)

	station := transform.NewStation(cfg.Station.Latitude, cfg.Station.Longitude, cfg.Station.Altitude)
	limits := track.Limits{
		AzRateThreshold: cfg.Mount.AzRateThreshold,
		RefOffset:       cfg.Mount.RefOffset,
		TravelLimit:     cfg.Mount.TravelLimit,
	}
	tf := mount.NewTransformer(cfg.Mount.Tilt, limits)
	store := scheduler.NewPassStore(cfg.Store.MaxPasses, cfg.Store.TTL)
	svc := scheduler.NewService(
		sets,
		passes.NewScanner(propagation.NewSource(0, cfg.TLE.RefreshInterval), station, logger),
		tf,
		keyhole.NewProcessor(tf, keyhole.NewOptimizer(tf, cfg.Keyhole.Workers), cfg.Keyhole.Optimize, logger, m),
		store,
		track.NewAtomicCounter(cfg.Scheduler.FirstPassID),
		scheduler.Config{
			Horizon: cfg.Tracking.Horizon,
			Scan: passes.ScanConfig{
				MinElevation:    cfg.Tracking.MinElevation,
				CoarseStep:      cfg.Tracking.CoarseStep,
				FineStep:        cfg.Tracking.FineStep,
				MinPassDuration: cfg.Tracking.MinPassDuration,
				MaxWindows:      cfg.Tracking.MaxWindows,
			},
			Generate: passes.GenerateConfig{
				Interval:     cfg.Tracking.Interval,
				MinElevation: cfg.Tracking.MinElevation,
				Limits:       limits,
			},
			Workers: cfg.Scheduler.Workers,
		},
		logger,
		m,
	)

	var pub *publish.Publisher
	if cfg.MQTT.Enabled {
		pub, err = publish.Connect(publish.Config{
			Broker:         cfg.MQTT.Broker,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            cfg.MQTT.QoS,
			Retain:         cfg.MQTT.Retain,
			StatusInterval: cfg.MQTT.StatusInterval,
			TLS: publish.TLSConfig{
				Enabled:    cfg.MQTT.TLS.Enabled,
				CACert:     cfg.MQTT.TLS.CACert,
				ClientCert: cfg.MQTT.TLS.ClientCert,
				ClientKey:  cfg.MQTT.TLS.ClientKey,
			},
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	deps := api.Deps{Sets: sets, Service: svc}

	if cfg.Link.Enabled {
		conn, err := link.Dial(cfg.Link.Local, cfg.Link.Remote, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		rx := protocol.NewReceiver(cfg.Link.EventBuffer, logger, m)
		var sink scheduler.EventSink
		if pub != nil {
			sink = pub
			g.Go(func() error {
				pub.RunStatus(ctx, rx.Latest)
				return nil
			})
		}
		feeder := scheduler.NewFeeder(store, conn, sink, logger, m)

		g.Go(func() error {
			return ignoreCanceled(conn.Run(ctx, func(b []byte) { rx.Handle(b) }))
		})
		g.Go(func() error {
			return ignoreCanceled(feeder.Run(ctx, rx.Events()))
		})

		deps.Feeder, deps.Status = feeder, rx
		logger.Info("controller link configured", "local", conn.LocalAddr().String(), "remote", cfg.Link.Remote)
	}

	proxies, err := httputil.ParseProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	deps.Stream = stream.NewHandler(deps.Status, stream.Station{
		Latitude:  cfg.Station.Latitude,
		Longitude: cfg.Station.Longitude,
		Altitude:  cfg.Station.Altitude,
		Tilt:      cfg.Mount.Tilt,
	}, stream.Config{
		MaxConcurrentPerIP: cfg.HTTP.MaxConcurrentPerIP,
		BandwidthLimit:     cfg.HTTP.BandwidthLimit,
		KeepaliveInterval:  cfg.HTTP.KeepaliveInterval,
		StatusInterval:     cfg.HTTP.StatusInterval,
		Proxies:            proxies,
	}, logger, m)

	srv := api.NewServer(api.Config{
		Addr:       cfg.HTTP.Addr,
		Auth:       auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		Satellites: cfg.Scheduler.Satellites,
	}, deps, logger, m)

	g.Go(func() error {
		loader.refresh(ctx)
		return nil
	})
	g.Go(func() error {
		generateLoop(ctx, svc, cfg.Scheduler, pub, logger)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"link_enabled", cfg.Link.Enabled,
			"mqtt_enabled", cfg.MQTT.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.HTTPServer().Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ignoreCanceled treats shutdown as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// setLoader fills the element-set store from a local file and, when
// enabled, the configured download sources and their on-disk archive.
type setLoader struct {
	cfg     config.TLE
	sets    *tle.Store
	fetcher *tle.Fetcher
	archive *tle.Archive
	logger  *slog.Logger
	metrics *metrics.Collector
}

func newSetLoader(cfg config.TLE, sets *tle.Store, logger *slog.Logger, m *metrics.Collector) *setLoader {
	l := &setLoader{cfg: cfg, sets: sets, logger: logger, metrics: m}
	if cfg.EnableFetch {
		l.fetcher = tle.NewFetcher(cfg.SourceURL, logger, cfg.ExtraURLs...)
	}
	if cfg.ArchiveDir != "" {
		l.archive = tle.NewArchive(cfg.ArchiveDir, cfg.ArchiveKeep)
	}
	return l
}

// load reads the local file, then fetches. When the fetch fails and nothing
// is loaded yet, the newest archived snapshot is used instead.
func (l *setLoader) load(ctx context.Context) {
	if l.cfg.File != "" {
		data, err := os.ReadFile(l.cfg.File)
		if err != nil {
			l.logger.Warn("failed to read element-set file", "file", l.cfg.File, "error", err)
		} else {
			l.ingest(data, "file")
		}
	}
	if l.fetcher == nil {
		return
	}
	data, err := l.fetcher.Fetch(ctx)
	if err != nil {
		l.logger.Warn("element-set fetch failed", "error", err)
		l.restore()
		return
	}
	if l.ingest(data, "fetch") && l.archive != nil {
		if err := l.archive.Save(data, time.Now()); err != nil {
			l.logger.Warn("failed to archive element sets", "error", err)
		}
	}
}

func (l *setLoader) restore() {
	if l.archive == nil || l.sets.Len() > 0 {
		return
	}
	data, fetched, err := l.archive.Latest()
	if err != nil {
		l.logger.Info("no archived element sets available", "error", err)
		return
	}
	if l.ingest(data, "archive") {
		l.logger.Info("using archived element sets", "fetched_at", fetched.Format(time.RFC3339))
	}
}

func (l *setLoader) ingest(data []byte, source string) bool {
	parsed, err := tle.Parse(bytes.NewReader(data), l.logger)
	if err != nil {
		l.logger.Warn("failed to parse element sets", "source", source, "error", err)
		return false
	}
	if len(parsed) == 0 {
		l.logger.Warn("no element sets found", "source", source)
		return false
	}
	l.sets.Put(parsed...)
	l.metrics.SetElementSets(l.sets.Len())
	l.logger.Info("loaded element sets", "source", source, "count", len(parsed), "total", l.sets.Len())
	return true
}

// refresh reloads on the configured cadence until ctx ends.
func (l *setLoader) refresh(ctx context.Context) {
	if l.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.load(ctx)
		}
	}
}

// generateLoop runs the pipeline for the configured satellites at start
// and then every RefreshInterval. A zero interval disables it.
func generateLoop(ctx context.Context, svc *scheduler.Service, cfg config.Scheduler, pub *publish.Publisher, logger *slog.Logger) {
	if cfg.RefreshInterval <= 0 {
		return
	}
	generate := func() {
		results := svc.GenerateAll(ctx, cfg.Satellites, scheduler.Span{})
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
				continue
			}
			if pub == nil {
				continue
			}
			for _, p := range res.Passes {
				if err := pub.PublishPass(p); err != nil {
					logger.Warn("mqtt pass publish failed", "pass_id", p.ID, "stage", p.Stage, "error", err)
				}
			}
		}
		logger.Info("scheduled generation complete", "satellites", len(results), "failed", failed)
	}

	generate()
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			generate()
		}
	}
}
