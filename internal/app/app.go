package app

import (
	"context"
	"fmt"
	"time"

	manager "liuproxy_collector/collector"
	"liuproxy_collector/collector/geo"
	"liuproxy_collector/collector/metrics"
	"liuproxy_collector/collector/publisher"
	"liuproxy_collector/collector/scraper"
	"liuproxy_collector/collector/storage"
	"liuproxy_collector/collector/validator"
	"liuproxy_collector/internal/shared/logger"
	"liuproxy_collector/internal/shared/types"
)

// App wires the collector components from one Config.
type App struct {
	cfg        *types.Config
	geolocator *geo.Geolocator
	manager    *manager.Manager
	metrics    *metrics.Recorder
}

// New builds every component. Secrets must already be loaded into cfg when
// publishing is enabled; the Telegram bot is contacted (getMe) here.
func New(cfg *types.Config) (*App, error) {
	rec := metrics.NewRecorder()

	v := validator.New(cfg.ValidProtocols)
	limiter := scraper.NewRateLimiter(cfg.FetchConf.RateLimitCalls, time.Duration(cfg.FetchConf.RateLimitPeriodSeconds)*time.Second)
	fetcher, err := scraper.New(cfg.FetchConf.Engine, scraper.OptionsFromConfig(cfg.FetchConf, v, limiter, rec))
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	g, err := geo.NewFromConfig(cfg.GeoConf, rec)
	if err != nil {
		return nil, fmt.Errorf("create geolocator: %w", err)
	}

	writer := storage.NewPartitionWriter(storage.OptionsFromConfig(cfg, rec), g)

	pub, err := publisher.NewFromConfig(cfg)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	l := logger.WithComponent("App")
	l.Info().
		Str("engine", fetcher.Name()).
		Strs("geo_providers", g.Providers()).
		Bool("publish", pub != nil).
		Msg("Collector components initialized.")

	return &App{
		cfg:        cfg,
		geolocator: g,
		manager:    manager.NewManager(manager.OptionsFromConfig(cfg), fetcher, writer, pub, rec),
		metrics:    rec,
	}, nil
}

// Run executes a single collection pass.
func (a *App) Run(ctx context.Context) (*manager.RunReport, error) {
	return a.manager.Run(ctx)
}

// Metrics returns the run's metrics recorder.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// Close releases the geolocation database, if any.
func (a *App) Close() error {
	return a.geolocator.Close()
}
