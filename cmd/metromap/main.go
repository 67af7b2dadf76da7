package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/controller"
	"metromap/core-go/internal/datasource/filesource"
	"metromap/core-go/internal/datasource/httpsource"
	"metromap/core-go/internal/datasource/pgsource"
	"metromap/core-go/internal/db"
	"metromap/core-go/internal/httpapi"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/metrics"
	"metromap/core-go/internal/refreshworker"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := httpapi.NewLogger(httpapi.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	if cfg.ImportMapFile != "" {
		if err := importBundle(ctx, pool, cfg.ImportMapFile); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.ImportMapFile).Msg("map import failed")
		}
		logger.Info().Str("file", cfg.ImportMapFile).Msg("map imported")
	}

	source, err := openSource(cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Str("data_source", cfg.DataSource).Msg("failed to open data source")
	}

	m := metrics.New()
	doc := canvas.NewDocument(cfg.CanvasWidth, cfg.CanvasHeight)
	ctrl := controller.New(source, doc, controller.Options{
		Log:                  logger,
		Metrics:              m,
		Reconcile:            cfg.Reconcile,
		PanAnchor:            cfg.PanAnchor,
		ReloadOnZoom:         cfg.ReloadOnZoom,
		MaxRenderConcurrency: cfg.MaxConcurrency,
	})

	go func() {
		if err := <-ctrl.Start(ctx); err != nil {
			logger.Error().Err(err).Str("state", ctrl.State().String()).Msg("initial map load failed")
			return
		}
		logger.Info().Msg("map rendered")
	}()

	if cfg.RefreshEvery > 0 {
		worker := refreshworker.New(logger, ctrl, refreshworker.Options{Interval: cfg.RefreshEvery})
		go worker.Run(ctx)
	}

	h := httpapi.NewHandler(logger, ctrl, doc, httpapi.Options{Metrics: m, Pool: pool})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("data_source", cfg.DataSource).Msg("metromap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func openSource(cfg config, pool *db.Pool) (mapdata.DataSource, error) {
	switch cfg.DataSource {
	case "http":
		s, err := httpsource.New(cfg.DataSourceURL, httpsource.Options{Msgpack: cfg.Msgpack})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres source needs DATABASE_URL")
		}
		return pgsource.New(pool.Queries()), nil
	default:
		s, err := filesource.Open(cfg.MapFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func importBundle(ctx context.Context, pool *db.Pool, path string) error {
	if pool == nil {
		return fmt.Errorf("IMPORT_MAP_FILE needs DATABASE_URL")
	}
	b, err := filesource.LoadBundle(path)
	if err != nil {
		return err
	}
	return pgsource.Import(ctx, pool.Queries(), b.Configuration, mapdata.Map{Stations: b.Stations, Segments: b.Segments}, b.Icons)
}
