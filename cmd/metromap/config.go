package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"metromap/core-go/internal/controller"
	"metromap/core-go/internal/registry"
)

type config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	DataSource     string
	DataSourceURL  string
	Msgpack        bool
	MapFile        string
	DatabaseURL    string
	DBMaxConns     int32
	ImportMapFile  string
	CanvasWidth    float64
	CanvasHeight   float64
	PanAnchor      controller.PanAnchor
	Reconcile      registry.ReconcileMode
	ReloadOnZoom   bool
	RefreshEvery   time.Duration
	MaxConcurrency int
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:          envOr("HTTP_ADDR", ":8081"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),
		DataSource:    strings.ToLower(envOr("DATA_SOURCE", "file")),
		DataSourceURL: envOr("DATA_SOURCE_URL", ""),
		MapFile:       envOr("MAP_FILE", "map.yaml"),
		DatabaseURL:   envOr("DATABASE_URL", ""),
		ImportMapFile: envOr("IMPORT_MAP_FILE", ""),
	}

	var err error
	if cfg.Msgpack, err = envBool("DATA_SOURCE_MSGPACK", false); err != nil {
		return config{}, err
	}
	if cfg.CanvasWidth, err = envFloat("CANVAS_WIDTH", 1024); err != nil {
		return config{}, err
	}
	if cfg.CanvasHeight, err = envFloat("CANVAS_HEIGHT", 768); err != nil {
		return config{}, err
	}
	if cfg.PanAnchor, err = controller.ParsePanAnchor(envOr("PAN_ANCHOR", "fixed")); err != nil {
		return config{}, fmt.Errorf("PAN_ANCHOR: %w", err)
	}
	if cfg.Reconcile, err = registry.ParseReconcileMode(envOr("RECONCILE", "hide")); err != nil {
		return config{}, fmt.Errorf("RECONCILE: %w", err)
	}
	if cfg.ReloadOnZoom, err = envBool("RELOAD_ON_ZOOM", false); err != nil {
		return config{}, err
	}
	if cfg.RefreshEvery, err = envDuration("REFRESH_INTERVAL", 0); err != nil {
		return config{}, err
	}
	if cfg.MaxConcurrency, err = envInt("RENDER_CONCURRENCY", 0); err != nil {
		return config{}, err
	}
	maxConns, err := envInt("DB_MAX_CONNS", 0)
	if err != nil {
		return config{}, err
	}
	if maxConns < 0 || maxConns > math.MaxInt32 {
		return config{}, fmt.Errorf("DB_MAX_CONNS: out of range: %d", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)

	switch cfg.DataSource {
	case "http":
		if cfg.DataSourceURL == "" {
			return config{}, fmt.Errorf("DATA_SOURCE=http requires DATA_SOURCE_URL")
		}
	case "file":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return config{}, fmt.Errorf("DATA_SOURCE=postgres requires DATABASE_URL")
		}
	default:
		return config{}, fmt.Errorf("DATA_SOURCE: unknown source %q", cfg.DataSource)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
