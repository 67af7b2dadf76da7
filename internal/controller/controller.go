// Package controller drives the map: it loads configuration and geometry from a data
// source, owns the viewport and the drawer registry, and exposes zoom and pan.
//
// The load pipeline is linear: configuration, viewport init, map load, render. Each
// stage checks its context before starting. Render passes never overlap; a zoom that
// arrives during the initial render waits for it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/drawer"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/iconcache"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/metrics"
	"metromap/core-go/internal/registry"
	"metromap/core-go/internal/scheduler"
)

type Options struct {
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	// Layers is the declared draw-priority list. Nil uses drawer.Layers with the default style.
	Layers               []scheduler.Layer
	Reconcile            registry.ReconcileMode
	RefreshOnReencounter bool
	PanAnchor            PanAnchor
	// ReloadOnZoom requests fresh geometry for the new viewport after each zoom.
	ReloadOnZoom         bool
	MaxRenderConcurrency int
}

type Controller struct {
	log          zerolog.Logger
	metrics      *metrics.Metrics
	source       mapdata.DataSource
	surface      canvas.Surface
	icons        *iconcache.Cache
	registry     *registry.Registry
	scheduler    *scheduler.Scheduler
	panAnchor    PanAnchor
	reloadOnZoom bool

	mu          sync.RWMutex
	state       State
	config      mapdata.Configuration
	viewport    geom.Rect
	hasViewport bool
	anchor      geom.Point
	hasAnchor   bool
	lastErr     error

	renderMu sync.Mutex
}

// New wires the registry, scheduler and icon cache. Nothing is fetched until Load.
func New(source mapdata.DataSource, surface canvas.Surface, opts Options) *Controller {
	layers := opts.Layers
	if layers == nil {
		layers = drawer.Layers(drawer.DefaultStyle())
	}

	c := &Controller{
		log:          opts.Log.With().Str("component", "controller").Logger(),
		metrics:      opts.Metrics,
		source:       source,
		surface:      surface,
		panAnchor:    opts.PanAnchor,
		reloadOnZoom: opts.ReloadOnZoom,
		state:        StateConstructed,
	}
	c.icons = iconcache.New(source, surface, iconcache.Options{Log: opts.Log, Metrics: opts.Metrics})
	c.registry = registry.New(c, surface, registry.Options{RefreshOnReencounter: opts.RefreshOnReencounter})
	c.scheduler = scheduler.New(c.registry, layers, scheduler.Options{
		Log:            opts.Log,
		Metrics:        opts.Metrics,
		Reconcile:      opts.Reconcile,
		MaxConcurrency: opts.MaxRenderConcurrency,
	})
	return c
}

// Start runs Load in the background. The channel receives Load's result and is closed.
func (c *Controller) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- c.Load(ctx)
	}()
	return done
}

// Load runs the full pipeline once. A configuration failure is terminal.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConstructed {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrLoadStarted, st)
	}
	c.state = StateConfigLoading
	c.mu.Unlock()

	cfg, err := c.loadConfig(ctx)
	if err != nil {
		c.fail(err)
		return err
	}
	if err := c.initViewport(cfg); err != nil {
		c.fail(err)
		return err
	}
	return c.loadMap(ctx)
}

func (c *Controller) loadConfig(ctx context.Context) (mapdata.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return mapdata.Configuration{}, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	cfg, err := c.source.Configuration(ctx)
	if err != nil {
		return mapdata.Configuration{}, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	return cfg, nil
}

func (c *Controller) initViewport(cfg mapdata.Configuration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.viewport.SetFrame(cfg.Frame); err != nil {
		return fmt.Errorf("%w: frame: %w", ErrConfigLoad, err)
	}
	c.config = cfg
	c.hasViewport = true
	c.surface.SetViewBox(c.viewport)

	for _, t := range []struct {
		tag  canvas.TextTag
		text string
	}{
		{canvas.TagStyle, cfg.Styles},
		{canvas.TagTitle, cfg.Title},
		{canvas.TagDesc, cfg.Desc},
		{canvas.TagMetadata, cfg.Metadata},
	} {
		if t.text != "" {
			c.surface.InjectText(t.tag, t.text)
		}
	}

	c.state = StateConfigLoaded
	c.log.Info().
		Float64("x", c.viewport.Origin.X).
		Float64("y", c.viewport.Origin.Y).
		Float64("width", c.viewport.Size.Width).
		Float64("height", c.viewport.Size.Height).
		Msg("viewport initialized")
	return nil
}

// Reload requests geometry for the current viewport and renders it. Each call is an
// independent request. Once a map has rendered, a failed reload keeps the state at
// Rendered with the previous drawers in place and reports the failure through Err.
func (c *Controller) Reload(ctx context.Context) error {
	return c.loadMap(ctx)
}

func (c *Controller) loadMap(ctx context.Context) error {
	rect, ok := c.Viewport()
	if !ok {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrMapLoad, err)
	}
	c.setState(StateMapLoading)

	start := time.Now()
	m, err := c.source.LoadMap(ctx, rect)
	c.metrics.IncMapLoad(err)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMapLoad, err)
		c.setStateErr(StateConfigLoaded, err)
		c.log.Error().Err(err).Msg("map load failed")
		return err
	}
	c.log.Info().
		Int("stations", len(m.Stations)).
		Int("segments", len(m.Segments)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("map loaded")
	c.setState(StateMapLoaded)

	if err := c.render(ctx, &m); err != nil {
		c.setStateErr(StateMapLoaded, err)
		return err
	}
	c.setStateErr(StateRendered, nil)
	return nil
}

// render builds drawers for snapshot (when given) and runs a full render pass.
func (c *Controller) render(ctx context.Context, snapshot *mapdata.Map) error {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	log := c.log.With().Str("pass_id", uuid.NewString()).Logger()
	if snapshot != nil {
		stats, err := c.scheduler.Build(*snapshot)
		if err != nil {
			log.Error().Err(err).Msg("drawer build failed")
			return err
		}
		for _, st := range stats {
			log.Debug().
				Str("layer", string(st.Kind)).
				Int("created", st.Created).
				Int("seen", st.Seen).
				Int("reconciled", st.Reconciled).
				Int("total", st.Total).
				Msg("layer built")
		}
	}

	start := time.Now()
	if err := c.scheduler.Render(ctx); err != nil {
		log.Error().Err(err).Msg("render pass failed")
		return err
	}
	log.Debug().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("render pass complete")
	return nil
}

// Zoom scales the viewport by scale about point, given in caller space, then re-renders
// every drawer. Invalid scales fail without touching the viewport.
func (c *Controller) Zoom(ctx context.Context, scale float64, point geom.Point) error {
	c.mu.Lock()
	if !c.hasViewport {
		c.mu.Unlock()
		return ErrNotReady
	}
	next := c.viewport
	if err := next.ScaleAboutPoint(scale, c.surface.Point(point)); err != nil {
		c.mu.Unlock()
		return err
	}
	c.viewport = next
	c.surface.SetViewBox(next)
	c.mu.Unlock()

	if !c.reloadOnZoom {
		return c.render(ctx, nil)
	}
	// The reload renders every drawer, so no separate pass runs unless it fails early.
	err := c.Reload(ctx)
	if errors.Is(err, ErrMapLoad) {
		if rerr := c.render(ctx, nil); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// ZoomFactor reports the canvas' current zoom. It never mutates state.
func (c *Controller) ZoomFactor() float64 {
	return c.surface.Zoom()
}

// StartMoving records point, converted to canvas space, as the pan anchor.
func (c *Controller) StartMoving(point geom.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasViewport {
		return ErrNotReady
	}
	c.anchor = c.surface.Point(point)
	c.hasAnchor = true
	return nil
}

// MoveTo pans so the anchor lands on point. Without an anchor it does nothing. Panning
// only moves the viewbox; drawers are not re-rendered.
func (c *Controller) MoveTo(point geom.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasViewport {
		return ErrNotReady
	}
	if !c.hasAnchor {
		return nil
	}

	to := c.surface.Point(point)
	delta := c.anchor.Sub(to)
	c.viewport.Translate(delta.X, delta.Y)
	c.surface.SetViewBox(c.viewport)
	if c.panAnchor == PanAnchorFollow {
		c.anchor = to
	}
	return nil
}

// StopMoving clears the pan anchor.
func (c *Controller) StopMoving() {
	c.mu.Lock()
	c.hasAnchor = false
	c.mu.Unlock()
}

// IconSymbolForLevel returns the shared icon symbol for level, fetching it once.
func (c *Controller) IconSymbolForLevel(ctx context.Context, level int) (canvas.Symbol, error) {
	return c.icons.SymbolForLevel(ctx, level).Wait(ctx)
}

// ResetIcon forgets a cached (possibly failed) icon so the next request fetches again.
func (c *Controller) ResetIcon(level int) {
	c.icons.Reset(level)
}

func (c *Controller) Viewport() (geom.Rect, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewport, c.hasViewport
}

func (c *Controller) Configuration() (mapdata.Configuration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config, c.hasViewport
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error of the most recent pipeline stage, if it failed.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) DrawerCount(kind mapdata.Kind) int {
	return c.registry.Len(kind)
}

func (c *Controller) Layers() []mapdata.Kind {
	layers := c.scheduler.Layers()
	out := make([]mapdata.Kind, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.Kind)
	}
	return out
}

func (c *Controller) fail(err error) {
	c.setStateErr(StateFailed, err)
	c.log.Error().Err(err).Msg("configuration load failed")
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.transition(s)
	c.mu.Unlock()
}

func (c *Controller) setStateErr(s State, err error) {
	c.mu.Lock()
	c.transition(s)
	c.lastErr = err
	c.mu.Unlock()
}

// transition never leaves StateRendered: the canvas still shows the last good map while a
// later load cycle runs or fails. Caller holds mu.
func (c *Controller) transition(s State) {
	if c.state == StateRendered && s != StateRendered {
		return
	}
	c.state = s
}
