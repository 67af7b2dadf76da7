// Package scheduler decides the order drawers are created and rendered in.
//
// Layers are processed in their declared priority order. Creation follows that order,
// and after every Build each layer's drawers are arranged by the layer's sort across all
// loads, which fixes document z-order. Rendering is layer-sequential:
// layer N+1 starts only after every drawer of layer N finished, while drawers inside a
// layer render concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/metrics"
	"metromap/core-go/internal/registry"
)

var ErrDrawerRender = errors.New("drawer render failed")

// Layer is one entry of the declared draw-priority list.
type Layer struct {
	Kind    mapdata.Kind
	Factory registry.Factory
	// Less sorts the layer's entities before drawers are ensured. Nil keeps source order.
	Less func(a, b mapdata.Entity) bool
}

type Options struct {
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Reconcile registry.ReconcileMode
	// MaxConcurrency bounds concurrent renders within a layer. Zero means unbounded.
	MaxConcurrency int
}

type Scheduler struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	registry  *registry.Registry
	layers    []Layer
	reconcile registry.ReconcileMode
	limit     int
}

// LayerStats summarizes one layer of a Build.
type LayerStats struct {
	Kind       mapdata.Kind
	Created    int
	Seen       int
	Reconciled int
	Total      int
}

// New registers every layer's kind with reg in priority order.
func New(reg *registry.Registry, layers []Layer, opts Options) *Scheduler {
	for _, l := range layers {
		reg.Register(l.Kind, l.Factory, l.Less)
	}
	return &Scheduler{
		log:       opts.Log.With().Str("component", "scheduler").Logger(),
		metrics:   opts.Metrics,
		registry:  reg,
		layers:    append([]Layer(nil), layers...),
		reconcile: opts.Reconcile,
		limit:     opts.MaxConcurrency,
	}
}

func (s *Scheduler) Layers() []Layer {
	return append([]Layer(nil), s.layers...)
}

// Build ensures a drawer for every entity of snapshot, layer by layer, then reconciles
// drawers absent from snapshot.
func (s *Scheduler) Build(snapshot mapdata.Map) ([]LayerStats, error) {
	s.registry.BeginLoad()

	stats := make([]LayerStats, 0, len(s.layers))
	for _, l := range s.layers {
		entities := snapshot.Entities(l.Kind)
		if l.Less != nil {
			sort.SliceStable(entities, func(i, j int) bool { return l.Less(entities[i], entities[j]) })
		}

		st := LayerStats{Kind: l.Kind, Seen: len(entities)}
		for _, e := range entities {
			_, created, err := s.registry.EnsureDrawer(l.Kind, e)
			if err != nil {
				return stats, err
			}
			if created {
				st.Created++
			}
		}
		s.registry.Arrange(l.Kind)
		stats = append(stats, st)
	}

	for i := range stats {
		stats[i].Reconciled = s.registry.Reconcile(stats[i].Kind, s.reconcile)
		stats[i].Total = s.registry.Len(stats[i].Kind)
		s.metrics.SetDrawers(string(stats[i].Kind), stats[i].Total)
	}
	return stats, nil
}

// Render runs one full render pass. The first failing drawer fails its layer and the
// pass stops there; earlier layers keep their visuals.
func (s *Scheduler) Render(ctx context.Context) error {
	for _, l := range s.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.renderLayer(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) renderLayer(ctx context.Context, l Layer) error {
	drawers := s.registry.DrawersOfKind(l.Kind)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for _, d := range drawers {
		g.Go(func() error {
			if err := d.Render(gctx); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrDrawerRender, l.Kind, err)
			}
			return nil
		})
	}
	err := g.Wait()

	s.metrics.ObserveRenderPass(string(l.Kind), err, time.Since(start))
	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("layer", string(l.Kind)).
		Int("drawers", len(drawers)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("layer rendered")
	return err
}
