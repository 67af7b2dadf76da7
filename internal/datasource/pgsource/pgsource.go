// Package pgsource serves map data from Postgres through the generated query set.
package pgsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/sqlcgen"
)

var ErrNotConfigured = errors.New("map configuration row missing")

// Querier is the read side of sqlcgen.Queries.
type Querier interface {
	GetMapConfiguration(ctx context.Context) (sqlcgen.MapConfiguration, error)
	ListStationsInBox(ctx context.Context, arg sqlcgen.BoxParams) ([]sqlcgen.Station, error)
	ListSegmentsInBox(ctx context.Context, arg sqlcgen.BoxParams) ([]sqlcgen.Segment, error)
	GetStationIcon(ctx context.Context, level int32) (sqlcgen.StationIcon, error)
}

// Writer is the write side of sqlcgen.Queries used by Import.
type Writer interface {
	UpsertMapConfiguration(ctx context.Context, arg sqlcgen.UpsertMapConfigurationParams) error
	UpsertStation(ctx context.Context, arg sqlcgen.Station) error
	UpsertSegment(ctx context.Context, arg sqlcgen.UpsertSegmentParams) error
	UpsertStationIcon(ctx context.Context, arg sqlcgen.StationIcon) error
}

type Source struct {
	q Querier
}

func New(q Querier) *Source {
	return &Source{q: q}
}

func (s *Source) Configuration(ctx context.Context) (mapdata.Configuration, error) {
	row, err := s.q.GetMapConfiguration(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mapdata.Configuration{}, ErrNotConfigured
		}
		return mapdata.Configuration{}, err
	}
	return mapdata.Configuration{
		Frame: geom.Rect{
			Origin: geom.Point{X: row.FrameX, Y: row.FrameY},
			Size:   geom.Size{Width: row.FrameW, Height: row.FrameH},
		},
		Styles:   row.Styles,
		Title:    row.Title,
		Desc:     row.Description,
		Metadata: row.Metadata,
	}, nil
}

// LoadMap runs the station and segment box queries concurrently.
func (s *Source) LoadMap(ctx context.Context, visible geom.Rect) (mapdata.Map, error) {
	if err := visible.Validate(); err != nil {
		return mapdata.Map{}, err
	}
	far := visible.Max()
	box := sqlcgen.BoxParams{MinX: visible.Origin.X, MinY: visible.Origin.Y, MaxX: far.X, MaxY: far.Y}

	var (
		stations []sqlcgen.Station
		segments []sqlcgen.Segment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stations, err = s.q.ListStationsInBox(gctx, box)
		if err != nil {
			return fmt.Errorf("list stations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		segments, err = s.q.ListSegmentsInBox(gctx, box)
		if err != nil {
			return fmt.Errorf("list segments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return mapdata.Map{}, err
	}

	m := mapdata.Map{
		Stations: make([]mapdata.Station, 0, len(stations)),
		Segments: make([]mapdata.Segment, 0, len(segments)),
	}
	for _, st := range stations {
		m.Stations = append(m.Stations, mapdata.Station{
			ID:       st.ID,
			Name:     st.Name,
			Position: geom.Point{X: st.X, Y: st.Y},
			Level:    int(st.Level),
		})
	}
	for _, seg := range segments {
		points := make([]geom.Point, 0, len(seg.Points))
		for _, p := range seg.Points {
			points = append(points, geom.Point{X: p.X, Y: p.Y})
		}
		m.Segments = append(m.Segments, mapdata.Segment{
			ID:     seg.ID,
			Shape:  int(seg.Shape),
			Line:   int(seg.Line),
			Color:  seg.Color,
			Points: points,
		})
	}
	return m, nil
}

func (s *Source) IconForLevel(ctx context.Context, level int) (string, error) {
	row, err := s.q.GetStationIcon(ctx, int32(level))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: level %d", mapdata.ErrIconNotFound, level)
		}
		return "", err
	}
	return row.Source, nil
}

// Import upserts a complete map. Callers wanting atomicity pass a transaction-bound
// query set.
func Import(ctx context.Context, w Writer, cfg mapdata.Configuration, m mapdata.Map, icons map[int]string) error {
	if err := cfg.Frame.Validate(); err != nil {
		return fmt.Errorf("configuration frame: %w", err)
	}
	if err := w.UpsertMapConfiguration(ctx, sqlcgen.UpsertMapConfigurationParams{
		FrameX:      cfg.Frame.Origin.X,
		FrameY:      cfg.Frame.Origin.Y,
		FrameW:      cfg.Frame.Size.Width,
		FrameH:      cfg.Frame.Size.Height,
		Styles:      cfg.Styles,
		Title:       cfg.Title,
		Description: cfg.Desc,
		Metadata:    cfg.Metadata,
	}); err != nil {
		return fmt.Errorf("upsert configuration: %w", err)
	}

	for _, st := range m.Stations {
		if err := w.UpsertStation(ctx, sqlcgen.Station{
			ID:    st.ID,
			Name:  st.Name,
			X:     st.Position.X,
			Y:     st.Position.Y,
			Level: int32(st.Level),
		}); err != nil {
			return fmt.Errorf("upsert station %d: %w", st.ID, err)
		}
	}

	for _, seg := range m.Segments {
		points := make([]sqlcgen.Point, 0, len(seg.Points))
		for _, p := range seg.Points {
			points = append(points, sqlcgen.Point{X: p.X, Y: p.Y})
		}
		b := seg.Bounds()
		bm := b.Max()
		if err := w.UpsertSegment(ctx, sqlcgen.UpsertSegmentParams{
			Segment: sqlcgen.Segment{
				ID:     seg.ID,
				Shape:  int32(seg.Shape),
				Line:   int32(seg.Line),
				Color:  seg.Color,
				Points: points,
			},
			Box: sqlcgen.BoxParams{MinX: b.Origin.X, MinY: b.Origin.Y, MaxX: bm.X, MaxY: bm.Y},
		}); err != nil {
			return fmt.Errorf("upsert segment %d: %w", seg.ID, err)
		}
	}

	for level, src := range icons {
		if err := w.UpsertStationIcon(ctx, sqlcgen.StationIcon{Level: int32(level), Source: src}); err != nil {
			return fmt.Errorf("upsert icon %d: %w", level, err)
		}
	}
	return nil
}
