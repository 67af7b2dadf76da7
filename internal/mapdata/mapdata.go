// Package mapdata defines the data the map engine consumes: the one-shot configuration,
// the per-viewport entity snapshot and the Data Source contract that supplies them.
package mapdata

import (
	"context"
	"errors"

	"metromap/core-go/internal/geom"
)

// ErrIconNotFound is returned by data sources that have no icon for a level.
var ErrIconNotFound = errors.New("icon not found")

// Kind names an entity type. It doubles as the canvas group id for that type.
type Kind string

const (
	KindSegments Kind = "segments"
	KindStations Kind = "stations"
)

// Configuration is loaded once at startup. Styles and the descriptive fields are opaque
// text passed through to the canvas verbatim.
type Configuration struct {
	Frame    geom.Rect `json:"frame" yaml:"frame" msgpack:"frame"`
	Styles   string    `json:"styles,omitempty" yaml:"styles,omitempty" msgpack:"styles,omitempty"`
	Title    string    `json:"title,omitempty" yaml:"title,omitempty" msgpack:"title,omitempty"`
	Desc     string    `json:"desc,omitempty" yaml:"desc,omitempty" msgpack:"desc,omitempty"`
	Metadata string    `json:"metadata,omitempty" yaml:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Entity is anything with a stable identity within its Kind.
type Entity interface {
	EntityID() int64
	EntityKind() Kind
	Bounds() geom.Rect
}

type Station struct {
	ID       int64      `json:"id" yaml:"id" msgpack:"id"`
	Name     string     `json:"name,omitempty" yaml:"name,omitempty" msgpack:"name,omitempty"`
	Position geom.Point `json:"position" yaml:"position" msgpack:"position"`
	Level    int        `json:"level" yaml:"level" msgpack:"level"`
}

func (s Station) EntityID() int64   { return s.ID }
func (s Station) EntityKind() Kind  { return KindStations }
func (s Station) Bounds() geom.Rect { return geom.Rect{Origin: s.Position} }

// Segment is a drawn piece of a line. Shape and Line are its z-order keys.
type Segment struct {
	ID     int64        `json:"id" yaml:"id" msgpack:"id"`
	Shape  int          `json:"shape" yaml:"shape" msgpack:"shape"`
	Line   int          `json:"line" yaml:"line" msgpack:"line"`
	Color  string       `json:"color,omitempty" yaml:"color,omitempty" msgpack:"color,omitempty"`
	Points []geom.Point `json:"points" yaml:"points" msgpack:"points"`
}

func (s Segment) EntityID() int64   { return s.ID }
func (s Segment) EntityKind() Kind  { return KindSegments }
func (s Segment) Bounds() geom.Rect { return geom.BoundsOf(s.Points) }

// Map is the entity snapshot returned for one viewport query.
type Map struct {
	Stations []Station `json:"stations" yaml:"stations" msgpack:"stations"`
	Segments []Segment `json:"segments" yaml:"segments" msgpack:"segments"`
}

// Entities returns the snapshot's entities of the given kind in source order.
func (m Map) Entities(kind Kind) []Entity {
	switch kind {
	case KindStations:
		out := make([]Entity, 0, len(m.Stations))
		for _, s := range m.Stations {
			out = append(out, s)
		}
		return out
	case KindSegments:
		out := make([]Entity, 0, len(m.Segments))
		for _, s := range m.Segments {
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// SegmentLess orders segments by shape then line, both descending, so larger keys draw
// first and smaller keys end up on top. Non-segment entities keep their relative order.
func SegmentLess(a, b Entity) bool {
	sa, okA := a.(Segment)
	sb, okB := b.(Segment)
	if !okA || !okB {
		return false
	}
	if sa.Shape != sb.Shape {
		return sa.Shape > sb.Shape
	}
	return sa.Line > sb.Line
}

// DataSource supplies configuration, geometry and icon sources. Implementations own
// their transport, caching and retry policy.
type DataSource interface {
	Configuration(ctx context.Context) (Configuration, error)
	LoadMap(ctx context.Context, visible geom.Rect) (Map, error)
	IconForLevel(ctx context.Context, level int) (string, error)
}
