// Package filesource serves a whole map from one YAML or JSON bundle. Stations and
// segments are indexed in an R-tree so viewport queries only touch nearby entities.
package filesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhconnelly/rtreego"
	"gopkg.in/yaml.v3"

	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
)

var (
	ErrFormat      = errors.New("unsupported bundle format")
	ErrDuplicateID = errors.New("duplicate entity id")
)

// epsilon pads zero-area bounds (stations, straight segments) since the tree rejects
// zero-length rect sides.
const epsilon = 1e-6

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the bundle format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrFormat, filepath.Ext(path))
	}
}

// Bundle is a complete map: configuration, every entity and the icon source per level.
type Bundle struct {
	Configuration mapdata.Configuration `json:"configuration" yaml:"configuration"`
	Stations      []mapdata.Station     `json:"stations" yaml:"stations"`
	Segments      []mapdata.Segment     `json:"segments" yaml:"segments"`
	Icons         map[int]string        `json:"icons" yaml:"icons"`
}

func ReadBundle(r io.Reader, format Format) (Bundle, error) {
	var b Bundle
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			return Bundle{}, fmt.Errorf("decode yaml bundle: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return Bundle{}, fmt.Errorf("decode json bundle: %w", err)
		}
	default:
		return Bundle{}, fmt.Errorf("%w: %q", ErrFormat, format)
	}
	return b, nil
}

// LoadBundle reads the bundle at path, choosing the format by extension.
func LoadBundle(path string) (Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Bundle{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	return ReadBundle(bytes.NewReader(raw), format)
}

type Source struct {
	bundle Bundle
	tree   *rtreego.Rtree
}

// Open loads and indexes the bundle at path.
func Open(path string) (*Source, error) {
	b, err := LoadBundle(path)
	if err != nil {
		return nil, err
	}
	return New(b)
}

func New(b Bundle) (*Source, error) {
	tree := rtreego.NewTree(2, 25, 50)

	seen := make(map[int64]bool, len(b.Stations))
	for i, st := range b.Stations {
		if seen[st.ID] {
			return nil, fmt.Errorf("%w: station %d", ErrDuplicateID, st.ID)
		}
		seen[st.ID] = true
		tree.Insert(&indexed{kind: mapdata.KindStations, index: i, bounds: st.Bounds()})
	}

	seen = make(map[int64]bool, len(b.Segments))
	for i, seg := range b.Segments {
		if seen[seg.ID] {
			return nil, fmt.Errorf("%w: segment %d", ErrDuplicateID, seg.ID)
		}
		seen[seg.ID] = true
		tree.Insert(&indexed{kind: mapdata.KindSegments, index: i, bounds: seg.Bounds()})
	}

	return &Source{bundle: b, tree: tree}, nil
}

func (s *Source) Configuration(ctx context.Context) (mapdata.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return mapdata.Configuration{}, err
	}
	return s.bundle.Configuration, nil
}

// LoadMap returns the entities whose bounds intersect visible, in bundle order.
func (s *Source) LoadMap(ctx context.Context, visible geom.Rect) (mapdata.Map, error) {
	if err := ctx.Err(); err != nil {
		return mapdata.Map{}, err
	}
	if err := visible.Validate(); err != nil {
		return mapdata.Map{}, err
	}

	// The tree treats touching edges as disjoint; pad the query and filter exactly below.
	query := toRTree(geom.Rect{
		Origin: geom.Point{X: visible.Origin.X - epsilon, Y: visible.Origin.Y - epsilon},
		Size:   geom.Size{Width: visible.Size.Width + 2*epsilon, Height: visible.Size.Height + 2*epsilon},
	})

	var stations, segments []int
	for _, sp := range s.tree.SearchIntersect(query) {
		it := sp.(*indexed)
		if !it.bounds.Intersects(visible) {
			continue
		}
		switch it.kind {
		case mapdata.KindStations:
			stations = append(stations, it.index)
		case mapdata.KindSegments:
			segments = append(segments, it.index)
		}
	}
	sort.Ints(stations)
	sort.Ints(segments)

	m := mapdata.Map{
		Stations: make([]mapdata.Station, 0, len(stations)),
		Segments: make([]mapdata.Segment, 0, len(segments)),
	}
	for _, i := range stations {
		m.Stations = append(m.Stations, s.bundle.Stations[i])
	}
	for _, i := range segments {
		m.Segments = append(m.Segments, s.bundle.Segments[i])
	}
	return m, nil
}

func (s *Source) IconForLevel(ctx context.Context, level int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, ok := s.bundle.Icons[level]
	if !ok {
		return "", fmt.Errorf("%w: level %d", mapdata.ErrIconNotFound, level)
	}
	return src, nil
}

// Bundle returns the loaded bundle.
func (s *Source) Bundle() Bundle {
	return s.bundle
}

// indexed wraps an entity position for R-tree storage.
type indexed struct {
	kind   mapdata.Kind
	index  int
	bounds geom.Rect
}

func (it *indexed) Bounds() rtreego.Rect {
	return toRTree(it.bounds)
}

func toRTree(r geom.Rect) rtreego.Rect {
	w, h := r.Size.Width, r.Size.Height
	if w < epsilon {
		w = epsilon
	}
	if h < epsilon {
		h = epsilon
	}
	rect, _ := rtreego.NewRect(rtreego.Point{r.Origin.X, r.Origin.Y}, []float64{w, h})
	return rect
}
