package drawer

import (
	"context"
	"fmt"
	"sync"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/registry"
)

// Segment draws one line segment as a stroked path.
type Segment struct {
	host  registry.Host
	style Style
	path  canvas.PathElement

	mu      sync.Mutex
	data    mapdata.Segment
	display bool
}

func NewSegment(host registry.Host, group canvas.Group, data mapdata.Segment, style Style) *Segment {
	return &Segment{
		host:  host,
		style: style,
		path:  group.AddPath(),
		data:  data,
	}
}

func (s *Segment) Display() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

func (s *Segment) SetDisplay(visible bool) {
	s.mu.Lock()
	s.display = visible
	s.mu.Unlock()
}

func (s *Segment) Update(e mapdata.Entity) error {
	seg, ok := e.(mapdata.Segment)
	if !ok {
		return fmt.Errorf("%w: %T", ErrEntityType, e)
	}
	s.mu.Lock()
	s.data = seg
	s.mu.Unlock()
	return nil
}

func (s *Segment) Remove() {
	s.path.Remove()
}

func (s *Segment) Element() canvas.Element { return s.path }

func (s *Segment) Render(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	data, visible := s.data, s.display
	s.mu.Unlock()

	if !visible {
		s.path.SetDisplay(false)
		return nil
	}

	color := data.Color
	if color == "" {
		color = s.style.DefaultColor
	}
	s.path.SetClass(fmt.Sprintf("segment line-%d shape-%d", data.Line, data.Shape))
	s.path.SetPoints(data.Points)
	s.path.SetStroke(color, s.style.SegmentWidth*unitsPerPixel(s.host))
	s.path.SetDisplay(true)
	return nil
}
