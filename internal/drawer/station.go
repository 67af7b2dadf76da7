package drawer

import (
	"context"
	"fmt"
	"sync"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/registry"
)

// Station draws one station as an instance of its level's shared icon symbol.
type Station struct {
	host  registry.Host
	style Style
	use   canvas.UseElement

	mu      sync.Mutex
	data    mapdata.Station
	display bool
}

func NewStation(host registry.Host, group canvas.Group, data mapdata.Station, style Style) *Station {
	return &Station{
		host:  host,
		style: style,
		use:   group.AddUse(),
		data:  data,
	}
}

func (s *Station) Display() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

func (s *Station) SetDisplay(visible bool) {
	s.mu.Lock()
	s.display = visible
	s.mu.Unlock()
}

func (s *Station) Update(e mapdata.Entity) error {
	st, ok := e.(mapdata.Station)
	if !ok {
		return fmt.Errorf("%w: %T", ErrEntityType, e)
	}
	s.mu.Lock()
	s.data = st
	s.mu.Unlock()
	return nil
}

func (s *Station) Remove() {
	s.use.Remove()
}

func (s *Station) Element() canvas.Element { return s.use }

func (s *Station) Render(ctx context.Context) error {
	s.mu.Lock()
	data, visible := s.data, s.display
	s.mu.Unlock()

	if !visible {
		s.use.SetDisplay(false)
		return nil
	}

	sym, err := s.host.IconSymbolForLevel(ctx, data.Level)
	if err != nil {
		return fmt.Errorf("station %d: %w", data.ID, err)
	}

	size := s.style.StationSize * unitsPerPixel(s.host)
	s.use.SetClass(fmt.Sprintf("station level-%d", data.Level))
	s.use.SetHref(sym.ID())
	s.use.SetFrame(geom.Rect{
		Origin: geom.Point{X: data.Position.X - size/2, Y: data.Position.Y - size/2},
		Size:   geom.Size{Width: size, Height: size},
	})
	s.use.SetDisplay(true)
	return nil
}
