// Package drawer holds the entity drawers for stations and segments.
//
// A drawer creates its canvas element when it is constructed, so document order (and
// therefore z-order) is fixed before any render runs. The registry moves elements only
// when a later load brings entities that sort below existing ones.
package drawer

import (
	"errors"
	"fmt"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/registry"
	"metromap/core-go/internal/scheduler"
)

var ErrEntityType = errors.New("unexpected entity type")

// Style holds the on-screen sizes drawers keep constant across zoom levels, in pixels.
type Style struct {
	SegmentWidth float64
	StationSize  float64
	DefaultColor string
}

func DefaultStyle() Style {
	return Style{
		SegmentWidth: 6,
		StationSize:  14,
		DefaultColor: "#888888",
	}
}

// Layers returns the default draw-priority list: segments first, stations on top.
func Layers(style Style) []scheduler.Layer {
	return []scheduler.Layer{
		{Kind: mapdata.KindSegments, Factory: SegmentFactory(style), Less: mapdata.SegmentLess},
		{Kind: mapdata.KindStations, Factory: StationFactory(style)},
	}
}

func SegmentFactory(style Style) registry.Factory {
	return func(host registry.Host, group canvas.Group, e mapdata.Entity) (registry.Drawer, error) {
		seg, ok := e.(mapdata.Segment)
		if !ok {
			return nil, fmt.Errorf("%w: %T in %s", ErrEntityType, e, group.ID())
		}
		return NewSegment(host, group, seg, style), nil
	}
}

func StationFactory(style Style) registry.Factory {
	return func(host registry.Host, group canvas.Group, e mapdata.Entity) (registry.Drawer, error) {
		st, ok := e.(mapdata.Station)
		if !ok {
			return nil, fmt.Errorf("%w: %T in %s", ErrEntityType, e, group.ID())
		}
		return NewStation(host, group, st, style), nil
	}
}

// unitsPerPixel converts an on-screen size into canvas units at the host's zoom.
func unitsPerPixel(host registry.Host) float64 {
	z := host.ZoomFactor()
	if z <= 0 {
		return 1
	}
	return 1 / z
}
