// Package canvas is the drawing surface the map engine renders into. The engine only
// talks to the Surface interface; Document is the in-memory SVG implementation used by
// the server.
package canvas

import (
	"metromap/core-go/internal/geom"
)

// TextTag selects one of the opaque pass-through nodes injected from the configuration.
type TextTag string

const (
	TagStyle    TextTag = "style"
	TagTitle    TextTag = "title"
	TagDesc     TextTag = "desc"
	TagMetadata TextTag = "metadata"
)

// Surface is the drawing surface contract consumed by the controller and drawers.
// Implementations must be safe for concurrent use.
type Surface interface {
	// Group returns the named group, creating it (appended last) on first use.
	Group(id string) Group
	SetViewBox(r geom.Rect)
	ViewBox() geom.Rect
	// Point converts a caller-space (pixel) point into canvas space.
	Point(p geom.Point) geom.Point
	// Zoom is the current pixels-per-unit factor of the viewbox.
	Zoom() float64
	InjectText(tag TextTag, text string)
	// DefineSymbol registers a reusable definition from raw vector source.
	DefineSymbol(id, source string) (Symbol, error)
}

type Group interface {
	ID() string
	// AddPath and AddUse append a new element, drawn above every existing one.
	AddPath() PathElement
	AddUse() UseElement
	// Reorder moves the given elements of this group to the front, in the given order.
	// Elements not listed keep their relative order after them.
	Reorder(elems []Element)
}

type Symbol interface {
	ID() string
}

// Element is the part every drawable shares.
type Element interface {
	SetClass(class string)
	SetDisplay(visible bool)
	// Remove detaches the element from its group. Further calls on it are ignored.
	Remove()
}

type PathElement interface {
	Element
	SetPoints(points []geom.Point)
	SetStroke(color string, width float64)
}

type UseElement interface {
	Element
	SetHref(symbolID string)
	SetFrame(r geom.Rect)
}
