// Package geom holds the flat 2D types the map engine works in: points, sizes and the
// visible rectangle (viewport) with its zoom and pan arithmetic.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidViewport reports a degenerate rectangle or a scale factor that would produce one.
var ErrInvalidViewport = errors.New("invalid viewport operation")

type Point struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Mul(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

type Size struct {
	Width  float64 `json:"width" yaml:"width" msgpack:"width"`
	Height float64 `json:"height" yaml:"height" msgpack:"height"`
}

// Rect is an origin + size region of the plane. The viewport is a Rect.
type Rect struct {
	Origin Point `json:"origin" yaml:"origin" msgpack:"origin"`
	Size   Size  `json:"size" yaml:"size" msgpack:"size"`
}

// Validate fails unless both dimensions are finite and strictly positive.
func (r Rect) Validate() error {
	w, h := r.Size.Width, r.Size.Height
	if !finite(w) || !finite(h) || w <= 0 || h <= 0 {
		return fmt.Errorf("%w: size %gx%g must be positive", ErrInvalidViewport, w, h)
	}
	if !finite(r.Origin.X) || !finite(r.Origin.Y) {
		return fmt.Errorf("%w: origin (%g,%g) is not finite", ErrInvalidViewport, r.Origin.X, r.Origin.Y)
	}
	return nil
}

// SetFrame replaces r with frame. r is left untouched when frame is degenerate.
func (r *Rect) SetFrame(frame Rect) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	*r = frame
	return nil
}

// ScaleAboutPoint scales the rectangle by factor while keeping p fixed.
// A factor below 1 zooms in (the visible region shrinks), above 1 zooms out.
func (r *Rect) ScaleAboutPoint(factor float64, p Point) error {
	if !finite(factor) || factor <= 0 {
		return fmt.Errorf("%w: scale factor %g must be positive", ErrInvalidViewport, factor)
	}
	if !finite(p.X) || !finite(p.Y) {
		return fmt.Errorf("%w: scale point (%g,%g) is not finite", ErrInvalidViewport, p.X, p.Y)
	}
	next := Rect{
		Origin: p.Sub(p.Sub(r.Origin).Mul(factor)),
		Size:   Size{Width: r.Size.Width * factor, Height: r.Size.Height * factor},
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*r = next
	return nil
}

func (r *Rect) Translate(dx, dy float64) {
	r.Origin.X += dx
	r.Origin.Y += dy
}

// Max returns the corner opposite to the origin.
func (r Rect) Max() Point {
	return Point{X: r.Origin.X + r.Size.Width, Y: r.Origin.Y + r.Size.Height}
}

func (r Rect) Center() Point {
	return Point{X: r.Origin.X + r.Size.Width/2, Y: r.Origin.Y + r.Size.Height/2}
}

func (r Rect) Contains(p Point) bool {
	m := r.Max()
	return p.X >= r.Origin.X && p.X <= m.X && p.Y >= r.Origin.Y && p.Y <= m.Y
}

// Intersects reports whether r and o overlap. Touching edges count as overlap.
func (r Rect) Intersects(o Rect) bool {
	rm, om := r.Max(), o.Max()
	return r.Origin.X <= om.X && o.Origin.X <= rm.X && r.Origin.Y <= om.Y && o.Origin.Y <= rm.Y
}

// BoundsOf returns the smallest rect containing all points. The result may have a zero
// dimension and is not meant to be used as a viewport.
func BoundsOf(points []Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{
		Origin: Point{X: minX, Y: minY},
		Size:   Size{Width: maxX - minX, Height: maxY - minY},
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
