// Package raster renders a canvas scene to PNG with the gg software rasterizer.
package raster

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gogpu/gg"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/geom"
)

const (
	maxDimension  = 4096
	defaultStroke = "#333333"
	markerColor   = "#ffffff"
	markerOutline = "#222222"
	background    = "#ffffff"
)

var ErrInvalidSize = errors.New("invalid raster size")

// Options selects the output size. Zero values fall back to the scene's pixel size.
type Options struct {
	Width  int
	Height int
}

// EncodePNG draws the visible items of sc into a width x height image using the same
// slice fit as the SVG document and writes it as PNG.
func EncodePNG(w io.Writer, sc canvas.Scene, opts Options) error {
	width, height := opts.Width, opts.Height
	if width == 0 && height == 0 {
		width, height = int(math.Round(sc.Width)), int(math.Round(sc.Height))
	}
	if width <= 0 || height <= 0 || width > maxDimension || height > maxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	vb := sc.ViewBox
	if vb.Size.Width <= 0 || vb.Size.Height <= 0 {
		return fmt.Errorf("%w: scene has no viewbox", ErrInvalidSize)
	}

	dc := gg.NewContext(width, height)
	defer dc.Close()
	dc.ClearWithColor(gg.Hex(background))

	scale := math.Max(float64(width)/vb.Size.Width, float64(height)/vb.Size.Height)
	pr := projection{
		origin: vb.Origin,
		scale:  scale,
		tx:     (float64(width) - vb.Size.Width*scale) / 2,
		ty:     (float64(height) - vb.Size.Height*scale) / 2,
	}

	for _, layer := range sc.Layers {
		for _, item := range layer.Items {
			if item.Hidden {
				continue
			}
			var err error
			if item.Use {
				err = drawMarker(dc, item, pr)
			} else {
				err = drawPath(dc, item, pr)
			}
			if err != nil {
				return fmt.Errorf("draw %s: %w", layer.ID, err)
			}
		}
	}

	return dc.EncodePNG(w)
}

// projection maps canvas units to pixels. Line widths are given in pixels to gg.
type projection struct {
	origin geom.Point
	scale  float64
	tx, ty float64
}

func (p projection) apply(q geom.Point) (float64, float64) {
	return (q.X-p.origin.X)*p.scale + p.tx, (q.Y-p.origin.Y)*p.scale + p.ty
}

func drawPath(dc *gg.Context, item canvas.SceneItem, pr projection) error {
	if len(item.Points) < 2 {
		return nil
	}
	color := item.Stroke
	if color == "" {
		color = defaultStroke
	}
	width := item.Width * pr.scale
	if width <= 0 {
		width = 1
	}

	dc.ClearPath()
	dc.MoveTo(pr.apply(item.Points[0]))
	for _, p := range item.Points[1:] {
		dc.LineTo(pr.apply(p))
	}
	dc.SetHexColor(color)
	dc.SetLineWidth(width)
	return dc.Stroke()
}

// drawMarker stands in for a symbol instance; icon sources are not rasterized.
func drawMarker(dc *gg.Context, item canvas.SceneItem, pr projection) error {
	f := item.Frame
	r := math.Min(f.Size.Width, f.Size.Height) / 2 * pr.scale
	if r <= 0 {
		r = 3
	}
	x, y := pr.apply(f.Center())

	dc.ClearPath()
	dc.DrawCircle(x, y, r)
	dc.SetHexColor(markerColor)
	if err := dc.FillPreserve(); err != nil {
		return err
	}
	dc.SetHexColor(markerOutline)
	dc.SetLineWidth(r / 3)
	return dc.Stroke()
}
