package canvas

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"metromap/core-go/internal/geom"
)

// ErrInvalidSymbol is returned by DefineSymbol when the source is not well-formed markup.
var ErrInvalidSymbol = errors.New("invalid symbol source")

const (
	rootID              = "metromap"
	rootClass           = "metromap"
	preserveAspectRatio = "xMidYMid slice"
)

// Document is a goroutine-safe in-memory SVG document.
type Document struct {
	mu      sync.RWMutex
	width   float64
	height  float64
	viewBox geom.Rect
	texts   map[TextTag]string
	symbols []*symbol
	groups  []*group
}

// NewDocument creates an empty document rendered into a width x height pixel viewport.
// A zero size makes Point the identity and Zoom return 1.
func NewDocument(width, height float64) *Document {
	return &Document{
		width:  width,
		height: height,
		texts:  make(map[TextTag]string),
	}
}

func (d *Document) PixelSize() (float64, float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width, d.height
}

func (d *Document) SetPixelSize(width, height float64) {
	d.mu.Lock()
	d.width, d.height = width, height
	d.mu.Unlock()
}

func (d *Document) Group(id string) Group {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		if g.id == id {
			return g
		}
	}
	g := &group{doc: d, id: id}
	d.groups = append(d.groups, g)
	return g
}

func (d *Document) SetViewBox(r geom.Rect) {
	d.mu.Lock()
	d.viewBox = r
	d.mu.Unlock()
}

func (d *Document) ViewBox() geom.Rect {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewBox
}

// transform returns the slice-fit scale and pixel offset of the viewbox. Caller holds mu.
func (d *Document) transform() (scale, tx, ty float64, ok bool) {
	vb := d.viewBox
	if d.width <= 0 || d.height <= 0 || vb.Size.Width <= 0 || vb.Size.Height <= 0 {
		return 1, 0, 0, false
	}
	scale = math.Max(d.width/vb.Size.Width, d.height/vb.Size.Height)
	tx = (d.width - vb.Size.Width*scale) / 2
	ty = (d.height - vb.Size.Height*scale) / 2
	return scale, tx, ty, true
}

func (d *Document) Point(p geom.Point) geom.Point {
	d.mu.RLock()
	defer d.mu.RUnlock()
	scale, tx, ty, ok := d.transform()
	if !ok {
		return p
	}
	return geom.Point{
		X: d.viewBox.Origin.X + (p.X-tx)/scale,
		Y: d.viewBox.Origin.Y + (p.Y-ty)/scale,
	}
}

func (d *Document) Zoom() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	scale, _, _, _ := d.transform()
	return scale
}

func (d *Document) InjectText(tag TextTag, text string) {
	d.mu.Lock()
	d.texts[tag] = text
	d.mu.Unlock()
}

func (d *Document) DefineSymbol(id, source string) (Symbol, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSymbol)
	}
	source, err := cleanMarkup(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSymbol, id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.symbols {
		if s.id == id {
			s.source = source
			return s, nil
		}
	}
	s := &symbol{id: id, source: source}
	d.symbols = append(d.symbols, s)
	return s, nil
}

// cleanMarkup checks that source is well-formed and drops XML declarations and
// directives, which are not allowed inside a <symbol>.
func cleanMarkup(source string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(source))
	dec.Strict = true

	var sb strings.Builder
	depth := 0
	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.ProcInst, xml.Directive:
			continue
		}
		sb.WriteString(source[start:dec.InputOffset()])
	}
	if depth != 0 {
		return "", errors.New("unbalanced elements")
	}
	return strings.TrimSpace(sb.String()), nil
}

type symbol struct {
	id     string
	source string
}

func (s *symbol) ID() string { return s.id }

type group struct {
	doc   *Document
	id    string
	items []*node
}

func (g *group) ID() string { return g.id }

func (g *group) AddPath() PathElement {
	n := &node{group: g, kind: nodePath}
	g.doc.mu.Lock()
	g.items = append(g.items, n)
	g.doc.mu.Unlock()
	return n
}

func (g *group) AddUse() UseElement {
	n := &node{group: g, kind: nodeUse}
	g.doc.mu.Lock()
	g.items = append(g.items, n)
	g.doc.mu.Unlock()
	return n
}

func (g *group) Reorder(elems []Element) {
	g.doc.mu.Lock()
	defer g.doc.mu.Unlock()

	listed := make(map[*node]bool, len(elems))
	items := make([]*node, 0, len(g.items))
	for _, e := range elems {
		n, ok := e.(*node)
		if !ok || n.group != g || n.removed || listed[n] {
			continue
		}
		listed[n] = true
		items = append(items, n)
	}
	for _, n := range g.items {
		if !listed[n] {
			items = append(items, n)
		}
	}
	g.items = items
}

type nodeKind int

const (
	nodePath nodeKind = iota
	nodeUse
)

// node backs both PathElement and UseElement.
type node struct {
	group   *group
	kind    nodeKind
	class   string
	hidden  bool
	removed bool

	points []geom.Point
	stroke string
	width  float64

	href  string
	frame geom.Rect
}

func (n *node) lock() func() {
	n.group.doc.mu.Lock()
	return n.group.doc.mu.Unlock
}

func (n *node) SetClass(class string) {
	defer n.lock()()
	n.class = class
}

func (n *node) SetDisplay(visible bool) {
	defer n.lock()()
	n.hidden = !visible
}

func (n *node) Remove() {
	defer n.lock()()
	if n.removed {
		return
	}
	n.removed = true
	items := n.group.items
	for i, it := range items {
		if it == n {
			n.group.items = append(items[:i:i], items[i+1:]...)
			break
		}
	}
}

func (n *node) SetPoints(points []geom.Point) {
	defer n.lock()()
	n.points = append(n.points[:0], points...)
}

func (n *node) SetStroke(color string, width float64) {
	defer n.lock()()
	n.stroke, n.width = color, width
}

func (n *node) SetHref(symbolID string) {
	defer n.lock()()
	n.href = symbolID
}

func (n *node) SetFrame(r geom.Rect) {
	defer n.lock()()
	n.frame = r
}

// Scene is a read-only copy of the document's drawable state.
type Scene struct {
	Width, Height float64
	ViewBox       geom.Rect
	Layers        []SceneLayer
}

type SceneLayer struct {
	ID    string
	Items []SceneItem
}

// SceneItem is either a path or, when Use is set, a symbol instance.
type SceneItem struct {
	Use    bool
	Class  string
	Hidden bool
	Points []geom.Point
	Stroke string
	Width  float64
	Href   string
	Frame  geom.Rect
}

func (d *Document) Snapshot() Scene {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sc := Scene{Width: d.width, Height: d.height, ViewBox: d.viewBox}
	for _, g := range d.groups {
		layer := SceneLayer{ID: g.id, Items: make([]SceneItem, 0, len(g.items))}
		for _, n := range g.items {
			item := SceneItem{Class: n.class, Hidden: n.hidden, Stroke: n.stroke, Width: n.width, Frame: n.frame}
			if n.kind == nodePath {
				item.Points = append([]geom.Point(nil), n.points...)
			} else {
				item.Use = true
				item.Href = n.href
			}
			layer.Items = append(layer.Items, item)
		}
		sc.Layers = append(sc.Layers, layer)
	}
	return sc
}

type svgRoot struct {
	XMLName             xml.Name   `xml:"svg"`
	Xmlns               string     `xml:"xmlns,attr"`
	ID                  string     `xml:"id,attr"`
	Class               string     `xml:"class,attr"`
	PreserveAspectRatio string     `xml:"preserveAspectRatio,attr"`
	Width               string     `xml:"width,attr,omitempty"`
	Height              string     `xml:"height,attr,omitempty"`
	ViewBox             string     `xml:"viewBox,attr,omitempty"`
	Style               *svgStyle  `xml:"style,omitempty"`
	Title               *svgText   `xml:"title,omitempty"`
	Desc                *svgText   `xml:"desc,omitempty"`
	Metadata            *svgText   `xml:"metadata,omitempty"`
	Defs                svgDefs    `xml:"defs"`
	Groups              []svgGroup `xml:"g"`
}

type svgStyle struct {
	Type string `xml:"type,attr"`
	Text string `xml:",chardata"`
}

type svgText struct {
	Text string `xml:",chardata"`
}

type svgDefs struct {
	Symbols []svgSymbol `xml:"symbol"`
}

type svgSymbol struct {
	ID    string `xml:"id,attr"`
	Inner string `xml:",innerxml"`
}

type svgGroup struct {
	ID    string   `xml:"id,attr"`
	Items []svgAny `xml:",any"`
}

type svgAny struct {
	XMLName     xml.Name
	Class       string `xml:"class,attr,omitempty"`
	Display     string `xml:"display,attr,omitempty"`
	D           string `xml:"d,attr,omitempty"`
	Fill        string `xml:"fill,attr,omitempty"`
	Stroke      string `xml:"stroke,attr,omitempty"`
	StrokeWidth string `xml:"stroke-width,attr,omitempty"`
	Href        string `xml:"href,attr,omitempty"`
	X           string `xml:"x,attr,omitempty"`
	Y           string `xml:"y,attr,omitempty"`
	W           string `xml:"width,attr,omitempty"`
	H           string `xml:"height,attr,omitempty"`
}

// WriteTo serializes the document as SVG.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	d.mu.RLock()
	root := d.build()
	d.mu.RUnlock()

	cw := &countingWriter{w: w}
	if _, err := io.WriteString(cw, xml.Header); err != nil {
		return cw.n, err
	}
	enc := xml.NewEncoder(cw)
	if err := enc.Encode(root); err != nil {
		return cw.n, err
	}
	return cw.n, enc.Flush()
}

func (d *Document) build() svgRoot {
	root := svgRoot{
		Xmlns:               "http://www.w3.org/2000/svg",
		ID:                  rootID,
		Class:               rootClass,
		PreserveAspectRatio: preserveAspectRatio,
	}
	if d.width > 0 && d.height > 0 {
		root.Width, root.Height = num(d.width), num(d.height)
	}
	if vb := d.viewBox; vb.Size.Width > 0 && vb.Size.Height > 0 {
		root.ViewBox = strings.Join([]string{num(vb.Origin.X), num(vb.Origin.Y), num(vb.Size.Width), num(vb.Size.Height)}, " ")
	}
	if s, ok := d.texts[TagStyle]; ok {
		root.Style = &svgStyle{Type: "text/css", Text: s}
	}
	if s, ok := d.texts[TagTitle]; ok {
		root.Title = &svgText{Text: s}
	}
	if s, ok := d.texts[TagDesc]; ok {
		root.Desc = &svgText{Text: s}
	}
	if s, ok := d.texts[TagMetadata]; ok {
		root.Metadata = &svgText{Text: s}
	}
	for _, s := range d.symbols {
		root.Defs.Symbols = append(root.Defs.Symbols, svgSymbol{ID: s.id, Inner: s.source})
	}
	for _, g := range d.groups {
		sg := svgGroup{ID: g.id}
		for _, n := range g.items {
			sg.Items = append(sg.Items, n.element())
		}
		root.Groups = append(root.Groups, sg)
	}
	return root
}

func (n *node) element() svgAny {
	el := svgAny{Class: n.class}
	if n.hidden {
		el.Display = "none"
	}
	switch n.kind {
	case nodePath:
		el.XMLName = xml.Name{Local: "path"}
		el.D = pathData(n.points)
		el.Fill = "none"
		el.Stroke = n.stroke
		if n.width > 0 {
			el.StrokeWidth = num(n.width)
		}
	case nodeUse:
		el.XMLName = xml.Name{Local: "use"}
		if n.href != "" {
			el.Href = "#" + n.href
		}
		el.X, el.Y = num(n.frame.Origin.X), num(n.frame.Origin.Y)
		if n.frame.Size.Width > 0 && n.frame.Size.Height > 0 {
			el.W, el.H = num(n.frame.Size.Width), num(n.frame.Size.Height)
		}
	}
	return el
}

func pathData(points []geom.Point) string {
	if len(points) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, p := range points {
		if i == 0 {
			sb.WriteString("M")
		} else {
			sb.WriteString(" L")
		}
		sb.WriteString(num(p.X))
		sb.WriteByte(' ')
		sb.WriteString(num(p.Y))
	}
	return sb.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
