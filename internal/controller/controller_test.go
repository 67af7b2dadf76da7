package controller

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/iconcache"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/registry"
	"metromap/core-go/internal/scheduler"
)

type fakeSource struct {
	mu        sync.Mutex
	cfg       mapdata.Configuration
	cfgErr    error
	maps      []mapdata.Map
	mapErr    error
	iconErr   error
	requested []geom.Rect
	iconCalls map[int]int
}

func (s *fakeSource) Configuration(ctx context.Context) (mapdata.Configuration, error) {
	return s.cfg, s.cfgErr
}

func (s *fakeSource) LoadMap(ctx context.Context, visible geom.Rect) (mapdata.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, visible)
	if s.mapErr != nil {
		return mapdata.Map{}, s.mapErr
	}
	if len(s.maps) == 0 {
		return mapdata.Map{}, nil
	}
	m := s.maps[0]
	if len(s.maps) > 1 {
		s.maps = s.maps[1:]
	}
	return m, nil
}

func (s *fakeSource) IconForLevel(ctx context.Context, level int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iconCalls == nil {
		s.iconCalls = map[int]int{}
	}
	s.iconCalls[level]++
	if s.iconErr != nil {
		return "", s.iconErr
	}
	return `<circle r="5"/>`, nil
}

func (s *fakeSource) setMapErr(err error) {
	s.mu.Lock()
	s.mapErr = err
	s.mu.Unlock()
}

func frameConfig() mapdata.Configuration {
	return mapdata.Configuration{Frame: geom.Rect{Size: geom.Size{Width: 100, Height: 50}}}
}

func segment(id int64, line int) mapdata.Segment {
	return mapdata.Segment{ID: id, Line: line, Points: []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}}
}

func newLoaded(t *testing.T, src *fakeSource, doc *canvas.Document, opts Options) *Controller {
	t.Helper()
	c := New(src, doc, opts)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func TestZoom_scalesViewportAboutPoint(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	doc := canvas.NewDocument(0, 0)
	c := newLoaded(t, src, doc, Options{})

	if err := c.Zoom(context.Background(), 0.5, geom.Point{X: 50, Y: 25}); err != nil {
		t.Fatalf("zoom: %v", err)
	}

	want := geom.Rect{Origin: geom.Point{X: 25, Y: 12.5}, Size: geom.Size{Width: 50, Height: 25}}
	got, ok := c.Viewport()
	if !ok || got != want {
		t.Fatalf("expected viewport %+v, got %+v", want, got)
	}
	if doc.ViewBox() != want {
		t.Fatalf("expected canvas viewbox %+v, got %+v", want, doc.ViewBox())
	}
}

func TestZoom_rerendersEveryDrawer(t *testing.T) {
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{{Segments: []mapdata.Segment{segment(1, 1)}}}}
	doc := canvas.NewDocument(200, 100)
	c := newLoaded(t, src, doc, Options{})

	width := func() float64 {
		for _, l := range doc.Snapshot().Layers {
			if l.ID == string(mapdata.KindSegments) {
				return l.Items[0].Width
			}
		}
		t.Fatalf("segments layer missing")
		return 0
	}
	if w := width(); math.Abs(w-3) > 1e-9 {
		t.Fatalf("expected width 3 at zoom 2, got %g", w)
	}

	// Pixel (100,50) is canvas (50,25) at zoom 2.
	if err := c.Zoom(context.Background(), 0.5, geom.Point{X: 100, Y: 50}); err != nil {
		t.Fatalf("zoom: %v", err)
	}
	if z := c.ZoomFactor(); math.Abs(z-4) > 1e-9 {
		t.Fatalf("expected zoom 4, got %g", z)
	}
	if w := width(); math.Abs(w-1.5) > 1e-9 {
		t.Fatalf("expected width 1.5 after zoom, got %g", w)
	}
}

func TestZoom_invalidScaleLeavesViewport(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{})
	before, _ := c.Viewport()

	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := c.Zoom(context.Background(), f, geom.Point{}); !errors.Is(err, geom.ErrInvalidViewport) {
			t.Fatalf("factor %v: expected ErrInvalidViewport, got %v", f, err)
		}
	}
	if after, _ := c.Viewport(); after != before {
		t.Fatalf("viewport changed: %+v -> %+v", before, after)
	}
}

func TestZoomFactor_doesNotMutate(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{})
	before, _ := c.Viewport()

	if z := c.ZoomFactor(); z != 1 {
		t.Fatalf("expected zoom 1, got %g", z)
	}
	if after, _ := c.Viewport(); after != before {
		t.Fatalf("viewport changed")
	}
	if len(src.requested) != 1 {
		t.Fatalf("expected no extra map requests, got %d", len(src.requested))
	}
}

func TestMoveTo_withoutStartMovingIsNoop(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{})
	before, _ := c.Viewport()

	if err := c.MoveTo(geom.Point{X: 30, Y: 30}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if after, _ := c.Viewport(); after != before {
		t.Fatalf("viewport changed without anchor")
	}
}

func TestMoveTo_panAnchorModes(t *testing.T) {
	origin := func(x, y float64) geom.Point { return geom.Point{X: x, Y: y} }
	cases := []struct {
		name   string
		anchor PanAnchor
		want   []geom.Point
	}{
		{"fixed", PanAnchorFixed, []geom.Point{origin(-10, -10), origin(-20, -20)}},
		{"follow", PanAnchorFollow, []geom.Point{origin(-10, -10), origin(-10, -10)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{cfg: frameConfig()}
			c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{PanAnchor: tc.anchor})

			if err := c.StartMoving(geom.Point{X: 10, Y: 10}); err != nil {
				t.Fatalf("start: %v", err)
			}
			for i, want := range tc.want {
				if err := c.MoveTo(geom.Point{X: 20, Y: 20}); err != nil {
					t.Fatalf("move %d: %v", i, err)
				}
				got, _ := c.Viewport()
				if got.Origin != want || got.Size != (geom.Size{Width: 100, Height: 50}) {
					t.Fatalf("move %d: expected origin %+v, got %+v", i, want, got)
				}
			}

			c.StopMoving()
			before, _ := c.Viewport()
			_ = c.MoveTo(geom.Point{X: 90, Y: 90})
			if after, _ := c.Viewport(); after != before {
				t.Fatalf("moved after StopMoving")
			}
		})
	}
}

func TestParsePanAnchor(t *testing.T) {
	for in, want := range map[string]PanAnchor{"": PanAnchorFixed, "fixed": PanAnchorFixed, "Follow": PanAnchorFollow} {
		got, err := ParsePanAnchor(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParsePanAnchor("drift"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_configFailureIsTerminal(t *testing.T) {
	src := &fakeSource{cfgErr: errors.New("unreachable")}
	c := New(src, canvas.NewDocument(0, 0), Options{})

	if err := c.Load(context.Background()); !errors.Is(err, ErrConfigLoad) {
		t.Fatalf("expected ErrConfigLoad, got %v", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("expected failed, got %s", c.State())
	}
	if err := c.Zoom(context.Background(), 2, geom.Point{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from zoom, got %v", err)
	}
	if err := c.StartMoving(geom.Point{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from StartMoving, got %v", err)
	}
	if err := c.Load(context.Background()); !errors.Is(err, ErrLoadStarted) {
		t.Fatalf("expected ErrLoadStarted, got %v", err)
	}
	if len(src.requested) != 0 {
		t.Fatalf("map requested after config failure")
	}
}

func TestLoad_invalidFrame(t *testing.T) {
	src := &fakeSource{cfg: mapdata.Configuration{Frame: geom.Rect{Size: geom.Size{Width: 0, Height: 10}}}}
	c := New(src, canvas.NewDocument(0, 0), Options{})

	err := c.Load(context.Background())
	if !errors.Is(err, ErrConfigLoad) || !errors.Is(err, geom.ErrInvalidViewport) {
		t.Fatalf("expected invalid frame error, got %v", err)
	}
	if _, ok := c.Viewport(); ok {
		t.Fatalf("viewport should not be initialized")
	}
}

func TestLoad_requestsMapForInitialFrame(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{})

	if len(src.requested) != 1 || src.requested[0] != frameConfig().Frame {
		t.Fatalf("unexpected map requests %+v", src.requested)
	}
	if c.State() != StateRendered {
		t.Fatalf("expected rendered, got %s", c.State())
	}
}

func TestLoad_injectsConfigurationText(t *testing.T) {
	cfg := frameConfig()
	cfg.Title = "Metro"
	cfg.Styles = ".segment{opacity:1}"
	doc := canvas.NewDocument(0, 0)
	newLoaded(t, &fakeSource{cfg: cfg}, doc, Options{})

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<title>Metro</title>") || !strings.Contains(out, ".segment{opacity:1}") {
		t.Fatalf("configuration text missing: %s", out)
	}
	if strings.Contains(out, "<desc>") {
		t.Fatalf("empty desc should not be injected: %s", out)
	}
}

func TestReload_afterMapFailure(t *testing.T) {
	src := &fakeSource{
		cfg:    frameConfig(),
		mapErr: errors.New("timeout"),
		maps:   []mapdata.Map{{Segments: []mapdata.Segment{segment(1, 1), segment(2, 1)}}},
	}
	c := New(src, canvas.NewDocument(0, 0), Options{})

	if err := c.Load(context.Background()); !errors.Is(err, ErrMapLoad) {
		t.Fatalf("expected ErrMapLoad, got %v", err)
	}
	if c.State() != StateConfigLoaded || !errors.Is(c.Err(), ErrMapLoad) {
		t.Fatalf("unexpected state %s err %v", c.State(), c.Err())
	}
	if _, ok := c.Viewport(); !ok {
		t.Fatalf("viewport should survive a map failure")
	}

	src.setMapErr(nil)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.State() != StateRendered || c.Err() != nil {
		t.Fatalf("unexpected state %s err %v", c.State(), c.Err())
	}
	if n := c.DrawerCount(mapdata.KindSegments); n != 2 {
		t.Fatalf("expected 2 segment drawers, got %d", n)
	}
}

func TestReload_reusesDrawers(t *testing.T) {
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{
		{Segments: []mapdata.Segment{segment(1, 1), segment(2, 1)}},
		{Segments: []mapdata.Segment{segment(2, 1), segment(3, 1)}},
	}}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{})

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := c.DrawerCount(mapdata.KindSegments); n != 3 {
		t.Fatalf("expected 3 drawers after overlapping reload, got %d", n)
	}
}

func TestZoom_reloadOnZoom(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{ReloadOnZoom: true})

	if err := c.Zoom(context.Background(), 0.5, geom.Point{X: 50, Y: 25}); err != nil {
		t.Fatalf("zoom: %v", err)
	}
	want := geom.Rect{Origin: geom.Point{X: 25, Y: 12.5}, Size: geom.Size{Width: 50, Height: 25}}
	if len(src.requested) != 2 || src.requested[1] != want {
		t.Fatalf("expected reload for %+v, got %+v", want, src.requested)
	}
}

func TestLoad_iconFetchedOncePerLevel(t *testing.T) {
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{{Stations: []mapdata.Station{
		{ID: 1, Level: 1}, {ID: 2, Level: 1}, {ID: 3, Level: 2}, {ID: 4, Level: 1},
	}}}}
	doc := canvas.NewDocument(0, 0)
	c := newLoaded(t, src, doc, Options{})

	if err := c.Zoom(context.Background(), 2, geom.Point{}); err != nil {
		t.Fatalf("zoom: %v", err)
	}
	if src.iconCalls[1] != 1 || src.iconCalls[2] != 1 {
		t.Fatalf("expected one fetch per level, got %v", src.iconCalls)
	}
	for _, l := range doc.Snapshot().Layers {
		if l.ID != string(mapdata.KindStations) {
			continue
		}
		for _, item := range l.Items {
			if item.Href != iconcache.SymbolID(1) && item.Href != iconcache.SymbolID(2) {
				t.Fatalf("unexpected href %q", item.Href)
			}
		}
	}
}

func TestLoad_iconFailureFailsRenderNotPipeline(t *testing.T) {
	src := &fakeSource{
		cfg:     frameConfig(),
		iconErr: errors.New("404"),
		maps: []mapdata.Map{{
			Segments: []mapdata.Segment{segment(1, 1)},
			Stations: []mapdata.Station{{ID: 1, Level: 3}},
		}},
	}
	doc := canvas.NewDocument(0, 0)
	c := New(src, doc, Options{})

	err := c.Load(context.Background())
	if !errors.Is(err, scheduler.ErrDrawerRender) || !errors.Is(err, iconcache.ErrIconLoad) {
		t.Fatalf("expected render failure wrapping icon load, got %v", err)
	}
	if c.State() != StateMapLoaded {
		t.Fatalf("expected map_loaded, got %s", c.State())
	}
	for _, l := range doc.Snapshot().Layers {
		if l.ID == string(mapdata.KindSegments) && l.Items[0].Hidden {
			t.Fatalf("segments should have rendered before stations failed")
		}
	}
}

func TestStart_reportsResult(t *testing.T) {
	src := &fakeSource{cfg: frameConfig()}
	c := New(src, canvas.NewDocument(0, 0), Options{})

	if err := <-c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateRendered {
		t.Fatalf("expected rendered, got %s", c.State())
	}
}

func TestLoad_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(&fakeSource{cfg: frameConfig()}, canvas.NewDocument(0, 0), Options{})

	if err := c.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLayers_declaredOrder(t *testing.T) {
	c := New(&fakeSource{}, canvas.NewDocument(0, 0), Options{})
	got := c.Layers()
	if len(got) != 2 || got[0] != mapdata.KindSegments || got[1] != mapdata.KindStations {
		t.Fatalf("unexpected layers %v", got)
	}
}

func TestReload_failureKeepsRenderedMap(t *testing.T) {
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{{Segments: []mapdata.Segment{segment(1, 1)}}}}
	doc := canvas.NewDocument(0, 0)
	c := newLoaded(t, src, doc, Options{})

	src.setMapErr(errors.New("upstream down"))
	if err := c.Reload(context.Background()); !errors.Is(err, ErrMapLoad) {
		t.Fatalf("expected ErrMapLoad, got %v", err)
	}
	if c.State() != StateRendered || !errors.Is(c.Err(), ErrMapLoad) {
		t.Fatalf("expected rendered state with map error, got %s err %v", c.State(), c.Err())
	}
	if n := c.DrawerCount(mapdata.KindSegments); n != 1 {
		t.Fatalf("expected the rendered drawer to survive, got %d", n)
	}

	src.setMapErr(nil)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.State() != StateRendered || c.Err() != nil {
		t.Fatalf("expected error cleared, got %s err %v", c.State(), c.Err())
	}
}

func TestReload_newSegmentSortsBelowExisting(t *testing.T) {
	thin := mapdata.Segment{ID: 1, Shape: 1, Line: 1, Points: []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}}
	wide := mapdata.Segment{ID: 2, Shape: 9, Line: 1, Points: []geom.Point{{X: 0, Y: 10}, {X: 10, Y: 0}}}
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{
		{Segments: []mapdata.Segment{thin}},
		{Segments: []mapdata.Segment{thin, wide}},
	}}
	doc := canvas.NewDocument(0, 0)
	c := newLoaded(t, src, doc, Options{})

	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	wideAt, thinAt := strings.Index(out, "shape-9"), strings.Index(out, "shape-1")
	if wideAt < 0 || thinAt < 0 || wideAt > thinAt {
		t.Fatalf("expected shape 9 to be drawn under shape 1; got %s", out)
	}
}

type countingDrawer struct {
	renders *atomic.Int32
	display atomic.Bool
}

func (d *countingDrawer) Render(ctx context.Context) error {
	d.renders.Add(1)
	return nil
}
func (d *countingDrawer) Display() bool     { return d.display.Load() }
func (d *countingDrawer) SetDisplay(v bool) { d.display.Store(v) }

func TestZoom_reloadOnZoomRendersOnce(t *testing.T) {
	var renders atomic.Int32
	layers := []scheduler.Layer{{
		Kind: mapdata.KindSegments,
		Factory: func(host registry.Host, group canvas.Group, e mapdata.Entity) (registry.Drawer, error) {
			return &countingDrawer{renders: &renders}, nil
		},
	}}
	src := &fakeSource{cfg: frameConfig(), maps: []mapdata.Map{{Segments: []mapdata.Segment{segment(1, 1)}}}}
	c := newLoaded(t, src, canvas.NewDocument(0, 0), Options{Layers: layers, ReloadOnZoom: true})
	if n := renders.Load(); n != 1 {
		t.Fatalf("expected 1 render after load, got %d", n)
	}

	if err := c.Zoom(context.Background(), 0.5, geom.Point{X: 50, Y: 25}); err != nil {
		t.Fatalf("zoom: %v", err)
	}
	if n := renders.Load(); n != 2 {
		t.Fatalf("expected one render for zoom plus reload, got %d", n)
	}

	// A failed reload still re-renders the existing drawers for the new viewport.
	src.setMapErr(errors.New("timeout"))
	if err := c.Zoom(context.Background(), 0.5, geom.Point{X: 50, Y: 25}); !errors.Is(err, ErrMapLoad) {
		t.Fatalf("expected ErrMapLoad, got %v", err)
	}
	if n := renders.Load(); n != 3 {
		t.Fatalf("expected fallback render, got %d", n)
	}
}
