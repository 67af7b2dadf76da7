package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
)

func newServer(t *testing.T, h http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := New(srv.URL+"/metromap", Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestSource_configurationJSON(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metromap/configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"frame":{"origin":{"x":0,"y":0},"size":{"width":100,"height":50}},"title":"Metro"}`))
	})

	cfg, err := s.Configuration(context.Background())
	if err != nil {
		t.Fatalf("configuration: %v", err)
	}
	if cfg.Frame.Size != (geom.Size{Width: 100, Height: 50}) || cfg.Title != "Metro" {
		t.Fatalf("unexpected configuration %+v", cfg)
	}
}

func TestSource_loadMapSendsRectAndDecodesMsgpack(t *testing.T) {
	var gotQuery string
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		body, err := msgpack.Marshal(mapdata.Map{
			Stations: []mapdata.Station{{ID: 3, Position: geom.Point{X: 30, Y: 20}, Level: 1}},
			Segments: []mapdata.Segment{{ID: 4, Line: 2, Points: []geom.Point{{X: 1, Y: 2}}}},
		})
		if err != nil {
			t.Errorf("marshal: %v", err)
		}
		w.Header().Set("Content-Type", "application/msgpack")
		_, _ = w.Write(body)
	})

	m, err := s.LoadMap(context.Background(), geom.Rect{Origin: geom.Point{X: 25, Y: 12.5}, Size: geom.Size{Width: 50, Height: 25}})
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	if gotQuery != "height=25&width=50&x=25&y=12.5" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(m.Stations) != 1 || m.Stations[0].ID != 3 || m.Stations[0].Position != (geom.Point{X: 30, Y: 20}) {
		t.Fatalf("unexpected stations %+v", m.Stations)
	}
	if len(m.Segments) != 1 || m.Segments[0].Line != 2 {
		t.Fatalf("unexpected segments %+v", m.Segments)
	}
}

func TestSource_acceptHeader(t *testing.T) {
	var accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		_ = json.NewEncoder(w).Encode(mapdata.Configuration{})
	}))
	defer srv.Close()

	s, err := New(srv.URL+"/", Options{Msgpack: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Configuration(context.Background()); err != nil {
		t.Fatalf("configuration: %v", err)
	}
	if !strings.HasPrefix(accept, "application/msgpack") {
		t.Fatalf("unexpected accept %q", accept)
	}
}

func TestSource_iconRawBody(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metromap/icons/2":
			w.Header().Set("Content-Type", "image/svg+xml")
			_, _ = w.Write([]byte(`<circle r="3"/>`))
		default:
			http.NotFound(w, r)
		}
	})

	src, err := s.IconForLevel(context.Background(), 2)
	if err != nil || src != `<circle r="3"/>` {
		t.Fatalf("unexpected icon %q, %v", src, err)
	}
	_, err = s.IconForLevel(context.Background(), 7)
	if !errors.Is(err, mapdata.ErrIconNotFound) || !errors.Is(err, ErrStatus) {
		t.Fatalf("expected not found status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "icons/7") {
		t.Fatalf("expected status and path in %q", err)
	}
}

func TestSource_statusErrorCarriesExcerpt(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	})

	_, err := s.LoadMap(context.Background(), geom.Rect{Size: geom.Size{Width: 1, Height: 1}})
	if !errors.Is(err, ErrStatus) || !strings.Contains(err.Error(), "database unavailable") || !strings.Contains(err.Error(), "503") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSource_cancelledContext(t *testing.T) {
	s := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(mapdata.Configuration{})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Configuration(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_rejectsBadBase(t *testing.T) {
	if _, err := New("ftp://example.com/", Options{}); err == nil {
		t.Fatalf("expected scheme error")
	}
}
