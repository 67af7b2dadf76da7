// Package httpsource fetches map data from a remote service:
//
//	GET {base}configuration
//	GET {base}map?x=&y=&width=&height=
//	GET {base}icons/{level}
//
// Configuration and map bodies are JSON, or msgpack when the server answers with
// application/msgpack. Icon bodies are raw vector markup.
package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
)

var (
	ErrStatus   = errors.New("unexpected response status")
	errNotFound = errors.New("not found")
)

const (
	contentTypeMsgpack = "application/msgpack"
	maxIconBytes       = 1 << 20
	maxErrorExcerpt    = 256
)

type Options struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	// Msgpack advertises msgpack ahead of JSON in the Accept header.
	Msgpack bool
}

type Source struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	accept    string
}

func New(baseURL string, opts Options) (*Source, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "metromap-core-go"
	}
	accept := "application/json"
	if opts.Msgpack {
		accept = contentTypeMsgpack + ", application/json;q=0.9"
	}

	return &Source{base: u, client: client, userAgent: opts.UserAgent, accept: accept}, nil
}

func (s *Source) Configuration(ctx context.Context) (mapdata.Configuration, error) {
	var cfg mapdata.Configuration
	if err := s.getDecoded(ctx, "configuration", nil, &cfg); err != nil {
		return mapdata.Configuration{}, err
	}
	return cfg, nil
}

func (s *Source) LoadMap(ctx context.Context, visible geom.Rect) (mapdata.Map, error) {
	q := url.Values{}
	q.Set("x", formatFloat(visible.Origin.X))
	q.Set("y", formatFloat(visible.Origin.Y))
	q.Set("width", formatFloat(visible.Size.Width))
	q.Set("height", formatFloat(visible.Size.Height))

	var m mapdata.Map
	if err := s.getDecoded(ctx, "map", q, &m); err != nil {
		return mapdata.Map{}, err
	}
	return m, nil
}

func (s *Source) IconForLevel(ctx context.Context, level int) (string, error) {
	resp, err := s.do(ctx, "icons/"+strconv.Itoa(level), nil, "image/svg+xml, */*;q=0.5")
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", fmt.Errorf("%w: level %d: %w", mapdata.ErrIconNotFound, level, err)
		}
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return "", fmt.Errorf("read icon %d: %w", level, err)
	}
	return string(b), nil
}

func (s *Source) getDecoded(ctx context.Context, rel string, q url.Values, dst any) error {
	resp, err := s.do(ctx, rel, q, s.accept)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == contentTypeMsgpack {
		if err := msgpack.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode %s: %w", rel, err)
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}

// do issues a GET and returns the response for 2xx statuses. Other statuses are
// drained into an error carrying a body excerpt.
func (s *Source) do(ctx context.Context, rel string, q url.Values, accept string) (*http.Response, error) {
	u := s.base.ResolveReference(&url.URL{Path: rel})
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	err = fmt.Errorf("%w: GET %s: %s: %s", ErrStatus, u.Path, resp.Status, strings.TrimSpace(string(excerpt)))
	if resp.StatusCode == http.StatusNotFound {
		err = fmt.Errorf("%w: %w", errNotFound, err)
	}
	return nil, err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
