package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"metromap/core-go/internal/canvas"
	"metromap/core-go/internal/controller"
	"metromap/core-go/internal/db"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/metrics"
)

// MapController is the subset of *controller.Controller the HTTP surface drives.
type MapController interface {
	State() controller.State
	Err() error
	Viewport() (geom.Rect, bool)
	ZoomFactor() float64
	Zoom(ctx context.Context, scale float64, point geom.Point) error
	StartMoving(point geom.Point) error
	MoveTo(point geom.Point) error
	StopMoving()
	Reload(ctx context.Context) error
	IconSymbolForLevel(ctx context.Context, level int) (canvas.Symbol, error)
	ResetIcon(level int)
}

// Document is the rendered canvas the map endpoints serialize.
type Document interface {
	WriteTo(w io.Writer) (int64, error)
	Snapshot() canvas.Scene
}

type Options struct {
	Metrics *metrics.Metrics
	// Pool, when set, is pinged by /readyz.
	Pool *db.Pool
}

type Handler struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	pool    *db.Pool
	ctrl    MapController
	doc     Document
}

func NewHandler(log zerolog.Logger, ctrl MapController, doc Document, opts Options) *Handler {
	return &Handler{log: log, metrics: opts.Metrics, pool: opts.Pool, ctrl: ctrl, doc: doc}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/map.svg", h.handleMapSVG)
			r.Get("/map.png", h.handleMapPNG)
			r.Post("/map/reload", h.handleReload)

			r.Route("/viewport", func(r chi.Router) {
				r.Get("/", h.handleGetViewport)
				r.Post("/zoom", h.handleZoom)
				r.Route("/pan", func(r chi.Router) {
					r.Post("/start", h.handlePanStart)
					r.Post("/move", h.handlePanMove)
					r.Post("/end", h.handlePanEnd)
				})
			})

			r.Route("/icons/{level}", func(r chi.Router) {
				r.Get("/", h.handleGetIcon)
				r.Delete("/", h.handleResetIcon)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeBytes(w http.ResponseWriter, contentType string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	state := h.ctrl.State()
	if state != controller.StateRendered {
		details := map[string]any{"state": state.String()}
		if err := h.ctrl.Err(); err != nil {
			details["error"] = err.Error()
		}
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "map not rendered", details)
		return
	}

	body := map[string]any{"ready": true, "state": state.String()}
	if err := h.ctrl.Err(); err != nil {
		body["last_error"] = err.Error()
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleMapSVG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := h.doc.WriteTo(&buf); err != nil {
		h.log.Error().Err(err).Msg("svg encode failed")
		h.writeError(w, http.StatusInternalServerError, "encode_failed", "failed to encode map", nil)
		return
	}
	h.writeBytes(w, "image/svg+xml", buf.Bytes())
}
