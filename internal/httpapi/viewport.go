package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"metromap/core-go/internal/controller"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/iconcache"
	"metromap/core-go/internal/mapdata"
	"metromap/core-go/internal/raster"
	"metromap/core-go/internal/scheduler"
)

type viewportResponse struct {
	State string     `json:"state"`
	Rect  *geom.Rect `json:"rect,omitempty"`
	Zoom  float64    `json:"zoom"`
}

type zoomRequest struct {
	Scale *float64    `json:"scale,omitempty"`
	Point *geom.Point `json:"point,omitempty"`
}

type zoomFactorResponse struct {
	Zoom float64 `json:"zoom"`
}

type panRequest struct {
	Point *geom.Point `json:"point"`
}

type iconResponse struct {
	Level    int    `json:"level"`
	SymbolID string `json:"symbol_id"`
}

func (h *Handler) viewport() viewportResponse {
	resp := viewportResponse{State: h.ctrl.State().String(), Zoom: h.ctrl.ZoomFactor()}
	if rect, ok := h.ctrl.Viewport(); ok {
		resp.Rect = &rect
	}
	return resp
}

func (h *Handler) handleGetViewport(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.viewport())
}

// handleZoom zooms when scale is given. Without scale it only reports the zoom factor.
func (h *Handler) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := decodeJSONStrict(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	if req.Scale == nil {
		if req.Point != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", "point requires scale", nil)
			return
		}
		h.writeJSON(w, http.StatusOK, zoomFactorResponse{Zoom: h.ctrl.ZoomFactor()})
		return
	}
	if req.Point == nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "scale requires point", nil)
		return
	}

	if err := h.ctrl.Zoom(r.Context(), *req.Scale, *req.Point); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.viewport())
}

func (h *Handler) decodePan(w http.ResponseWriter, r *http.Request) (geom.Point, bool) {
	var req panRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body", map[string]any{"error": err.Error()})
		return geom.Point{}, false
	}
	if req.Point == nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "point is required", nil)
		return geom.Point{}, false
	}
	return *req.Point, true
}

func (h *Handler) handlePanStart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodePan(w, r)
	if !ok {
		return
	}
	if err := h.ctrl.StartMoving(p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.viewport())
}

func (h *Handler) handlePanMove(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodePan(w, r)
	if !ok {
		return
	}
	if err := h.ctrl.MoveTo(p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.viewport())
}

func (h *Handler) handlePanEnd(w http.ResponseWriter, r *http.Request) {
	h.ctrl.StopMoving()
	h.writeJSON(w, http.StatusOK, h.viewport())
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Reload(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.viewport())
}

func (h *Handler) handleMapPNG(w http.ResponseWriter, r *http.Request) {
	width, err := queryInt(r, "width")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "width must be an integer", nil)
		return
	}
	height, err := queryInt(r, "height")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "height must be an integer", nil)
		return
	}
	if _, ok := h.ctrl.Viewport(); !ok {
		h.writeDomainError(w, controller.ErrNotReady)
		return
	}

	var buf bytes.Buffer
	if err := raster.EncodePNG(&buf, h.doc.Snapshot(), raster.Options{Width: width, Height: height}); err != nil {
		if errors.Is(err, raster.ErrInvalidSize) {
			h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Msg("png encode failed")
		h.writeError(w, http.StatusInternalServerError, "encode_failed", "failed to rasterize map", nil)
		return
	}
	h.writeBytes(w, "image/png", buf.Bytes())
}

func (h *Handler) levelParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "level must be an integer", nil)
		return 0, false
	}
	return level, true
}

func (h *Handler) handleGetIcon(w http.ResponseWriter, r *http.Request) {
	level, ok := h.levelParam(w, r)
	if !ok {
		return
	}
	sym, err := h.ctrl.IconSymbolForLevel(r.Context(), level)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, iconResponse{Level: level, SymbolID: sym.ID()})
}

func (h *Handler) handleResetIcon(w http.ResponseWriter, r *http.Request) {
	level, ok := h.levelParam(w, r)
	if !ok {
		return
	}
	h.ctrl.ResetIcon(level)
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// writeDomainError maps map-engine errors onto the HTTP error envelope.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	details := map[string]any{"error": err.Error()}
	switch {
	case errors.Is(err, geom.ErrInvalidViewport):
		h.writeError(w, http.StatusBadRequest, "invalid_viewport", "viewport operation rejected", details)
	case errors.Is(err, controller.ErrNotReady):
		h.writeError(w, http.StatusConflict, "not_ready", "viewport not initialized", details)
	case errors.Is(err, mapdata.ErrIconNotFound):
		h.writeError(w, http.StatusNotFound, "icon_not_found", "icon not found", details)
	case errors.Is(err, iconcache.ErrIconLoad):
		h.writeError(w, http.StatusBadGateway, "icon_load_failed", "icon load failed", details)
	case errors.Is(err, controller.ErrConfigLoad):
		h.writeError(w, http.StatusBadGateway, "config_load_failed", "configuration load failed", details)
	case errors.Is(err, controller.ErrMapLoad):
		h.writeError(w, http.StatusBadGateway, "map_load_failed", "map load failed", details)
	case errors.Is(err, scheduler.ErrDrawerRender):
		h.writeError(w, http.StatusInternalServerError, "render_failed", "render pass failed", details)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out", details)
	default:
		h.log.Error().Err(err).Msg("unhandled error")
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
