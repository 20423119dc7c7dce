package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/trackgo/internal/propagation"
	"github.com/star/trackgo/internal/protocol"
	"github.com/star/trackgo/internal/scheduler"
	"github.com/star/trackgo/internal/track"
)

// maxGenerateSpan caps a requested scan duration.
const maxGenerateSpan = 7 * 24 * time.Hour

type handlers struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ready reports whether element sets are loaded.
func (h *handlers) ready() error {
	if h.deps.Sets == nil || h.deps.Sets.Len() == 0 {
		return errors.New("no element sets loaded")
	}
	return nil
}

type satelliteInfo struct {
	SatID int       `json:"sat_id"`
	Name  string    `json:"name"`
	Epoch time.Time `json:"epoch"`
}

// GET /api/v1/satellites
func (h *handlers) listSatellites(w http.ResponseWriter, r *http.Request) {
	sets := h.deps.Sets.All()
	out := make([]satelliteInfo, 0, len(sets))
	for _, s := range sets {
		out = append(out, satelliteInfo{SatID: s.SatID, Name: s.Label(), Epoch: s.Epoch})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":           len(out),
		"tle_age_seconds": h.deps.Sets.AgeSeconds(),
		"satellites":      out,
	})
}

// GET /api/v1/passes?sat_id=25544&stage=final_transformed
func (h *handlers) listPasses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	satID := 0
	if v := q.Get("sat_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid sat_id parameter")
			return
		}
		satID = n
	}
	var stage track.DataType
	if v := q.Get("stage"); v != "" {
		d, err := track.ParseDataType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		stage = d
	}

	out := []track.Pass{}
	for _, p := range h.deps.Service.Store().All() {
		if satID != 0 && p.SatID != satID {
			continue
		}
		if stage != "" && p.Stage != stage {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "passes": out})
}

func passID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid pass id")
		return 0, false
	}
	return id, true
}

type passResponse struct {
	Stages []track.DataType `json:"stages"`
	track.Track
}

// GET /api/v1/passes/{id}?stage=raw
// Without a stage, the record the controller would be sent is returned.
func (h *handlers) getPass(w http.ResponseWriter, r *http.Request) {
	id, ok := passID(w, r)
	if !ok {
		return
	}
	store := h.deps.Service.Store()

	var t track.Track
	if v := r.URL.Query().Get("stage"); v != "" {
		stage, err := track.ParseDataType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t, ok = store.Get(id, stage)
	} else {
		t, ok = store.Commanded(id)
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pass %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, passResponse{Stages: store.Stages(id), Track: t})
}

// POST /api/v1/passes/{id}/optimize
func (h *handlers) optimizePass(w http.ResponseWriter, r *http.Request) {
	id, ok := passID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.generateContext(w, r)
	defer cancel()

	out, err := h.deps.Service.Reoptimize(ctx, id)
	if errors.Is(err, scheduler.ErrUnknownPass) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Warn("reoptimize failed", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	passes := make([]track.Pass, 0, len(out))
	for _, t := range out {
		passes = append(passes, t.Pass)
	}
	writeJSON(w, http.StatusOK, map[string]any{"keyhole": len(out) > 0, "passes": passes})
}

// POST /api/v1/passes/{id}/upload
func (h *handlers) uploadPass(w http.ResponseWriter, r *http.Request) {
	id, ok := passID(w, r)
	if !ok {
		return
	}
	if h.deps.Feeder == nil {
		writeError(w, http.StatusServiceUnavailable, "controller link not configured")
		return
	}
	err := h.deps.Feeder.Upload(id)
	if errors.Is(err, scheduler.ErrUnknownPass) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, protocol.ErrPayloadTooLarge) || errors.Is(err, scheduler.ErrUnalignedStart) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.logger.Warn("upload failed", "pass_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pass_id": id, "status": "header_sent"})
}

// parseSpan reads start (RFC 3339) and duration (Go syntax) query values.
func parseSpan(r *http.Request) (scheduler.Span, error) {
	var span scheduler.Span
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return span, fmt.Errorf("invalid start parameter: %w", err)
		}
		span.Start = t.UTC().Truncate(time.Second)
	}
	if v := q.Get("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxGenerateSpan {
			return span, fmt.Errorf("invalid duration parameter, must be positive and at most %s", maxGenerateSpan)
		}
		span.Duration = d
	}
	return span, nil
}

// generateContext bounds a pipeline run and extends the write deadline to
// cover it.
func (h *handlers) generateContext(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.cfg.GenerateTimeout + 5*time.Second)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not extend write deadline", "error", err)
	}
	return context.WithTimeout(r.Context(), h.cfg.GenerateTimeout)
}

// POST /api/v1/generate/{sat_id}?start=2025-02-14T12:00:00Z&duration=24h
func (h *handlers) generateSatellite(w http.ResponseWriter, r *http.Request) {
	satID, err := strconv.Atoi(r.PathValue("sat_id"))
	if err != nil || satID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid sat_id")
		return
	}
	span, err := parseSpan(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.generateContext(w, r)
	defer cancel()

	res := h.deps.Service.GenerateSatellite(ctx, satID, span)
	writeJSON(w, resultStatus(res.Err), res)
}

// resultStatus maps a generation error onto an HTTP status.
func resultStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, scheduler.ErrUnknownSatellite):
		return http.StatusNotFound
	case errors.Is(err, propagation.ErrInvalidElementSet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type generateRequest struct {
	Satellites []int `json:"sat_ids"`
}

// POST /api/v1/generate?start=...&duration=...
// An optional JSON body {"sat_ids":[...]} overrides the configured set.
func (h *handlers) generateAll(w http.ResponseWriter, r *http.Request) {
	span, err := parseSpan(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := h.cfg.Satellites
	if r.ContentLength != 0 {
		var req generateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Satellites) > 0 {
			ids = req.Satellites
		}
	}
	ctx, cancel := h.generateContext(w, r)
	defer cancel()

	results := h.deps.Service.GenerateAll(ctx, ids, span)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"failed":  failed,
		"results": results,
	})
}

// GET /api/v1/mount/status
func (h *handlers) mountStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "controller link not configured")
		return
	}
	s := h.deps.Status.Latest()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no telemetry received yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attitude": s.Attitude(),
		"status":   s,
	})
}
