package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/calibration"
	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/diag"
	"github.com/hotfire-labs/blastwatch/internal/model"
	"github.com/hotfire-labs/blastwatch/internal/reader"
	"github.com/hotfire-labs/blastwatch/internal/runledger"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	diag      *diag.Diagnostics
	cache     *reader.Cache
	cal       *calibration.Service
	ledger    *runledger.Ledger
	broker    *Broker
	analog    map[string]config.Sensor
	logger    *slog.Logger
	startedAt time.Time
	version   string
	maxBody   int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Ledger, Broker.
type HandlersDeps struct {
	Diag                *diag.Diagnostics
	Cache               *reader.Cache
	Cal                 *calibration.Service
	Ledger              *runledger.Ledger
	Broker              *Broker
	Sensors             config.Sensors
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	analog := make(map[string]config.Sensor)
	for _, s := range d.Sensors.Analog() {
		analog[s.ID] = s
	}
	return &Handlers{
		diag:      d.Diag,
		cache:     d.Cache,
		cal:       d.Cal,
		ledger:    d.Ledger,
		broker:    d.Broker,
		analog:    analog,
		logger:    d.Logger,
		startedAt: time.Now(),
		version:   d.Version,
		maxBody:   d.MaxRequestBodyBytes,
	}
}

// HandleData handles GET /data. The optional type query parameter selects
// the raw or adjusted frame; the default is the full snapshot.
func (h *Handlers) HandleData(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.cache.Load()
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no readings yet")
		return
	}
	switch r.URL.Query().Get("type") {
	case "", "full":
		writeJSON(w, r, http.StatusOK, snap)
	case "raw":
		writeJSON(w, r, http.StatusOK, snap.Raw)
	case "adjusted":
		writeJSON(w, r, http.StatusOK, snap.Adjusted)
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "type must be raw, adjusted, or full")
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dh := h.diag.Health()

	lagMS := int64(-1)
	if snap, ok := h.cache.Load(); ok {
		lagMS = time.Since(snap.UpdatedAt).Milliseconds()
	}

	status := "ok"
	if dh.Frozen || len(dh.DegradedChannels) > 0 {
		status = "degraded"
	}

	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:           status,
		Version:          h.version,
		RunID:            dh.RunID,
		Frozen:           dh.Frozen,
		FreezeCount:      dh.FreezeCount,
		LastFrameLagMS:   lagMS,
		QueueDepth:       dh.QueueDepth,
		DroppedRecords:   dh.Dropped,
		DegradedChannels: dh.DegradedChannels,
		Clients:          dh.Clients,
		UptimeSeconds:    int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleListRuns handles GET /v1/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "run ledger disabled")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list runs")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"runs": runs})
}

// HandleSubscribe handles GET /v1/subscribe. Streams calibrated readings as
// SSE "reading" events until the client disconnects.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client the stream is live before the first tick.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleGetOffsets handles GET /api/offsets.
func (h *Handlers) HandleGetOffsets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.OffsetsResponse{Offsets: h.cal.Offsets()})
}

// HandleUpdateOffsets handles PUT /api/offsets. Only the sensors present in
// the request are updated.
func (h *Handlers) HandleUpdateOffsets(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateOffsetsRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	for id := range req.Offsets {
		if _, ok := h.analog[id]; !ok {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown sensor "+id)
			return
		}
	}
	if err := h.cal.Set(req.Offsets); err != nil {
		h.logger.Error("update offsets failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to save offsets")
		return
	}
	h.diag.Event("calibration_updated", model.LevelInfo, map[string]any{"offsets": req.Offsets})
	writeJSON(w, r, http.StatusOK, model.OffsetsResponse{Offsets: h.cal.Offsets()})
}

// HandleZeroSensor handles POST /api/zero/{sensor_id}. Sets the sensor's
// offset so the latest raw reading maps to zero.
func (h *Handlers) HandleZeroSensor(w http.ResponseWriter, r *http.Request) {
	sensorID := r.PathValue("sensor_id")
	if _, ok := h.analog[sensorID]; !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown sensor "+sensorID)
		return
	}
	snap, ok := h.cache.Load()
	if !ok {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "no readings yet, cannot zero")
		return
	}
	raw, ok := snap.Raw.Value(sensorID)
	if !ok {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "no reading for sensor "+sensorID)
		return
	}
	if err := h.cal.Zero(sensorID, raw); err != nil {
		h.logger.Error("zero sensor failed", "sensor_id", sensorID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to zero sensor")
		return
	}
	h.diag.Event("calibration_zeroed", model.LevelInfo, map[string]any{"sensor_id": sensorID, "raw": raw})
	writeJSON(w, r, http.StatusOK, model.OffsetsResponse{Offsets: h.cal.Offsets()})
}

// HandleZeroAll handles POST /api/zero_all. Zeros every analog sensor from
// the latest raw frame.
func (h *Handlers) HandleZeroAll(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.cache.Load()
	if !ok {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "no readings yet, cannot zero")
		return
	}
	raws := make(map[string]float64, len(h.analog))
	for id := range h.analog {
		if v, ok := snap.Raw.Value(id); ok {
			raws[id] = v
		}
	}
	if len(raws) == 0 {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "no analog readings available")
		return
	}
	if err := h.cal.ZeroAll(raws); err != nil {
		h.logger.Error("zero all failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to zero sensors")
		return
	}
	h.diag.Event("calibration_zeroed_all", model.LevelInfo, map[string]any{"sensors": len(raws)})
	writeJSON(w, r, http.StatusOK, model.OffsetsResponse{Offsets: h.cal.Offsets()})
}

// HandleResetOffsets handles POST /api/reset_offsets.
func (h *Handlers) HandleResetOffsets(w http.ResponseWriter, r *http.Request) {
	if err := h.cal.Reset(); err != nil {
		h.logger.Error("reset offsets failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to reset offsets")
		return
	}
	h.diag.Event("calibration_reset", model.LevelInfo, nil)
	writeJSON(w, r, http.StatusOK, model.OffsetsResponse{Offsets: h.cal.Offsets()})
}

// HandleClientStatus handles POST /api/client-status. Browser tabs report
// lifecycle and degradation events here; they land in the event channel and
// the client tracker.
func (h *Handlers) HandleClientStatus(w http.ResponseWriter, r *http.Request) {
	var ev model.ClientStatusEvent
	if err := decodeJSON(w, r, &ev, h.maxBody); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	h.diag.RecordClientEvent(ev)
	writeJSON(w, r, http.StatusAccepted, map[string]any{"recorded": true})
}
