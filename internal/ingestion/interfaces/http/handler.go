package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	events "safesite-cloud/internal/events/domain"
	ingestion "safesite-cloud/internal/ingestion/application"
	"safesite-cloud/internal/observability/metrics"
)

// Handler exposes the device-facing ingestion endpoints.
type Handler struct {
	service *ingestion.Service
}

// NewHandler constructs a handler.
func NewHandler(service *ingestion.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ingestion handler: nil service")
	}
	return &Handler{service: service}, nil
}

// notifyRequest carries the device payload. The firmware code arrives
// under a per-kind field name: alarmType on the alarm path, accidentType
// on the accident path.
type notifyRequest struct {
	SiteID       int64 `json:"constructionSitesId"`
	AlarmType    int   `json:"alarmType"`
	AccidentType int   `json:"accidentType"`
}

func (r notifyRequest) code(kind events.Kind) int {
	if kind == events.KindAccident {
		return r.AccidentType
	}
	return r.AlarmType
}

// ServeHTTP handles /api/alarm/{deviceId}/notify and
// /api/accident/{deviceId}/notify.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var kind events.Kind
	var rest string
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/alarm/"):
		kind = events.KindAlarm
		rest = strings.TrimPrefix(r.URL.Path, "/api/alarm/")
	case strings.HasPrefix(r.URL.Path, "/api/accident/"):
		kind = events.KindAccident
		rest = strings.TrimPrefix(r.URL.Path, "/api/accident/")
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "notify" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "device id must be numeric", http.StatusBadRequest)
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SiteID <= 0 {
		http.Error(w, "constructionSitesId is required", http.StatusBadRequest)
		return
	}
	code := req.code(kind)

	// accident notifications must carry a code that maps to severity 3
	if kind == events.KindAccident {
		if info := events.Normalize(code); info.Severity != events.SeverityAccident {
			http.Error(w, "accidentType does not describe an accident", http.StatusBadRequest)
			return
		}
	}

	started := time.Now()
	if _, err := h.service.Ingest(r.Context(), kind, deviceID, ingestion.Input{
		SiteID: req.SiteID,
		Code:   code,
	}); err != nil {
		metrics.ObserveIngest(string(kind), metrics.ResultError, time.Since(started))
		metrics.IncIngestError(errorReason(err))
		http.Error(w, "event could not be recorded", http.StatusInternalServerError)
		return
	}
	metrics.ObserveIngest(string(kind), metrics.ResultSuccess, time.Since(started))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(string(kind) + " recorded successfully"))
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ingestion.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ingestion.ErrBufferWrite):
		return "buffer_write"
	default:
		return "internal"
	}
}
