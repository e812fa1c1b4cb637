package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"safesite-cloud/internal/observability/metrics"
	stats "safesite-cloud/internal/stats/application"
)

// DashboardHandler serves the rollup summary and its file exports.
type DashboardHandler struct {
	service *stats.Service
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service *stats.Service) (*DashboardHandler, error) {
	if service == nil {
		return nil, errors.New("dashboard handler: nil service")
	}
	return &DashboardHandler{service: service}, nil
}

// Dashboard is the combined three-resolution summary.
type Dashboard struct {
	HourlyStats  []stats.Group `json:"hourlyStats"`
	DailyStats   []stats.Group `json:"dailyStats"`
	MonthlyStats []stats.Group `json:"monthlyStats"`
}

// ServeHTTP handles /api/events/dashboard and its export subroutes.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	dashboard, err := h.read(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/events/dashboard") {
	case "":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dashboard)
	case "/export.xlsx":
		started := time.Now()
		data, err := BuildDashboardXLSX(dashboard)
		if err != nil {
			metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="dashboard.xlsx"`)
		_, _ = w.Write(data)
	case "/export.pdf":
		started := time.Now()
		data, err := BuildDashboardPDF(dashboard)
		if err != nil {
			metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(started))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="dashboard.pdf"`)
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *DashboardHandler) read(r *http.Request) (*Dashboard, error) {
	hourly, err := h.service.ReadGroups(r.Context(), stats.ScopeHour)
	if err != nil {
		return nil, err
	}
	daily, err := h.service.ReadGroups(r.Context(), stats.ScopeDay)
	if err != nil {
		return nil, err
	}
	monthly, err := h.service.ReadGroups(r.Context(), stats.ScopeMonth)
	if err != nil {
		return nil, err
	}
	return &Dashboard{HourlyStats: hourly, DailyStats: daily, MonthlyStats: monthly}, nil
}
