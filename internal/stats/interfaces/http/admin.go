package http

import (
	"log"
	"net/http"

	"safesite-cloud/internal/audit"
	"safesite-cloud/internal/observability/metrics"
	stats "safesite-cloud/internal/stats/application"
)

// ReplayHandler rebuilds the rollup counters from the durable store on
// operator request.
type ReplayHandler struct {
	initializer *stats.Initializer
	auditLog    audit.Logger
	logger      *log.Logger
}

// NewReplayHandler constructs the handler.
func NewReplayHandler(initializer *stats.Initializer, auditLog audit.Logger, logger *log.Logger) *ReplayHandler {
	return &ReplayHandler{initializer: initializer, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles POST /api/admin/stats/replay.
func (h *ReplayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.initializer == nil {
		http.Error(w, "initializer not ready", http.StatusServiceUnavailable)
		return
	}

	if h.logger != nil {
		h.logger.Printf("stats: replay requested from %s", audit.ClientIP(r))
	}
	if err := h.initializer.Replay(r.Context()); err != nil {
		metrics.IncReplay(metrics.ResultError)
		http.Error(w, "replay failed", http.StatusInternalServerError)
		return
	}
	metrics.IncReplay(metrics.ResultSuccess)

	if h.auditLog != nil {
		_ = h.auditLog.Log(r.Context(), audit.Entry{
			Actor:  "operator",
			Action: "stats.replay",
			IP:     audit.ClientIP(r),
		})
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("rollup counters rebuilt from history"))
}
