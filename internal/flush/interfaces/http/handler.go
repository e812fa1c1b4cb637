package http

import (
	"log"
	"net/http"
	"time"

	"safesite-cloud/internal/audit"
	flush "safesite-cloud/internal/flush/application"
)

// TriggerHandler runs the flush job on demand for both event kinds.
type TriggerHandler struct {
	scheduler *flush.Scheduler
	auditLog  audit.Logger
	logger    *log.Logger
}

// NewTriggerHandler constructs the manual trigger handler.
func NewTriggerHandler(scheduler *flush.Scheduler, auditLog audit.Logger, logger *log.Logger) *TriggerHandler {
	return &TriggerHandler{scheduler: scheduler, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles POST /api/test/scheduler/run.
func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.scheduler == nil {
		http.Error(w, "scheduler not ready", http.StatusServiceUnavailable)
		return
	}

	if h.logger != nil {
		h.logger.Printf("flush: manual run requested from %s", audit.ClientIP(r))
	}
	h.scheduler.RunOnce(r.Context(), time.Now().UTC())

	if h.auditLog != nil {
		_ = h.auditLog.Log(r.Context(), audit.Entry{
			Actor:  "operator",
			Action: "flush.manual_run",
			IP:     audit.ClientIP(r),
		})
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alarm and accident buffers migrated"))
}
