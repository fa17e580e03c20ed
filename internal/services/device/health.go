package device

import (
	"encoding/json"
	"net/http"

	"github.com/akriger/neveryawn/internal/health"
	"github.com/akriger/neveryawn/internal/model/messages"
	"github.com/akriger/neveryawn/internal/services/telemetry"
)

type healthHandler struct {
	pub      *telemetry.Publisher
	counters *health.Counters
}

// NewHealthHandler serves /healthz: overall status plus the fault
// counters the dashboard reads out of telemetry, for operators curling
// the device directly.
func NewHealthHandler(pub *telemetry.Publisher, counters *health.Counters) http.Handler {
	return &healthHandler{pub: pub, counters: counters}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status   string                  `json:"status"`
		Link     string                  `json:"link"`
		QueueLen int                     `json:"queue_len"`
		Counters messages.HealthCounters `json:"counters"`
	}
	st := status{
		Link:     h.pub.State().String(),
		QueueLen: h.pub.QueueLen(),
		Counters: h.counters.Snapshot(),
	}
	if h.pub.State() == telemetry.StateConnected {
		st.Status = "ok"
	} else {
		// the loop keeps sampling and actuating; only publishing lags
		st.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	pub *telemetry.Publisher
}

// NewReadyHandler serves /readyz: 200 only once the broker link is up.
func NewReadyHandler(pub *telemetry.Publisher) http.Handler {
	return &readyHandler{pub: pub}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.pub.State() == telemetry.StateConnected
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
