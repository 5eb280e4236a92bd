package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/uuidvault/uuidvault/internal/consolidation"
	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/metrics"
)

// Triggerer runs one consolidation on demand.
type Triggerer interface {
	Trigger(ctx context.Context) (*consolidation.Report, error)
}

// TriggerResponse is the body of POST /trigger.
type TriggerResponse struct {
	Report *consolidation.Report `json:"report,omitempty"`
	Error  string                `json:"error,omitempty"`
	Code   string                `json:"code,omitempty"`
}

// TriggerHandler handles POST /trigger, authenticated like ingestion.
type TriggerHandler struct {
	daemon Triggerer
	apiKey []byte
}

// NewTriggerHandler creates a trigger handler.
func NewTriggerHandler(daemon Triggerer, apiKey string) *TriggerHandler {
	return &TriggerHandler{daemon: daemon, apiKey: []byte(apiKey)}
}

func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", GetRequestID(r.Context()))
		return
	}
	if err := checkKey(h.apiKey, r.URL.Query().Get("key")); err != nil {
		writeText(w, http.StatusForbidden, "forbidden")
		return
	}

	report, err := h.daemon.Trigger(r.Context())
	switch {
	case errors.Is(err, consolidation.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, TriggerResponse{Error: err.Error(), Code: vaulterrors.CodeRunInProgress})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, TriggerResponse{Report: report, Error: err.Error(), Code: vaulterrors.GetCode(err)})
	default:
		writeJSON(w, http.StatusOK, TriggerResponse{Report: report})
	}
}

// HealthHandler answers GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Routes are the handlers mounted by NewMux. Nil handlers are not mounted.
type Routes struct {
	Ingest  http.Handler
	Trigger http.Handler
}

// NewMux builds the router. Ingestion is served on "/" and "/v1/records";
// every unknown path falls through to ingestion. /health and /metrics are
// always mounted.
func NewMux(routes Routes) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/metrics", metrics.Handler())
	if routes.Ingest != nil {
		mux.Handle("/", routes.Ingest)
		mux.Handle("/v1/records", routes.Ingest)
	}
	if routes.Trigger != nil {
		mux.Handle("/trigger", routes.Trigger)
	}
	return DefaultMiddleware()(mux)
}
