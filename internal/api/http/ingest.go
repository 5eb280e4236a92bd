package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/metrics"
	"github.com/uuidvault/uuidvault/internal/queue"
	"github.com/uuidvault/uuidvault/internal/reporting"
	"github.com/uuidvault/uuidvault/pkg/types"
)

// MaxRecordBytes caps the body of one ingestion request.
const MaxRecordBytes = 64 << 10

// IngestHandler accepts one record per POST and enqueues it.
type IngestHandler struct {
	producer queue.Producer
	apiKey   []byte
	reporter reporting.Reporter
}

// NewIngestHandler creates an ingest handler. Requests must carry apiKey in
// the "key" query parameter. A nil reporter discards failures.
func NewIngestHandler(producer queue.Producer, apiKey string, reporter reporting.Reporter) *IngestHandler {
	if reporter == nil {
		reporter = reporting.NopReporter{}
	}
	return &IngestHandler{
		producer: producer,
		apiKey:   []byte(apiKey),
		reporter: reporter,
	}
}

// ServeHTTP handles the ingest request. Only POST has an effect; other
// methods are acknowledged with "Ok".
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusOK, "Ok")
		return
	}

	if err := checkKey(h.apiKey, r.URL.Query().Get("key")); err != nil {
		metrics.Ingest("http", metrics.OutcomeForbidden)
		writeText(w, http.StatusForbidden, "forbidden")
		return
	}

	requestID := GetRequestID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRecordBytes))
	if err != nil {
		metrics.Ingest("http", metrics.OutcomeInvalid)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", vaulterrors.CodeMalformedBody, requestID)
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body", vaulterrors.CodeMalformedBody, requestID)
		return
	}

	record, err := types.DecodeRecord(body)
	if err != nil {
		metrics.Ingest("http", metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, "invalid record: "+err.Error(), vaulterrors.CodeInvalidRecord, requestID)
		return
	}

	// Enqueue the canonical form so consumers never see client formatting.
	canonical, err := json.Marshal(record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error", vaulterrors.CodeUnexpected, requestID)
		return
	}

	if err := h.producer.Send(r.Context(), canonical); err != nil {
		metrics.Ingest("http", metrics.OutcomeEnqueueFailed)
		qerr := vaulterrors.NewQueueError(vaulterrors.CodeEnqueueFailed, "http: enqueue record", err)
		log.Printf("http: request %s: %v", requestID, qerr)
		h.reporter.Capture(r.Context(), qerr, reporting.Event{
			Component: "ingest",
			Trigger:   "http",
			RunID:     requestID,
			Fields: map[string]interface{}{
				"correlation_id": GetCorrelationID(r.Context()),
			},
		})
		writeError(w, http.StatusInternalServerError, "failed to enqueue record", vaulterrors.CodeEnqueueFailed, requestID)
		return
	}

	metrics.Ingest("http", metrics.OutcomeAccepted)
	writeText(w, http.StatusOK, "Ok")
}

// checkKey compares key against secret in constant time.
// An empty secret rejects every request.
func checkKey(secret []byte, key string) error {
	if len(secret) == 0 || subtle.ConstantTimeCompare([]byte(key), secret) != 1 {
		return vaulterrors.NewAuthError("http: invalid api key")
	}
	return nil
}
