package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/citymesh/portaledge/internal/metrics"
)

// maxPayloadBytes bounds the webhook body. CMS payloads are a few hundred
// bytes; anything near the limit is abuse.
const maxPayloadBytes = 1 << 20

// Handler serves the content invalidation endpoint: POST dispatches a signed
// event, GET is a liveness probe, OPTIONS answers CORS preflight.
type Handler struct {
	verifier   *Verifier
	nonces     *NonceCache
	dispatcher *Dispatcher
	recorder   *metrics.Recorder
	logger     *slog.Logger
	service    string
}

// NewHandler wires the webhook endpoint. service names the deployment in the
// liveness probe body.
func NewHandler(verifier *Verifier, nonces *NonceCache, dispatcher *Dispatcher, recorder *metrics.Recorder, logger *slog.Logger, service string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = "portaledge"
	}
	return &Handler{
		verifier:   verifier,
		nonces:     nonces,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
		service:    service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w)
	case http.MethodOptions:
		h.handleOptions(w)
	default:
		w.Header().Set("Allow", "POST, GET, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"success": false,
			"message": "method not allowed",
		})
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "unreadable request body",
		})
		return
	}

	var payload Payload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		h.recorder.ObserveWebhook("unknown", metrics.WebhookInvalid, 0)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "malformed JSON payload",
		})
		return
	}
	if err := payload.Validate(); err != nil {
		h.recorder.ObserveWebhook(payload.Event, metrics.WebhookInvalid, 0)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	if err := h.verifier.Verify(rawBody, payload.Signature, payload.Timestamp); err != nil {
		// Site and event identify the misconfigured sender; the secret and the
		// full signature stay out of the logs.
		h.logger.Warn("webhook rejected",
			slog.String("site", payload.Site),
			slog.String("event", payload.Event),
			slog.String("reason", rejectionReason(err)))
		h.recorder.ObserveWebhook(payload.Event, metrics.WebhookUnauthorized, 0)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "authentication failed",
		})
		return
	}

	if h.nonces != nil && !h.nonces.Remember(payload.Nonce) {
		h.logger.Warn("webhook rejected",
			slog.String("site", payload.Site),
			slog.String("event", payload.Event),
			slog.String("reason", "replayed nonce"))
		h.recorder.ObserveWebhook(payload.Event, metrics.WebhookUnauthorized, 0)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "replayed nonce",
		})
		return
	}

	actions := h.dispatcher.Dispatch(r.Context(), payload)
	success := true
	for _, action := range actions {
		if action.Outcome == OutcomeFailed {
			success = false
			break
		}
	}
	message := "invalidation dispatched"
	if !success {
		message = "invalidation dispatched with partial failures"
	}

	h.recorder.ObserveWebhook(payload.Event, metrics.WebhookAccepted, time.Since(start))
	h.logger.Info("webhook dispatched",
		slog.String("site", payload.Site),
		slog.String("event", payload.Event),
		slog.Int("actions", len(actions)),
		slog.Bool("success", success))

	// 202 over 200: downstream caches may propagate invalidation with delay.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   success,
		"message":   message,
		"site":      payload.Site,
		"event":     payload.Event,
		"actions":   actions,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                    "healthy",
		"service":                   h.service,
		"webhook_secret_configured": h.verifier.Configured(),
	})
}

func (h *Handler) handleOptions(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", "*")
	headers.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	headers.Set("Access-Control-Allow-Headers", "Content-Type")
	headers.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNoSecret):
		return "no secret configured"
	case errors.Is(err, ErrTimestampOutsideWindow):
		return "timestamp outside window"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature mismatch"
	default:
		return "authentication failure"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
