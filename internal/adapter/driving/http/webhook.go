package httphandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	githubadapter "github.com/ericfisherdev/repobridge/internal/adapter/driven/github"
	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

const (
	// maxWebhookBody matches GitHub's documented payload cap.
	maxWebhookBody = 25 << 20

	// deduplicationWindow is how long a processed delivery ID is remembered.
	deduplicationWindow = time.Hour

	// DefaultWebhookApplyTimeout bounds event application once the request
	// has been accepted.
	DefaultWebhookApplyTimeout = 30 * time.Second
)

// InstallationEventApplier applies a decoded installation event.
type InstallationEventApplier interface {
	Apply(ctx context.Context, event model.InstallationEvent) error
}

// WebhookHandler receives GitHub App webhook deliveries.
type WebhookHandler struct {
	secret       []byte
	applier      InstallationEventApplier
	recorder     metrics.Recorder
	logger       *slog.Logger
	applyTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	deliveries map[string]time.Time
}

// NewWebhookHandler creates a WebhookHandler verifying deliveries against secret.
func NewWebhookHandler(secret []byte, applier InstallationEventApplier, recorder metrics.Recorder, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:       secret,
		applier:      applier,
		recorder:     recorder,
		logger:       logger,
		applyTimeout: DefaultWebhookApplyTimeout,
		now:          time.Now,
		deliveries:   make(map[string]time.Time),
	}
}

// ServeHTTP handles POST /webhooks/github.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.reject(w, eventType, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.reject(w, eventType, http.StatusBadRequest, "could not read body")
		return
	}

	if err := githubadapter.VerifySignature(r.Header.Get("X-Hub-Signature-256"), body, h.secret); err != nil {
		h.logger.Warn("webhook signature rejected", "delivery_id", deliveryID, "error", err)
		h.reject(w, eventType, http.StatusUnauthorized, "invalid signature")
		return
	}

	if eventType == "" {
		h.reject(w, eventType, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	if deliveryID != "" && h.seen(deliveryID) {
		h.logger.Debug("duplicate webhook delivery", "delivery_id", deliveryID, "event", eventType)
		h.recorder.RecordWebhook(eventType, "duplicate")
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "duplicate"})
		return
	}

	event, err := githubadapter.DecodeInstallationEvent(eventType, deliveryID, body)
	if err != nil {
		h.logger.Warn("webhook payload rejected", "delivery_id", deliveryID, "event", eventType, "error", err)
		h.reject(w, eventType, http.StatusBadRequest, model.UserMessage(err))
		return
	}
	if event == nil {
		h.recorder.RecordWebhook(eventType, "ignored")
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		return
	}

	// The sender may hang up once the body is read. The event is applied
	// regardless so a half-finished cascade is not left behind.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.applyTimeout)
	defer cancel()

	if err := h.applier.Apply(ctx, *event); err != nil {
		h.recorder.RecordWebhook(eventType, "failed")
		writeDomainError(w, h.logger, err, "apply webhook event",
			"delivery_id", deliveryID,
			"kind", string(event.Kind),
			"installation_id", event.Installation.ID,
		)
		return
	}

	if deliveryID != "" {
		h.remember(deliveryID)
	}

	h.logger.Info("webhook event applied",
		"delivery_id", deliveryID,
		"kind", string(event.Kind),
		"installation_id", event.Installation.ID,
	)
	h.recorder.RecordWebhook(eventType, "processed")
	writeJSON(w, http.StatusOK, WebhookResponse{Status: "processed"})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, eventType string, status int, msg string) {
	if eventType == "" {
		eventType = "unknown"
	}
	h.recorder.RecordWebhook(eventType, "rejected")
	writeError(w, status, msg)
}

// seen reports whether deliveryID was processed within the window, pruning
// older entries as it goes.
func (h *WebhookHandler) seen(deliveryID string) bool {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, at := range h.deliveries {
		if now.Sub(at) > deduplicationWindow {
			delete(h.deliveries, id)
		}
	}
	_, ok := h.deliveries[deliveryID]
	return ok
}

// remember records a successfully processed delivery. Failed deliveries are
// not recorded so GitHub's redelivery is applied.
func (h *WebhookHandler) remember(deliveryID string) {
	h.mu.Lock()
	h.deliveries[deliveryID] = h.now()
	h.mu.Unlock()
}
