package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/repobridge/internal/application"
	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// maxRequestBody caps JSON bodies on the configuration API.
const maxRequestBody = 64 << 10

// TenantConfigurator manages tenant to repository mappings.
type TenantConfigurator interface {
	ConfigureTenant(ctx context.Context, tenantID, tenantName, repo, installationID string) (*model.TenantMapping, error)
	GetMapping(ctx context.Context, tenantID string) (*model.TenantMapping, error)
	SetChannelRepository(ctx context.Context, tenantID, channelID, repo string) (*model.TenantMapping, error)
	ClearChannelRepository(ctx context.Context, tenantID, channelID string) (*model.TenantMapping, error)
}

// SecretManager stores per-tenant secrets.
type SecretManager interface {
	PutSecret(ctx context.Context, tenantID, name, value string) error
	MaskedSecret(ctx context.Context, tenantID, name string) (masked string, configured bool, err error)
	RemoveSecret(ctx context.Context, tenantID, name string) error
}

// Handler is the HTTP driving adapter that serves the configuration API.
type Handler struct {
	tenants TenantConfigurator
	secrets SecretManager
	pending *application.PendingInputStore
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	tenants TenantConfigurator,
	secrets SecretManager,
	pending *application.PendingInputStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		tenants: tenants,
		secrets: secrets,
		pending: pending,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Tenant routes share limiter.
func NewServeMux(h *Handler, webhook http.Handler, metricsHandler http.Handler, limiter *TenantRateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	perTenant := func(next http.HandlerFunc) http.HandlerFunc {
		return limiter.Middleware(logger, next)
	}

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("PUT /api/v1/tenants/{tenant}", perTenant(h.ConfigureTenant))
	mux.HandleFunc("GET /api/v1/tenants/{tenant}", perTenant(h.GetTenant))
	mux.HandleFunc("PUT /api/v1/tenants/{tenant}/channels/{channel}", perTenant(h.SetChannelRepository))
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/channels/{channel}", perTenant(h.ClearChannelRepository))
	mux.HandleFunc("PUT /api/v1/tenants/{tenant}/secrets/{name}", perTenant(h.PutSecret))
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/secrets/{name}", perTenant(h.GetSecretStatus))
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/secrets/{name}", perTenant(h.RemoveSecret))

	mux.HandleFunc("PUT /api/v1/pending/{user}/{channel}", h.PutPendingInput)
	mux.HandleFunc("POST /api/v1/pending/{user}/{channel}/take", h.TakePendingInput)

	mux.Handle("POST /webhooks/github", webhook)
	mux.Handle("GET /metrics", metricsHandler)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns the service health status.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ConfigureTenant binds a tenant to an installation and default repository.
func (h *Handler) ConfigureTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	var req ConfigureTenantRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	mapping, err := h.tenants.ConfigureTenant(r.Context(), tenantID, req.TenantName, req.Repository, req.InstallationID)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to configure tenant", "tenant_id", tenantID)
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(*mapping))
}

// GetTenant returns a tenant's current mapping.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	mapping, err := h.tenants.GetMapping(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to get tenant", "tenant_id", tenantID)
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(*mapping))
}

// SetChannelRepository overrides the repository used in one channel.
func (h *Handler) SetChannelRepository(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	channelID := r.PathValue("channel")

	var req ChannelRepositoryRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	mapping, err := h.tenants.SetChannelRepository(r.Context(), tenantID, channelID, req.Repository)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to set channel repository",
			"tenant_id", tenantID, "channel_id", channelID)
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(*mapping))
}

// ClearChannelRepository returns a channel to the tenant default.
func (h *Handler) ClearChannelRepository(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	channelID := r.PathValue("channel")

	mapping, err := h.tenants.ClearChannelRepository(r.Context(), tenantID, channelID)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to clear channel repository",
			"tenant_id", tenantID, "channel_id", channelID)
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(*mapping))
}

// PutSecret stores a named secret for a tenant. The response never echoes
// the value.
func (h *Handler) PutSecret(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	name := r.PathValue("name")

	var req PutSecretRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.secrets.PutSecret(r.Context(), tenantID, name, req.Value); err != nil {
		writeDomainError(w, h.logger, err, "failed to store secret", "tenant_id", tenantID, "name", name)
		return
	}

	h.writeSecretStatus(w, r, tenantID, name)
}

// GetSecretStatus reports whether a secret is configured, with a masked preview.
func (h *Handler) GetSecretStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSecretStatus(w, r, r.PathValue("tenant"), r.PathValue("name"))
}

// RemoveSecret deletes a named secret.
func (h *Handler) RemoveSecret(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	name := r.PathValue("name")

	if err := h.secrets.RemoveSecret(r.Context(), tenantID, name); err != nil {
		writeDomainError(w, h.logger, err, "failed to remove secret", "tenant_id", tenantID, "name", name)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PutPendingInput parks a partially collected form for a user in a channel.
func (h *Handler) PutPendingInput(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	channelID := r.PathValue("channel")

	var req PendingInputRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	input := h.pending.Put(userID, channelID, req.Kind, req.Data)
	writeJSON(w, http.StatusCreated, toPendingInputResponse(input))
}

// TakePendingInput returns and removes the pending input for a user in a
// channel. A second take finds nothing.
func (h *Handler) TakePendingInput(w http.ResponseWriter, r *http.Request) {
	input, ok := h.pending.Take(r.PathValue("user"), r.PathValue("channel"))
	if !ok {
		writeError(w, http.StatusNotFound, "no pending input")
		return
	}

	writeJSON(w, http.StatusOK, toPendingInputResponse(input))
}

func (h *Handler) writeSecretStatus(w http.ResponseWriter, r *http.Request, tenantID, name string) {
	masked, configured, err := h.secrets.MaskedSecret(r.Context(), tenantID, name)
	if err != nil {
		writeDomainError(w, h.logger, err, "failed to read secret", "tenant_id", tenantID, "name", name)
		return
	}

	writeJSON(w, http.StatusOK, SecretStatusResponse{
		Name:       name,
		Configured: configured,
		Masked:     masked,
	})
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 or 413 on
// failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
