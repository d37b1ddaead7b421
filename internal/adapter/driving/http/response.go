package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/repobridge/internal/application"
	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusForKind maps the domain error taxonomy to HTTP status codes.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status for its kind. Upstream and
// internal failures are logged with their cause; the response carries only
// the user-facing message.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, msg string, attrs ...any) {
	kind := model.KindOf(err)
	status := statusForKind(kind)

	switch {
	case kind == model.KindExternalService:
		logger.Warn(msg, append(attrs, "error", err)...)
	case status == http.StatusInternalServerError:
		logger.Error(msg, append(attrs, "error", err)...)
	}

	writeError(w, status, model.UserMessage(err))
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ConfigureTenantRequest is the JSON body for the configure tenant endpoint.
// InstallationID is the numeric ID as typed by the user.
type ConfigureTenantRequest struct {
	TenantName     string `json:"tenant_name"`
	Repository     string `json:"repository"`
	InstallationID string `json:"installation_id"`
}

// ChannelRepositoryRequest is the JSON body for the channel override endpoint.
type ChannelRepositoryRequest struct {
	Repository string `json:"repository"`
}

// PutSecretRequest is the JSON body for the store secret endpoint.
type PutSecretRequest struct {
	Value string `json:"value"`
}

// PendingInputRequest is the JSON body for the pending input endpoint.
type PendingInputRequest struct {
	Kind string            `json:"kind"`
	Data map[string]string `json:"data"`
}

// TenantResponse is the JSON representation of a tenant mapping.
type TenantResponse struct {
	TenantID            string            `json:"tenant_id"`
	TenantName          string            `json:"tenant_name"`
	InstallationID      int64             `json:"installation_id"`
	DefaultRepository   string            `json:"default_repository"`
	ChannelRepositories map[string]string `json:"channel_repositories"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

// SecretStatusResponse describes a stored secret without revealing it.
type SecretStatusResponse struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

// PendingInputResponse is the JSON representation of a pending input.
type PendingInputResponse struct {
	Kind      string            `json:"kind"`
	Data      map[string]string `json:"data"`
	CreatedAt string            `json:"created_at"`
	ExpiresAt string            `json:"expires_at"`
}

// WebhookResponse reports what happened to a delivery.
type WebhookResponse struct {
	Status string `json:"status"`
}

// toTenantResponse converts a domain TenantMapping to its JSON representation.
func toTenantResponse(m model.TenantMapping) TenantResponse {
	channels := make(map[string]string, len(m.ChannelRepositories))
	for channelID, repo := range m.ChannelRepositories {
		channels[channelID] = repo.FullName()
	}

	return TenantResponse{
		TenantID:            m.TenantID,
		TenantName:          m.TenantName,
		InstallationID:      m.InstallationID,
		DefaultRepository:   m.DefaultRepository.FullName(),
		ChannelRepositories: channels,
		CreatedAt:           m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// toPendingInputResponse converts an application PendingInput to its JSON representation.
func toPendingInputResponse(p application.PendingInput) PendingInputResponse {
	data := p.Data
	if data == nil {
		data = map[string]string{}
	}
	return PendingInputResponse{
		Kind:      p.Kind,
		Data:      data,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: p.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
