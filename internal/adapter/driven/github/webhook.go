package github

import (
	"encoding/json"
	"errors"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// Webhook event types carrying installation lifecycle changes.
const (
	eventInstallation             = "installation"
	eventInstallationRepositories = "installation_repositories"
)

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// body using a constant-time comparison. An empty secret never verifies.
func VerifySignature(signature string, body, secret []byte) error {
	if len(secret) == 0 {
		return model.UnauthorizedError(errors.New("webhook secret not configured"), "signature verification failed")
	}
	if signature == "" {
		return model.UnauthorizedError(nil, "missing signature")
	}
	if err := gh.ValidateSignature(signature, body, secret); err != nil {
		return model.UnauthorizedError(err, "signature verification failed")
	}
	return nil
}

// DecodeInstallationEvent turns a verified webhook payload into a domain
// event. It returns nil, nil for event types and actions the reconciler does
// not handle, including ping.
func DecodeInstallationEvent(eventType, deliveryID string, payload []byte) (*model.InstallationEvent, error) {
	if eventType != eventInstallation && eventType != eventInstallationRepositories {
		return nil, nil
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, model.ValidationError("malformed %s payload", eventType)
	}

	var event *model.InstallationEvent
	switch e := parsed.(type) {
	case *gh.InstallationEvent:
		event = decodeInstallation(e)
	case *gh.InstallationRepositoriesEvent:
		event = decodeInstallationRepositories(e)
	}
	if event == nil {
		return nil, nil
	}
	if event.Installation.ID <= 0 {
		return nil, model.ValidationError("%s payload has no installation id", eventType)
	}
	event.DeliveryID = deliveryID
	return event, nil
}

func decodeInstallation(e *gh.InstallationEvent) *model.InstallationEvent {
	var kind model.InstallationEventKind
	switch e.GetAction() {
	case "created":
		kind = model.EventInstallationCreated
	case "new_permissions_accepted":
		kind = model.EventInstallationUpdated
	case "deleted":
		kind = model.EventInstallationDeleted
	case "suspend":
		kind = model.EventInstallationSuspended
	case "unsuspend":
		kind = model.EventInstallationUnsuspended
	default:
		return nil
	}

	installation := MapInstallation(e.GetInstallation())
	installation.Repositories = repoNames(e.Repositories)

	return &model.InstallationEvent{
		Kind:         kind,
		Installation: installation,
		Sender:       e.GetSender().GetLogin(),
	}
}

func decodeInstallationRepositories(e *gh.InstallationRepositoriesEvent) *model.InstallationEvent {
	var kind model.InstallationEventKind
	switch e.GetAction() {
	case "added":
		kind = model.EventRepositoriesAdded
	case "removed":
		kind = model.EventRepositoriesRemoved
	default:
		return nil
	}

	installation := MapInstallation(e.GetInstallation())
	if selection := e.GetRepositorySelection(); selection != "" {
		installation.RepositorySelection = selection
	}

	return &model.InstallationEvent{
		Kind:                kind,
		Installation:        installation,
		RepositoriesAdded:   repoNames(e.RepositoriesAdded),
		RepositoriesRemoved: repoNames(e.RepositoriesRemoved),
		Sender:              e.GetSender().GetLogin(),
	}
}

// MapInstallation converts a go-github Installation to a domain model
// Installation. It uses GetXxx() helper methods exclusively to avoid nil
// pointer panics.
func MapInstallation(inst *gh.Installation) model.Installation {
	installation := model.Installation{
		ID:    inst.GetID(),
		AppID: inst.GetAppID(),
		Account: model.Account{
			Login: inst.GetAccount().GetLogin(),
			ID:    inst.GetAccount().GetID(),
			Type:  inst.GetAccount().GetType(),
		},
		Permissions:         mapPermissions(inst.GetPermissions()),
		RepositorySelection: inst.GetRepositorySelection(),
		CreatedAt:           inst.GetCreatedAt().Time,
		UpdatedAt:           inst.GetUpdatedAt().Time,
	}
	if inst.SuspendedAt != nil {
		suspendedAt := inst.GetSuspendedAt().Time
		installation.SuspendedAt = &suspendedAt
	}
	return installation
}

// mapPermissions flattens go-github's permission struct into scope -> level.
// Unset scopes are omitted.
func mapPermissions(perms *gh.InstallationPermissions) map[string]string {
	if perms == nil {
		return nil
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func repoNames(repos []*gh.Repository) []string {
	if len(repos) == 0 {
		return nil
	}
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		if name := repo.GetFullName(); name != "" {
			names = append(names, name)
		}
	}
	return names
}
