package model

// InstallationEventKind names the installation lifecycle transitions the
// reconciler acts on.
type InstallationEventKind string

const (
	EventInstallationCreated     InstallationEventKind = "installation.created"
	EventInstallationUpdated     InstallationEventKind = "installation.new_permissions_accepted"
	EventInstallationDeleted     InstallationEventKind = "installation.deleted"
	EventInstallationSuspended   InstallationEventKind = "installation.suspend"
	EventInstallationUnsuspended InstallationEventKind = "installation.unsuspend"
	EventRepositoriesAdded       InstallationEventKind = "installation_repositories.added"
	EventRepositoriesRemoved     InstallationEventKind = "installation_repositories.removed"
)

// InstallationEvent is a verified, decoded installation webhook.
// Installation carries the snapshot from the payload; for repository events
// its Repositories field is empty and the deltas are in RepositoriesAdded and
// RepositoriesRemoved.
type InstallationEvent struct {
	DeliveryID          string
	Kind                InstallationEventKind
	Installation        Installation
	RepositoriesAdded   []string
	RepositoriesRemoved []string
	Sender              string
}
