package application

import "strconv"

// Lock keys shared by every service that mutates installation or tenant
// records. When both are needed, take the installation lock first.

func installationLockKey(installationID int64) string {
	return "installation/" + strconv.FormatInt(installationID, 10)
}

func tenantLockKey(tenantID string) string {
	return "tenant/" + tenantID
}
