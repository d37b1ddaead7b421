package model

import "time"

// DefaultTokenValidity is assumed when GitHub omits expires_at on an
// installation token.
const DefaultTokenValidity = time.Hour

// IssuedToken is a scoped installation access token together with the
// instant it stops being valid.
type IssuedToken struct {
	InstallationID int64
	Token          string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// ValidAt reports whether the token can still be handed out at now, keeping
// margin in reserve so callers never receive a token about to lapse.
func (t *IssuedToken) ValidAt(now time.Time, margin time.Duration) bool {
	return t.Token != "" && now.Add(margin).Before(t.ExpiresAt)
}
