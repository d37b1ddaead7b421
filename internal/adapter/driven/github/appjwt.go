package github

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// App assertion timing. GitHub rejects assertions valid for more than ten
// minutes; iat is backdated to tolerate clock drift between us and GitHub.
const (
	appJWTBackdate = 60 * time.Second
	appJWTLifetime = 10 * time.Minute
)

// appSigner produces RS256 App assertions for one GitHub App.
type appSigner struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

func newAppSigner(appID int64, privateKeyPEM []byte) (*appSigner, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("invalid app id %d", appID)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing app private key: %w", err)
	}
	return &appSigner{appID: appID, key: key, now: time.Now}, nil
}

// sign returns a fresh assertion. One is minted per request.
func (s *appSigner) sign() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing app jwt: %w", err)
	}
	return signed, nil
}

// appTransport authenticates every request as the App itself.
type appTransport struct {
	signer *appSigner
	base   http.RoundTripper
}

func (t *appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.signer.sign()
	if err != nil {
		return nil, err
	}

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(req)
}
