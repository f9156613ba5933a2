// Package drive wraps the Google Drive v3 API behind the few operations the
// bot needs: create folder, upload file, list children. Token refresh is the
// oauth2 library's job, not ours.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var (
	// ErrNoCredential means the user never linked a Google account.
	ErrNoCredential = errors.New("no stored credential")
	// ErrMalformedCredential means the stored token bundle is not decodable.
	ErrMalformedCredential = errors.New("stored credential is malformed")
)

// Scopes requested during OAuth. Drive access plus the email used to resolve
// returning users.
var Scopes = []string{
	driveapi.DriveScope,
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// TokenBundle is the persisted token JSON. Expiry is recorded at exchange
// time so the refreshing token source knows when to rotate.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// DecodeTokenBundle parses a stored credential blob, tolerating the
// double-encoded string representation older records carry.
func DecodeTokenBundle(raw string) (*TokenBundle, error) {
	if raw == "" {
		return nil, ErrNoCredential
	}

	var bundle TokenBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		var encoded string
		if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedCredential, err)
		}
		if err := json.Unmarshal([]byte(encoded), &bundle); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedCredential, err)
		}
	}

	if bundle.AccessToken == "" && bundle.RefreshToken == "" {
		return nil, ErrMalformedCredential
	}
	return &bundle, nil
}

// Resolver turns stored token bundles into live Drive sessions.
type Resolver struct {
	oauth *oauth2.Config
}

// NewResolver builds a resolver for the app's OAuth client. The redirect URL
// is the backend's /auth/callback endpoint.
func NewResolver(clientID, clientSecret, redirectURL string) *Resolver {
	return &Resolver{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
	}
}

// OAuthConfig exposes the underlying config for the login/callback handlers.
func (r *Resolver) OAuthConfig() *oauth2.Config {
	return r.oauth
}

// Resolve builds a Drive session from a stored credential blob.
func (r *Resolver) Resolve(ctx context.Context, storedToken string) (*Service, error) {
	bundle, err := DecodeTokenBundle(storedToken)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		Expiry:       bundle.Expiry,
	}
	if token.Expiry.IsZero() && token.RefreshToken != "" {
		// Unknown expiry: force a refresh on first use rather than risk a 401.
		token.Expiry = time.Now().Add(-time.Minute)
	}

	srv, err := driveapi.NewService(ctx, option.WithTokenSource(r.oauth.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Service{srv: srv}, nil
}
