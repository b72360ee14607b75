// Package identity provides the login, logout and token operations the portal needs from its OpenID Connect provider.
// All state is kept inside the caller's session; persisting the session is up to the caller.
package identity

import (
	"context"
	"fmt"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"net/url"
)

// PromptSelectAccount forces the provider to show its account picker
const PromptSelectAccount = "select_account"

// AuthError represents an error reported by (or while talking to) the identity provider
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (err *AuthError) Error() string {
	if err.Description == "" {
		return err.Code
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Description)
}

// LoginFlow contains the data required to send the user to the provider's authorization endpoint
type LoginFlow struct {
	AuthURI string   `json:"auth_uri"`
	State   string   `json:"state"`
	Scopes  []string `json:"scopes"`
}

// Client defines the identity provider operations used by the portal
type Client interface {
	// BeginLogin starts a new authorization code flow and stores its state in the session
	BeginLogin(ses *session.Session, scopes []string, redirectURI, prompt string) (*LoginFlow, error)

	// CompleteLogin redeems the authorization response query parameters.
	// Failures are reported as *AuthError.
	CompleteLogin(ctx context.Context, ses *session.Session, query url.Values) (*session.Identity, error)

	// CurrentUser returns the identity of the logged-in user or nil
	CurrentUser(ses *session.Session) *session.Identity

	// TokenFor returns a cached or silently refreshed access token covering the given scopes.
	// Failures are reported as *AuthError.
	TokenFor(ctx context.Context, ses *session.Session, scopes []string) (*session.Token, error)

	// Logout clears the identity state of the session and returns the URL to send the user to
	Logout(ses *session.Session, postLogoutRedirect string) string
}
