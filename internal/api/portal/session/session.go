package session

import (
	"time"
)

// Session represents a browser session at the portal.
// A session is identified by the hash of the raw token stored in the session cookie.
type Session struct {
	Token      string    `json:"-"`
	Expires    int64     `json:"expires"`
	Flow       *Flow     `json:"flow,omitempty"`
	Identity   *Identity `json:"identity,omitempty"`
	OAuthToken *Token    `json:"oauth_token,omitempty"`
	Flashes    []*Flash  `json:"flashes,omitempty"`
}

// Flow represents a pending OIDC authorization code flow
type Flow struct {
	State        string   `json:"state"`
	Nonce        string   `json:"nonce"`
	CodeVerifier string   `json:"code_verifier"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`
}

// Identity holds the verified ID token claims of the logged-in user
type Identity struct {
	Subject           string         `json:"sub"`
	Name              string         `json:"name,omitempty"`
	PreferredUsername string         `json:"preferred_username,omitempty"`
	SessionID         string         `json:"sid,omitempty"`
	Claims            map[string]any `json:"claims"`
}

// Token represents a cached OAuth2 token
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
}

// Flash represents a one-time message shown to the user on their next page view
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// IsExpired checks whether the session expired at the given time
func (ses *Session) IsExpired(now time.Time) bool {
	return ses.Expires <= now.Unix()
}

// AddFlash queues a flash message
func (ses *Session) AddFlash(category, message string) {
	ses.Flashes = append(ses.Flashes, &Flash{
		Category: category,
		Message:  message,
	})
}

// PopFlashes returns and removes all queued flash messages
func (ses *Session) PopFlashes() []*Flash {
	flashes := ses.Flashes
	ses.Flashes = nil
	if flashes == nil {
		flashes = []*Flash{}
	}
	return flashes
}

// Clone returns a deep copy of the session
func (ses *Session) Clone() *Session {
	clone := *ses
	if ses.Flow != nil {
		flow := *ses.Flow
		flow.Scopes = append([]string(nil), ses.Flow.Scopes...)
		clone.Flow = &flow
	}
	if ses.Identity != nil {
		identity := *ses.Identity
		identity.Claims = make(map[string]any, len(ses.Identity.Claims))
		for key, val := range ses.Identity.Claims {
			identity.Claims[key] = val
		}
		clone.Identity = &identity
	}
	if ses.OAuthToken != nil {
		token := *ses.OAuthToken
		token.Scopes = append([]string(nil), ses.OAuthToken.Scopes...)
		clone.OAuthToken = &token
	}
	if ses.Flashes != nil {
		clone.Flashes = make([]*Flash, len(ses.Flashes))
		for i, flash := range ses.Flashes {
			copied := *flash
			clone.Flashes[i] = &copied
		}
	}
	return &clone
}
