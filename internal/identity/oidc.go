package identity

import (
	"context"
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/config"
	"github.com/antluqmol1/openid-authentication/internal/random"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"net/url"
	"strings"
	"time"
)

var (
	nonceLength = 32

	// expirySkew treats access tokens as expired slightly before they actually are
	expirySkew = 30 * time.Second

	// reservedScopes are requested on every login and never checked when looking up tokens
	reservedScopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}
)

var (
	errNoFlow = &AuthError{
		Code:        "invalid_state",
		Description: "No login flow has been initiated or it has already been completed.",
	}
	errStateMismatch = &AuthError{
		Code:        "invalid_state",
		Description: "The state of the authorization response does not match the initiated login flow.",
	}
	errNoAccount = &AuthError{
		Code:        "no_account",
		Description: "No account is signed in.",
	}
	errInteractionRequired = &AuthError{
		Code:        "interaction_required",
		Description: "The cached token cannot be refreshed silently.",
	}
	errInvalidIDToken = func(description string) *AuthError {
		return &AuthError{
			Code:        "invalid_id_token",
			Description: description,
		}
	}
	errInvalidGrant = func(err error) *AuthError {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			return &AuthError{
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
			}
		}
		return &AuthError{
			Code:        "invalid_grant",
			Description: err.Error(),
		}
	}
)

// OIDCClient implements Client using coreos/go-oidc and golang.org/x/oauth2.
// Authorization code flows use PKCE (S256) and a nonce bound to the ID token.
type OIDCClient struct {
	clientID           string
	clientSecret       string
	endpoint           oauth2.Endpoint
	verifier           *oidc.IDTokenVerifier
	endSessionEndpoint string
	now                func() time.Time
}

var _ Client = (*OIDCClient)(nil)

// NewOIDC discovers the configured provider and creates a new OIDC identity client
func NewOIDC(ctx context.Context, cfg *config.Config) (*OIDCClient, error) {
	issuer := cfg.IssuerURL()
	skipIssuerCheck := cfg.SkipsIssuerCheck()
	if skipIssuerCheck {
		// Multi-tenant authorities advertise a templated issuer that never matches the discovery URL
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}

	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, err
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: skipIssuerCheck,
	})
	return newOIDCClient(cfg.ClientID, cfg.ClientSecret, provider.Endpoint(), verifier, metadata.EndSessionEndpoint), nil
}

func newOIDCClient(clientID, clientSecret string, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, endSessionEndpoint string) *OIDCClient {
	return &OIDCClient{
		clientID:           clientID,
		clientSecret:       clientSecret,
		endpoint:           endpoint,
		verifier:           verifier,
		endSessionEndpoint: endSessionEndpoint,
		now:                time.Now,
	}
}

// BeginLogin starts a new authorization code flow and stores its state in the session
func (client *OIDCClient) BeginLogin(ses *session.Session, scopes []string, redirectURI, prompt string) (*LoginFlow, error) {
	flow := &session.Flow{
		State:        uuid.NewString(),
		Nonce:        random.String(nonceLength, random.CharsetAlphanumeric),
		CodeVerifier: oauth2.GenerateVerifier(),
		RedirectURI:  redirectURI,
		Scopes:       withReservedScopes(scopes),
	}

	options := []oauth2.AuthCodeOption{
		oidc.Nonce(flow.Nonce),
		oauth2.S256ChallengeOption(flow.CodeVerifier),
	}
	if prompt != "" {
		options = append(options, oauth2.SetAuthURLParam("prompt", prompt))
	}
	authURI := client.oauth2Config(flow.RedirectURI, flow.Scopes).AuthCodeURL(flow.State, options...)

	ses.Flow = flow
	return &LoginFlow{
		AuthURI: authURI,
		State:   flow.State,
		Scopes:  flow.Scopes,
	}, nil
}

// CompleteLogin redeems the authorization response query parameters
func (client *OIDCClient) CompleteLogin(ctx context.Context, ses *session.Session, query url.Values) (*session.Identity, error) {
	flow := ses.Flow
	if flow == nil {
		return nil, errNoFlow
	}
	if query.Get("state") != flow.State {
		return nil, errStateMismatch
	}
	// A flow can only be redeemed once, whatever the outcome
	ses.Flow = nil

	if code := query.Get("error"); code != "" {
		return nil, &AuthError{
			Code:        code,
			Description: query.Get("error_description"),
		}
	}

	conf := client.oauth2Config(flow.RedirectURI, flow.Scopes)
	oauth2Token, err := conf.Exchange(ctx, query.Get("code"), oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, errInvalidGrant(err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errInvalidIDToken("The token response does not contain an ID token.")
	}
	idToken, err := client.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errInvalidIDToken(err.Error())
	}
	if idToken.Nonce != flow.Nonce {
		return nil, errInvalidIDToken("The nonce of the ID token does not match the initiated login flow.")
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errInvalidIDToken(err.Error())
	}
	identity := &session.Identity{
		Subject:           idToken.Subject,
		Name:              stringClaim(claims, "name"),
		PreferredUsername: stringClaim(claims, "preferred_username"),
		SessionID:         stringClaim(claims, "sid"),
		Claims:            claims,
	}

	ses.Identity = identity
	ses.OAuthToken = toSessionToken(oauth2Token, flow.Scopes)
	return identity, nil
}

// CurrentUser returns the identity of the logged-in user or nil
func (client *OIDCClient) CurrentUser(ses *session.Session) *session.Identity {
	if ses == nil {
		return nil
	}
	return ses.Identity
}

// TokenFor returns a cached or silently refreshed access token covering the given scopes
func (client *OIDCClient) TokenFor(ctx context.Context, ses *session.Session, scopes []string) (*session.Token, error) {
	cached := ses.OAuthToken
	if ses.Identity == nil || cached == nil {
		return nil, errNoAccount
	}
	if cached.AccessToken != "" && client.isFresh(cached) && coversScopes(cached.Scopes, scopes) {
		return cached, nil
	}
	if cached.RefreshToken == "" {
		return nil, errInteractionRequired
	}

	// An empty access token forces the token source to redeem the refresh token
	requested := withReservedScopes(scopes)
	source := client.oauth2Config("", requested).TokenSource(ctx, &oauth2.Token{
		RefreshToken: cached.RefreshToken,
	})
	refreshed, err := source.Token()
	if err != nil {
		return nil, errInvalidGrant(err)
	}

	ses.OAuthToken = toSessionToken(refreshed, requested)
	return ses.OAuthToken, nil
}

// Logout clears the identity state of the session and returns the provider's end session URL
func (client *OIDCClient) Logout(ses *session.Session, postLogoutRedirect string) string {
	ses.Flow = nil
	ses.Identity = nil
	ses.OAuthToken = nil

	if client.endSessionEndpoint == "" {
		return postLogoutRedirect
	}
	target, err := url.Parse(client.endSessionEndpoint)
	if err != nil {
		return postLogoutRedirect
	}
	query := target.Query()
	query.Set("post_logout_redirect_uri", postLogoutRedirect)
	target.RawQuery = query.Encode()
	return target.String()
}

func (client *OIDCClient) oauth2Config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.clientID,
		ClientSecret: client.clientSecret,
		Endpoint:     client.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
	}
}

func (client *OIDCClient) isFresh(token *session.Token) bool {
	return token.Expiry.IsZero() || token.Expiry.After(client.now().Add(expirySkew))
}

func toSessionToken(token *oauth2.Token, requested []string) *session.Token {
	scopes := requested
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	return &session.Token{
		AccessToken:  token.AccessToken,
		TokenType:    token.Type(),
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scopes:       scopes,
	}
}

func withReservedScopes(scopes []string) []string {
	result := make([]string, 0, len(reservedScopes)+len(scopes))
	seen := make(map[string]bool, cap(result))
	for _, scope := range append(append([]string{}, reservedScopes...), scopes...) {
		key := strings.ToLower(scope)
		if scope == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, scope)
	}
	return result
}

// coversScopes reports whether every requested scope has been granted.
// Resource prefixes (https://graph.microsoft.com/User.Read) are ignored and an unknown grant is assumed to cover
// everything.
func coversScopes(granted, requested []string) bool {
	if len(granted) == 0 {
		return true
	}
	grantedSet := make(map[string]bool, len(granted))
	for _, scope := range granted {
		grantedSet[normalizeScope(scope)] = true
	}
	for _, scope := range requested {
		if isReservedScope(scope) {
			continue
		}
		if !grantedSet[normalizeScope(scope)] {
			return false
		}
	}
	return true
}

func normalizeScope(scope string) string {
	if i := strings.LastIndex(scope, "/"); i >= 0 {
		scope = scope[i+1:]
	}
	return strings.ToLower(scope)
}

func isReservedScope(scope string) bool {
	for _, reserved := range reservedScopes {
		if strings.EqualFold(scope, reserved) {
			return true
		}
	}
	return false
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}
