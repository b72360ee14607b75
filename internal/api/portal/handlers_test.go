package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage/inmem"
	"github.com/antluqmol1/openid-authentication/internal/config"
	"github.com/antluqmol1/openid-authentication/internal/graph"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeIdentity struct {
	loginErr  error
	tokenErr  error
	logoutURL string
}

func (client *fakeIdentity) BeginLogin(ses *session.Session, scopes []string, redirectURI, _ string) (*identity.LoginFlow, error) {
	ses.Flow = &session.Flow{
		State:       "state-1",
		RedirectURI: redirectURI,
		Scopes:      scopes,
	}
	return &identity.LoginFlow{
		AuthURI: "https://login.example.com/authorize?state=state-1",
		State:   "state-1",
		Scopes:  scopes,
	}, nil
}

func (client *fakeIdentity) CompleteLogin(_ context.Context, ses *session.Session, _ url.Values) (*session.Identity, error) {
	ses.Flow = nil
	if client.loginErr != nil {
		return nil, client.loginErr
	}
	ses.Identity = &session.Identity{Subject: "user-1", Claims: map[string]any{"name": "Ada"}}
	return ses.Identity, nil
}

func (client *fakeIdentity) CurrentUser(ses *session.Session) *session.Identity {
	return ses.Identity
}

func (client *fakeIdentity) TokenFor(_ context.Context, _ *session.Session, scopes []string) (*session.Token, error) {
	if client.tokenErr != nil {
		return nil, client.tokenErr
	}
	return &session.Token{AccessToken: "access-token", Scopes: scopes}, nil
}

func (client *fakeIdentity) Logout(ses *session.Session, postLogoutRedirect string) string {
	ses.Identity = nil
	if client.logoutURL == "" {
		return postLogoutRedirect
	}
	return client.logoutURL + "?post_logout_redirect_uri=" + url.QueryEscape(postLogoutRedirect)
}

type fakeGateway struct {
	me        *graph.Response
	meErr     error
	updateErr error
	getErr    error
	updates   []any
	meCalls   int
	userCalls int
	getCalls  int
	getTarget string
}

func (gateway *fakeGateway) Me(_ context.Context, _ string) (*graph.Response, error) {
	gateway.meCalls++
	if gateway.meErr != nil {
		return nil, gateway.meErr
	}
	return gateway.me, nil
}

func (gateway *fakeGateway) UpdateUser(_ context.Context, _, _ string, update any) (*graph.Response, error) {
	gateway.updates = append(gateway.updates, update)
	if gateway.updateErr != nil {
		return nil, gateway.updateErr
	}
	return &graph.Response{Status: http.StatusNoContent}, nil
}

func (gateway *fakeGateway) Users(_ context.Context, _ string) (*graph.Response, error) {
	gateway.userCalls++
	return &graph.Response{Status: http.StatusOK, Body: []byte(`{"value":[{"id":"u1"}]}`)}, nil
}

func (gateway *fakeGateway) Get(_ context.Context, _, target string, _ time.Duration) (*graph.Response, error) {
	gateway.getCalls++
	gateway.getTarget = target
	if gateway.getErr != nil {
		return nil, gateway.getErr
	}
	return &graph.Response{Status: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
}

func (gateway *fakeGateway) calls() int {
	return gateway.meCalls + gateway.userCalls + gateway.getCalls + len(gateway.updates)
}

type testPortal struct {
	service  *Service
	handler  http.Handler
	identity *fakeIdentity
	gateway  *fakeGateway
	sessions session.Storage
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()
	sessions, err := inmem.New()
	require.NoError(t, err)

	portal := &testPortal{
		identity: &fakeIdentity{},
		gateway: &fakeGateway{
			me: &graph.Response{Status: http.StatusOK, Body: []byte(`{"id":"user-1","displayName":"Ada"}`)},
		},
		sessions: sessions,
	}
	portal.service = &Service{
		Config: &config.Config{
			BaseAddress:       "http://localhost:5000",
			AllowedOrigin:     "*",
			ClientID:          "client",
			ClientSecret:      "secret",
			RedirectPath:      "/getAToken",
			Scopes:            []string{"User.ReadWrite.All"},
			Endpoint:          "https://graph.example.com/v1.0/users",
			DownstreamTimeout: 30 * time.Second,
			SessionLifetime:   time.Hour,
		},
		Identity: portal.identity,
		Gateway:  portal.gateway,
		Sessions: sessions,
	}
	portal.handler = portal.service.Handler()
	return portal
}

// loggedIn creates a session with a logged-in user and returns its cookie
func (portal *testPortal) loggedIn(t *testing.T) *http.Cookie {
	t.Helper()
	rawToken, ses, err := portal.sessions.Create(context.Background(), time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)
	ses.Identity = &session.Identity{Subject: "user-1", Claims: map[string]any{"name": "Ada"}}
	require.NoError(t, portal.sessions.Update(context.Background(), ses))
	return &http.Cookie{Name: sessionTokenCookieName, Value: rawToken}
}

func (portal *testPortal) do(request *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	portal.handler.ServeHTTP(recorder, request)
	return recorder
}

func postForm(target string, form url.Values) *http.Request {
	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestHomeRendersLoginFlow(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(Version, body["version"])
	assert.Equal(map[string]any{}, body["user"])
	assert.Equal("state-1", body["state"])
	assert.Contains(body["auth_uri"], "https://login.example.com/authorize")

	cookie := sessionCookie(recorder)
	require.NotNil(t, cookie)
	assert.True(cookie.HttpOnly)

	ses, err := portal.sessions.GetByRawToken(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotNil(t, ses)
	require.NotNil(t, ses.Flow)
	assert.Equal("http://localhost:5000/getAToken", ses.Flow.RedirectURI)
}

func TestHomeRendersUser(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/", nil), portal.loggedIn(t))
	assert.Equal(http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(Version, body["version"])
	assert.NotContains(body, "auth_uri")
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal("user-1", user["sub"])
}

func TestMissingCredentialsRenderConfigurationError(t *testing.T) {
	portal := newTestPortal(t)
	portal.service.Config.ClientSecret = ""
	portal.service.Identity = nil
	portal.handler = portal.service.Handler()

	for _, target := range []string{"/", "/login", "/getAToken?code=abc"} {
		t.Run(target, func(t *testing.T) {
			recorder := portal.do(httptest.NewRequest(http.MethodGet, target, nil), nil)
			assert.Equal(t, http.StatusInternalServerError, recorder.Code)
			assert.Contains(t, recorder.Body.String(), "config.credentialsMissing")
		})
	}
	assert.Zero(t, portal.gateway.calls())
}

func TestAuthResponse(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		assert := assert.New(t)
		portal := newTestPortal(t)

		rawToken, _, err := portal.sessions.Create(context.Background(), time.Now().Add(time.Hour).Unix())
		require.NoError(t, err)
		preLogin := &http.Cookie{Name: sessionTokenCookieName, Value: rawToken}

		recorder := portal.do(httptest.NewRequest(http.MethodGet, "/getAToken?code=abc&state=state-1", nil), preLogin)
		assert.Equal(http.StatusFound, recorder.Code)
		assert.Equal("/", recorder.Header().Get("Location"))

		// The session token is rotated on login
		cookie := sessionCookie(recorder)
		require.NotNil(t, cookie)
		assert.NotEqual(rawToken, cookie.Value)

		old, err := portal.sessions.GetByRawToken(context.Background(), rawToken)
		require.NoError(t, err)
		assert.Nil(old)

		ses, err := portal.sessions.GetByRawToken(context.Background(), cookie.Value)
		require.NoError(t, err)
		require.NotNil(t, ses)
		require.NotNil(t, ses.Identity)
		assert.Equal("user-1", ses.Identity.Subject)
		assert.Nil(ses.Flow)

		recorder = portal.do(httptest.NewRequest(http.MethodGet, "/", nil), cookie)
		user, ok := decodeBody(t, recorder)["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal("user-1", user["sub"])
	})

	t.Run("error", func(t *testing.T) {
		assert := assert.New(t)
		portal := newTestPortal(t)
		portal.identity.loginErr = &identity.AuthError{Code: "access_denied", Description: "The user cancelled."}

		recorder := portal.do(httptest.NewRequest(http.MethodGet, "/getAToken?error=access_denied", nil), nil)
		assert.Equal(http.StatusUnauthorized, recorder.Code)

		body := decodeBody(t, recorder)
		errs, ok := body["errors"].([]any)
		require.True(t, ok)
		require.Len(t, errs, 1)
		details := errs[0].(map[string]any)["details"].(map[string]any)
		assert.Equal("access_denied", details["error"])
		assert.Equal("The user cancelled.", details["error_description"])
	})
}

func TestLogout(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.identity.logoutURL = "https://login.example.com/logout"
	cookie := portal.loggedIn(t)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/logout", nil), cookie)
	assert.Equal(http.StatusFound, recorder.Code)
	assert.Equal("https://login.example.com/logout?post_logout_redirect_uri="+url.QueryEscape("http://localhost:5000/"), recorder.Header().Get("Location"))

	ses, err := portal.sessions.GetByRawToken(context.Background(), cookie.Value)
	assert.NoError(err)
	assert.Nil(ses)
}

func TestProtectedRoutesRequireUser(t *testing.T) {
	portal := newTestPortal(t)

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/profile", nil),
		postForm("/profile", url.Values{"id": {"user-1"}}),
		httptest.NewRequest(http.MethodGet, "/users", nil),
		httptest.NewRequest(http.MethodGet, "/call_downstream_api", nil),
	}
	for _, request := range requests {
		t.Run(request.Method+" "+request.URL.Path, func(t *testing.T) {
			recorder := portal.do(request, nil)
			assert.Equal(t, http.StatusFound, recorder.Code)
			assert.Equal(t, "/login", recorder.Header().Get("Location"))
		})
	}
	assert.Zero(t, portal.gateway.calls())
}

func TestTokenFailureRedirectsHome(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.identity.tokenErr = &identity.AuthError{Code: "invalid_grant"}

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/profile", nil), portal.loggedIn(t))
	assert.Equal(http.StatusFound, recorder.Code)
	assert.Equal("/", recorder.Header().Get("Location"))
	assert.Zero(portal.gateway.calls())
}

func TestGetProfile(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/profile", nil), portal.loggedIn(t))
	assert.Equal(http.StatusOK, recorder.Code)
	assert.JSONEq(`{"user":{"id":"user-1","displayName":"Ada"},"result":null,"warnings":[],"flashes":[]}`, recorder.Body.String())
}

func TestPostProfileSubmitsNormalizedUpdate(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	portal := newTestPortal(t)

	recorder := portal.do(postForm("/profile", url.Values{
		"id":                {"user-1"},
		"mobilePhone":       {"555-0100"},
		"businessPhones":    {"+1 650 253 0000"},
		"preferredLanguage": {""},
		"otherMails":        {"a@x.com, , b@y.org"},
		"mail":              {"bad"},
		"birthday":          {"1990-05-17"},
	}), portal.loggedIn(t))
	assert.Equal(http.StatusOK, recorder.Code)

	require.Len(portal.gateway.updates, 1)
	payload, err := json.Marshal(portal.gateway.updates[0])
	require.NoError(err)
	assert.JSONEq(`{"mobilePhone":"555-0100","businessPhones":["+16502530000"],"preferredLanguage":null,"otherMails":["a@x.com","b@y.org"]}`, string(payload))
	assert.Equal(1, portal.gateway.meCalls)

	body := decodeBody(t, recorder)
	assert.Nil(body["result"])
	assert.Equal([]any{map[string]any{"field": "mail", "message": "Invalid email address."}}, body["warnings"])
}

func TestPostProfileMissingUserID(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)

	recorder := portal.do(postForm("/profile", url.Values{"mobilePhone": {"555-0100"}}), portal.loggedIn(t))
	assert.Equal(http.StatusBadRequest, recorder.Code)
	assert.Contains(recorder.Body.String(), "Invalid user ID")
	assert.Zero(portal.gateway.calls())
}

func TestPostProfileInvalidPhoneFlashes(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	portal := newTestPortal(t)
	cookie := portal.loggedIn(t)

	recorder := portal.do(postForm("/profile", url.Values{
		"id":             {"user-1"},
		"businessPhones": {"not a phone"},
	}), cookie)
	assert.Equal(http.StatusSeeOther, recorder.Code)
	assert.Equal("/profile", recorder.Header().Get("Location"))
	assert.Zero(portal.gateway.calls())

	recorder = portal.do(httptest.NewRequest(http.MethodGet, "/profile", nil), cookie)
	require.Equal(http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	flashes, ok := body["flashes"].([]any)
	require.True(ok)
	require.Len(flashes, 1)
	assert.Equal("error", flashes[0].(map[string]any)["category"])
	assert.Equal("Invalid phone number format. Please enter a valid number.", flashes[0].(map[string]any)["message"])

	// Flashes are only shown once
	recorder = portal.do(httptest.NewRequest(http.MethodGet, "/profile", nil), cookie)
	assert.JSONEq(`[]`, mustMarshal(t, decodeBody(t, recorder)["flashes"]))
}

func TestPostProfileUpstreamErrorPassthrough(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.gateway.updateErr = &graph.UpstreamError{
		Status:      http.StatusForbidden,
		ContentType: "application/json",
		Body:        []byte(`{"error":{"code":"Authorization_RequestDenied"}}`),
	}

	recorder := portal.do(postForm("/profile", url.Values{"id": {"user-1"}}), portal.loggedIn(t))
	assert.Equal(http.StatusForbidden, recorder.Code)
	assert.Equal("application/json", recorder.Header().Get("Content-Type"))
	assert.Equal(`{"error":{"code":"Authorization_RequestDenied"}}`, recorder.Body.String())
	assert.Zero(portal.gateway.meCalls)
}

func TestReadOnlyRoutes(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	cookie := portal.loggedIn(t)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/users", nil), cookie)
	assert.Equal(http.StatusOK, recorder.Code)
	assert.JSONEq(`{"result":{"value":[{"id":"u1"}]}}`, recorder.Body.String())

	recorder = portal.do(httptest.NewRequest(http.MethodGet, "/call_downstream_api", nil), cookie)
	assert.Equal(http.StatusOK, recorder.Code)
	assert.JSONEq(`{"result":{"ok":true}}`, recorder.Body.String())
	assert.Equal("https://graph.example.com/v1.0/users", portal.gateway.getTarget)
}

func TestGetProfileUpstreamErrorPassthrough(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.gateway.meErr = &graph.UpstreamError{Status: http.StatusUnauthorized, Body: []byte("denied")}

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/profile", nil), portal.loggedIn(t))
	assert.Equal(http.StatusUnauthorized, recorder.Code)
	assert.Equal("denied", recorder.Body.String())
}

// sessionCookie returns the last session cookie set by the response
func sessionCookie(recorder *httptest.ResponseRecorder) *http.Cookie {
	var cookie *http.Cookie
	for _, c := range recorder.Result().Cookies() {
		if c.Name == sessionTokenCookieName {
			cookie = c
		}
	}
	return cookie
}

func TestDownstreamTimeout(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.gateway.getErr = fmt.Errorf("GET https://graph.example.com/v1.0/users: %w", context.DeadlineExceeded)

	recorder := portal.do(httptest.NewRequest(http.MethodGet, "/call_downstream_api", nil), portal.loggedIn(t))
	assert.Equal(http.StatusGatewayTimeout, recorder.Code)
	assert.Contains(recorder.Body.String(), "upstream.timeout")
}

func TestDownstreamClientGone(t *testing.T) {
	assert := assert.New(t)
	portal := newTestPortal(t)
	portal.gateway.getErr = fmt.Errorf("GET https://graph.example.com/v1.0/users: %w", context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	request := httptest.NewRequest(http.MethodGet, "/call_downstream_api", nil).WithContext(ctx)

	recorder := portal.do(request, portal.loggedIn(t))
	assert.Equal(1, portal.gateway.getCalls)
	assert.NotContains(recorder.Body.String(), "generic.internal")
	assert.Empty(recorder.Body.String())
}

func mustMarshal(t *testing.T, value any) string {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	return string(raw)
}
