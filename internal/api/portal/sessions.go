package portal

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"github.com/rs/zerolog/hlog"
	"net/http"
	"time"
)

type contextKey int

const (
	contextKeySession contextKey = iota
	contextKeyToken
)

var sessionTokenCookieName = "session_token"

// MiddlewareLoadSession loads the session referenced by the session cookie or creates a new one.
// The session is injected into the request context.
func (service *Service) MiddlewareLoadSession(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		var ses *session.Session
		if cookie, err := request.Cookie(sessionTokenCookieName); err == nil && cookie.Value != "" {
			found, err := service.Sessions.GetByRawToken(request.Context(), cookie.Value)
			if err != nil {
				service.writer.WriteInternalError(writer, err)
				return
			}
			ses = found
		}

		if ses == nil {
			rawToken, created, expires, err := service.createSession(request.Context())
			if err != nil {
				service.writer.WriteInternalError(writer, err)
				return
			}
			service.setSessionCookie(writer, rawToken, expires)
			ses = created
		}

		next(writer, request.WithContext(context.WithValue(request.Context(), contextKeySession, ses)))
	}
}

// MiddlewareRequireUser redirects requests without a logged-in user to the login view
func (service *Service) MiddlewareRequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if service.Identity == nil || service.Identity.CurrentUser(sessionFromContext(request.Context())) == nil {
			http.Redirect(writer, request, "/login", http.StatusFound)
			return
		}
		next(writer, request)
	}
}

// MiddlewareAcquireToken injects an access token for the configured scopes into the request context.
// Requests whose token cannot be acquired silently are redirected to the home view.
func (service *Service) MiddlewareAcquireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		ses := sessionFromContext(request.Context())
		token, err := service.Identity.TokenFor(request.Context(), ses, service.Config.Scopes)
		if err != nil {
			hlog.FromRequest(request).Debug().Err(err).Msg("could not acquire an access token")
			http.Redirect(writer, request, "/", http.StatusFound)
			return
		}
		// The token may have been refreshed
		if err := service.saveSession(request.Context(), ses); err != nil {
			service.writer.WriteInternalError(writer, err)
			return
		}
		next(writer, request.WithContext(context.WithValue(request.Context(), contextKeyToken, token)))
	}
}

func (service *Service) createSession(ctx context.Context) (string, *session.Session, time.Time, error) {
	expires := time.Now().Add(service.Config.SessionLifetime)
	rawToken, ses, err := service.Sessions.Create(ctx, expires.Unix())
	if err != nil {
		return "", nil, time.Time{}, err
	}
	return rawToken, ses, expires, nil
}

// rotateSession moves the state of the given session to a session with a fresh token and terminates the old one
func (service *Service) rotateSession(ctx context.Context, writer http.ResponseWriter, ses *session.Session) error {
	rawToken, fresh, expires, err := service.createSession(ctx)
	if err != nil {
		return err
	}
	fresh.Identity = ses.Identity
	fresh.OAuthToken = ses.OAuthToken
	fresh.Flashes = ses.Flashes
	if err := service.saveSession(ctx, fresh); err != nil {
		return err
	}
	if err := service.Sessions.Terminate(ctx, ses.Token); err != nil {
		return err
	}
	service.setSessionCookie(writer, rawToken, expires)
	return nil
}

func (service *Service) setSessionCookie(writer http.ResponseWriter, rawToken string, expires time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     sessionTokenCookieName,
		Value:    rawToken,
		Path:     "/",
		Expires:  expires,
		Secure:   service.Config.IsSecure(),
		HttpOnly: true,
		// Lax is required for the cookie to survive the redirect back from the identity provider
		SameSite: http.SameSiteLaxMode,
	})
}

func (service *Service) saveSession(ctx context.Context, ses *session.Session) error {
	return service.Sessions.Update(ctx, ses)
}

func (service *Service) beginLogin(ses *session.Session) (*identity.LoginFlow, error) {
	return service.Identity.BeginLogin(ses, service.Config.Scopes, service.Config.RedirectURL(), identity.PromptSelectAccount)
}

func sessionFromContext(ctx context.Context) *session.Session {
	ses, _ := ctx.Value(contextKeySession).(*session.Session)
	return ses
}

func tokenFromContext(ctx context.Context) *session.Token {
	token, _ := ctx.Value(contextKeyToken).(*session.Token)
	return token
}

func unsetCookie(writer http.ResponseWriter, name string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
}
