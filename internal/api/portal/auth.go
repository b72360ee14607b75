package portal

import (
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/schema"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"github.com/rs/zerolog/hlog"
	"net/http"
)

var (
	errConfigurationMissing = &schema.Error{
		Type:    "config.credentialsMissing",
		Message: "The application is missing its client ID or client secret. Configure OA_CLIENT_ID and OA_CLIENT_SECRET.",
	}
	errLoginFailed = func(err *identity.AuthError) *schema.Error {
		return &schema.Error{
			Type:    "auth.loginFailed",
			Message: "The login could not be completed.",
			Details: map[string]any{
				"error":             err.Code,
				"error_description": err.Description,
			},
		}
	}
)

type homeView struct {
	User    any    `json:"user"`
	Version string `json:"version"`
	*identity.LoginFlow
}

// EndpointHome handles the 'GET /' endpoint
func (service *Service) EndpointHome(writer http.ResponseWriter, request *http.Request) {
	if !service.Config.HasCredentials() || service.Identity == nil {
		service.writer.WriteErrors(writer, http.StatusInternalServerError, errConfigurationMissing)
		return
	}

	ses := sessionFromContext(request.Context())
	if user := service.Identity.CurrentUser(ses); user != nil {
		service.writer.WriteJSON(writer, homeView{
			User:    user,
			Version: Version,
		})
		return
	}

	flow, err := service.startLogin(request)
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	service.writer.WriteJSON(writer, homeView{
		User:      map[string]any{},
		Version:   Version,
		LoginFlow: flow,
	})
}

// EndpointLogin handles the 'GET /login' endpoint
func (service *Service) EndpointLogin(writer http.ResponseWriter, request *http.Request) {
	if service.Identity == nil {
		service.writer.WriteErrors(writer, http.StatusInternalServerError, errConfigurationMissing)
		return
	}

	flow, err := service.startLogin(request)
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	service.writer.WriteJSON(writer, homeView{
		User:      map[string]any{},
		Version:   Version,
		LoginFlow: flow,
	})
}

// EndpointAuthResponse handles the 'GET {redirect path}' endpoint the identity provider redirects back to
func (service *Service) EndpointAuthResponse(writer http.ResponseWriter, request *http.Request) {
	if service.Identity == nil {
		service.writer.WriteErrors(writer, http.StatusInternalServerError, errConfigurationMissing)
		return
	}

	ses := sessionFromContext(request.Context())
	if _, err := service.Identity.CompleteLogin(request.Context(), ses, request.URL.Query()); err != nil {
		// The flow is consumed regardless of the outcome
		if err := service.saveSession(request.Context(), ses); err != nil {
			service.writer.WriteInternalError(writer, err)
			return
		}

		var authErr *identity.AuthError
		if !errors.As(err, &authErr) {
			service.writer.WriteInternalError(writer, err)
			return
		}
		hlog.FromRequest(request).Info().Str("error", authErr.Code).Str("description", authErr.Description).Msg("login failed")
		service.writer.WriteErrors(writer, http.StatusUnauthorized, errLoginFailed(authErr))
		return
	}

	// The pre-login session token must not stay valid for the logged-in user
	if err := service.rotateSession(request.Context(), writer, ses); err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	http.Redirect(writer, request, "/", http.StatusFound)
}

// EndpointLogout handles the 'GET /logout' endpoint
func (service *Service) EndpointLogout(writer http.ResponseWriter, request *http.Request) {
	ses := sessionFromContext(request.Context())

	target := service.Config.HomeURL()
	if service.Identity != nil {
		target = service.Identity.Logout(ses, service.Config.HomeURL())
	}

	if err := service.Sessions.Terminate(request.Context(), ses.Token); err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	unsetCookie(writer, sessionTokenCookieName)
	http.Redirect(writer, request, target, http.StatusFound)
}

func (service *Service) startLogin(request *http.Request) (*identity.LoginFlow, error) {
	ses := sessionFromContext(request.Context())
	flow, err := service.beginLogin(ses)
	if err != nil {
		return nil, err
	}
	if err := service.saveSession(request.Context(), ses); err != nil {
		return nil, err
	}
	return flow, nil
}
