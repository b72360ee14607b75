package portal

import (
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/profile"
	"github.com/rs/zerolog/hlog"
	"net/http"
)

type profileView struct {
	User     any                `json:"user"`
	Result   any                `json:"result"`
	Warnings []*profile.Warning `json:"warnings"`
	Flashes  []*session.Flash   `json:"flashes"`
}

// EndpointGetProfile handles the 'GET /profile' endpoint
func (service *Service) EndpointGetProfile(writer http.ResponseWriter, request *http.Request) {
	token := tokenFromContext(request.Context())

	response, err := service.Gateway.Me(request.Context(), token.AccessToken)
	if err != nil {
		service.writeGatewayError(writer, request, err)
		return
	}
	user, err := response.JSON()
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}

	ses := sessionFromContext(request.Context())
	flashes := ses.PopFlashes()
	if len(flashes) > 0 {
		if err := service.saveSession(request.Context(), ses); err != nil {
			service.writer.WriteInternalError(writer, err)
			return
		}
	}

	service.writer.WriteJSON(writer, profileView{
		User:     user,
		Warnings: []*profile.Warning{},
		Flashes:  flashes,
	})
}

// EndpointPostProfile handles the 'POST /profile' endpoint
func (service *Service) EndpointPostProfile(writer http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		http.Error(writer, "Invalid form data", http.StatusBadRequest)
		return
	}

	token := tokenFromContext(request.Context())
	result, err := service.updater.Update(request.Context(), token.AccessToken, request.PostForm)
	if err != nil {
		var validationErr *profile.ValidationError
		switch {
		case errors.Is(err, profile.ErrMissingUserID):
			http.Error(writer, "Invalid user ID", http.StatusBadRequest)
		case errors.As(err, &validationErr):
			ses := sessionFromContext(request.Context())
			ses.AddFlash("error", validationErr.Message)
			if err := service.saveSession(request.Context(), ses); err != nil {
				service.writer.WriteInternalError(writer, err)
				return
			}
			hlog.FromRequest(request).Debug().Str("field", validationErr.Field).Msg("rejected profile update")
			http.Redirect(writer, request, "/profile", http.StatusSeeOther)
		default:
			service.writeGatewayError(writer, request, err)
		}
		return
	}

	service.writer.WriteJSON(writer, profileView{
		User:     result.Profile,
		Result:   result.Update,
		Warnings: result.Warnings,
		Flashes:  []*session.Flash{},
	})
}
