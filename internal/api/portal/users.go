package portal

import (
	"net/http"
)

type resultView struct {
	Result any `json:"result"`
}

// EndpointGetUsers handles the 'GET /users' endpoint
func (service *Service) EndpointGetUsers(writer http.ResponseWriter, request *http.Request) {
	token := tokenFromContext(request.Context())

	response, err := service.Gateway.Users(request.Context(), token.AccessToken)
	if err != nil {
		service.writeGatewayError(writer, request, err)
		return
	}
	result, err := response.JSON()
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	service.writer.WriteJSON(writer, resultView{result})
}

// EndpointCallDownstreamAPI handles the 'GET /call_downstream_api' endpoint
func (service *Service) EndpointCallDownstreamAPI(writer http.ResponseWriter, request *http.Request) {
	token := tokenFromContext(request.Context())

	response, err := service.Gateway.Get(request.Context(), token.AccessToken, service.Config.Endpoint, service.Config.DownstreamTimeout)
	if err != nil {
		service.writeGatewayError(writer, request, err)
		return
	}
	result, err := response.JSON()
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	service.writer.WriteJSON(writer, resultView{result})
}
