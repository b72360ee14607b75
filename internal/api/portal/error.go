package portal

import (
	"context"
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/schema"
	"github.com/antluqmol1/openid-authentication/internal/graph"
	"github.com/rs/zerolog/hlog"
	"net/http"
)

var errUpstreamTimeout = &schema.Error{
	Type:    "upstream.timeout",
	Message: "The remote API did not respond in time.",
}

// writeGatewayError passes upstream errors through verbatim and treats everything else as internal
func (service *Service) writeGatewayError(writer http.ResponseWriter, request *http.Request, err error) {
	logger := hlog.FromRequest(request)

	var upstreamErr *graph.UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		logger.Debug().Err(err).Int("status", upstreamErr.Status).Msg("passing through an upstream error")
		if upstreamErr.ContentType != "" {
			writer.Header().Set("Content-Type", upstreamErr.ContentType)
		}
		writer.WriteHeader(upstreamErr.Status)
		_, _ = writer.Write(upstreamErr.Body)
	case errors.Is(err, context.Canceled) && request.Context().Err() != nil:
		// Nobody is left to read the response
		logger.Debug().Err(err).Msg("the client went away while calling the remote API")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("the remote API timed out")
		service.writer.WriteErrors(writer, http.StatusGatewayTimeout, errUpstreamTimeout)
	default:
		service.writer.WriteInternalError(writer, err)
	}
}
