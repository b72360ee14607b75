package api

import (
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/portal"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/config"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"net/http"
)

// Service represents the HTTP API service
type Service struct {
	Config   *config.Config
	Identity identity.Client
	Gateway  portal.Gateway
	Sessions session.Storage
	portal   *portal.Service
}

// Startup starts up the portal in the background; unexpected server errors are sent to errs
func (service *Service) Startup(errs chan<- error) {
	portalService := &portal.Service{
		Config:   service.Config,
		Identity: service.Identity,
		Gateway:  service.Gateway,
		Sessions: service.Sessions,
	}
	service.portal = portalService
	go func() {
		if err := portalService.Startup(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
}

// Shutdown shuts down the portal
func (service *Service) Shutdown() {
	if service.portal != nil {
		service.portal.Shutdown()
		service.portal = nil
	}
}
