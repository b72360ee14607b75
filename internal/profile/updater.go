package profile

import (
	"context"
	"fmt"
	"github.com/antluqmol1/openid-authentication/internal/graph"
	"net/url"
)

// Gateway defines the remote API operations a profile update needs
type Gateway interface {
	// Me retrieves the profile of the signed-in user
	Me(ctx context.Context, accessToken string) (*graph.Response, error)

	// UpdateUser updates the properties of a user
	UpdateUser(ctx context.Context, accessToken, id string, update any) (*graph.Response, error)
}

// Result represents the outcome of a successful profile update
type Result struct {
	Profile  any
	Update   any
	Warnings []*Warning
}

// Updater validates profile edit forms and forwards them to the remote API
type Updater struct {
	Gateway Gateway
}

// Update normalizes the given form, sends the update and re-fetches the canonical profile afterwards.
// Validation failures (*ValidationError, ErrMissingUserID) are returned before any remote call is made.
// Non-2xx responses surface as *graph.UpstreamError; no profile is fetched if the update itself failed.
func (updater *Updater) Update(ctx context.Context, accessToken string, form url.Values) (*Result, error) {
	normalized, err := Normalize(form)
	if err != nil {
		return nil, err
	}

	updateResponse, err := updater.Gateway.UpdateUser(ctx, accessToken, normalized.UserID, normalized.Update)
	if err != nil {
		return nil, fmt.Errorf("could not update user '%s': %w", normalized.UserID, err)
	}
	update, err := updateResponse.JSON()
	if err != nil {
		return nil, err
	}

	profileResponse, err := updater.Gateway.Me(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("could not fetch the updated profile: %w", err)
	}
	profile, err := profileResponse.JSON()
	if err != nil {
		return nil, err
	}

	return &Result{
		Profile:  profile,
		Update:   update,
		Warnings: normalized.Warnings,
	}, nil
}
