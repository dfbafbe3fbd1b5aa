package identity

import (
	"fmt"

	"adaptive-proxy/pkg/models"
)

// ProfileCatalog maps identities to configured profiles.
type ProfileCatalog interface {
	ProfileForIdentity(id models.NetworkIdentity) models.NetworkProfile
}

// ProfileResolver answers which profile the host is on right now.
type ProfileResolver struct {
	provider *Provider
	catalog  ProfileCatalog
}

func NewProfileResolver(provider *Provider, catalog ProfileCatalog) *ProfileResolver {
	return &ProfileResolver{provider: provider, catalog: catalog}
}

// CurrentProfile resolves the current identity to a profile.
func (r *ProfileResolver) CurrentProfile() (models.NetworkProfile, error) {
	id, err := r.provider.CurrentIdentity()
	if err != nil {
		return models.NetworkProfile{}, fmt.Errorf("failed to resolve network profile: %w", err)
	}
	return r.catalog.ProfileForIdentity(id), nil
}
