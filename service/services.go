// service/services.go
package service

import (
	"github.com/framelane/aegis/config"
)

// Collaborators bundles the external contracts the trust layer consumes.
type Collaborators struct {
	Signer        ISigner
	Subscriptions ISubscriptionResolver
	Secrets       ISecretProvider
}

// InitializeCollaborators wires the default implementations from the
// loaded configuration.
func InitializeCollaborators() (*Collaborators, error) {
	secrets := ConfigSecretProvider{}

	locatorSecret, err := secrets.LocatorSecret()
	if err != nil {
		return nil, err
	}
	signer, err := NewURLSigner(
		config.GetString("access.mediaBaseURL"),
		locatorSecret,
		WithValidity(config.GetDuration("access.locatorValidity")),
	)
	if err != nil {
		return nil, err
	}

	resolver := NewHTTPSubscriptionResolver(
		config.GetString("subscription.baseURL"),
		config.GetDuration("subscription.timeout"),
	)

	return &Collaborators{
		Signer:        signer,
		Subscriptions: resolver,
		Secrets:       secrets,
	}, nil
}
