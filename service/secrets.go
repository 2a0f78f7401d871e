// service/secrets.go
package service

import (
	"fmt"

	"github.com/framelane/aegis/config"
	aegis_errors "github.com/framelane/aegis/errors"
)

// ISecretProvider supplies the keyed-hash secrets at startup. Secret
// values must never be logged; errors name only the configuration key.
type ISecretProvider interface {
	AuditSecret() ([]byte, error)
	TokenSecret() ([]byte, error)
	LocatorSecret() ([]byte, error)
}

// ConfigSecretProvider reads secrets from the loaded configuration.
type ConfigSecretProvider struct{}

func (ConfigSecretProvider) AuditSecret() ([]byte, error) {
	return configuredSecret("auth.auditSecret")
}

func (ConfigSecretProvider) TokenSecret() ([]byte, error) {
	return configuredSecret("auth.tokenSecret")
}

func (ConfigSecretProvider) LocatorSecret() ([]byte, error) {
	return configuredSecret("auth.locatorSecret")
}

func configuredSecret(key string) ([]byte, error) {
	value := config.GetString(key)
	if value == "" {
		return nil, fmt.Errorf("%s: %w", key, aegis_errors.ErrMissingSecret)
	}
	return []byte(value), nil
}

// StaticSecretProvider serves fixed secrets, useful in tests.
type StaticSecretProvider struct {
	Audit   []byte
	Token   []byte
	Locator []byte
}

func (p StaticSecretProvider) AuditSecret() ([]byte, error) {
	return nonEmpty(p.Audit)
}

func (p StaticSecretProvider) TokenSecret() ([]byte, error) {
	return nonEmpty(p.Token)
}

func (p StaticSecretProvider) LocatorSecret() ([]byte, error) {
	return nonEmpty(p.Locator)
}

func nonEmpty(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, aegis_errors.ErrMissingSecret
	}
	return secret, nil
}
