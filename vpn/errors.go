package vpn

import (
	"errors"
	"fmt"

	"github.com/yllada/vpn-ondemand/common"
)

// Re-exported from common for convenience.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrDuplicateName   = common.ErrDuplicateName
	ErrInvalidProfile  = common.ErrInvalidProfile
)

// Causes carried by a ConfigurationError.
var (
	ErrMissingField     = errors.New("required field is missing")
	ErrMissingSelection = errors.New("no provider server selected")
	ErrServerNotFound   = errors.New("selected server is not in the provider catalog")
	ErrProtocolMismatch = errors.New("protocol mismatch")
	ErrUnsupported      = errors.New("unsupported protocol")
	ErrInvalidNetwork   = errors.New("malformed network settings")
)

// ConfigurationError reports why a profile cannot produce a tunnel
// configuration. It matches common.ErrConfiguration with errors.Is.
type ConfigurationError struct {
	// Profile is the profile name.
	Profile string
	// Field is the offending profile field, e.g. "provider.server_id".
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("profile %q: %s: %v", e.Profile, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigurationError match common.ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == common.ErrConfiguration
}

func configError(profile Profile, field string, err error) *ConfigurationError {
	return &ConfigurationError{Profile: profile.Header.Name, Field: field, Err: err}
}
