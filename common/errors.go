// Package common provides shared constants, types, and utilities
// used across the vpn-ondemand application.
package common

import "errors"

// Sentinel errors for profile and configuration operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// ErrConfiguration is matched by every error that prevents a profile
	// from producing a tunnel configuration.
	ErrConfiguration = errors.New("invalid tunnel configuration")

	// ErrNotReady is returned when the tunnel collaborator fails to make a
	// profile ready. The failure is terminal for that attempt.
	ErrNotReady = errors.New("profile could not be made ready")

	// Catalog errors.
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidCatalog  = errors.New("invalid provider catalog")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration file errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	ErrCancelled = errors.New("operation cancelled")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
