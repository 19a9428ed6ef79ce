// Package common provides shared constants, types, and utilities
// used across the vpn-ondemand application.
package common

// CredentialReference is an opaque handle to a securely stored secret.
// It is never the secret itself and is passed through the configuration
// builder unexamined.
type CredentialReference string

// IsZero reports whether the reference is empty.
func (r CredentialReference) IsZero() bool {
	return r == ""
}

// CredentialStore defines the interface for credential storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the password for a profile.
	Store(profileID, password string) error
	// Get retrieves the password for a profile.
	Get(profileID string) (string, error)
	// Delete removes the password for a profile.
	Delete(profileID string) error
	// Exists reports whether a password is stored for a profile.
	Exists(profileID string) bool
	// Reference returns the opaque handle for a profile's stored password.
	Reference(profileID string) (CredentialReference, error)
}

// Logger defines the interface for leveled logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
