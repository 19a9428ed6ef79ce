// Package common provides shared constants, types, utilities, and interfaces
// used throughout the vpn-ondemand application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: file names, default app group, MTU bounds
//   - Errors: sentinel errors checked with errors.Is across packages
//   - Interfaces: credential storage and logging abstractions
//   - Logger: leveled logging to stdout and a rotated log file
//   - Utils: file and string helpers shared by the stores
//
// # Usage
//
//	common.LogInfo("Building configuration for %s", profile.Header.Name)
//
//	if errors.Is(err, common.ErrConfiguration) {
//	    // the profile cannot produce a tunnel configuration
//	}
package common
