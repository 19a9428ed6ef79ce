// Package common provides shared constants, types, and utilities
// used across the vpn-ondemand application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpnondemand.app"
	// AppName is the display name of the application.
	AppName = "VPN On-Demand"
	// DefaultAppGroup is the shared container identifier handed to the
	// tunnel collaborator when the configuration does not override it.
	DefaultAppGroup = "group.com.vpnondemand"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-ondemand"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	CatalogFileName     = "catalog.db"
	LogFileName         = "vpn-ondemand.log"
	// TunnelsDirName holds configurations rendered for the tunnel collaborator.
	TunnelsDirName = "tunnels"
)

// Default timeouts and intervals.
const (
	// ReadyTimeout bounds a single make-ready attempt.
	ReadyTimeout = 30 * time.Second
	// CatalogReloadDebounce is how long the catalog watcher waits after the
	// last write before re-importing.
	CatalogReloadDebounce = 500 * time.Millisecond
)

// Split tunnel modes.
const (
	SplitTunnelModeInclude = "include"
	SplitTunnelModeExclude = "exclude"
)

// MTU bounds accepted in network settings. Zero means "use the platform default".
const (
	MinMTU = 576
	MaxMTU = 9000
)
