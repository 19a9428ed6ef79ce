// Package vpn turns VPN profiles into platform tunnel configurations.
//
// This package implements:
//
//   - Profile model: Profile and its sections, with value semantics and Clone
//     for editing drafts
//   - Profile store: ProfileManager persists profiles as YAML and commits
//     drafts section by section
//   - On-demand rules: CompileOnDemand turns an OnDemandPolicy into ordered,
//     first-match OnDemandRules
//   - Configuration building: Builder combines a profile, the app group,
//     stored preferences and a credential reference into a Configuration
//   - Provider selection: Resolve, Select and ProviderSelection.ToggleFavorite
//     work against a provider.Catalog snapshot
//
// # Architecture
//
// Builder, CompileOnDemand and Resolve are pure and hold no state between
// calls. Manager composes them with the stores and a TunnelController and
// is what front ends talk to.
//
// # Ready Flow
//
//  1. The front end commits a profile draft through ProfileManager.Commit
//  2. Manager.MakeReady builds the configuration for the stored profile
//  3. The TunnelController is called exactly once with the configuration
//  4. A failure wraps common.ErrNotReady and is not retried
//
// # Errors
//
// Build failures are *ConfigurationError values matching
// common.ErrConfiguration. A stored server that vanished from the catalog is
// not an error for Resolve; it returns nil.
//
// # Thread Safety
//
// ProfileManager and Manager are safe for concurrent use.
package vpn
