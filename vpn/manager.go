// Package vpn provides the profile model and the translation of profiles
// into tunnel configurations.
// This file contains the Manager type which composes the profile store,
// credential store, provider catalog and tunnel controller.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/vpn-ondemand/common"
	"github.com/yllada/vpn-ondemand/config"
	"github.com/yllada/vpn-ondemand/provider"
)

// TunnelController brings a built configuration up for a profile. Prepare
// reports success or failure exactly once per call.
type TunnelController interface {
	Prepare(ctx context.Context, profileID string, cfg *Configuration) error
}

// Options holds the collaborators of a Manager.
type Options struct {
	// Profiles is required.
	Profiles *ProfileManager
	// Credentials may be nil; profiles are then built without a
	// credential reference.
	Credentials common.CredentialStore
	Catalog     *provider.Catalog
	// Config supplies the app group and stored preferences. Nil selects
	// config.DefaultConfig().
	Config *config.Config
	// Controller is required by MakeReady only.
	Controller TunnelController
}

// Manager is the composition root used by the front ends. It owns no
// profile state itself; every call reads the current stored profile.
type Manager struct {
	profiles    *ProfileManager
	credentials common.CredentialStore
	config      *config.Config
	controller  TunnelController

	mu      sync.RWMutex
	catalog *provider.Catalog
}

// NewManager creates a Manager from opts.
func NewManager(opts Options) (*Manager, error) {
	if opts.Profiles == nil {
		return nil, errors.New("vpn: profile manager is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		profiles:    opts.Profiles,
		credentials: opts.Credentials,
		config:      cfg,
		controller:  opts.Controller,
		catalog:     opts.Catalog,
	}, nil
}

// ProfileManager returns the associated profile manager.
func (m *Manager) ProfileManager() *ProfileManager {
	return m.profiles
}

// SetCatalog replaces the provider catalog snapshot, e.g. after the
// catalog watcher re-imported it.
func (m *Manager) SetCatalog(c *provider.Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = c
}

// Catalog returns the current provider catalog snapshot.
func (m *Manager) Catalog() *provider.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// credentialReference returns the stored password handle for profile, or
// an empty reference when the profile does not save its password or none
// is stored.
func (m *Manager) credentialReference(profile Profile) (common.CredentialReference, error) {
	if !profile.Account.SavePassword || m.credentials == nil {
		return "", nil
	}
	ref, err := m.credentials.Reference(profile.ID)
	if err != nil {
		if errors.Is(err, common.ErrCredentialsNotFound) {
			common.LogDebug("No stored password for profile %s", profile.Header.Name)
			return "", nil
		}
		return "", common.WrapError(fmt.Errorf("%w: %w", common.ErrCredentialStorage, err), "credential reference")
	}
	return ref, nil
}

// Configuration builds the tunnel configuration for the stored profile.
func (m *Manager) Configuration(profileID string) (*Configuration, error) {
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	return m.build(profile)
}

func (m *Manager) build(profile Profile) (*Configuration, error) {
	ref, err := m.credentialReference(profile)
	if err != nil {
		return nil, err
	}
	return NewBuilder(m.Catalog()).Build(profile, m.config.AppGroup, m.config.Tunnel, ref)
}

// Rules returns the compiled on-demand rules of the stored profile.
func (m *Manager) Rules(profileID string) ([]OnDemandRule, error) {
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	return CompileOnDemand(profile.OnDemand), nil
}

// MakeReady builds the profile's configuration and hands it to the tunnel
// controller. The controller is called exactly once; its failure is
// terminal for this attempt and wraps common.ErrNotReady. Retrying is up to
// the caller. On success the profile's LastUsed time is updated.
func (m *Manager) MakeReady(ctx context.Context, profileID string) (*Configuration, error) {
	if m.controller == nil {
		return nil, fmt.Errorf("%w: no tunnel controller", common.ErrNotReady)
	}

	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	cfg, err := m.build(profile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Tunnel.ReadyTimeout())
	defer cancel()

	common.LogInfo("Preparing tunnel for %s", cfg)
	if err := m.controller.Prepare(ctx, profile.ID, cfg); err != nil {
		common.LogError("Tunnel for %s not ready: %v", profile.Header.Name, err)
		return nil, fmt.Errorf("%w: %w", common.ErrNotReady, err)
	}

	if err := m.profiles.MarkUsed(profile.ID); err != nil {
		common.LogWarn("Failed to update last used time for %s: %v", profile.Header.Name, err)
	}
	return cfg, nil
}

// Resolve materializes the stored profile's server selection. A nil server
// with a nil error means "no selection".
func (m *Manager) Resolve(profileID string) (*provider.ConcreteServer, error) {
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	return Resolve(profile, m.Catalog()), nil
}

func (m *Manager) providerProfile(profileID string) (Profile, error) {
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return Profile{}, err
	}
	if !profile.IsProvider() {
		return Profile{}, fmt.Errorf("%w: %s is not a provider profile", ErrInvalidProfile, profile.Header.Name)
	}
	return profile, nil
}

// SelectServer points the profile's provider selection at serverID and
// commits the change.
func (m *Manager) SelectServer(profileID, serverID string) (Profile, error) {
	profile, err := m.providerProfile(profileID)
	if err != nil {
		return Profile{}, err
	}
	server, ok := m.Catalog().Server(profile.Header.ProviderName, serverID)
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s/%s", ErrServerNotFound, profile.Header.ProviderName, serverID)
	}

	updated := Select(profile, *server)
	if _, err := m.profiles.Commit(updated); err != nil {
		return Profile{}, err
	}
	common.LogInfo("Profile %s now uses %s (%s)", profile.Header.Name, server.Server.ID, server.Location.ID)
	return updated, nil
}

// ToggleFavorite flips locationID in the profile's favorites and commits
// the change. It reports whether the location is now a favorite.
func (m *Manager) ToggleFavorite(profileID, locationID string) (bool, error) {
	profile, err := m.providerProfile(profileID)
	if err != nil {
		return false, err
	}

	draft := profile.Clone()
	if draft.Provider == nil {
		draft.Provider = &ProviderSelection{Provider: draft.Header.ProviderName}
	}
	favorite := draft.Provider.ToggleFavorite(locationID)
	if _, err := m.profiles.Commit(draft); err != nil {
		return false, err
	}
	return favorite, nil
}

// Categories lists the catalog categories for the profile's provider and
// protocol. The profile's favorites are filled into filter.
func (m *Manager) Categories(profileID string, filter provider.CategoryFilter) ([]provider.Category, error) {
	profile, err := m.providerProfile(profileID)
	if err != nil {
		return nil, err
	}

	protocol := provider.ProtocolOpenVPN
	if profile.Provider != nil && profile.Provider.Protocol != "" {
		protocol = profile.Provider.Protocol
	}
	f := profile.Provider.Filter(filter.OnlyFavorites)
	f.CountryCode = filter.CountryCode
	f.Query = filter.Query
	return m.Catalog().Categories(profile.Header.ProviderName, protocol, f), nil
}

// StorePassword saves the profile's password in the credential store and
// marks the profile as saving its password.
func (m *Manager) StorePassword(profileID, password string) error {
	if m.credentials == nil {
		return fmt.Errorf("%w: no credential store", common.ErrCredentialStorage)
	}
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return err
	}
	if err := m.credentials.Store(profile.ID, password); err != nil {
		return err
	}
	if !profile.Account.SavePassword {
		profile.Account.SavePassword = true
		if _, err := m.profiles.Commit(profile); err != nil {
			return err
		}
	}
	return nil
}

// RemoveProfile deletes the profile and its stored password.
func (m *Manager) RemoveProfile(profileID string) error {
	if err := m.profiles.Remove(profileID); err != nil {
		return err
	}
	if m.credentials != nil {
		if err := m.credentials.Delete(profileID); err != nil {
			common.LogWarn("Failed to delete stored password for %s: %v", profileID, err)
		}
	}
	return nil
}
