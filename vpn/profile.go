// Package vpn provides the profile model and the translation of profiles
// into tunnel configurations.
// This file contains the Profile and ProfileManager types for managing
// VPN profiles.
package vpn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-ondemand/common"
	"github.com/yllada/vpn-ondemand/provider"
)

// Header names a profile and, for provider profiles, its provider.
type Header struct {
	Name string `json:"name" yaml:"name"`
	// ProviderName is empty for manually configured (host) profiles.
	ProviderName string `json:"provider_name,omitempty" yaml:"provider_name,omitempty"`
}

// Account holds the non-secret part of the credentials. The password
// lives in the credential store and is referenced, never copied.
type Account struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// SavePassword indicates whether the password is kept in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
}

// HostConfiguration describes a manually configured endpoint.
type HostConfiguration struct {
	Protocol provider.Protocol `json:"protocol" yaml:"protocol"`
	// Remote is host or host:port.
	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`
	// ConfigPath is an OpenVPN configuration file.
	ConfigPath string `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	// PublicKey is the WireGuard peer key.
	PublicKey string `json:"public_key,omitempty" yaml:"public_key,omitempty"`
}

// Profile represents a VPN profile: who connects, where to, with which
// network overrides and when the tunnel comes up on its own.
// Exactly one of Provider and Host is set.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID       string             `json:"id" yaml:"id"`
	Header   Header             `json:"header" yaml:"header"`
	Account  Account            `json:"account" yaml:"account"`
	Network  NetworkSettings    `json:"network" yaml:"network"`
	OnDemand OnDemandPolicy     `json:"on_demand" yaml:"on_demand"`
	Provider *ProviderSelection `json:"provider,omitempty" yaml:"provider,omitempty"`
	Host     *HostConfiguration `json:"host,omitempty" yaml:"host,omitempty"`
	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last made ready.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// IsProvider reports whether the profile connects through a provider catalog.
func (p Profile) IsProvider() bool {
	return p.Header.ProviderName != ""
}

// Clone returns a deep copy, suitable as an editing draft.
func (p Profile) Clone() Profile {
	out := p
	out.Network = p.Network.clone()
	out.OnDemand = p.OnDemand.clone()
	out.Provider = p.Provider.clone()
	if p.Host != nil {
		host := *p.Host
		out.Host = &host
	}
	return out
}

// Validate checks if the profile has all required fields.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Header.Name) == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidProfile)
	}
	if p.Provider != nil && !knownProtocol(p.Provider.Protocol) {
		return fmt.Errorf("%w: unsupported provider protocol %q", ErrInvalidProfile, p.Provider.Protocol)
	}
	if p.Host != nil && !knownProtocol(p.Host.Protocol) {
		return fmt.Errorf("%w: unsupported host protocol %q", ErrInvalidProfile, p.Host.Protocol)
	}
	if p.IsProvider() {
		if p.Provider == nil {
			return fmt.Errorf("%w: provider profile needs a provider selection", ErrInvalidProfile)
		}
		if p.Host != nil {
			return fmt.Errorf("%w: provider profile cannot have a host configuration", ErrInvalidProfile)
		}
		return nil
	}
	if p.Host == nil {
		return fmt.Errorf("%w: host profile needs a host configuration", ErrInvalidProfile)
	}
	if p.Provider != nil {
		return fmt.Errorf("%w: host profile cannot have a provider selection", ErrInvalidProfile)
	}
	return nil
}

// canonicalizeProtocols rewrites short protocol names such as "wg" to
// their canonical form. Unknown names are left for Validate to reject.
func (p *Profile) canonicalizeProtocols() {
	if p.Provider != nil {
		p.Provider.Protocol = canonicalProtocol(p.Provider.Protocol)
	}
	if p.Host != nil {
		p.Host.Protocol = canonicalProtocol(p.Host.Protocol)
	}
}

func canonicalProtocol(p provider.Protocol) provider.Protocol {
	if parsed, err := provider.ParseProtocol(string(p)); err == nil {
		return parsed
	}
	return p
}

// knownProtocol reports whether p is empty or a canonical protocol name.
func knownProtocol(p provider.Protocol) bool {
	return p == "" || p.DefaultPort() != 0
}

// ToJSON converts the profile to a JSON string.
// Useful for debugging and logging.
func (p Profile) ToJSON() string {
	data, _ := json.MarshalIndent(p, "", "  ")
	return string(data)
}

// Diff returns the names of the profile sections that differ between a and b.
func Diff(a, b Profile) []string {
	var changed []string
	sections := []struct {
		name string
		a, b interface{}
	}{
		{"header", a.Header, b.Header},
		{"account", a.Account, b.Account},
		{"network", a.Network.clone(), b.Network.clone()},
		{"on_demand", a.OnDemand.clone(), b.OnDemand.clone()},
		{"provider", a.Provider.clone(), b.Provider.clone()},
		{"host", a.Host, b.Host},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// ProfileManager manages VPN profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
// Profiles are handed out by value; edits go through Update or Commit.
type ProfileManager struct {
	mu         sync.RWMutex
	profiles   []Profile
	configFile string
}

// NewProfileManager creates a ProfileManager storing profiles in dir.
// An empty dir selects ~/.config/vpn-ondemand.
func NewProfileManager(dir string) (*ProfileManager, error) {
	if dir == "" {
		d, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		configFile: filepath.Join(dir, common.ProfilesFileName),
	}
	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return pm, nil
}

// Load loads profiles from the configuration file.
// A missing file means no profiles yet.
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for i := range profiles {
		profiles[i].canonicalizeProtocols()
		if err := profiles[i].Validate(); err != nil {
			common.LogWarn("Profile %s: %v", profiles[i].ID, err)
		}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.profiles = profiles
	return nil
}

// save persists profiles. Caller holds mu.
func (pm *ProfileManager) save() error {
	data, err := yaml.Marshal(pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := common.WriteFileAtomic(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

func (pm *ProfileManager) indexOf(id string) int {
	for i := range pm.profiles {
		if pm.profiles[i].ID == id {
			return i
		}
	}
	return -1
}

func (pm *ProfileManager) nameTaken(name, exceptID string) bool {
	for _, p := range pm.profiles {
		if p.ID != exceptID && strings.EqualFold(p.Header.Name, name) {
			return true
		}
	}
	return false
}

// Add validates profile, assigns an ID and creation time, and stores it.
// It returns the stored copy.
func (pm *ProfileManager) Add(profile Profile) (Profile, error) {
	stored := profile.Clone()
	stored.canonicalizeProtocols()
	if err := stored.Validate(); err != nil {
		return Profile{}, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.nameTaken(stored.Header.Name, "") {
		return Profile{}, fmt.Errorf("%w: %s", ErrDuplicateName, stored.Header.Name)
	}

	if stored.ID == "" {
		stored.ID = uuid.NewString()
	} else if pm.indexOf(stored.ID) >= 0 {
		return Profile{}, fmt.Errorf("%w: id %s already exists", ErrInvalidProfile, stored.ID)
	}
	stored.Created = time.Now()

	pm.profiles = append(pm.profiles, stored)
	if err := pm.save(); err != nil {
		pm.profiles = pm.profiles[:len(pm.profiles)-1]
		return Profile{}, err
	}
	common.LogInfo("Added profile %s (%s)", stored.Header.Name, stored.ID)
	return stored.Clone(), nil
}

// Remove removes a profile by ID.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	i := pm.indexOf(id)
	if i < 0 {
		return ErrProfileNotFound
	}
	pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
	return pm.save()
}

// Get retrieves a copy of the profile with the given ID.
func (pm *ProfileManager) Get(id string) (Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if i := pm.indexOf(id); i >= 0 {
		return pm.profiles[i].Clone(), nil
	}
	return Profile{}, ErrProfileNotFound
}

// GetByName retrieves a profile by name (case-insensitive).
func (pm *ProfileManager) GetByName(name string) (Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.profiles {
		if strings.EqualFold(p.Header.Name, name) {
			return p.Clone(), nil
		}
	}
	return Profile{}, ErrProfileNotFound
}

// Find looks a profile up by name, full ID or unique ID prefix.
func (pm *ProfileManager) Find(nameOrID string) (Profile, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return Profile{}, ErrProfileNotFound
	}
	if p, err := pm.GetByName(nameOrID); err == nil {
		return p, nil
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var match *Profile
	for i := range pm.profiles {
		if strings.HasPrefix(strings.ToLower(pm.profiles[i].ID), strings.ToLower(nameOrID)) {
			if match != nil {
				return Profile{}, fmt.Errorf("%w: %q is ambiguous", ErrProfileNotFound, nameOrID)
			}
			match = &pm.profiles[i]
		}
	}
	if match == nil {
		return Profile{}, ErrProfileNotFound
	}
	return match.Clone(), nil
}

// List returns copies of all profiles in insertion order.
func (pm *ProfileManager) List() []Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]Profile, len(pm.profiles))
	for i, p := range pm.profiles {
		out[i] = p.Clone()
	}
	return out
}

// Update replaces an existing profile unconditionally.
func (pm *ProfileManager) Update(profile Profile) error {
	_, err := pm.commit(profile, true)
	return err
}

// Commit stores draft if it differs from the stored profile and returns
// the changed sections. An unchanged draft is not written. Created and
// LastUsed are kept from the stored profile.
func (pm *ProfileManager) Commit(draft Profile) ([]string, error) {
	return pm.commit(draft, false)
}

func (pm *ProfileManager) commit(draft Profile, force bool) ([]string, error) {
	draft = draft.Clone()
	draft.canonicalizeProtocols()
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	i := pm.indexOf(draft.ID)
	if i < 0 {
		return nil, ErrProfileNotFound
	}
	draft.Created = pm.profiles[i].Created
	draft.LastUsed = pm.profiles[i].LastUsed

	changed := Diff(pm.profiles[i], draft)
	if len(changed) == 0 && !force {
		return nil, nil
	}
	if pm.nameTaken(draft.Header.Name, draft.ID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, draft.Header.Name)
	}

	previous := pm.profiles[i]
	pm.profiles[i] = draft
	if err := pm.save(); err != nil {
		pm.profiles[i] = previous
		return nil, err
	}
	if len(changed) > 0 {
		common.LogDebug("Committed profile %s: %s", draft.Header.Name, strings.Join(changed, ", "))
	}
	return changed, nil
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	i := pm.indexOf(id)
	if i < 0 {
		return ErrProfileNotFound
	}
	previous := pm.profiles[i].LastUsed
	pm.profiles[i].LastUsed = time.Now()
	if err := pm.save(); err != nil {
		pm.profiles[i].LastUsed = previous
		return err
	}
	return nil
}

// IsNotFound reports whether err means the profile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}
