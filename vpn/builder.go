package vpn

import (
	"fmt"
	"strings"

	"github.com/yllada/vpn-ondemand/common"
	"github.com/yllada/vpn-ondemand/config"
	"github.com/yllada/vpn-ondemand/provider"
)

// Parameters aggregates everything a protocol sub-builder needs. A value is
// built fresh for every configuration request and not modified afterwards.
type Parameters struct {
	Title       string
	AppGroup    string
	Preferences config.Preferences
	Network     NetworkSettings
	// Username is nil when the profile has no username.
	Username *string
	// CredentialReference is passed through unexamined.
	CredentialReference common.CredentialReference
	OnDemandRules       []OnDemandRule

	network tunnelNetwork
}

// NewParameters validates profile and collects the build inputs.
func NewParameters(profile Profile, appGroup string, prefs config.Preferences, ref common.CredentialReference) (*Parameters, error) {
	title := strings.TrimSpace(profile.Header.Name)
	if title == "" {
		return nil, configError(profile, "header.name", ErrMissingField)
	}
	appGroup = strings.TrimSpace(appGroup)
	if appGroup == "" {
		return nil, configError(profile, "app_group", ErrMissingField)
	}

	network, field, err := profile.Network.validate()
	if err != nil {
		return nil, configError(profile, field, err)
	}

	p := &Parameters{
		Title:               title,
		AppGroup:            appGroup,
		Preferences:         prefs,
		Network:             profile.Network.clone(),
		CredentialReference: ref,
		OnDemandRules:       CompileOnDemand(profile.OnDemand),
		network:             network,
	}
	if username := strings.TrimSpace(profile.Account.Username); username != "" {
		p.Username = &username
	}
	return p, nil
}

// TunnelConfiguration is the platform-independent tunnel description handed
// to the tunnel collaborator.
type TunnelConfiguration struct {
	Title    string            `yaml:"title"`
	AppGroup string            `yaml:"app_group"`
	Protocol provider.Protocol `yaml:"protocol"`

	// ServerAddress is host:port.
	ServerAddress string   `yaml:"server_address,omitempty"`
	Addresses     []string `yaml:"addresses,omitempty"`
	PublicKey     string   `yaml:"public_key,omitempty"`
	ConfigPath    string   `yaml:"config_path,omitempty"`

	// Provider, Location and ServerID are set for provider profiles.
	Provider string `yaml:"provider,omitempty"`
	Location string `yaml:"location,omitempty"`
	ServerID string `yaml:"server_id,omitempty"`

	Username *string `yaml:"username,omitempty"`

	DNSServers     []string `yaml:"dns_servers,omitempty"`
	SearchDomains  []string `yaml:"search_domains,omitempty"`
	MTU            int      `yaml:"mtu,omitempty"`
	IncludedRoutes []string `yaml:"included_routes,omitempty"`
	ExcludedRoutes []string `yaml:"excluded_routes,omitempty"`

	// AllowedIPs is the WireGuard peer allow list.
	AllowedIPs []string `yaml:"allowed_ips,omitempty"`
	// Directives are extra OpenVPN client directives.
	Directives []string `yaml:"directives,omitempty"`

	IncludeAllNetworks   bool `yaml:"include_all_networks"`
	ExcludeLocalNetworks bool `yaml:"exclude_local_networks"`
	KeepAliveSeconds     int  `yaml:"keep_alive_seconds,omitempty"`

	OnDemandEnabled bool           `yaml:"on_demand_enabled"`
	OnDemandRules   []OnDemandRule `yaml:"on_demand_rules,omitempty"`
}

// ExtraParameters travel next to the tunnel configuration but are not part
// of it.
type ExtraParameters struct {
	PasswordReference  common.CredentialReference `yaml:"password_reference,omitempty"`
	DisconnectsOnSleep bool                       `yaml:"disconnects_on_sleep,omitempty"`
}

// Configuration is the result of a build. Extra is nil when there is
// nothing extra to carry.
type Configuration struct {
	Tunnel TunnelConfiguration `yaml:"tunnel"`
	Extra  *ExtraParameters    `yaml:"extra,omitempty"`
}

// Builder turns profiles into tunnel configurations. Catalog is consulted
// for provider profiles only and may be nil when there are none.
type Builder struct {
	Catalog *provider.Catalog
}

// NewBuilder creates a Builder resolving provider servers against catalog.
func NewBuilder(catalog *provider.Catalog) *Builder {
	return &Builder{Catalog: catalog}
}

// Build combines profile, app group, stored preferences and the credential
// reference into a Configuration. It performs no I/O. Every failure is a
// *ConfigurationError.
func (b *Builder) Build(profile Profile, appGroup string, prefs config.Preferences, ref common.CredentialReference) (*Configuration, error) {
	params, err := NewParameters(profile, appGroup, prefs, ref)
	if err != nil {
		return nil, err
	}

	pb, err := b.protocolBuilder(profile)
	if err != nil {
		return nil, err
	}

	tunnel, err := pb.tunnel(params)
	if err != nil {
		return nil, err
	}
	if err := applyProtocol(&tunnel, params); err != nil {
		return nil, configError(profile, "network", err)
	}

	return &Configuration{
		Tunnel: tunnel,
		Extra:  params.extra(),
	}, nil
}

// baseTunnel fills the fields shared by every protocol.
func (p *Parameters) baseTunnel(protocol provider.Protocol) TunnelConfiguration {
	t := TunnelConfiguration{
		Title:                p.Title,
		AppGroup:             p.AppGroup,
		Protocol:             protocol,
		Username:             p.Username,
		DNSServers:           p.network.DNSServers,
		SearchDomains:        p.network.SearchDomains,
		MTU:                  p.network.MTU,
		IncludedRoutes:       p.network.IncludedRoutes,
		ExcludedRoutes:       p.network.ExcludedRoutes,
		IncludeAllNetworks:   p.Preferences.KillSwitch,
		ExcludeLocalNetworks: p.Preferences.ExcludeLocalNetworks,
		KeepAliveSeconds:     p.Preferences.KeepAliveSeconds,
	}
	if len(p.OnDemandRules) > 0 {
		t.OnDemandEnabled = true
		t.OnDemandRules = append([]OnDemandRule(nil), p.OnDemandRules...)
	}
	return t
}

func (p *Parameters) extra() *ExtraParameters {
	if p.CredentialReference.IsZero() && !p.Preferences.DisconnectsOnSleep {
		return nil
	}
	return &ExtraParameters{
		PasswordReference:  p.CredentialReference,
		DisconnectsOnSleep: p.Preferences.DisconnectsOnSleep,
	}
}

// String is safe to log; it never includes the credential reference.
func (c *Configuration) String() string {
	return fmt.Sprintf("%s (%s %s, %d on-demand rules)",
		c.Tunnel.Title, c.Tunnel.Protocol, c.Tunnel.ServerAddress, len(c.Tunnel.OnDemandRules))
}
