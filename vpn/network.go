package vpn

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"

	"github.com/yllada/vpn-ondemand/common"
)

// NetworkSettings are the per-profile network overrides.
type NetworkSettings struct {
	// DNSServers replace the DNS servers pushed by the server.
	DNSServers []string `json:"dns_servers,omitempty" yaml:"dns_servers,omitempty"`
	// SearchDomains are appended to the resolver search list.
	SearchDomains []string `json:"search_domains,omitempty" yaml:"search_domains,omitempty"`
	// MTU overrides the tunnel MTU; 0 keeps the default.
	MTU int `json:"mtu,omitempty" yaml:"mtu,omitempty"`

	// SplitTunnelEnabled enables split tunneling for this profile.
	SplitTunnelEnabled bool `json:"split_tunnel_enabled" yaml:"split_tunnel_enabled"`
	// SplitTunnelMode defines the split tunnel behavior:
	// "include" - only listed IPs/networks go through the VPN
	// "exclude" - everything goes through the VPN except listed IPs/networks
	SplitTunnelMode string `json:"split_tunnel_mode,omitempty" yaml:"split_tunnel_mode,omitempty"`
	// SplitTunnelRoutes lists IP addresses or CIDR networks,
	// e.g. ["192.168.1.0/24", "10.0.0.0/8", "8.8.8.8"].
	SplitTunnelRoutes []string `json:"split_tunnel_routes,omitempty" yaml:"split_tunnel_routes,omitempty"`
}

func (n NetworkSettings) clone() NetworkSettings {
	n.DNSServers = append([]string(nil), n.DNSServers...)
	n.SearchDomains = append([]string(nil), n.SearchDomains...)
	n.SplitTunnelRoutes = append([]string(nil), n.SplitTunnelRoutes...)
	return n
}

// tunnelNetwork is the validated form of NetworkSettings.
type tunnelNetwork struct {
	DNSServers     []string
	SearchDomains  []string
	MTU            int
	IncludedRoutes []string
	ExcludedRoutes []string
}

// validate parses and normalizes the settings. Errors carry the offending
// field name.
func (n NetworkSettings) validate() (tunnelNetwork, string, error) {
	var out tunnelNetwork

	for _, raw := range common.NormalizeStrings(n.DNSServers) {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return out, "network.dns_servers", fmt.Errorf("%w: invalid DNS server %q", ErrInvalidNetwork, raw)
		}
		out.DNSServers = append(out.DNSServers, addr.Unmap().String())
	}
	out.SearchDomains = common.NormalizeStrings(n.SearchDomains)

	if n.MTU != 0 && (n.MTU < common.MinMTU || n.MTU > common.MaxMTU) {
		return out, "network.mtu", fmt.Errorf("%w: MTU %d outside %d..%d", ErrInvalidNetwork, n.MTU, common.MinMTU, common.MaxMTU)
	}
	out.MTU = n.MTU

	if !n.SplitTunnelEnabled {
		return out, "", nil
	}

	routes, err := collapseRoutes(n.SplitTunnelRoutes)
	if err != nil {
		return out, "network.split_tunnel_routes", err
	}
	if len(routes) == 0 {
		return out, "network.split_tunnel_routes", fmt.Errorf("%w: split tunneling needs at least one route", ErrInvalidNetwork)
	}

	switch n.SplitTunnelMode {
	case common.SplitTunnelModeInclude, "":
		out.IncludedRoutes = routes
	case common.SplitTunnelModeExclude:
		out.ExcludedRoutes = routes
	default:
		return out, "network.split_tunnel_mode", fmt.Errorf("%w: unknown split tunnel mode %q", ErrInvalidNetwork, n.SplitTunnelMode)
	}
	return out, "", nil
}

// collapseRoutes parses addresses and prefixes and merges overlapping or
// adjacent ones into the minimal prefix list.
func collapseRoutes(entries []string) ([]string, error) {
	var builder netipx.IPSetBuilder
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		prefix, err := parseRoute(trimmed)
		if err != nil {
			return nil, err
		}
		builder.AddPrefix(prefix)
	}

	set, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
	}
	prefixes := set.Prefixes()
	if len(prefixes) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.String())
	}
	return out, nil
}

func parseRoute(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: invalid CIDR %q", ErrInvalidNetwork, entry)
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: invalid IP %q", ErrInvalidNetwork, entry)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
