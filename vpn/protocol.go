package vpn

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/yllada/vpn-ondemand/provider"
)

// protocolBuilder translates Parameters into the endpoint part of a tunnel
// configuration. The set of implementations is closed: hostBuilder for
// manually configured endpoints and providerBuilder for catalog servers.
type protocolBuilder interface {
	tunnel(p *Parameters) (TunnelConfiguration, error)
}

var (
	_ protocolBuilder = hostBuilder{}
	_ protocolBuilder = providerBuilder{}
)

func (b *Builder) protocolBuilder(profile Profile) (protocolBuilder, error) {
	if !profile.IsProvider() {
		if profile.Host == nil {
			return nil, configError(profile, "host", ErrMissingField)
		}
		return hostBuilder{profile: profile, host: *profile.Host}, nil
	}

	sel := profile.Provider
	if sel == nil || sel.ServerID == "" {
		return nil, configError(profile, "provider.server_id", ErrMissingSelection)
	}
	if sel.Provider != profile.Header.ProviderName {
		return nil, configError(profile, "provider.provider",
			fmt.Errorf("%w: selection is for %q, profile is for %q", ErrProtocolMismatch, sel.Provider, profile.Header.ProviderName))
	}
	server := Resolve(profile, b.Catalog)
	if server == nil {
		return nil, configError(profile, "provider.server_id",
			fmt.Errorf("%w: %s/%s", ErrServerNotFound, sel.Provider, sel.ServerID))
	}
	return providerBuilder{profile: profile, server: *server}, nil
}

// hostBuilder builds tunnels for manually configured endpoints.
type hostBuilder struct {
	profile Profile
	host    HostConfiguration
}

func (h hostBuilder) tunnel(p *Parameters) (TunnelConfiguration, error) {
	t := p.baseTunnel(h.host.Protocol)
	switch h.host.Protocol {
	case provider.ProtocolOpenVPN:
		if h.host.Remote == "" && h.host.ConfigPath == "" {
			return t, configError(h.profile, "host.remote", fmt.Errorf("%w: remote or config path required", ErrMissingField))
		}
		t.ConfigPath = h.host.ConfigPath
	case provider.ProtocolWireGuard:
		if h.host.Remote == "" {
			return t, configError(h.profile, "host.remote", ErrMissingField)
		}
		if h.host.PublicKey == "" {
			return t, configError(h.profile, "host.public_key", ErrMissingField)
		}
		t.PublicKey = h.host.PublicKey
	default:
		return t, configError(h.profile, "host.protocol", fmt.Errorf("%w: %q", ErrUnsupported, h.host.Protocol))
	}

	if h.host.Remote != "" {
		addr, err := serverAddress(h.host.Remote, h.host.Protocol.DefaultPort())
		if err != nil {
			return t, configError(h.profile, "host.remote", err)
		}
		t.ServerAddress = addr
	}
	return t, nil
}

// providerBuilder builds tunnels for a server resolved from the catalog.
type providerBuilder struct {
	profile Profile
	server  provider.ConcreteServer
}

func (b providerBuilder) tunnel(p *Parameters) (TunnelConfiguration, error) {
	protocol := b.profile.Provider.Protocol
	t := p.baseTunnel(protocol)

	if protocol.DefaultPort() == 0 {
		return t, configError(b.profile, "provider.protocol", fmt.Errorf("%w: %q", ErrUnsupported, protocol))
	}
	srv := b.server.Server
	if !srv.Supports(protocol) {
		return t, configError(b.profile, "provider.protocol",
			fmt.Errorf("%w: server %s does not support %s", ErrProtocolMismatch, srv.ID, protocol))
	}
	if protocol == provider.ProtocolWireGuard {
		if srv.PublicKey == "" {
			return t, configError(b.profile, "provider.server_id",
				fmt.Errorf("%w: server %s has no public key", ErrMissingField, srv.ID))
		}
		t.PublicKey = srv.PublicKey
	}

	port := srv.Port
	if port == 0 {
		port = protocol.DefaultPort()
	}
	t.ServerAddress = net.JoinHostPort(srv.Hostname, strconv.Itoa(port))
	t.Addresses = append([]string(nil), srv.Addresses...)
	t.Provider = b.server.Provider
	t.Location = b.server.Location.ID
	t.ServerID = srv.ID
	return t, nil
}

// serverAddress normalizes host or host:port to host:port.
func serverAddress(remote string, defaultPort int) (string, error) {
	remote = strings.TrimSpace(remote)
	if addr, err := netip.ParseAddr(remote); err == nil {
		return net.JoinHostPort(addr.String(), strconv.Itoa(defaultPort)), nil
	}

	host, portStr, err := net.SplitHostPort(remote)
	if err != nil {
		if strings.Contains(remote, ":") {
			return "", fmt.Errorf("%w: invalid remote %q", ErrInvalidNetwork, remote)
		}
		host, portStr = remote, strconv.Itoa(defaultPort)
	}
	if host == "" {
		return "", fmt.Errorf("%w: invalid remote %q", ErrInvalidNetwork, remote)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: invalid port in %q", ErrInvalidNetwork, remote)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// applyProtocol adds the protocol specific rendering of the network
// settings: OpenVPN directives or the WireGuard allow list.
func applyProtocol(t *TunnelConfiguration, p *Parameters) error {
	switch t.Protocol {
	case provider.ProtocolOpenVPN:
		t.Directives = openVPNDirectives(p)
	case provider.ProtocolWireGuard:
		allowed, err := allowedIPs(p.network)
		if err != nil {
			return err
		}
		t.AllowedIPs = allowed
	}
	return nil
}

// openVPNDirectives renders the network settings as OpenVPN client
// directives. Include mode ignores the routes pushed by the server.
func openVPNDirectives(p *Parameters) []string {
	var out []string
	n := p.network
	for _, dns := range n.DNSServers {
		out = append(out, "dhcp-option DNS "+dns)
	}
	for _, domain := range n.SearchDomains {
		out = append(out, "dhcp-option DOMAIN "+domain)
	}
	if n.MTU > 0 {
		out = append(out, fmt.Sprintf("tun-mtu %d", n.MTU))
	}
	if k := p.Preferences.KeepAliveSeconds; k > 0 {
		out = append(out, fmt.Sprintf("keepalive %d %d", k, k*4))
	}

	if len(n.IncludedRoutes) > 0 {
		out = append(out, "route-nopull")
		for _, r := range n.IncludedRoutes {
			out = append(out, openVPNRoute(r, ""))
		}
	}
	for _, r := range n.ExcludedRoutes {
		out = append(out, openVPNRoute(r, "net_gateway"))
	}
	return out
}

// openVPNRoute converts a prefix to a route directive. IPv4 prefixes use the
// network/netmask form:
//   - "192.168.1.0/24" -> "route 192.168.1.0 255.255.255.0"
//   - "10.0.0.1/32" -> "route 10.0.0.1 255.255.255.255"
func openVPNRoute(route, gateway string) string {
	prefix := netip.MustParsePrefix(route)
	var directive string
	if prefix.Addr().Is4() {
		mask := net.CIDRMask(prefix.Bits(), 32)
		directive = fmt.Sprintf("route %s %s", prefix.Addr(), net.IP(mask).String())
	} else {
		directive = "route-ipv6 " + prefix.String()
	}
	if gateway != "" {
		directive += " " + gateway
	}
	return directive
}

// allowedIPs returns the WireGuard allow list: the included routes, or
// everything minus the excluded routes.
func allowedIPs(n tunnelNetwork) ([]string, error) {
	if len(n.IncludedRoutes) > 0 {
		return append([]string(nil), n.IncludedRoutes...), nil
	}

	var b netipx.IPSetBuilder
	b.AddPrefix(netip.MustParsePrefix("0.0.0.0/0"))
	b.AddPrefix(netip.MustParsePrefix("::/0"))
	for _, r := range n.ExcludedRoutes {
		prefix, err := netip.ParsePrefix(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
		}
		b.RemovePrefix(prefix)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
	}
	var out []string
	for _, p := range set.Prefixes() {
		out = append(out, p.String())
	}
	return out, nil
}
