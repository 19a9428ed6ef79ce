// Package provider models VPN provider catalogs: the categories,
// locations and servers a user can pick from. Catalogs are immutable
// snapshots; they are imported from YAML, persisted in SQLite and queried
// by the selection resolver.
package provider

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/yllada/vpn-ondemand/common"
)

// Protocol identifies a VPN protocol a server can speak.
type Protocol string

const (
	ProtocolOpenVPN   Protocol = "openvpn"
	ProtocolWireGuard Protocol = "wireguard"
)

// ParseProtocol accepts the canonical names plus the short forms
// "ovpn" and "wg".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openvpn", "ovpn":
		return ProtocolOpenVPN, nil
	case "wireguard", "wg":
		return ProtocolWireGuard, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", s)
	}
}

// DefaultPort returns the well-known port of p.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolOpenVPN:
		return 1194
	case ProtocolWireGuard:
		return 51820
	default:
		return 0
	}
}

// Server is a single endpoint in a provider catalog.
type Server struct {
	ID        string     `yaml:"id"`
	Hostname  string     `yaml:"hostname"`
	Addresses []string   `yaml:"addresses,omitempty"`
	Port      int        `yaml:"port,omitempty"`
	Protocols []Protocol `yaml:"protocols"`
	// PublicKey is the WireGuard peer key, empty for OpenVPN-only servers.
	PublicKey string `yaml:"public_key,omitempty"`
}

// Supports reports whether the server speaks p.
func (s Server) Supports(p Protocol) bool {
	for _, sp := range s.Protocols {
		if sp == p {
			return true
		}
	}
	return false
}

// Location groups the servers of one place.
type Location struct {
	ID          string   `yaml:"id"`
	CountryCode string   `yaml:"country_code"`
	City        string   `yaml:"city,omitempty"`
	Servers     []Server `yaml:"servers"`
}

// Category groups locations, e.g. "standard", "streaming", "p2p".
type Category struct {
	Name      string     `yaml:"name"`
	Locations []Location `yaml:"locations"`
}

// Infrastructure is everything one provider offers.
type Infrastructure struct {
	Provider    string     `yaml:"provider"`
	Description string     `yaml:"description,omitempty"`
	Categories  []Category `yaml:"categories"`
}

// ConcreteServer is a server bound to the location and category it was
// found in. Location.Servers is left empty.
type ConcreteServer struct {
	Provider string
	Category string
	Location Location
	Server   Server
}

// CategoryFilter narrows a category listing.
type CategoryFilter struct {
	// OnlyFavorites keeps only locations contained in Favorites.
	OnlyFavorites bool
	Favorites     map[string]struct{}
	// CountryCode keeps only locations in that country (case-insensitive).
	CountryCode string
	// Query is a case-insensitive substring matched against location id,
	// city and country code.
	Query string
}

func (f CategoryFilter) match(loc Location) bool {
	if f.OnlyFavorites {
		if _, ok := f.Favorites[loc.ID]; !ok {
			return false
		}
	}
	if f.CountryCode != "" && !strings.EqualFold(f.CountryCode, loc.CountryCode) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		haystack := strings.ToLower(loc.ID + " " + loc.City + " " + loc.CountryCode)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// Catalog is an immutable snapshot of provider infrastructures.
type Catalog struct {
	providers map[string]*Infrastructure
}

// NewCatalog validates and copies the given infrastructures. Provider names,
// and location and server ids within a provider, must be unique.
func NewCatalog(infras ...Infrastructure) (*Catalog, error) {
	c := &Catalog{providers: make(map[string]*Infrastructure, len(infras))}
	for _, infra := range infras {
		normalized, err := normalize(infra)
		if err != nil {
			return nil, err
		}
		if _, dup := c.providers[normalized.Provider]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", common.ErrInvalidCatalog, normalized.Provider)
		}
		c.providers[normalized.Provider] = normalized
	}
	return c, nil
}

func normalize(in Infrastructure) (*Infrastructure, error) {
	name := strings.TrimSpace(in.Provider)
	if name == "" {
		return nil, fmt.Errorf("%w: provider name is required", common.ErrInvalidCatalog)
	}
	out := &Infrastructure{Provider: name, Description: in.Description}

	locationIDs := make(map[string]struct{})
	serverIDs := make(map[string]struct{})
	categoryNames := make(map[string]struct{})

	for _, cat := range in.Categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("%w: %s: category name is required", common.ErrInvalidCatalog, name)
		}
		if _, dup := categoryNames[cat.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate category %q", common.ErrInvalidCatalog, name, cat.Name)
		}
		categoryNames[cat.Name] = struct{}{}

		outCat := Category{Name: cat.Name, Locations: make([]Location, 0, len(cat.Locations))}
		for _, loc := range cat.Locations {
			if loc.ID == "" {
				return nil, fmt.Errorf("%w: %s: location id is required", common.ErrInvalidCatalog, name)
			}
			if _, dup := locationIDs[loc.ID]; dup {
				return nil, fmt.Errorf("%w: %s: duplicate location %q", common.ErrInvalidCatalog, name, loc.ID)
			}
			locationIDs[loc.ID] = struct{}{}

			outLoc := loc
			outLoc.CountryCode = strings.ToUpper(loc.CountryCode)
			outLoc.Servers = make([]Server, 0, len(loc.Servers))
			for _, srv := range loc.Servers {
				if srv.ID == "" || srv.Hostname == "" {
					return nil, fmt.Errorf("%w: %s/%s: server id and hostname are required", common.ErrInvalidCatalog, name, loc.ID)
				}
				if _, dup := serverIDs[srv.ID]; dup {
					return nil, fmt.Errorf("%w: %s: duplicate server %q", common.ErrInvalidCatalog, name, srv.ID)
				}
				serverIDs[srv.ID] = struct{}{}
				protocols, err := parseProtocols(srv.Protocols)
				if err != nil {
					return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrInvalidCatalog, name, srv.ID, err)
				}
				outSrv := cloneServer(srv)
				outSrv.Protocols = protocols
				outLoc.Servers = append(outLoc.Servers, outSrv)
			}
			sortServers(outLoc.Servers)
			outCat.Locations = append(outCat.Locations, outLoc)
		}
		sortLocations(outCat.Locations)
		out.Categories = append(out.Categories, outCat)
	}
	sortCategories(out.Categories)
	return out, nil
}

// parseProtocols canonicalizes ps, dropping duplicates and keeping order.
func parseProtocols(ps []Protocol) ([]Protocol, error) {
	var out []Protocol
	for _, raw := range ps {
		p, err := ParseProtocol(string(raw))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func cloneServer(s Server) Server {
	s.Addresses = append([]string(nil), s.Addresses...)
	s.Protocols = append([]Protocol(nil), s.Protocols...)
	return s
}

func sortCategories(cats []Category) {
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
}

func sortLocations(locs []Location) {
	sort.Slice(locs, func(i, j int) bool {
		a, b := locs[i], locs[j]
		if a.CountryCode != b.CountryCode {
			return a.CountryCode < b.CountryCode
		}
		if a.City != b.City {
			return a.City < b.City
		}
		return a.ID < b.ID
	})
}

func sortServers(servers []Server) {
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
}

// Providers returns the provider names in ascending order.
func (c *Catalog) Providers() []string {
	if c == nil {
		return nil
	}
	return common.SortedKeys(c.providers)
}

// Infrastructures returns copies of all infrastructures, ordered by provider.
func (c *Catalog) Infrastructures() []Infrastructure {
	names := c.Providers()
	out := make([]Infrastructure, 0, len(names))
	for _, name := range names {
		out = append(out, c.providers[name].clone())
	}
	return out
}

// Infrastructure returns a copy of one provider's infrastructure.
func (c *Catalog) Infrastructure(name string) (Infrastructure, bool) {
	if c == nil {
		return Infrastructure{}, false
	}
	infra, ok := c.providers[name]
	if !ok {
		return Infrastructure{}, false
	}
	return infra.clone(), true
}

func (in *Infrastructure) clone() Infrastructure {
	out := Infrastructure{Provider: in.Provider, Description: in.Description}
	out.Categories = make([]Category, 0, len(in.Categories))
	for _, cat := range in.Categories {
		outCat := Category{Name: cat.Name, Locations: make([]Location, 0, len(cat.Locations))}
		for _, loc := range cat.Locations {
			outLoc := loc
			outLoc.Servers = make([]Server, 0, len(loc.Servers))
			for _, srv := range loc.Servers {
				outLoc.Servers = append(outLoc.Servers, cloneServer(srv))
			}
			outCat.Locations = append(outCat.Locations, outLoc)
		}
		out.Categories = append(out.Categories, outCat)
	}
	return out
}

// Server looks up a server by id. It returns false when the provider or
// the server is not in the catalog; callers treat that as "no selection".
func (c *Catalog) Server(providerName, serverID string) (*ConcreteServer, bool) {
	if c == nil || serverID == "" {
		return nil, false
	}
	infra, ok := c.providers[providerName]
	if !ok {
		return nil, false
	}
	for _, cat := range infra.Categories {
		for _, loc := range cat.Locations {
			for _, srv := range loc.Servers {
				if srv.ID != serverID {
					continue
				}
				bound := loc
				bound.Servers = nil
				return &ConcreteServer{
					Provider: infra.Provider,
					Category: cat.Name,
					Location: bound,
					Server:   cloneServer(srv),
				}, true
			}
		}
	}
	return nil, false
}

// Categories lists the provider's categories for protocol. Servers that do
// not speak protocol are dropped, locations must pass filter and keep at
// least one server, and categories left without locations are omitted.
// Categories are ordered by name, locations by country, city and id,
// servers by id.
func (c *Catalog) Categories(providerName string, protocol Protocol, filter CategoryFilter) []Category {
	if c == nil {
		return nil
	}
	infra, ok := c.providers[providerName]
	if !ok {
		return nil
	}

	var out []Category
	for _, cat := range infra.Categories {
		var locations []Location
		for _, loc := range cat.Locations {
			if !filter.match(loc) {
				continue
			}
			var servers []Server
			for _, srv := range loc.Servers {
				if srv.Supports(protocol) {
					servers = append(servers, cloneServer(srv))
				}
			}
			if len(servers) == 0 {
				continue
			}
			filtered := loc
			filtered.Servers = servers
			locations = append(locations, filtered)
		}
		if len(locations) == 0 {
			continue
		}
		out = append(out, Category{Name: cat.Name, Locations: locations})
	}
	return out
}
