package vpn

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-ondemand/provider"
)

// LocationSet is a set of provider location ids. It serializes as a
// sorted list.
type LocationSet map[string]struct{}

// Contains reports whether id is in the set.
func (s LocationSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s LocationSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s LocationSet) clone() LocationSet {
	if len(s) == 0 {
		return nil
	}
	out := make(LocationSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func newLocationSet(ids []string) LocationSet {
	if len(ids) == 0 {
		return nil
	}
	s := make(LocationSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s.clone()
}

// MarshalYAML implements yaml.Marshaler.
func (s LocationSet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *LocationSet) UnmarshalYAML(node *yaml.Node) error {
	var ids []string
	if err := node.Decode(&ids); err != nil {
		return err
	}
	*s = newLocationSet(ids)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s LocationSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *LocationSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = newLocationSet(ids)
	return nil
}

// ProviderSelection is the provider-side part of a profile.
type ProviderSelection struct {
	Provider  string            `json:"provider" yaml:"provider"`
	Protocol  provider.Protocol `json:"protocol" yaml:"protocol"`
	ServerID  string            `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	Favorites LocationSet       `json:"favorites,omitempty" yaml:"favorites,omitempty"`
}

func (s *ProviderSelection) clone() *ProviderSelection {
	if s == nil {
		return nil
	}
	out := *s
	out.Favorites = s.Favorites.clone()
	return &out
}

// ToggleFavorite adds locationID to the favorites when absent and removes
// it when present. Toggling twice restores the original set.
func (s *ProviderSelection) ToggleFavorite(locationID string) (favorite bool) {
	if s.Favorites.Contains(locationID) {
		delete(s.Favorites, locationID)
		if len(s.Favorites) == 0 {
			s.Favorites = nil
		}
		return false
	}
	if s.Favorites == nil {
		s.Favorites = make(LocationSet)
	}
	s.Favorites[locationID] = struct{}{}
	return true
}

// Filter returns the category filter for this selection's favorites.
func (s *ProviderSelection) Filter(onlyFavorites bool) provider.CategoryFilter {
	f := provider.CategoryFilter{OnlyFavorites: onlyFavorites}
	if s != nil {
		f.Favorites = s.Favorites
	}
	return f
}

// Resolve materializes the profile's selected server from catalog.
// It returns nil when the profile has no selection or the catalog no
// longer contains the server; callers treat nil as "no selection".
func Resolve(profile Profile, catalog *provider.Catalog) *provider.ConcreteServer {
	sel := profile.Provider
	if sel == nil || sel.ServerID == "" {
		return nil
	}
	server, ok := catalog.Server(sel.Provider, sel.ServerID)
	if !ok {
		return nil
	}
	return server
}

// Select returns a copy of profile whose provider selection points at
// server. Only the provider selection changes; a profile without one gets
// a new selection for the server's provider and first protocol.
func Select(profile Profile, server provider.ConcreteServer) Profile {
	out := profile.Clone()
	if out.Provider == nil {
		out.Provider = &ProviderSelection{Provider: server.Provider}
		if len(server.Server.Protocols) > 0 {
			out.Provider.Protocol = server.Server.Protocols[0]
		}
	}
	out.Provider.ServerID = server.Server.ID
	return out
}
