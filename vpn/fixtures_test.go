package vpn

import (
	"testing"

	"github.com/yllada/vpn-ondemand/provider"
)

func acmeInfrastructure(withSrv7 bool) provider.Infrastructure {
	nyc := provider.Location{
		ID:          "NYC",
		CountryCode: "US",
		City:        "New York",
		Servers: []provider.Server{
			{ID: "srv-8", Hostname: "nyc8.acme.example", Protocols: []provider.Protocol{provider.ProtocolOpenVPN}},
		},
	}
	if withSrv7 {
		nyc.Servers = append(nyc.Servers, provider.Server{
			ID:        "srv-7",
			Hostname:  "nyc7.acme.example",
			Addresses: []string{"198.51.100.7"},
			Protocols: []provider.Protocol{provider.ProtocolWireGuard, provider.ProtocolOpenVPN},
			PublicKey: "bW9jay1wdWJsaWMta2V5",
		})
	}
	return provider.Infrastructure{
		Provider: "acme",
		Categories: []provider.Category{
			{
				Name: "default",
				Locations: []provider.Location{
					nyc,
					{
						ID:          "FRA",
						CountryCode: "DE",
						City:        "Frankfurt",
						Servers: []provider.Server{
							{ID: "srv-3", Hostname: "fra3.acme.example", Port: 443, Protocols: []provider.Protocol{provider.ProtocolWireGuard}},
						},
					},
				},
			},
			{
				Name: "streaming",
				Locations: []provider.Location{
					{
						ID:          "LON",
						CountryCode: "GB",
						City:        "London",
						Servers: []provider.Server{
							{ID: "srv-20", Hostname: "lon20.acme.example", Protocols: []provider.Protocol{provider.ProtocolOpenVPN}},
						},
					},
				},
			},
		},
	}
}

func testCatalog(t *testing.T, withSrv7 bool) *provider.Catalog {
	t.Helper()
	c, err := provider.NewCatalog(acmeInfrastructure(withSrv7))
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

// acmeProfile is a provider profile selecting srv-7 over WireGuard.
func acmeProfile() Profile {
	return Profile{
		ID:     "p1",
		Header: Header{Name: "Acme NYC", ProviderName: "acme"},
		Provider: &ProviderSelection{
			Provider: "acme",
			Protocol: provider.ProtocolWireGuard,
			ServerID: "srv-7",
		},
	}
}

// hostProfile is a manually configured OpenVPN profile.
func hostProfile() Profile {
	return Profile{
		ID:     "h1",
		Header: Header{Name: "Office"},
		Host: &HostConfiguration{
			Protocol: provider.ProtocolOpenVPN,
			Remote:   "vpn.example.com",
		},
	}
}
