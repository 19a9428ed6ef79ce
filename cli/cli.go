// Package cli provides the command-line front end for vpn-ondemand.
// It edits profiles, lists provider servers and builds or prepares tunnel
// configurations from the terminal.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yllada/vpn-ondemand/common"
	"github.com/yllada/vpn-ondemand/config"
	"github.com/yllada/vpn-ondemand/keyring"
	"github.com/yllada/vpn-ondemand/provider"
	"github.com/yllada/vpn-ondemand/vpn"
)

// CLI represents the command-line interface.
type CLI struct {
	cfg     *config.Config
	manager *vpn.Manager
	store   *provider.Store
	out     io.Writer
}

// New opens the profile, credential and catalog stores next to cfg and
// creates a CLI writing to out.
func New(ctx context.Context, cfg *config.Config, out io.Writer) (*CLI, error) {
	profiles, err := vpn.NewProfileManager(cfg.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile manager: %w", err)
	}

	store, err := provider.OpenStore(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	catalog, err := loadCatalog(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	manager, err := vpn.NewManager(vpn.Options{
		Profiles:    profiles,
		Credentials: keyring.New(keyring.DefaultService, cfg.Dir()),
		Catalog:     catalog,
		Config:      cfg,
		Controller:  vpn.NewFileController(filepath.Join(cfg.Dir(), common.TunnelsDirName)),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize VPN manager: %w", err)
	}

	return &CLI{
		cfg:     cfg,
		manager: manager,
		store:   store,
		out:     out,
	}, nil
}

// loadCatalog reads the stored catalog, importing the configured source
// file first when the store is still empty.
func loadCatalog(ctx context.Context, cfg *config.Config, store *provider.Store) (*provider.Catalog, error) {
	names, err := store.Providers(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 && cfg.CatalogSource != "" {
		common.LogInfo("Importing provider catalog from %s", cfg.CatalogSource)
		return provider.Import(ctx, store, cfg.CatalogSource)
	}
	return store.Load(ctx)
}

// Close releases the catalog store.
func (c *CLI) Close() error {
	return c.store.Close()
}

// Manager returns the underlying VPN manager.
func (c *CLI) Manager() *vpn.Manager {
	return c.manager
}

func (c *CLI) find(nameOrID string) (vpn.Profile, error) {
	p, err := c.manager.ProfileManager().Find(nameOrID)
	if err != nil {
		return vpn.Profile{}, fmt.Errorf("profile not found: %s: %w", nameOrID, err)
	}
	return p, nil
}

// ListProfiles lists all configured VPN profiles.
func (c *CLI) ListProfiles() error {
	profiles := c.manager.ProfileManager().List()

	if len(profiles) == 0 {
		fmt.Fprintln(c.out, "No VPN profiles configured.")
		fmt.Fprintln(c.out, "Use 'vpn-ondemand profiles add' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tON-DEMAND\tLAST USED")
	fmt.Fprintln(w, "--\t----\t--------\t---------\t---------")

	for _, profile := range profiles {
		onDemand := "No"
		if profile.OnDemand.Enabled {
			onDemand = "Yes"
		}

		lastUsed := "never"
		if !profile.LastUsed.IsZero() {
			lastUsed = formatDuration(time.Since(profile.LastUsed)) + " ago"
		}

		// Truncate ID for display
		shortID := profile.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID, profile.Header.Name, c.endpoint(profile), onDemand, lastUsed)
	}

	return w.Flush()
}

// endpoint describes where a profile connects to.
func (c *CLI) endpoint(p vpn.Profile) string {
	if !p.IsProvider() {
		if p.Host == nil {
			return "-"
		}
		target := p.Host.Remote
		if target == "" {
			target = filepath.Base(p.Host.ConfigPath)
		}
		return fmt.Sprintf("%s %s", p.Host.Protocol, target)
	}

	server := vpn.Resolve(p, c.manager.Catalog())
	if server == nil {
		return fmt.Sprintf("%s (no server)", p.Header.ProviderName)
	}
	return fmt.Sprintf("%s %s/%s", p.Header.ProviderName, server.Location.ID, server.Server.ID)
}

// AddOptions describes a new profile.
type AddOptions struct {
	Name       string
	Provider   string
	Protocol   string
	ServerID   string
	Remote     string
	ConfigPath string
	PublicKey  string
	Username   string
}

// AddProfile creates a host profile, or a provider profile when Provider
// is set.
func (c *CLI) AddProfile(opts AddOptions) (vpn.Profile, error) {
	protocol, err := provider.ParseProtocol(opts.Protocol)
	if err != nil {
		return vpn.Profile{}, err
	}

	profile := vpn.Profile{
		Header:  vpn.Header{Name: strings.TrimSpace(opts.Name), ProviderName: opts.Provider},
		Account: vpn.Account{Username: opts.Username},
	}
	if opts.Provider != "" {
		profile.Provider = &vpn.ProviderSelection{Provider: opts.Provider, Protocol: protocol}
	} else {
		profile.Host = &vpn.HostConfiguration{
			Protocol:   protocol,
			Remote:     opts.Remote,
			ConfigPath: opts.ConfigPath,
			PublicKey:  opts.PublicKey,
		}
	}

	if opts.ServerID != "" {
		if profile.Provider == nil {
			return vpn.Profile{}, fmt.Errorf("--server requires --provider")
		}
		server, ok := c.manager.Catalog().Server(opts.Provider, opts.ServerID)
		if !ok {
			return vpn.Profile{}, fmt.Errorf("%w: %s/%s", vpn.ErrServerNotFound, opts.Provider, opts.ServerID)
		}
		profile = vpn.Select(profile, *server)
	}

	stored, err := c.manager.ProfileManager().Add(profile)
	if err != nil {
		return vpn.Profile{}, err
	}

	fmt.Fprintf(c.out, "✓ Added profile %s (%s)\n", stored.Header.Name, stored.ID)
	return stored, nil
}

// RemoveProfile deletes a profile and its stored password.
func (c *CLI) RemoveProfile(nameOrID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	if err := c.manager.RemoveProfile(profile.ID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Removed profile %s\n", profile.Header.Name)
	return nil
}

// OnDemandOptions edits a profile's on-demand policy. Nil fields are left
// unchanged.
type OnDemandOptions struct {
	Enabled             *bool
	TrustMobile         *bool
	DisconnectUnmatched *bool
	Trust               []string
	Untrust             []string
	Forget              []string
}

// SetOnDemand applies opts to the profile's on-demand policy and commits it.
func (c *CLI) SetOnDemand(nameOrID string, opts OnDemandOptions) error {
	draft, err := c.find(nameOrID)
	if err != nil {
		return err
	}

	policy := &draft.OnDemand
	if opts.Enabled != nil {
		policy.Enabled = *opts.Enabled
	}
	if opts.TrustMobile != nil {
		policy.TrustMobileNetwork = *opts.TrustMobile
	}
	if opts.DisconnectUnmatched != nil {
		policy.DisconnectsIfNotMatching = *opts.DisconnectUnmatched
	}
	setTrust := func(ssids []string, trusted bool) {
		for _, ssid := range common.NormalizeStrings(ssids) {
			if policy.TrustedNetworks == nil {
				policy.TrustedNetworks = make(map[string]bool)
			}
			policy.TrustedNetworks[ssid] = trusted
		}
	}
	setTrust(opts.Trust, true)
	setTrust(opts.Untrust, false)
	for _, ssid := range opts.Forget {
		delete(policy.TrustedNetworks, strings.TrimSpace(ssid))
	}
	if len(policy.TrustedNetworks) == 0 {
		policy.TrustedNetworks = nil
	}

	changed, err := c.manager.ProfileManager().Commit(draft)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		fmt.Fprintln(c.out, "No changes.")
		return nil
	}
	fmt.Fprintf(c.out, "✓ Updated %s: %s\n", draft.Header.Name, strings.Join(changed, ", "))
	return c.ShowRules(draft.ID)
}

// ShowRules prints the compiled on-demand rules in evaluation order.
func (c *CLI) ShowRules(nameOrID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	rules, err := c.manager.Rules(profile.ID)
	if err != nil {
		return err
	}

	if len(rules) == 0 {
		fmt.Fprintf(c.out, "On-demand is disabled for %s.\n", profile.Header.Name)
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tACTION\tINTERFACE\tSSIDS")
	fmt.Fprintln(w, "-\t------\t---------\t-----")
	for i, r := range rules {
		ssids := "-"
		if len(r.SSIDs) > 0 {
			ssids = strings.Join(r.SSIDs, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.Action, r.Interface, ssids)
	}
	return w.Flush()
}

// Build prints the tunnel configuration of a profile as YAML.
func (c *CLI) Build(nameOrID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	cfg, err := c.manager.Configuration(profile.ID)
	if err != nil {
		return err
	}
	data, err := vpn.MarshalConfiguration(cfg)
	if err != nil {
		return err
	}
	_, err = c.out.Write(data)
	return err
}

// Ready hands the profile's configuration to the tunnel controller.
func (c *CLI) Ready(ctx context.Context, nameOrID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Preparing %s...\n", profile.Header.Name)
	if _, err := c.manager.MakeReady(ctx, profile.ID); err != nil {
		return err
	}

	path := filepath.Join(c.cfg.Dir(), common.TunnelsDirName, profile.ID+".yaml")
	fmt.Fprintf(c.out, "✓ %s is ready (%s)\n", profile.Header.Name, path)
	return nil
}

// Servers lists the catalog servers available to a provider profile.
// Favorites are marked with '*', the selected server with '>'.
func (c *CLI) Servers(nameOrID string, filter provider.CategoryFilter) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	categories, err := c.manager.Categories(profile.ID, filter)
	if err != nil {
		return err
	}

	if len(categories) == 0 {
		fmt.Fprintln(c.out, "No matching servers.")
		return nil
	}

	var selected string
	var favorites vpn.LocationSet
	if profile.Provider != nil {
		selected = profile.Provider.ServerID
		favorites = profile.Provider.Favorites
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tCATEGORY\tLOCATION\tCOUNTRY\tCITY\tSERVER\tHOSTNAME")
	for _, cat := range categories {
		for _, loc := range cat.Locations {
			fav := ""
			if favorites.Contains(loc.ID) {
				fav = "*"
			}
			for _, srv := range loc.Servers {
				mark := fav
				if srv.ID == selected {
					mark = ">" + mark
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					mark, cat.Name, loc.ID, loc.CountryCode, loc.City, srv.ID, srv.Hostname)
			}
		}
	}
	return w.Flush()
}

// Select points a provider profile at a catalog server.
func (c *CLI) Select(nameOrID, serverID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	updated, err := c.manager.SelectServer(profile.ID, serverID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ %s now uses %s\n", updated.Header.Name, c.endpoint(updated))
	return nil
}

// Favorite toggles a location in a provider profile's favorites.
func (c *CLI) Favorite(nameOrID, locationID string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	favorite, err := c.manager.ToggleFavorite(profile.ID, locationID)
	if err != nil {
		return err
	}
	if favorite {
		fmt.Fprintf(c.out, "★ %s added to favorites\n", locationID)
	} else {
		fmt.Fprintf(c.out, "☆ %s removed from favorites\n", locationID)
	}
	return nil
}

// SetPassword stores a profile's password in the credential store.
func (c *CLI) SetPassword(nameOrID, password string) error {
	profile, err := c.find(nameOrID)
	if err != nil {
		return err
	}
	if err := c.manager.StorePassword(profile.ID, password); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Password saved for %s\n", profile.Header.Name)
	return nil
}

// ImportCatalog replaces the stored catalog entries of every provider in
// the YAML file at path.
func (c *CLI) ImportCatalog(ctx context.Context, path string) error {
	imported, err := provider.Import(ctx, c.store, path)
	if err != nil {
		return err
	}
	catalog, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.manager.SetCatalog(catalog)

	for _, name := range imported.Providers() {
		infra, _ := imported.Infrastructure(name)
		fmt.Fprintf(c.out, "✓ Imported %s (%d categories)\n", name, len(infra.Categories))
	}
	return nil
}

// WatchCatalog re-imports path whenever it changes until ctx is done.
func (c *CLI) WatchCatalog(ctx context.Context, path string) error {
	if path == "" {
		path = c.cfg.CatalogSource
	}
	if path == "" {
		return fmt.Errorf("no catalog source given and catalog_source is not configured")
	}

	watcher, err := provider.NewWatcher(c.store, path, func(catalog *provider.Catalog, err error) {
		if err != nil {
			common.LogError("Catalog reload failed: %v", err)
			return
		}
		c.manager.SetCatalog(catalog)
		fmt.Fprintf(c.out, "✓ Catalog reloaded: %s\n", strings.Join(catalog.Providers(), ", "))
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Watching %s (Ctrl+C to stop)\n", path)
	return watcher.Run(ctx)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
