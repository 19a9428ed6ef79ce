package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yllada/vpn-ondemand/common"
	"github.com/yllada/vpn-ondemand/config"
	"github.com/yllada/vpn-ondemand/provider"
)

// BuildInfo is injected by main at link time.
type BuildInfo struct {
	Version string
	Time    string
	Commit  string
}

// NewRootCommand builds the command tree. Every command except version
// opens the stores in its pre-run hook and closes them when its run
// returns, including on error.
func NewRootCommand(info BuildInfo) *cobra.Command {
	root, _ := newRootCommand(info)
	return root
}

// newRootCommand also returns an accessor for the CLI opened by the last
// pre-run hook.
func newRootCommand(info BuildInfo) (*cobra.Command, func() *CLI) {
	var (
		configPath string
		verbose    bool
		app        *CLI
	)

	root := &cobra.Command{
		Use:           "vpn-ondemand",
		Short:         "Build on-demand VPN tunnel configurations from profiles",
		Long:          "vpn-ondemand turns VPN profiles (account, network settings, trusted networks, provider server selection) into tunnel configurations with ordered on-demand rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipSetup"] == "true" {
				return nil
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg, verbose); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: Could not initialize file logging: %v\n", err)
			}

			app, err = New(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.config/vpn-ondemand/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	cli := func() *CLI { return app }
	root.AddCommand(
		newProfilesCommand(cli),
		newOnDemandCommand(cli),
		newRulesCommand(cli),
		newBuildCommand(cli),
		newReadyCommand(cli),
		newServersCommand(cli),
		newSelectCommand(cli),
		newFavoriteCommand(cli),
		newPasswordCommand(cli),
		newCatalogCommand(cli),
		newVersionCommand(info),
	)
	var closed *CLI
	closeAfterRun(root, func() error {
		if app == nil || app == closed {
			return nil
		}
		closed = app
		return app.Close()
	})
	return root, cli
}

// closeAfterRun wraps the RunE of cmd and its subcommands so closeApp runs
// once the command returns. Cobra skips post-run hooks on error.
func closeAfterRun(cmd *cobra.Command, closeApp func() error) {
	for _, sub := range cmd.Commands() {
		closeAfterRun(sub, closeApp)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := closeApp(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func setupLogging(cfg *config.Config, verbose bool) error {
	level := cfg.Level()
	if verbose {
		level = common.LevelDebug
	}
	return common.InitLogger(common.LogConfig{
		Level:       level,
		EnableFile:  cfg.LogToFile,
		Dir:         filepath.Join(cfg.Dir(), "logs"),
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	})
}

func newProfilesCommand(cli func() *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"ls"},
		Short:   "List VPN profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().ListProfiles()
		},
	}

	var opts AddOptions
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a host or provider profile",
		Long:  "Adds a manually configured profile (--remote / --config-path) or, with --provider, a profile backed by the provider catalog.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			_, err := cli().AddProfile(opts)
			return err
		},
	}
	add.Flags().StringVar(&opts.Provider, "provider", "", "Provider name from the catalog")
	add.Flags().StringVar(&opts.Protocol, "protocol", "openvpn", "Protocol: openvpn or wireguard")
	add.Flags().StringVar(&opts.ServerID, "server", "", "Initial catalog server id (provider profiles)")
	add.Flags().StringVar(&opts.Remote, "remote", "", "Server host[:port] (host profiles)")
	add.Flags().StringVar(&opts.ConfigPath, "config-path", "", "OpenVPN configuration file (host profiles)")
	add.Flags().StringVar(&opts.PublicKey, "public-key", "", "WireGuard peer public key (host profiles)")
	add.Flags().StringVar(&opts.Username, "username", "", "Account username")

	remove := &cobra.Command{
		Use:     "remove <profile>",
		Aliases: []string{"rm"},
		Short:   "Remove a profile and its stored password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().RemoveProfile(args[0])
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func newOnDemandCommand(cli func() *CLI) *cobra.Command {
	var (
		enable, disable, mobile, noMobile, disconnect, keep bool
		opts                                               OnDemandOptions
	)
	cmd := &cobra.Command{
		Use:   "ondemand <profile>",
		Short: "Edit the on-demand policy of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Enabled = flagPair(enable, disable)
			opts.TrustMobile = flagPair(mobile, noMobile)
			opts.DisconnectUnmatched = flagPair(disconnect, keep)
			return cli().SetOnDemand(args[0], opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&enable, "enable", false, "Enable on-demand")
	f.BoolVar(&disable, "disable", false, "Disable on-demand")
	f.BoolVar(&mobile, "trust-mobile", false, "Connect on cellular networks")
	f.BoolVar(&noMobile, "no-trust-mobile", false, "Do not connect on cellular networks")
	f.BoolVar(&disconnect, "disconnect-unmatched", false, "Disconnect on networks no rule matches")
	f.BoolVar(&keep, "keep-unmatched", false, "Keep the tunnel state on networks no rule matches")
	f.StringSliceVar(&opts.Trust, "trust", nil, "Wi-Fi SSIDs to connect on")
	f.StringSliceVar(&opts.Untrust, "untrust", nil, "Wi-Fi SSIDs to keep but not connect on")
	f.StringSliceVar(&opts.Forget, "forget", nil, "Wi-Fi SSIDs to remove")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.MarkFlagsMutuallyExclusive("trust-mobile", "no-trust-mobile")
	cmd.MarkFlagsMutuallyExclusive("disconnect-unmatched", "keep-unmatched")
	return cmd
}

// flagPair turns an on/off flag pair into an optional value.
func flagPair(on, off bool) *bool {
	switch {
	case on:
		v := true
		return &v
	case off:
		v := false
		return &v
	default:
		return nil
	}
}

func newRulesCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "rules <profile>",
		Short: "Show the compiled on-demand rules in evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().ShowRules(args[0])
		},
	}
}

func newBuildCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "build <profile>",
		Short: "Print the tunnel configuration of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().Build(args[0])
		},
	}
}

func newReadyCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <profile>",
		Short: "Hand the tunnel configuration to the tunnel service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().Ready(cmd.Context(), args[0])
		},
	}
}

func newServersCommand(cli func() *CLI) *cobra.Command {
	var filter provider.CategoryFilter
	cmd := &cobra.Command{
		Use:   "servers <profile>",
		Short: "List catalog servers for a provider profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().Servers(args[0], filter)
		},
	}
	cmd.Flags().BoolVar(&filter.OnlyFavorites, "favorites", false, "Only favorite locations")
	cmd.Flags().StringVar(&filter.CountryCode, "country", "", "Only locations in this country code")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Filter locations by id, city or country")
	return cmd
}

func newSelectCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "select <profile> <server-id>",
		Short: "Select the catalog server of a provider profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().Select(args[0], args[1])
		},
	}
}

func newFavoriteCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <profile> <location-id>",
		Short: "Toggle a favorite location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli().Favorite(args[0], args[1])
		},
	}
}

func newPasswordCommand(cli func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "password <profile>",
		Short: "Store the password of a profile in the keyring",
		Long:  "Reads the password without echo from the terminal, or the first line of standard input when it is not a terminal.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return cli().SetPassword(args[0], password)
		},
	}
}

func newCatalogCommand(cli func() *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the provider catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "import <file.yaml>",
			Short: "Import providers from a YAML catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cli().ImportCatalog(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "watch [file.yaml]",
			Short: "Re-import a YAML catalog whenever it changes",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var path string
				if len(args) == 1 {
					path = args[0]
				}
				return cli().WatchCatalog(cmd.Context(), path)
			},
		},
	)
	return cmd
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipSetup": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%s\n", common.AppName, info.Version)
			if info.Time != "unknown" && info.Time != "" {
				fmt.Fprintf(out, "  Build:  %s\n", info.Time)
				fmt.Fprintf(out, "  Commit: %s\n", info.Commit)
			}
		},
	}
}
