// Package main provides the entry point for vpn-ondemand.
// vpn-ondemand turns VPN profiles into platform tunnel configurations
// with ordered on-demand activation rules.
//
// Features:
//   - Profile management for host and provider profiles
//   - On-demand rules from trusted Wi-Fi and cellular networks
//   - Provider catalogs imported from YAML and stored in SQLite
//   - Secure credential storage using the system keyring
//
// Usage:
//
//	vpn-ondemand <command> [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/vpn-ondemand/cli"
	"github.com/yllada/vpn-ondemand/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	root := cli.NewRootCommand(cli.BuildInfo{
		Version: appVersion,
		Time:    buildTime,
		Commit:  commitSHA,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
