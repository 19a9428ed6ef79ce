package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-ondemand/config"
	"github.com/yllada/vpn-ondemand/provider"
	"github.com/yllada/vpn-ondemand/vpn"
)

const testCatalogYAML = `
providers:
  - provider: acme
    categories:
      - name: default
        locations:
          - id: NYC
            country_code: US
            city: New York
            servers:
              - id: srv-7
                hostname: nyc7.acme.example
                protocols: [wireguard, openvpn]
                public_key: bW9jay1wdWJsaWMta2V5
          - id: FRA
            country_code: DE
            city: Frankfurt
            servers:
              - id: srv-3
                hostname: fra3.acme.example
                protocols: [openvpn]
`

func writeTestConfig(t *testing.T, withSource bool) string {
	t.Helper()
	dir := t.TempDir()

	content := "log_to_file: false\n"
	if withSource {
		source := filepath.Join(dir, "catalog.yaml")
		if err := os.WriteFile(source, []byte(testCatalogYAML), 0600); err != nil {
			t.Fatal(err)
		}
		content += "catalog_source: " + source + "\n"
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	keyring.MockInit()

	cfg, err := config.Load(writeTestConfig(t, true))
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	var out bytes.Buffer
	c, err := New(context.Background(), cfg, &out)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, &out
}

func TestCLI_ProviderWorkflow(t *testing.T) {
	c, out := newTestCLI(t)

	if err := c.ListProfiles(); err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if !strings.Contains(out.String(), "No VPN profiles configured.") {
		t.Errorf("empty list output = %q", out.String())
	}

	p, err := c.AddProfile(AddOptions{Name: "Acme", Provider: "acme", Protocol: "wg", ServerID: "srv-7", Username: "alice"})
	if err != nil {
		t.Fatalf("AddProfile() error = %v", err)
	}
	if p.Provider == nil || p.Provider.ServerID != "srv-7" {
		t.Fatalf("Provider = %+v, want srv-7 selected", p.Provider)
	}

	out.Reset()
	if err := c.ListProfiles(); err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if !strings.Contains(out.String(), "acme NYC/srv-7") {
		t.Errorf("ListProfiles() output = %q, want endpoint acme NYC/srv-7", out.String())
	}

	if err := c.Favorite("acme", "NYC"); err != nil {
		t.Fatalf("Favorite() error = %v", err)
	}
	out.Reset()
	if err := c.Servers("acme", provider.CategoryFilter{OnlyFavorites: true}); err != nil {
		t.Fatalf("Servers() error = %v", err)
	}
	if !strings.Contains(out.String(), ">*") || strings.Contains(out.String(), "srv-3") {
		t.Errorf("Servers(favorites) output = %q", out.String())
	}

	enabled := true
	out.Reset()
	err = c.SetOnDemand("acme", OnDemandOptions{Enabled: &enabled, Trust: []string{"home", " "}, DisconnectUnmatched: &enabled})
	if err != nil {
		t.Fatalf("SetOnDemand() error = %v", err)
	}
	if !strings.Contains(out.String(), "on_demand") || !strings.Contains(out.String(), "disconnect") {
		t.Errorf("SetOnDemand() output = %q", out.String())
	}

	out.Reset()
	if err := c.Build("acme"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, want := range []string{"server_address: nyc7.acme.example:51820", "on_demand_enabled: true", "username: alice"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Build() output missing %q:\n%s", want, out.String())
		}
	}

	if err := c.Ready(context.Background(), "acme"); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.cfg.Dir(), "tunnels", p.ID+".yaml")); err != nil {
		t.Errorf("tunnel file not written: %v", err)
	}

	if err := c.Select("acme", "srv-404"); err == nil {
		t.Error("Select() of an unknown server should fail")
	}
}

func TestCLI_AddProfileUnknownServer(t *testing.T) {
	c, _ := newTestCLI(t)

	_, err := c.AddProfile(AddOptions{Name: "Work", Provider: "acme", Protocol: "wg", ServerID: "srv-missing"})
	if !errors.Is(err, vpn.ErrServerNotFound) {
		t.Errorf("AddProfile() error = %v, want ErrServerNotFound", err)
	}
	if _, err := c.AddProfile(AddOptions{Name: "Lab", Protocol: "openvpn", Remote: "lab.example", ServerID: "srv-7"}); err == nil {
		t.Error("AddProfile() with a server but no provider should fail")
	}
	if got := c.Manager().ProfileManager().List(); len(got) != 0 {
		t.Errorf("profiles stored after failed adds = %d, want 0", len(got))
	}
}

func TestCLI_PasswordAndRemove(t *testing.T) {
	c, out := newTestCLI(t)

	p, err := c.AddProfile(AddOptions{Name: "Office", Protocol: "openvpn", Remote: "vpn.example.com"})
	if err != nil {
		t.Fatalf("AddProfile() error = %v", err)
	}

	password, err := readPassword(strings.NewReader("s3cret\n"), out)
	if err != nil {
		t.Fatalf("readPassword() error = %v", err)
	}
	if err := c.SetPassword("office", password); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}

	out.Reset()
	if err := c.Build("office"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(out.String(), "password_reference: keyring://vpn-ondemand/"+p.ID) {
		t.Errorf("Build() output missing the credential reference:\n%s", out.String())
	}
	if strings.Contains(out.String(), "s3cret") {
		t.Error("Build() output contains the password")
	}

	if err := c.RemoveProfile("office"); err != nil {
		t.Fatalf("RemoveProfile() error = %v", err)
	}
	if err := c.Build("office"); err == nil {
		t.Error("Build() after removal should fail")
	}
}

func TestReadPassword_Empty(t *testing.T) {
	if _, err := readPassword(strings.NewReader("\n"), &bytes.Buffer{}); err == nil {
		t.Error("readPassword() should reject an empty password")
	}
}

func TestRootCommand(t *testing.T) {
	keyring.MockInit()
	configPath := writeTestConfig(t, true)

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		root := NewRootCommand(BuildInfo{Version: "1.2.3", Time: "unknown"})
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--config", configPath}, args...))
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	got, err := run("version")
	if err != nil || !strings.Contains(got, "v1.2.3") {
		t.Errorf("version = %q, %v", got, err)
	}

	if _, err := run("profiles", "add", "Home", "--protocol", "wireguard", "--remote", "home.example:51000", "--public-key", "key"); err != nil {
		t.Fatalf("profiles add error = %v", err)
	}
	if _, err := run("ondemand", "home", "--enable", "--trust-mobile"); err != nil {
		t.Fatalf("ondemand error = %v", err)
	}

	got, err = run("rules", "home")
	if err != nil {
		t.Fatalf("rules error = %v", err)
	}
	if !strings.Contains(got, "cellular") {
		t.Errorf("rules output = %q, want a cellular rule", got)
	}

	if _, err := run("ondemand", "home", "--enable", "--disable"); err == nil {
		t.Error("mutually exclusive flags should fail")
	}
	if _, err := run("build", "missing"); err == nil {
		t.Error("build of a missing profile should fail")
	}
}

func TestRootCommand_ClosesStoreOnError(t *testing.T) {
	keyring.MockInit()
	root, app := newRootCommand(BuildInfo{Version: "dev"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeTestConfig(t, true), "build", "missing"})

	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("build of a missing profile should fail")
	}
	if app() == nil {
		t.Fatal("CLI was not opened")
	}
	if _, err := app().store.Providers(context.Background()); err == nil {
		t.Error("catalog store still open after a failed command")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}
