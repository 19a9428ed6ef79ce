package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/vpn-ondemand/common"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AppGroup != common.DefaultAppGroup {
		t.Errorf("AppGroup = %v, want %v", cfg.AppGroup, common.DefaultAppGroup)
	}
	if cfg.Tunnel.KeepAliveSeconds != 25 {
		t.Errorf("KeepAliveSeconds = %v, want 25", cfg.Tunnel.KeepAliveSeconds)
	}
	if !common.FileExists(path) {
		t.Error("Load() should write the default configuration")
	}
	if cfg.CatalogPath() != filepath.Join(filepath.Dir(path), common.CatalogFileName) {
		t.Errorf("CatalogPath() = %v", cfg.CatalogPath())
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg.AppGroup = "group.test"
	cfg.Tunnel.KillSwitch = true
	cfg.CatalogDB = "/tmp/c.db"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AppGroup != "group.test" || !loaded.Tunnel.KillSwitch || loaded.CatalogPath() != "/tmp/c.db" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app_group: g\ntheme: dark\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, common.ErrConfigLoad) {
		t.Errorf("Load() error = %v, want ErrConfigLoad", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "blank app group falls back",
			content: "app_group: '  '\n",
			check: func(t *testing.T, c *Config) {
				if c.AppGroup != common.DefaultAppGroup {
					t.Errorf("AppGroup = %q", c.AppGroup)
				}
			},
		},
		{
			name:    "unknown log level falls back",
			content: "log_level: chatty\n",
			check: func(t *testing.T, c *Config) {
				if c.Level() != common.LevelInfo {
					t.Errorf("Level() = %v", c.Level())
				}
			},
		},
		{
			name:    "negative keep alive",
			content: "tunnel:\n  keep_alive_seconds: -1\n",
			wantErr: true,
		},
		{
			name:    "negative ready timeout",
			content: "tunnel:\n  ready_timeout_seconds: -5\n",
			wantErr: true,
		},
		{
			name:    "ready timeout",
			content: "tunnel:\n  ready_timeout_seconds: 0\n",
			check: func(t *testing.T, c *Config) {
				if got := c.Tunnel.ReadyTimeout(); got != common.ReadyTimeout {
					t.Errorf("ReadyTimeout() = %v, want %v", got, common.ReadyTimeout)
				}
				c.Tunnel.ReadyTimeoutSeconds = 5
				if got := c.Tunnel.ReadyTimeout(); got != 5*time.Second {
					t.Errorf("ReadyTimeout() = %v, want 5s", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
