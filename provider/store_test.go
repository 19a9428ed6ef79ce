package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/yllada/vpn-ondemand/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore(:memory:) error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	cat := mustCatalog(t)

	if err := store.Save(ctx, cat); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cat.Infrastructures(), loaded.Infrastructures()) {
		t.Errorf("Load() = %+v\nwant %+v", loaded.Infrastructures(), cat.Infrastructures())
	}

	names, err := store.Providers(ctx)
	if err != nil || !reflect.DeepEqual(names, []string{"acme", "zeta"}) {
		t.Errorf("Providers() = %v, %v", names, err)
	}
}

func TestStore_SaveReplacesProvider(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Save(ctx, mustCatalog(t)); err != nil {
		t.Fatal(err)
	}

	rotated, err := NewCatalog(Infrastructure{
		Provider: "acme",
		Categories: []Category{{
			Name: "default",
			Locations: []Location{{
				ID: "us-nyc", CountryCode: "US",
				Servers: []Server{{ID: "srv-70", Hostname: "nyc70.acme.example", Protocols: []Protocol{ProtocolWireGuard}}},
			}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, rotated); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded.Server("acme", "srv-7"); ok {
		t.Error("rotated server id should be gone")
	}
	if _, ok := loaded.Server("acme", "srv-70"); !ok {
		t.Error("new server id should be present")
	}
	if _, ok := loaded.Server("zeta", "z1"); !ok {
		t.Error("providers absent from the saved catalog must be kept")
	}
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if err := store.Save(ctx, mustCatalog(t)); err != nil {
		t.Fatal(err)
	}

	if err := store.Remove(ctx, "acme"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	var servers int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM servers WHERE provider = 'acme'`).Scan(&servers); err != nil {
		t.Fatal(err)
	}
	if servers != 0 {
		t.Errorf("servers left after Remove = %d, want 0", servers)
	}
	if err := store.Remove(ctx, "acme"); !errors.Is(err, common.ErrUnknownProvider) {
		t.Errorf("second Remove() error = %v, want ErrUnknownProvider", err)
	}
}

func TestOpenStore_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	if err := store.Save(ctx, mustCatalog(t)); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	cat, err := reopened.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cat.Server("acme", "srv-7"); !ok {
		t.Error("catalog should survive reopening")
	}
}

func TestImportAndWatch(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(source, []byte(sampleCatalog), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := openTestStore(t)

	if _, err := Import(ctx, store, source); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	reloaded := make(chan *Catalog, 4)
	w, err := NewWatcher(store, source, func(c *Catalog, err error) {
		if err == nil {
			reloaded <- c
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 20 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	updated := `
providers:
  - provider: acme
    categories:
      - name: default
        locations:
          - id: us-nyc
            country_code: US
            servers:
              - id: srv-70
                hostname: nyc70.acme.example
                protocols: [wireguard]
`
	if err := os.WriteFile(source, []byte(updated), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if _, ok := c.Server("acme", "srv-70"); !ok {
			t.Error("reloaded catalog should contain srv-70")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the catalog")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded.Server("acme", "srv-70"); !ok {
		t.Error("store should hold the reloaded catalog")
	}
}
