package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/yllada/vpn-ondemand/common"
)

// Store persists provider catalogs in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the catalog database at path and runs the
// schema migration. Use ":memory:" for an in-memory database.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between the CLI and the watcher.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog migration: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces, provider by provider, the stored infrastructures with the
// ones in c. Providers absent from c are left untouched.
func (s *Store) Save(ctx context.Context, c *Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, infra := range c.Infrastructures() {
		if err := saveInfrastructure(ctx, tx, infra); err != nil {
			return fmt.Errorf("saving provider %s: %w", infra.Provider, err)
		}
	}
	return tx.Commit()
}

func saveInfrastructure(ctx context.Context, tx *sql.Tx, infra Infrastructure) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE name = ?`, infra.Provider); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO providers (name, description) VALUES (?, ?)`,
		infra.Provider, infra.Description,
	); err != nil {
		return err
	}

	for _, cat := range infra.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (provider, name) VALUES (?, ?)`,
			infra.Provider, cat.Name,
		); err != nil {
			return err
		}
		for _, loc := range cat.Locations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO locations (provider, id, category, country_code, city) VALUES (?, ?, ?, ?, ?)`,
				infra.Provider, loc.ID, cat.Name, loc.CountryCode, loc.City,
			); err != nil {
				return err
			}
			for _, srv := range loc.Servers {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO servers (provider, id, location, hostname, addresses, port, protocols, public_key)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					infra.Provider, srv.ID, loc.ID, srv.Hostname,
					strings.Join(srv.Addresses, ","), srv.Port,
					joinProtocols(srv.Protocols), srv.PublicKey,
				); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Remove deletes one provider and everything below it.
func (s *Store) Remove(ctx context.Context, providerName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = ?`, providerName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", common.ErrUnknownProvider, providerName)
	}
	return nil
}

// Providers lists stored provider names in ascending order.
func (s *Store) Providers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Load reads every stored provider into a catalog snapshot.
func (s *Store) Load(ctx context.Context) (*Catalog, error) {
	infras := make(map[string]*Infrastructure)
	var order []string

	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		infra := &Infrastructure{}
		if err := rows.Scan(&infra.Provider, &infra.Description); err != nil {
			rows.Close()
			return nil, err
		}
		infras[infra.Provider] = infra
		order = append(order, infra.Provider)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type locKey struct{ provider, id string }
	categoryIndex := make(map[[2]string]int)
	locationIndex := make(map[locKey][2]int)

	rows, err = s.db.QueryContext(ctx, `SELECT provider, name FROM categories ORDER BY provider, name`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var providerName, name string
		if err := rows.Scan(&providerName, &name); err != nil {
			rows.Close()
			return nil, err
		}
		infra := infras[providerName]
		categoryIndex[[2]string{providerName, name}] = len(infra.Categories)
		infra.Categories = append(infra.Categories, Category{Name: name})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT provider, id, category, country_code, city FROM locations ORDER BY provider, id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var providerName, category string
		var loc Location
		if err := rows.Scan(&providerName, &loc.ID, &category, &loc.CountryCode, &loc.City); err != nil {
			rows.Close()
			return nil, err
		}
		ci := categoryIndex[[2]string{providerName, category}]
		cat := &infras[providerName].Categories[ci]
		locationIndex[locKey{providerName, loc.ID}] = [2]int{ci, len(cat.Locations)}
		cat.Locations = append(cat.Locations, loc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT provider, id, location, hostname, addresses, port, protocols, public_key
		 FROM servers ORDER BY provider, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var providerName, location, addresses, protocols string
		var srv Server
		if err := rows.Scan(&providerName, &srv.ID, &location, &srv.Hostname,
			&addresses, &srv.Port, &protocols, &srv.PublicKey); err != nil {
			return nil, err
		}
		idx, ok := locationIndex[locKey{providerName, location}]
		if !ok {
			return nil, errors.New("catalog store: server references a missing location")
		}
		srv.Addresses = splitList(addresses)
		srv.Protocols = splitProtocols(protocols)
		loc := &infras[providerName].Categories[idx[0]].Locations[idx[1]]
		loc.Servers = append(loc.Servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	list := make([]Infrastructure, 0, len(order))
	for _, name := range order {
		list = append(list, *infras[name])
	}
	return NewCatalog(list...)
}

func joinProtocols(ps []Protocol) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func splitProtocols(s string) []Protocol {
	parts := splitList(s)
	if parts == nil {
		return nil
	}
	out := make([]Protocol, len(parts))
	for i, p := range parts {
		out[i] = Protocol(p)
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
