package provider

// schema contains the catalog tables. Each statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS providers (
    name        TEXT    PRIMARY KEY,
    description TEXT    NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TABLE IF NOT EXISTS categories (
    provider TEXT NOT NULL REFERENCES providers(name) ON DELETE CASCADE,
    name     TEXT NOT NULL,
    PRIMARY KEY (provider, name)
);

CREATE TABLE IF NOT EXISTS locations (
    provider     TEXT NOT NULL,
    id           TEXT NOT NULL,
    category     TEXT NOT NULL,
    country_code TEXT NOT NULL DEFAULT '',
    city         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (provider, id),
    FOREIGN KEY (provider, category) REFERENCES categories(provider, name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS servers (
    provider   TEXT    NOT NULL,
    id         TEXT    NOT NULL,
    location   TEXT    NOT NULL,
    hostname   TEXT    NOT NULL,
    addresses  TEXT    NOT NULL DEFAULT '',
    port       INTEGER NOT NULL DEFAULT 0,
    protocols  TEXT    NOT NULL DEFAULT '',
    public_key TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (provider, id),
    FOREIGN KEY (provider, location) REFERENCES locations(provider, id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_servers_location
    ON servers (provider, location);
`
