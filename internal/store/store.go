// Package store persists discovered domains and observed cipher suites in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vulnverified/ciphersweep/internal/engine"

	_ "modernc.org/sqlite"
)

// Store is one independent handle on the database. Concurrent units of work
// must each open their own Store; a handle is never shared across workers.
type Store struct {
	db *sql.DB
}

// TLD is one parent domain seeded for discovery.
type TLD struct {
	ID              int64
	Name            string
	KnownSubdomains string
	SkipExisting    bool
}

const schema = `
CREATE TABLE IF NOT EXISTS tlds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	known_subdomains TEXT DEFAULT '',
	skip_existing INTEGER DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS domain_names (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tld_id INTEGER,
	name_value TEXT NOT NULL UNIQUE,
	resolver_answer TEXT DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (tld_id) REFERENCES tlds (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ciphers (
	cipher_id TEXT PRIMARY KEY,
	sslversion TEXT NOT NULL,
	cipher_name TEXT NOT NULL,
	bits TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS domain_ciphers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain_id INTEGER,
	cipher_id TEXT,
	UNIQUE (domain_id, cipher_id),
	FOREIGN KEY (domain_id) REFERENCES domain_names (id) ON DELETE CASCADE,
	FOREIGN KEY (cipher_id) REFERENCES ciphers (cipher_id) ON DELETE CASCADE
);
`

// Open opens a handle on the database at path and ensures the schema exists.
// The handle is pinned to a single underlying connection so that "one handle
// per unit of work" really means one connection per unit of work.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the handle's connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Opener implements engine.StoreOpener, handing each unit of work its own
// independent handle on the same database file.
type Opener struct {
	Path string
}

// Open opens a fresh handle.
func (o *Opener) Open(ctx context.Context) (engine.HostStore, error) {
	_ = ctx
	return Open(o.Path)
}

// EnsureTLD inserts a TLD seed, ignoring it when the name is already known.
func (s *Store) EnsureTLD(ctx context.Context, name, knownSubdomains string, skipExisting bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tlds (name, known_subdomains, skip_existing)
		VALUES (?, ?, ?)
	`, name, knownSubdomains, boolToInt(skipExisting))
	if err != nil {
		return fmt.Errorf("ensure tld %s: %w", name, err)
	}
	return nil
}

// ListTLDs returns all seeded parent domains.
func (s *Store) ListTLDs(ctx context.Context) ([]TLD, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, known_subdomains, skip_existing FROM tlds
	`)
	if err != nil {
		return nil, fmt.Errorf("query tlds: %w", err)
	}
	defer rows.Close()

	var tlds []TLD
	for rows.Next() {
		var t TLD
		var skip int
		if err := rows.Scan(&t.ID, &t.Name, &t.KnownSubdomains, &skip); err != nil {
			return nil, fmt.Errorf("scan tld: %w", err)
		}
		t.SkipExisting = skip != 0
		tlds = append(tlds, t)
	}
	return tlds, rows.Err()
}

// CountDomains returns the number of domain rows under a TLD.
func (s *Store) CountDomains(ctx context.Context, tldID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM domain_names WHERE tld_id = ?
	`, tldID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count domains: %w", err)
	}
	return n, nil
}

// InsertDomain records a discovered hostname under a TLD, ignoring
// duplicates. The resolver answer is stored as an opaque payload.
func (s *Store) InsertDomain(ctx context.Context, tldID int64, name, resolverAnswer string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO domain_names (tld_id, name_value, resolver_answer)
		VALUES (?, ?, ?)
	`, tldID, name, resolverAnswer)
	if err != nil {
		return fmt.Errorf("insert domain %s: %w", name, err)
	}
	return nil
}

// ListHosts returns every candidate hostname known to the store.
func (s *Store) ListHosts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name_value FROM domain_names`)
	if err != nil {
		return nil, fmt.Errorf("query hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// SkipEligible reports whether a host already has at least one cipher
// association and its parent TLD's skip_existing flag is set. Hosts without
// a TLD row never match, and neither do hosts whose scans found nothing.
func (s *Store) SkipEligible(ctx context.Context, host string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM domain_ciphers dc
		LEFT JOIN domain_names dn ON dc.domain_id = dn.id
		LEFT JOIN tlds t ON dn.tld_id = t.id
		WHERE dn.name_value = ? AND t.skip_existing = 1
	`, host).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("skip check for %s: %w", host, err)
	}
	return n > 0, nil
}

// UpsertCiphers inserts each distinct cipher identity, ignoring duplicates
// keyed by the scanner-assigned cipher id. Existing rows are never updated;
// the status column keeps the status under which the cipher was first seen.
func (s *Store) UpsertCiphers(ctx context.Context, records []engine.CipherRecord) error {
	stmt, err := s.db.PrepareContext(ctx, `
		INSERT OR IGNORE INTO ciphers (cipher_id, sslversion, cipher_name, bits, status)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare cipher insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.SSLVersion, r.Name, r.Bits, r.Status); err != nil {
			return fmt.Errorf("insert cipher %s: %w", r.ID, err)
		}
	}
	return nil
}

// LinkHostCiphers resolves or creates the host's domain row, then inserts
// each (host, cipher) association, ignoring duplicate pairs. Safe to call
// repeatedly with identical inputs.
func (s *Store) LinkHostCiphers(ctx context.Context, host string, records []engine.CipherRecord) error {
	domainID, err := s.resolveDomainID(ctx, host)
	if err != nil {
		return err
	}

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT OR IGNORE INTO domain_ciphers (domain_id, cipher_id)
		VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare association insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, domainID, r.ID); err != nil {
			return fmt.Errorf("link %s to cipher %s: %w", host, r.ID, err)
		}
	}
	return nil
}

// resolveDomainID finds the host's row id, creating the row if the host is
// unknown. Created rows carry no TLD; host identity is otherwise owned by
// the discovery producer.
func (s *Store) resolveDomainID(ctx context.Context, host string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM domain_names WHERE name_value = ?
	`, host).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("resolve domain %s: %w", host, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_names (name_value) VALUES (?)
	`, host)
	if err != nil {
		return 0, fmt.Errorf("create domain %s: %w", host, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create domain %s: %w", host, err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
