package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vulnverified/ciphersweep/internal/engine"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func (s *Store) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func cipherC1() engine.CipherRecord {
	return engine.CipherRecord{
		ID:         "C1",
		SSLVersion: "TLSv1.2",
		Name:       "ECDHE-RSA-AES256-GCM-SHA384",
		Bits:       "256",
		Status:     "preferred",
	}
}

func TestUpsertCiphers_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}
	for i := 0; i < 2; i++ {
		if err := s.UpsertCiphers(ctx, records); err != nil {
			t.Fatalf("upsert %d: %v", i+1, err)
		}
	}

	if n := s.count(t, `SELECT COUNT(*) FROM ciphers`); n != 1 {
		t.Errorf("cipher rows = %d, want 1", n)
	}

	// First observation wins; the row is never updated.
	var status string
	if err := s.db.QueryRow(`SELECT status FROM ciphers WHERE cipher_id = 'C1'`).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "preferred" {
		t.Errorf("status = %q, want %q", status, "preferred")
	}
}

func TestLinkHostCiphers_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := s.LinkHostCiphers(ctx, "a.example.com", records); err != nil {
			t.Fatalf("link %d: %v", i+1, err)
		}
	}

	if n := s.count(t, `SELECT COUNT(*) FROM domain_ciphers`); n != 1 {
		t.Errorf("association rows = %d, want 1 (at most one per host-cipher pair)", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM domain_names WHERE name_value = 'a.example.com'`); n != 1 {
		t.Errorf("domain rows = %d, want 1", n)
	}
}

func TestLinkHostCiphers_CreatesUnknownHost(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkHostCiphers(ctx, "new.example.com", records); err != nil {
		t.Fatal(err)
	}

	// Created without a TLD; discovery owns TLD attribution.
	var tldID any
	err := s.db.QueryRow(`SELECT tld_id FROM domain_names WHERE name_value = 'new.example.com'`).Scan(&tldID)
	if err != nil {
		t.Fatalf("host row not created: %v", err)
	}
	if tldID != nil {
		t.Errorf("tld_id = %v, want NULL", tldID)
	}
}

func TestScenario_PreferredStoredRejectedAbsent(t *testing.T) {
	// The parser has already discarded the rejected C2 entry; the store
	// must end with exactly one cipher row and one association.
	s, _ := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkHostCiphers(ctx, "a.example.com", records); err != nil {
		t.Fatal(err)
	}

	if n := s.count(t, `SELECT COUNT(*) FROM ciphers`); n != 1 {
		t.Errorf("cipher rows = %d, want 1", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM ciphers WHERE cipher_id = 'C2'`); n != 0 {
		t.Error("C2 must never appear")
	}
	if n := s.count(t, `
		SELECT COUNT(*) FROM domain_ciphers dc
		JOIN domain_names dn ON dc.domain_id = dn.id
		WHERE dn.name_value = 'a.example.com' AND dc.cipher_id = 'C1'
	`); n != 1 {
		t.Errorf("association rows = %d, want 1", n)
	}
}

func TestSkipEligible(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.EnsureTLD(ctx, "example.com", "", true); err != nil {
		t.Fatal(err)
	}
	tlds, err := s.ListTLDs(ctx)
	if err != nil || len(tlds) != 1 {
		t.Fatalf("list tlds: %v (%d)", err, len(tlds))
	}
	if err := s.InsertDomain(ctx, tlds[0].ID, "a.example.com", "[]"); err != nil {
		t.Fatal(err)
	}

	// No association yet: not skip-eligible even with the flag set.
	skip, err := s.SkipEligible(ctx, "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("host without associations must not be skip-eligible")
	}

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkHostCiphers(ctx, "a.example.com", records); err != nil {
		t.Fatal(err)
	}

	skip, err = s.SkipEligible(ctx, "a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !skip {
		t.Error("host with an association under a skip_existing TLD must be skip-eligible")
	}
}

func TestSkipEligible_FlagCleared(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.EnsureTLD(ctx, "example.org", "", false); err != nil {
		t.Fatal(err)
	}
	tlds, _ := s.ListTLDs(ctx)
	if err := s.InsertDomain(ctx, tlds[0].ID, "b.example.org", "[]"); err != nil {
		t.Fatal(err)
	}

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkHostCiphers(ctx, "b.example.org", records); err != nil {
		t.Fatal(err)
	}

	skip, err := s.SkipEligible(ctx, "b.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("cleared skip_existing flag must force a re-scan")
	}
}

func TestSkipEligible_HostWithoutTLD(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}
	if err := s.UpsertCiphers(ctx, records); err != nil {
		t.Fatal(err)
	}
	// Host created by the core itself, no TLD row.
	if err := s.LinkHostCiphers(ctx, "orphan.example.net", records); err != nil {
		t.Fatal(err)
	}

	skip, err := s.SkipEligible(ctx, "orphan.example.net")
	if err != nil {
		t.Fatal(err)
	}
	if skip {
		t.Error("host without a TLD row must not be skip-eligible")
	}
}

func TestEnsureTLD_Idempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.EnsureTLD(ctx, "example.com", "www", true); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.count(t, `SELECT COUNT(*) FROM tlds`); n != 1 {
		t.Errorf("tld rows = %d, want 1", n)
	}
}

func TestInsertDomain_DuplicateIgnored(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.EnsureTLD(ctx, "example.com", "", true); err != nil {
		t.Fatal(err)
	}
	tlds, _ := s.ListTLDs(ctx)
	for i := 0; i < 2; i++ {
		if err := s.InsertDomain(ctx, tlds[0].ID, "www.example.com", "[]"); err != nil {
			t.Fatal(err)
		}
	}

	hosts, err := s.ListHosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 {
		t.Errorf("hosts = %v, want exactly one", hosts)
	}
}

func TestConcurrentHandles_NoDuplicatePairs(t *testing.T) {
	s, path := testStore(t)
	ctx := context.Background()

	records := []engine.CipherRecord{cipherC1()}

	// Several independent handles on the same file, each its own worker,
	// mirroring how the orchestrator hands out connections.
	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h, err := Open(path)
			if err != nil {
				errs <- err
				return
			}
			defer h.Close()

			host := fmt.Sprintf("w%d.example.com", n)
			if err := h.UpsertCiphers(ctx, records); err != nil {
				errs <- err
				return
			}
			if err := h.LinkHostCiphers(ctx, host, records); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent handle: %v", err)
	}

	if n := s.count(t, `SELECT COUNT(*) FROM ciphers`); n != 1 {
		t.Errorf("cipher rows = %d, want 1", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM domain_ciphers`); n != workers {
		t.Errorf("association rows = %d, want %d", n, workers)
	}
}
