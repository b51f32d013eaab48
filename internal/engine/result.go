// Package engine orchestrates the cipher-scanning pipeline.
package engine

import (
	"context"
	"time"
)

// RunResult is the top-level output of a scan run.
type RunResult struct {
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  time.Time    `json:"completed_at"`
	DurationSecs float64      `json:"duration_secs"`
	Hosts        []HostResult `json:"hosts"`
	Summary      Summary      `json:"summary"`
}

// CipherRecord is one accepted or preferred cipher suite from a scan report.
// The ID is the scanner-assigned stable identifier and is the only identity
// key; version, name and bits are carried as reported, empty when absent.
type CipherRecord struct {
	ID         string `json:"id"`
	SSLVersion string `json:"sslversion"`
	Name       string `json:"cipher"`
	Bits       string `json:"bits"`
	Status     string `json:"status"`
}

// HostResult is the outcome of one host's unit of work.
type HostResult struct {
	Host    string `json:"host"`
	Skipped bool   `json:"skipped,omitempty"`
	Ciphers int    `json:"ciphers"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the host's unit ended in error.
func (h HostResult) Failed() bool {
	return h.Error != ""
}

// Summary provides aggregate counts for the run.
type Summary struct {
	HostsTotal    int `json:"hosts_total"`
	Scanned       int `json:"scanned"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	NoCiphers     int `json:"no_ciphers"`
	CiphersLinked int `json:"ciphers_linked"`
}

// HostScanner invokes the external TLS-probing capability for one host.
type HostScanner interface {
	// CheckAvailable verifies the capability exists. Failure is fatal for
	// the whole run: no host can be scanned without it.
	CheckAvailable() error
	// Scan probes host:port and returns the raw structured report.
	Scan(ctx context.Context, host string, port int) ([]byte, error)
}

// ReportParser extracts accepted cipher records from a raw scan report.
// A well-formed report with zero accepted entries yields an empty slice,
// not an error.
type ReportParser interface {
	Parse(report []byte) ([]CipherRecord, error)
}

// HostStore is the persistence surface one unit of work operates on.
type HostStore interface {
	// ListHosts returns every candidate hostname known to the store.
	ListHosts(ctx context.Context) ([]string, error)
	// SkipEligible reports whether the host already has at least one
	// cipher association and its parent TLD's skip_existing flag is set.
	SkipEligible(ctx context.Context, host string) (bool, error)
	// UpsertCiphers inserts each distinct cipher identity, ignoring
	// duplicates keyed by cipher ID.
	UpsertCiphers(ctx context.Context, records []CipherRecord) error
	// LinkHostCiphers resolves or creates the host row and inserts each
	// (host, cipher) association, ignoring duplicate pairs.
	LinkHostCiphers(ctx context.Context, host string, records []CipherRecord) error
	Close() error
}

// StoreOpener yields an independent store handle. Each concurrent unit of
// work must acquire its own handle; handles are never shared across workers.
type StoreOpener interface {
	Open(ctx context.Context) (HostStore, error)
}

// Stages holds the injectable stage implementations.
type Stages struct {
	Scanner HostScanner
	Parser  ReportParser
	Store   StoreOpener
}

// ProgressReporter is called by the engine to report progress.
type ProgressReporter interface {
	Stage(num, total int, msg string)
	Host(done, total int, msg string)
	Detail(msg string)
	Warn(msg string)
}
