package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the runtime configuration for a scan run.
type Config struct {
	Port        int
	Concurrency int
	ScanTimeout time.Duration
	Logger      *zap.Logger
}

const totalStages = 2

// Run executes the cipher-scanning pipeline across every host in the store.
//
// Each host is one unit of work: skip-check, scan, parse, persist. A unit
// either completes in full or fails in isolation; one host's failure never
// aborts its siblings. Only a missing scan capability or an unusable store
// terminates the run. A host whose report holds zero accepted ciphers gets
// no rows at all, so it stays re-scan-eligible on later runs.
func Run(ctx context.Context, cfg Config, stages Stages, progress ProgressReporter) (*RunResult, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := stages.Scanner.CheckAvailable(); err != nil {
		return nil, err
	}

	result := &RunResult{
		StartedAt: time.Now(),
	}

	// Stage 1: load candidate hosts on the orchestrator's own handle.
	progress.Stage(1, totalStages, "Loading candidate hosts...")
	hosts, err := loadHosts(ctx, stages.Store)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	result.Summary.HostsTotal = len(hosts)
	if len(hosts) == 0 {
		progress.Detail("No hosts in the store; run discover first")
		return finish(result), nil
	}
	progress.Detail(fmt.Sprintf("%d candidate hosts", len(hosts)))

	workers := cfg.Concurrency
	if workers > len(hosts) {
		workers = len(hosts)
	}
	if workers < 1 {
		workers = 1
	}

	// Stage 2: fan out. Hosts are partitioned by the work channel, so no
	// two workers in this run ever race on the same host.
	progress.Stage(2, totalStages, fmt.Sprintf("Scanning %d hosts with %d workers...", len(hosts), workers))

	work := make(chan string, len(hosts))
	for _, h := range hosts {
		work <- h
	}
	close(work)

	var (
		mu   sync.Mutex
		done int
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// One independent store handle per worker for its lifetime.
			// The store forbids sharing a handle across concurrent units.
			st, err := stages.Store.Open(ctx)
			if err != nil {
				log.Warn("worker store open failed", zap.Error(err))
				for host := range work {
					record(&mu, result, progress, &done, HostResult{
						Host:  host,
						Error: fmt.Sprintf("open store: %v", err),
					})
				}
				return
			}
			defer st.Close()

			for host := range work {
				select {
				case <-ctx.Done():
					record(&mu, result, progress, &done, HostResult{
						Host:  host,
						Error: ctx.Err().Error(),
					})
					continue
				default:
				}

				hr := processHost(ctx, cfg, stages, st, host)
				if hr.Failed() {
					log.Warn("host scan failed", zap.String("host", host), zap.String("error", hr.Error))
				}
				record(&mu, result, progress, &done, hr)
			}
		}()
	}

	wg.Wait()
	return finish(result), nil
}

// processHost runs one host's unit of work against the worker's own handle.
func processHost(ctx context.Context, cfg Config, stages Stages, st HostStore, host string) HostResult {
	hr := HostResult{Host: host}

	skip, err := st.SkipEligible(ctx, host)
	if err != nil {
		hr.Error = fmt.Sprintf("skip check: %v", err)
		return hr
	}
	if skip {
		hr.Skipped = true
		return hr
	}

	scanCtx := ctx
	if cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, cfg.ScanTimeout)
		defer cancel()
	}

	report, err := stages.Scanner.Scan(scanCtx, host, cfg.Port)
	if err != nil {
		hr.Error = fmt.Sprintf("scan: %v", err)
		return hr
	}

	records, err := stages.Parser.Parse(report)
	if err != nil {
		hr.Error = fmt.Sprintf("parse report: %v", err)
		return hr
	}
	if len(records) == 0 {
		// Scanned, nothing found. No rows are written, which also means
		// the skip policy will not apply to this host next run.
		return hr
	}

	if err := st.UpsertCiphers(ctx, records); err != nil {
		hr.Error = fmt.Sprintf("upsert ciphers: %v", err)
		return hr
	}
	if err := st.LinkHostCiphers(ctx, host, records); err != nil {
		hr.Error = fmt.Sprintf("link ciphers: %v", err)
		return hr
	}

	hr.Ciphers = len(records)
	return hr
}

// record collects a host outcome and emits its per-host progress line.
func record(mu *sync.Mutex, result *RunResult, progress ProgressReporter, done *int, hr HostResult) {
	mu.Lock()
	result.Hosts = append(result.Hosts, hr)
	tally(&result.Summary, hr)
	*done++
	n, total := *done, result.Summary.HostsTotal
	mu.Unlock()

	switch {
	case hr.Failed():
		progress.Host(n, total, fmt.Sprintf("%s - Failed: %s", hr.Host, hr.Error))
	case hr.Skipped:
		progress.Host(n, total, fmt.Sprintf("%s - Skipped (already processed)", hr.Host))
	case hr.Ciphers == 0:
		progress.Host(n, total, fmt.Sprintf("%s - No accepted ciphers", hr.Host))
	default:
		progress.Host(n, total, fmt.Sprintf("%s - %d ciphers", hr.Host, hr.Ciphers))
	}
}

func tally(s *Summary, hr HostResult) {
	switch {
	case hr.Failed():
		s.Failed++
	case hr.Skipped:
		s.Skipped++
	case hr.Ciphers == 0:
		s.Scanned++
		s.NoCiphers++
	default:
		s.Scanned++
		s.CiphersLinked += hr.Ciphers
	}
}

func loadHosts(ctx context.Context, opener StoreOpener) ([]string, error) {
	st, err := opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.ListHosts(ctx)
}

func finish(result *RunResult) *RunResult {
	result.CompletedAt = time.Now()
	result.DurationSecs = result.CompletedAt.Sub(result.StartedAt).Seconds()
	return result
}
