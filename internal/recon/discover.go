package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vulnverified/ciphersweep/internal/engine"
	"github.com/vulnverified/ciphersweep/internal/store"
)

// Seed is one parent domain to enumerate.
type Seed struct {
	TLD             string
	KnownSubdomains []string
	SkipExisting    bool
}

// DiscoverResult summarizes one producer run.
type DiscoverResult struct {
	TLDs        int `json:"tlds"`
	SkippedTLDs int `json:"skipped_tlds"`
	Domains     int `json:"domains"`
}

// Discoverer runs the subdomain discovery producer: certificate-transparency
// enumeration per TLD, wildcard normalization, DNS resolution, and storage.
type Discoverer struct {
	Store       *store.Store
	Crtsh       *CrtshClient
	Resolver    Resolver
	Limiter     *rate.Limiter
	Concurrency int
	Progress    engine.ProgressReporter
	Logger      *zap.Logger
}

// Run seeds the TLD table and enumerates every TLD in the store. Transport
// and parse failures cost only the item they occurred on; the run continues.
func (d *Discoverer) Run(ctx context.Context, seeds []Seed) (*DiscoverResult, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for _, s := range seeds {
		known := strings.Join(s.KnownSubdomains, ",")
		if err := d.Store.EnsureTLD(ctx, s.TLD, known, s.SkipExisting); err != nil {
			return nil, err
		}
	}

	tlds, err := d.Store.ListTLDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(tlds) == 0 {
		return nil, fmt.Errorf("no TLDs to process; add seeds to the config")
	}

	result := &DiscoverResult{TLDs: len(tlds)}
	d.Progress.Stage(1, 1, fmt.Sprintf("Enumerating %d parent domains...", len(tlds)))

	for _, tld := range tlds {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		count, err := d.Store.CountDomains(ctx, tld.ID)
		if err != nil {
			return result, err
		}
		if tld.SkipExisting && count > 0 {
			result.SkippedTLDs++
			d.Progress.Detail(fmt.Sprintf("%s: skipped, already has %d domains", tld.Name, count))
			continue
		}

		added, err := d.processTLD(ctx, tld)
		if err != nil {
			// One TLD contributes nothing; keep going.
			d.Progress.Warn(fmt.Sprintf("%s: %v", tld.Name, err))
			log.Warn("tld enumeration failed", zap.String("tld", tld.Name), zap.Error(err))
			continue
		}
		result.Domains += added
		d.Progress.Detail(fmt.Sprintf("%s: %d domains", tld.Name, added))
	}

	return result, nil
}

func (d *Discoverer) processTLD(ctx context.Context, tld store.TLD) (int, error) {
	added := 0

	// Seed the operator-supplied known subdomains first.
	for _, sub := range strings.Split(tld.KnownSubdomains, ",") {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		host := sub + "." + tld.Name
		if err := d.insertResolved(ctx, tld.ID, host, d.resolveOne(ctx, host)); err != nil {
			return added, err
		}
		added++
	}

	// Pace certificate-transparency queries across TLDs.
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return added, err
		}
	}

	hosts, err := d.Crtsh.Enumerate(ctx, tld.Name)
	if err != nil {
		return added, err
	}

	answers := resolveAll(ctx, d.Resolver, hosts, d.Concurrency, d.Progress.Warn)
	for _, host := range hosts {
		if err := d.insertResolved(ctx, tld.ID, host, answers[host]); err != nil {
			return added, err
		}
		added++
	}

	return added, nil
}

func (d *Discoverer) resolveOne(ctx context.Context, host string) []string {
	ips, err := d.Resolver.Resolve(ctx, host)
	if err != nil {
		d.Progress.Warn(fmt.Sprintf("resolve %s: %v", host, err))
		return nil
	}
	return ips
}

func (d *Discoverer) insertResolved(ctx context.Context, tldID int64, host string, answers []string) error {
	if answers == nil {
		answers = []string{}
	}
	payload, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode resolver answer for %s: %w", host, err)
	}
	return d.Store.InsertDomain(ctx, tldID, host, string(payload))
}
