package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	dohDefaultURL = "https://dns.google/resolve"
	dohTimeout    = 10 * time.Second
	dohMaxBody    = 1 * 1024 * 1024 // 1MB

	directTimeout = 5 * time.Second
)

// Resolver resolves a hostname to its answer records. An empty answer set
// with a nil error means the name simply did not resolve.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]string, error)
}

// DoHResolver resolves hostnames over a DNS-over-HTTPS JSON endpoint.
type DoHResolver struct {
	// BaseURL overrides the resolution endpoint, mainly for tests.
	BaseURL   string
	UserAgent string
}

type dohResponse struct {
	Answer []struct {
		Data string `json:"data"`
	} `json:"Answer"`
}

// Resolve queries the DoH endpoint for the host. The Answer field is
// optional in the response; its absence means "no resolution", not an error.
func (r *DoHResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	base := r.BaseURL
	if base == "" {
		base = dohDefaultURL
	}
	reqURL := fmt.Sprintf("%s?name=%s", base, url.QueryEscape(host))

	reqCtx, cancel := context.WithTimeout(ctx, dohTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve %s: status %d", host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dohMaxBody))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: read body: %w", host, err)
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("resolve %s: parse JSON: %w", host, err)
	}

	var answers []string
	for _, a := range parsed.Answer {
		answers = append(answers, a.Data)
	}
	return answers, nil
}

// DirectResolver resolves hostnames with plain DNS queries against a single
// nameserver, for environments where the DoH endpoint is unreachable.
type DirectResolver struct {
	// Server is the nameserver address, host or host:port. Port 53 is
	// assumed when absent.
	Server string
}

// Resolve queries A and AAAA records for the host.
func (r *DirectResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	server := r.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	client := &dns.Client{Timeout: directTimeout}

	var answers []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		reply, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		// NXDOMAIN and empty answers mean "no resolution", not an error.
		for _, rr := range reply.Answer {
			switch record := rr.(type) {
			case *dns.A:
				answers = append(answers, record.A.String())
			case *dns.AAAA:
				answers = append(answers, record.AAAA.String())
			}
		}
	}

	return answers, nil
}

// resolveAll resolves hosts concurrently and returns the answers per host.
// Individual failures are dropped; the host just resolves to nothing.
func resolveAll(ctx context.Context, resolver Resolver, hosts []string, concurrency int, warn func(string)) map[string][]string {
	if concurrency < 1 {
		concurrency = 1
	}

	work := make(chan string, len(hosts))
	for _, h := range hosts {
		work <- h
	}
	close(work)

	var (
		mu      sync.Mutex
		answers = make(map[string][]string, len(hosts))
	)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}

				ips, err := resolver.Resolve(ctx, host)
				if err != nil {
					if warn != nil {
						warn(fmt.Sprintf("resolve %s: %v", host, err))
					}
					ips = nil
				}

				mu.Lock()
				answers[host] = ips
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return answers
}
