// Package recon implements the subdomain discovery producer.
package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	crtshDefaultURL = "https://crt.sh/json"
	crtshTimeout    = 30 * time.Second
	crtshMaxBody    = 50 * 1024 * 1024 // 50MB
	crtshRetryDelay = 3 * time.Second

	// WildcardSentinel replaces the leading "*" of wildcard certificate
	// names before storage. A bare "*" never reaches the store.
	WildcardSentinel = "WILDCARD"
)

type crtshEntry struct {
	NameValue string `json:"name_value"`
}

// CrtshClient queries the crt.sh Certificate Transparency search service.
type CrtshClient struct {
	// BaseURL overrides the crt.sh endpoint, mainly for tests.
	BaseURL   string
	UserAgent string
}

// Enumerate returns the hostnames that have ever appeared on a certificate
// under the given parent domain: lowercased, deduplicated, wildcard names
// normalized with the sentinel prefix.
func (c *CrtshClient) Enumerate(ctx context.Context, tld string) ([]string, error) {
	base := c.BaseURL
	if base == "" {
		base = crtshDefaultURL
	}
	reqURL := fmt.Sprintf("%s?q=%s", base, url.QueryEscape(tld))

	body, err := c.fetch(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("crt.sh fetch for %s: %w", tld, err)
	}

	var entries []crtshEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("crt.sh JSON parse for %s: %w", tld, err)
	}

	seen := make(map[string]bool)
	var hosts []string

	suffix := "." + strings.ToLower(tld)
	for _, entry := range entries {
		// name_value can contain multiple names separated by newlines.
		for _, name := range strings.Split(entry.NameValue, "\n") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name == "" {
				continue
			}
			// Certificates can carry SANs for unrelated domains; keep only
			// names under the queried parent.
			if name != tld && !strings.HasSuffix(name, suffix) {
				continue
			}
			name = NormalizeWildcard(name)
			if !seen[name] {
				seen[name] = true
				hosts = append(hosts, name)
			}
		}
	}

	return hosts, nil
}

// NormalizeWildcard rewrites a wildcard certificate name like "*.example.com"
// to its sentinel-prefixed literal form. Non-wildcard names pass through.
func NormalizeWildcard(name string) string {
	if strings.HasPrefix(name, "*") {
		return WildcardSentinel + name[1:]
	}
	return name
}

func (c *CrtshClient) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	body, err := c.doRequest(ctx, reqURL)
	if err == nil {
		return body, nil
	}

	// Don't retry on rate limit.
	if strings.Contains(err.Error(), "429") {
		return nil, err
	}

	// Retry once after delay for server errors.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(crtshRetryDelay):
	}

	return c.doRequest(ctx, reqURL)
}

func (c *CrtshClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, crtshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("crt.sh rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, crtshMaxBody))
	if err != nil {
		return nil, fmt.Errorf("crt.sh read body: %w", err)
	}

	return body, nil
}
