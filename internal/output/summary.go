package output

import (
	"fmt"
	"io"

	"github.com/vulnverified/ciphersweep/internal/engine"
	"github.com/vulnverified/ciphersweep/internal/recon"
)

// Version is set via ldflags at build time.
var Version = "dev"

// WriteHeader prints the ciphersweep banner.
func WriteHeader(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "ciphersweep %s — https://vulnverified.com\n\n", Version)
	} else {
		fmt.Fprintf(w, "\033[1mciphersweep %s\033[0m — https://vulnverified.com\n\n", Version)
	}
}

// WriteSummary prints the post-scan summary.
func WriteSummary(w io.Writer, result *engine.RunResult, noColor bool) {
	s := result.Summary

	fmt.Fprintln(w)
	if noColor {
		fmt.Fprintf(w, "Hosts: %d candidates, %d scanned, %d skipped\n", s.HostsTotal, s.Scanned, s.Skipped)
		fmt.Fprintf(w, "Ciphers: %d associations recorded\n", s.CiphersLinked)
	} else {
		fmt.Fprintf(w, "\033[1mHosts:\033[0m %d candidates, %d scanned, %d skipped\n", s.HostsTotal, s.Scanned, s.Skipped)
		fmt.Fprintf(w, "\033[1mCiphers:\033[0m %d associations recorded\n", s.CiphersLinked)
	}

	if s.NoCiphers > 0 {
		fmt.Fprintf(w, "%d hosts accepted no ciphers (will be re-scanned next run)\n", s.NoCiphers)
	}

	if s.Failed > 0 {
		if noColor {
			fmt.Fprintf(w, "! %d hosts failed\n", s.Failed)
		} else {
			fmt.Fprintf(w, "\033[33m!\033[0m %d hosts failed\n", s.Failed)
		}
		for _, h := range result.Hosts {
			if h.Failed() {
				fmt.Fprintf(w, "  %s: %s\n", h.Host, h.Error)
			}
		}
	}
}

// WriteDiscoverSummary prints the post-discovery summary.
func WriteDiscoverSummary(w io.Writer, result *recon.DiscoverResult, noColor bool) {
	fmt.Fprintln(w)
	if noColor {
		fmt.Fprintf(w, "TLDs: %d processed, %d skipped\n", result.TLDs-result.SkippedTLDs, result.SkippedTLDs)
		fmt.Fprintf(w, "Domains: %d stored\n", result.Domains)
	} else {
		fmt.Fprintf(w, "\033[1mTLDs:\033[0m %d processed, %d skipped\n", result.TLDs-result.SkippedTLDs, result.SkippedTLDs)
		fmt.Fprintf(w, "\033[1mDomains:\033[0m %d stored\n", result.Domains)
	}
}
