// Package sslscan wraps the external sslscan binary and parses its XML reports.
package sslscan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotInstalled indicates the sslscan binary is missing from PATH.
// This is an environment error: no host can be scanned without it.
var ErrNotInstalled = errors.New("sslscan is not installed or not in PATH")

const binaryName = "sslscan"

// Scanner implements engine.HostScanner by invoking the sslscan binary.
type Scanner struct {
	// Path overrides the binary looked up on PATH. Empty means "sslscan".
	Path string
}

func (s *Scanner) binary() string {
	if s.Path != "" {
		return s.Path
	}
	return binaryName
}

// CheckAvailable verifies the sslscan binary can be found.
func (s *Scanner) CheckAvailable() error {
	if _, err := exec.LookPath(s.binary()); err != nil {
		return ErrNotInstalled
	}
	return nil
}

// Scan runs sslscan against host:port and returns the XML report written to
// stdout. A non-zero exit is a per-host failure carrying the tool's stderr
// diagnostics; the caller decides containment.
func (s *Scanner) Scan(ctx context.Context, host string, port int) ([]byte, error) {
	target := fmt.Sprintf("%s:%d", host, port)
	cmd := exec.CommandContext(ctx, s.binary(), "--xml=-", "--show-cipher-ids", target)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sslscan %s: %w", target, ctx.Err())
		}
		diag := strings.TrimSpace(stderr.String())
		if diag != "" {
			return nil, fmt.Errorf("sslscan %s: %w: %s", target, err, diag)
		}
		return nil, fmt.Errorf("sslscan %s: %w", target, err)
	}

	return stdout.Bytes(), nil
}
