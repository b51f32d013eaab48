package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vulnverified/ciphersweep/internal/config"
	"github.com/vulnverified/ciphersweep/internal/engine"
	"github.com/vulnverified/ciphersweep/internal/output"
	"github.com/vulnverified/ciphersweep/internal/recon"
	"github.com/vulnverified/ciphersweep/internal/sslscan"
	"github.com/vulnverified/ciphersweep/internal/store"
)

// Set via ldflags at build time.
var version = "dev"

// Pacing between certificate-transparency queries, one TLD every 2s.
const crtshQueryInterval = 2 * time.Second

func main() {
	output.Version = version

	var (
		cfgPath     string
		dbPath      string
		jsonOutput  bool
		noColor     bool
		silent      bool
		verbose     bool
		debug       bool
		port        int
		concurrency int
		scanTimeout time.Duration
		resolver    string
	)

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		// Flags override the file.
		if dbPath != "" {
			cfg.DB = dbPath
		}
		if port != 0 {
			cfg.Port = port
		}
		if concurrency != 0 {
			cfg.Concurrency = concurrency
		}
		if scanTimeout != 0 {
			cfg.ScanTimeout = config.Duration(scanTimeout)
		}
		if resolver != "" {
			cfg.Resolver = strings.ToLower(resolver)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	newLogger := func() *zap.Logger {
		if !debug {
			return zap.NewNop()
		}
		logger, err := zap.NewProduction()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}

	rootCmd := &cobra.Command{
		Use:   "ciphersweep",
		Short: "Inventory the TLS cipher suites your subdomains accept",
		Long: "Discovers subdomains of a set of parent domains via Certificate Transparency,\n" +
			"resolves them, and inventories the TLS cipher suites each host accepts using\n" +
			"sslscan, persisting all findings in SQLite for tracking over time.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ./ciphersweep.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: domains.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output structured JSON to stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable terminal colors")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "Results only, no progress output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose per-item progress")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Structured debug logging to stderr")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Enumerate and resolve subdomains of the seeded parent domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			logger := newLogger()
			defer logger.Sync()

			st, err := store.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer st.Close()

			userAgent := fmt.Sprintf("ciphersweep/%s (+https://github.com/vulnverified/ciphersweep)", version)

			var res recon.Resolver
			if cfg.Resolver == "direct" {
				res = &recon.DirectResolver{Server: cfg.DNSServer}
			} else {
				res = &recon.DoHResolver{BaseURL: cfg.DoHURL, UserAgent: userAgent}
			}

			showProgress := !jsonOutput && !silent
			progress := output.NewProgress(os.Stderr, verbose, !showProgress)
			if showProgress {
				output.WriteHeader(os.Stderr, noColor)
			}

			var seeds []recon.Seed
			for _, s := range cfg.Seeds {
				seeds = append(seeds, recon.Seed{
					TLD:             strings.ToLower(strings.TrimSpace(s.TLD)),
					KnownSubdomains: s.KnownSubdomains,
					SkipExisting:    s.Skip(),
				})
			}

			d := &recon.Discoverer{
				Store:       st,
				Crtsh:       &recon.CrtshClient{UserAgent: userAgent},
				Resolver:    res,
				Limiter:     rate.NewLimiter(rate.Every(crtshQueryInterval), 1),
				Concurrency: cfg.Concurrency,
				Progress:    progress,
				Logger:      logger,
			}

			result, err := d.Run(ctx, seeds)
			if err != nil {
				return err
			}

			if showProgress {
				progress.Complete()
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, result)
			}
			output.WriteDiscoverSummary(os.Stdout, result, noColor)
			return nil
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every stored host for accepted TLS cipher suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			logger := newLogger()
			defer logger.Sync()

			stages := engine.Stages{
				Scanner: &sslscan.Scanner{},
				Parser:  &sslscan.Parser{},
				Store:   &store.Opener{Path: cfg.DB},
			}

			engineCfg := engine.Config{
				Port:        cfg.Port,
				Concurrency: cfg.Concurrency,
				ScanTimeout: time.Duration(cfg.ScanTimeout),
				Logger:      logger,
			}

			showProgress := !jsonOutput && !silent
			progress := output.NewProgress(os.Stderr, verbose, !showProgress)
			if showProgress {
				output.WriteHeader(os.Stderr, noColor)
			}

			result, err := engine.Run(ctx, engineCfg, stages, progress)
			if err != nil {
				return err
			}

			if showProgress {
				progress.Complete()
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, result)
			}
			output.WriteTable(os.Stdout, result, noColor)
			output.WriteSummary(os.Stdout, result, noColor)

			// Per-host failures are reported above, not escalated to the
			// exit status.
			return nil
		},
	}

	scanCmd.Flags().IntVar(&port, "port", 0, "TLS port to scan (default: 443)")
	scanCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Max concurrent host scans (default: 32)")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 0, "Per-host sslscan timeout (default: 2m)")
	discoverCmd.Flags().StringVar(&resolver, "resolver", "", "Resolution backend: doh or direct (default: doh)")

	rootCmd.AddCommand(discoverCmd, scanCmd)

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("ciphersweep {{.Version}}\n")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on the first interrupt, so a
// Ctrl+C stops scheduling new host units cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}
