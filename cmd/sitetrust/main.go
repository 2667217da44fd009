package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitetrust/sitetrust/internal/app"
	"github.com/sitetrust/sitetrust/internal/blocklist"
	"github.com/sitetrust/sitetrust/internal/config"
	"github.com/sitetrust/sitetrust/internal/logger"
	"github.com/sitetrust/sitetrust/internal/policy"
	"github.com/sitetrust/sitetrust/internal/report"
	"github.com/sitetrust/sitetrust/internal/server"
	"github.com/sitetrust/sitetrust/internal/target"
)

// Embedded default configuration
//
//go:embed sitetrust.yaml
var defaultConfigYAML []byte

var (
	// Global flags
	configPath   string
	envFile      string
	logLevel     string
	scale        string
	blocklistDir string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitetrust",
		Short: "sitetrust - URL reputation scoring",
		Long: `sitetrust scores how trustworthy a URL is. It checks the hostname against
blocklists, runs technical checks (HTTPS, certificate, domain name) and asks
threat-intelligence providers, then merges everything into one score with
short explanations.`,
		Example: `  sitetrust analyze https://example.com
  sitetrust analyze --json --scale=5pt http://phishing-test.tk
  sitetrust report add https://suspicious.example.com
  sitetrust serve --addr 127.0.0.1:8080`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.sitetrust/config.yaml, then built-in)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file with provider credentials (default: ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&scale, "scale", "", "Score scale: 5pt or 100pt (overrides config)")
	rootCmd.PersistentFlags().StringVar(&blocklistDir, "blocklist-dir", "", "Directory of *.txt blocklists (overrides config)")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newListsCmd())
	rootCmd.AddCommand(newSelfCheckCmd())
	rootCmd.AddCommand(newPrintConfigCmd())

	return rootCmd
}

// loadConfig loads the config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath, defaultConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if scale != "" {
		cfg.Scale = scale
	}
	if blocklistDir != "" {
		cfg.Blocklists.Dir = blocklistDir
		cfg.Blocklists.URL = ""
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.NewLogger(os.Stderr, level), nil
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, log)
}

func newAnalyzeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Score a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.Analyzer.Analyze(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	return cmd
}

// printReport writes the human-readable form of r.
func printReport(w io.Writer, r *policy.Report) {
	fmt.Fprintln(w, r.Target)
	fmt.Fprintf(w, "  Score: %d/%d  %s\n", r.Score, r.MaxScore, r.Label)
	if r.Description != "" {
		fmt.Fprintf(w, "  %s\n", r.Description)
	}
	for _, tag := range r.Tags {
		fmt.Fprintf(w, "  %s\n", tag)
	}
	if r.Degraded {
		fmt.Fprintf(w, "  Unavailable: %s\n", strings.Join(r.Failures, ", "))
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := server.NewServer(server.Config{
				Addr:     addr,
				Analyzer: a.Analyzer,
				Reports:  a.Reports,
				Logger:   a.Logger,
			})
			if err := srv.Start(); err != nil {
				return err
			}

			go func() {
				if err := a.WatchBlocklists(ctx); err != nil {
					a.Logger.Warn("blocklist_watch_failed", "Blocklist watcher stopped", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}()

			<-ctx.Done()
			a.Logger.Info("signal_received", "Shutting down", nil)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Manage user reports of suspicious sites",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, s report.Store) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenReportStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("report store disabled (reports.backend: none)")
		}
		defer store.Close()
		return fn(cmd.Context(), store)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <url>",
		Short: "Report a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s report.Store) error {
				entry, err := report.NewEntry(args[0], time.Now())
				if err != nil {
					return err
				}
				if err := s.Save(ctx, entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reported %s\n", entry.Hostname)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <host>",
		Short: "Remove a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s report.Store) error {
				host, err := target.ParseHost(args[0])
				if err != nil {
					return err
				}
				if err := s.Remove(ctx, host); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", host)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <host>",
		Short: "Show the report for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s report.Store) error {
				host, err := target.ParseHost(args[0])
				if err != nil {
					return err
				}
				entry, err := s.Get(ctx, host)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("%s: %w", host, report.ErrNotFound)
				}
				printEntry(cmd.OutOrStdout(), *entry)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s report.Store) error {
				entries, err := s.List(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No reports")
				}
				for _, e := range entries {
					printEntry(cmd.OutOrStdout(), e)
				}
				return nil
			})
		},
	})

	return cmd
}

func printEntry(w io.Writer, e report.Entry) {
	fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Hostname, e.URL)
}

func newListsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show the blocklists in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			res := blocklist.LoadAll(cmd.Context(), app.ListSource(cfg), app.ListNames(cfg.Blocklists.Names))
			for _, l := range res.Lists {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %6d entries\n", blocklist.DisplayName(l.Name), l.Len())
			}
			for _, err := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ %v\n", err)
			}
			if res.AllFailed() {
				return errors.New("no blocklist could be loaded")
			}
			return nil
		},
	}
}

func newSelfCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-check",
		Short: "Check sitetrust installation and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "sitetrust self-check")
			fmt.Fprintln(out, "====================")

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "❌ Failed to load config: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "✅ Config loaded from %s (scale %s)\n", cfg.Source, cfg.Scale)

			// Blocklists
			fmt.Fprintln(out, "\nTesting blocklists...")
			res := blocklist.LoadAll(cmd.Context(), app.ListSource(cfg), app.ListNames(cfg.Blocklists.Names))
			if res.AllFailed() {
				fmt.Fprintf(out, "❌ No blocklist could be loaded: %v\n", errors.Join(res.Errors...))
				return errors.New("blocklists unavailable")
			}
			entries := 0
			for _, l := range res.Lists {
				entries += l.Len()
			}
			fmt.Fprintf(out, "✅ %d blocklists loaded (%d entries)\n", len(res.Lists), entries)
			for _, err := range res.Errors {
				fmt.Fprintf(out, "⚠️  %v\n", err)
			}

			match := blocklist.AnalyzeAgainstAll("phishing-test.tk", res.Lists)
			if match.Count() > 0 {
				fmt.Fprintf(out, "✅ Matching works (phishing-test.tk: %s)\n", strings.Join(match.Labels, ", "))
			} else {
				fmt.Fprintln(out, "⚠️  Test host phishing-test.tk is not in any list")
			}

			// Report store
			fmt.Fprintln(out, "\nTesting report store...")
			store, err := app.OpenReportStore(cmd.Context(), cfg)
			switch {
			case err != nil:
				fmt.Fprintf(out, "❌ Report store: %v\n", err)
				return err
			case store == nil:
				fmt.Fprintln(out, "⚠️  Report store disabled")
			default:
				reports, err := store.List(cmd.Context())
				store.Close()
				if err != nil {
					fmt.Fprintf(out, "❌ Report store: %v\n", err)
					return err
				}
				fmt.Fprintf(out, "✅ Report store (%s) is accessible (%d reports)\n", cfg.Reports.Backend, len(reports))
			}

			// Providers
			fmt.Fprintln(out, "\nThreat-intel providers...")
			printProvider(out, "radar", cfg.Providers.Radar.Enabled, cfg.RadarEnabled())
			printProvider(out, "virustotal", cfg.Providers.VirusTotal.Enabled, cfg.VirusTotalEnabled())

			fmt.Fprintln(out, "\n✅ sitetrust is ready to use!")
			return nil
		},
	}
}

func printProvider(w io.Writer, name string, enabled, ready bool) {
	switch {
	case ready:
		fmt.Fprintf(w, "✅ %s configured\n", name)
	case enabled:
		fmt.Fprintf(w, "⚠️  %s enabled but credentials are missing\n", name)
	default:
		fmt.Fprintf(w, "   %s disabled\n", name)
	}
}

func newPrintConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			set := func(v string) string {
				if v != "" {
					return "[set]"
				}
				return "[not set]"
			}

			fmt.Fprintf(out, "Config: %s\n", cfg.Source)
			fmt.Fprintf(out, "Scale: %s\n", cfg.Scale)
			fmt.Fprintf(out, "Log Level: %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "Blocklist Dir: %s\n", orDefault(cfg.Blocklists.Dir, "[built-in]"))
			fmt.Fprintf(out, "Blocklist URL: %s\n", orDefault(cfg.Blocklists.URL, "[none]"))
			fmt.Fprintf(out, "Analysis Timeout: %s\n", cfg.Timeouts.Analysis)
			fmt.Fprintf(out, "Probe Timeout: %s\n", cfg.Timeouts.Probe)
			fmt.Fprintf(out, "Reports: %s\n", cfg.Reports.Backend)
			fmt.Fprintf(out, "Server Addr: %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "Radar Token: %s\n", set(cfg.Secrets.RadarToken))
			fmt.Fprintf(out, "Radar Account: %s\n", set(cfg.Secrets.RadarAccountID))
			fmt.Fprintf(out, "VirusTotal Key: %s\n", set(cfg.Secrets.VirusTotalKey))
			return nil
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
