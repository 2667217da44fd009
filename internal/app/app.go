// Package app wires a loaded configuration into a ready-to-use analyzer.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sitetrust/sitetrust/internal/analyzer"
	"github.com/sitetrust/sitetrust/internal/blocklist"
	"github.com/sitetrust/sitetrust/internal/cache"
	"github.com/sitetrust/sitetrust/internal/config"
	"github.com/sitetrust/sitetrust/internal/heuristic"
	"github.com/sitetrust/sitetrust/internal/logger"
	"github.com/sitetrust/sitetrust/internal/probe"
	"github.com/sitetrust/sitetrust/internal/report"
	"github.com/sitetrust/sitetrust/internal/threatintel"
	"github.com/sitetrust/sitetrust/internal/threatintel/provider"
)

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Lists    *cache.ListCache
	Reports  report.Store
	Analyzer *analyzer.Analyzer
	Adapters []threatintel.Adapter
}

// Build creates all components described by cfg.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	weights, err := cfg.ScoringWeights()
	if err != nil {
		return nil, err
	}

	lists := cache.NewListCache(ListSource(cfg), cache.Config{
		Size:   cfg.Blocklists.CacheSize,
		TTL:    cfg.Blocklists.CacheTTL,
		Logger: log,
	})

	prober := probe.New(probe.Config{Timeout: cfg.Timeouts.Probe})
	heuristics := heuristic.NewAnalyzer(cfg.HeuristicRules(), weights.HeuristicPenalties(), prober)
	adapters := Adapters(cfg)

	store, err := OpenReportStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := analyzer.Options{
		Weights:    weights,
		Timeout:    cfg.Timeouts.Analysis,
		Probe:      prober,
		Blocklists: lists,
		ListNames:  ListNames(cfg.Blocklists.Names),
		Heuristics: heuristics,
		Adapters:   adapters,
		Logger:     log,
	}
	if store != nil {
		opts.Reports = store
	}

	a, err := analyzer.New(opts)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	names := make([]string, 0, len(adapters))
	for _, ad := range adapters {
		names = append(names, ad.Name())
	}
	log.Info("app_ready", "Analyzer ready", map[string]interface{}{
		"config":    cfg.Source,
		"scale":     weights.Name,
		"providers": names,
		"reports":   cfg.Reports.Backend,
	})

	return &App{
		Config:   cfg,
		Logger:   log,
		Lists:    lists,
		Reports:  store,
		Analyzer: a,
		Adapters: adapters,
	}, nil
}

// WatchBlocklists invalidates cached lists on change when lists come from a
// directory and watching is enabled. It blocks until ctx is done.
func (a *App) WatchBlocklists(ctx context.Context) error {
	if a.Config.Blocklists.Dir == "" || a.Config.Blocklists.URL != "" || !a.Config.Blocklists.Watch {
		return nil
	}
	return a.Lists.Watch(ctx, a.Config.Blocklists.Dir)
}

// Close releases the report store.
func (a *App) Close() error {
	if a.Reports == nil {
		return nil
	}
	return a.Reports.Close()
}

// ListSource picks the blocklist source: URL, then directory, then the
// built-in lists.
func ListSource(cfg *config.Config) blocklist.Source {
	switch {
	case cfg.Blocklists.URL != "":
		return blocklist.NewHTTPSource(blocklist.HTTPSourceConfig{
			BaseURL: cfg.Blocklists.URL,
			Names:   ListNames(cfg.Blocklists.Names),
		})
	case cfg.Blocklists.Dir != "":
		return blocklist.NewDirSource(cfg.Blocklists.Dir)
	default:
		return blocklist.NewEmbeddedSource()
	}
}

// ListNames adds the list extension to bare names.
func ListNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !strings.HasSuffix(n, blocklist.ListExt) {
			n += blocklist.ListExt
		}
		out = append(out, n)
	}
	return out
}

// Adapters returns the threat-intel adapters that are enabled and have
// credentials. Providers without credentials are silently left out.
func Adapters(cfg *config.Config) []threatintel.Adapter {
	var adapters []threatintel.Adapter
	if cfg.RadarEnabled() {
		p := cfg.Providers.Radar
		adapters = append(adapters, provider.NewRadar(provider.RadarConfig{
			BaseURL:      p.BaseURL,
			AccountID:    cfg.Secrets.RadarAccountID,
			Token:        cfg.Secrets.RadarToken,
			Timeout:      p.Timeout,
			PollInterval: p.PollInterval,
			MaxAttempts:  p.MaxAttempts,
			MaxWait:      p.MaxWait,
		}))
	}
	if cfg.VirusTotalEnabled() {
		p := cfg.Providers.VirusTotal
		adapters = append(adapters, provider.NewVirusTotal(provider.VirusTotalConfig{
			BaseURL:           p.BaseURL,
			APIKey:            cfg.Secrets.VirusTotalKey,
			Timeout:           p.Timeout,
			RequestsPerMinute: p.RequestsPerMinute,
		}))
	}
	return adapters
}

// OpenReportStore opens the configured report backend. The "none" backend
// returns a nil store.
func OpenReportStore(ctx context.Context, cfg *config.Config) (report.Store, error) {
	switch cfg.Reports.Backend {
	case "sqlite":
		s, err := report.OpenSQLite(cfg.Reports.Path)
		if err != nil {
			return nil, fmt.Errorf("open report store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := report.OpenRedis(ctx, cfg.Reports.RedisURL, cfg.Reports.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("open report store: %w", err)
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown report backend %q", cfg.Reports.Backend)
	}
}
