// Package analyzer runs one reputation analysis: a reachability gate,
// then every signal source in parallel, then the score aggregation.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sitetrust/sitetrust/internal/blocklist"
	"github.com/sitetrust/sitetrust/internal/heuristic"
	"github.com/sitetrust/sitetrust/internal/logger"
	"github.com/sitetrust/sitetrust/internal/policy"
	"github.com/sitetrust/sitetrust/internal/probe"
	"github.com/sitetrust/sitetrust/internal/report"
	"github.com/sitetrust/sitetrust/internal/target"
	"github.com/sitetrust/sitetrust/internal/threatintel"
)

// TracerName is the OpenTelemetry tracer name.
const TracerName = "sitetrust"

const defaultTimeout = 90 * time.Second

// Branch names, as they appear in Report.Failures and span attributes.
const (
	BranchBlocklists  = "blocklists"
	BranchHeuristics  = "heuristics"
	BranchReports     = "reports"
	branchPrefixIntel = "threatintel:"
)

// Reachability decides whether a target answers at all.
type Reachability interface {
	CheckAccessibility(ctx context.Context, url string) probe.Accessibility
}

// HeuristicChecker runs the local technical checks.
type HeuristicChecker interface {
	Analyze(ctx context.Context, t target.Target) []heuristic.Finding
}

// ReportReader looks up previous user reports.
type ReportReader interface {
	Get(ctx context.Context, hostname string) (*report.Entry, error)
}

// Options configures an Analyzer. Nil components are skipped.
type Options struct {
	// Weights is the scoring profile. The zero value selects the 100-point profile.
	Weights policy.Weights

	// Timeout bounds one analysis, the probe included.
	Timeout time.Duration

	Probe      Reachability
	Blocklists blocklist.Source
	// ListNames restricts the lists consulted. Empty means every list.
	ListNames  []string
	Heuristics HeuristicChecker
	Adapters   []threatintel.Adapter
	Reports    ReportReader

	Logger *logger.Logger
}

// Analyzer is safe for concurrent use; all per-analysis state lives on the
// stack of Analyze.
type Analyzer struct {
	engine     *policy.Engine
	timeout    time.Duration
	probe      Reachability
	blocklists blocklist.Source
	listNames  []string
	heuristics HeuristicChecker
	adapters   []threatintel.Adapter
	reports    ReportReader
	logger     *logger.Logger
}

// New validates opts and creates an Analyzer.
func New(opts Options) (*Analyzer, error) {
	w := opts.Weights
	if w.Max == 0 {
		w = policy.HundredPoint()
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	for _, ad := range opts.Adapters {
		if ad == nil {
			return nil, errors.New("nil threat-intel adapter")
		}
	}

	a := &Analyzer{
		engine:     policy.NewEngine(w),
		timeout:    opts.Timeout,
		probe:      opts.Probe,
		blocklists: opts.Blocklists,
		listNames:  append([]string(nil), opts.ListNames...),
		heuristics: opts.Heuristics,
		adapters:   append([]threatintel.Adapter(nil), opts.Adapters...),
		reports:    opts.Reports,
		logger:     opts.Logger,
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.logger == nil {
		a.logger = logger.Nop()
	}
	return a, nil
}

// Engine returns the scoring engine.
func (a *Analyzer) Engine() *policy.Engine {
	return a.engine
}

// Analyze scores rawURL. The only error returned is a
// *target.InvalidTargetError; every other failure degrades the report.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) (*policy.Report, error) {
	start := time.Now()

	t, err := target.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := otel.Tracer(TracerName).Start(ctx, "analyze",
		trace.WithAttributes(
			attribute.String("sitetrust.request_id", requestID),
			attribute.String("sitetrust.url", t.URL),
			attribute.String("sitetrust.hostname", t.Host),
		))
	defer span.End()

	if a.probe != nil {
		acc := a.probe.CheckAccessibility(ctx, t.URL)
		if !acc.IsAccessible {
			span.SetAttributes(attribute.Bool("sitetrust.reachable", false))
			r := a.engine.Unreachable(requestID, t.URL, t.Host, acc.Message)
			a.logger.LogAnalysis(r, time.Since(start))
			return r, nil
		}
	}

	input := a.collect(ctx, t)
	input.RequestID = requestID

	r := a.engine.Evaluate(input)
	span.SetAttributes(
		attribute.Int("sitetrust.score", r.Score),
		attribute.Bool("sitetrust.degraded", r.Degraded),
	)
	a.logger.LogAnalysis(r, time.Since(start))
	return r, nil
}

// collect fans out to every signal source and waits for all of them.
// Each branch writes only its own result variable and failure slot.
func (a *Analyzer) collect(ctx context.Context, t target.Target) policy.Input {
	var (
		matches  blocklist.MatchResult
		findings []heuristic.Finding
		reported *report.Entry
		verdicts = make([]*threatintel.Verdict, len(a.adapters))
		failed   = make([]string, 3+len(a.adapters))
	)

	var g errgroup.Group

	if a.blocklists != nil {
		a.branch(ctx, &g, BranchBlocklists, &failed[0], func(ctx context.Context) error {
			res := blocklist.LoadAll(ctx, a.blocklists, a.listNames)
			for _, err := range res.Errors {
				a.logger.Warn("blocklist_load_failed", err.Error(), map[string]interface{}{
					"hostname": t.Host,
				})
			}
			if res.AllFailed() {
				return fmt.Errorf("all blocklists failed: %w", errors.Join(res.Errors...))
			}
			matches = blocklist.AnalyzeAgainstAll(t.Host, res.Lists)
			return nil
		})
	}

	if a.heuristics != nil {
		a.branch(ctx, &g, BranchHeuristics, &failed[1], func(ctx context.Context) error {
			findings = a.heuristics.Analyze(ctx, t)
			return nil
		})
	}

	if a.reports != nil {
		a.branch(ctx, &g, BranchReports, &failed[2], func(ctx context.Context) error {
			entry, err := a.reports.Get(ctx, t.Host)
			if err != nil {
				return err
			}
			reported = entry
			return nil
		})
	}

	for i, ad := range a.adapters {
		i, ad := i, ad
		a.branch(ctx, &g, branchPrefixIntel+ad.Name(), &failed[3+i], func(ctx context.Context) error {
			v, err := ad.Scan(ctx, t.URL)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}

	_ = g.Wait()

	input := policy.Input{
		Target:   t.URL,
		Hostname: t.Host,
		Matches:  matches,
		Findings: findings,
		Reported: reported,
	}
	for _, v := range verdicts {
		if v != nil {
			input.Verdicts = append(input.Verdicts, v)
		}
	}
	for _, name := range failed {
		if name != "" {
			input.Failures = append(input.Failures, name)
		}
	}
	return input
}

// branch runs fn on g under its own span. A returned error or a panic
// marks the branch failed; it never cancels the other branches.
func (a *Analyzer) branch(ctx context.Context, g *errgroup.Group, name string, failed *string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		ctx, span := otel.Tracer(TracerName).Start(ctx, "branch."+name,
			trace.WithAttributes(attribute.String("sitetrust.branch", name)))
		defer span.End()

		if err := safeRun(ctx, fn); err != nil {
			*failed = name
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.logger.Warn("branch_failed", err.Error(), map[string]interface{}{
				"branch": name,
			})
		}
		return nil
	})
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
