package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/sitetrust/sitetrust/internal/threatintel"
)

// Engine turns collected signals into a bounded score and explanation.
type Engine struct {
	weights Weights
	now     func() time.Time
}

// NewEngine creates a new scoring engine for the given profile.
func NewEngine(weights Weights) *Engine {
	return &Engine{
		weights: weights,
		now:     time.Now,
	}
}

// Weights returns the engine's scoring profile.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Evaluate merges all signals into a Report.
func (e *Engine) Evaluate(input Input) *Report {
	w := e.weights
	var penalties []Penalty
	add := func(source string, amount float64) {
		if amount > 0 {
			penalties = append(penalties, Penalty{Source: source, Delta: -amount})
		}
	}

	// Rule 1: blocklist penalty is a step function of the match count
	if n := input.Matches.Count(); n > 0 {
		add("blocklist", blocklistStep(w.BlocklistSteps, n))
	}

	// Rule 2: technical checks add up
	for _, f := range input.Findings {
		if f.IsSuspicious {
			add("heuristic:"+f.Check, f.Penalty)
		}
	}

	// Rule 3: threat intel, per provider
	for _, v := range input.Verdicts {
		if v == nil {
			continue
		}
		source := "threatintel:" + v.Provider
		add(source+":detections", tierPenalty(w.DetectionTiers, float64(v.Detections)))
		if v.Reputation < 0 {
			add(source+":reputation", tierPenalty(w.ReputationTiers, -v.Reputation))
		}
		for _, c := range v.Categories {
			add(source+":"+string(c), w.Categories[c])
		}
		if v.Malicious && len(v.Categories) == 0 && v.Total == 0 {
			add(source+":malicious", w.MaliciousVerdict)
		}
	}

	raw := w.Max
	for _, p := range penalties {
		raw += p.Delta
	}
	raw = clamp(raw, 0, w.Max)
	score := int(math.Round(raw))

	tags := e.tags(input)
	if len(tags) == 0 {
		tags = e.positiveTags(float64(score))
	}

	band := e.band(float64(score))
	return &Report{
		RequestID:   input.RequestID,
		Target:      input.Target,
		Hostname:    input.Hostname,
		Scale:       w.Name,
		Score:       score,
		MaxScore:    int(math.Round(w.Max)),
		RawScore:    raw,
		Penalties:   nonNil(penalties),
		Tags:        tags,
		Label:       band.Label,
		Description: band.Description,
		Class:       band.Class,
		StarClass:   band.StarClass,
		Reachable:   true,
		Degraded:    len(input.Failures) > 0,
		Failures:    input.Failures,
		AnalyzedAt:  e.now().UTC(),
	}
}

// Unreachable builds the report returned when the reachability gate
// fails: minimum score and a single tag explaining why.
func (e *Engine) Unreachable(requestID, target, hostname, message string) *Report {
	band := e.band(0)
	return &Report{
		RequestID:   requestID,
		Target:      target,
		Hostname:    hostname,
		Scale:       e.weights.Name,
		Score:       0,
		MaxScore:    int(math.Round(e.weights.Max)),
		RawScore:    0,
		Penalties:   []Penalty{},
		Tags:        []string{message},
		Label:       band.Label,
		Description: band.Description,
		Class:       band.Class,
		StarClass:   band.StarClass,
		Reachable:   false,
		AnalyzedAt:  e.now().UTC(),
	}
}

// tags assembles the explanation list in display order.
func (e *Engine) tags(input Input) []string {
	var tags []string
	seen := make(map[string]struct{})
	push := func(tag string) {
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	// (a) previous user report
	if input.Reported != nil {
		push(input.Reported.Advisory())
	}

	// (b) technical problems only, never the "✓" messages
	for _, f := range input.Findings {
		if f.Problem() {
			push(f.Reason)
		}
	}

	// (c) blocklists
	for _, label := range input.Matches.Labels {
		push(label)
	}

	// (d) threat intel
	for _, v := range input.Verdicts {
		if v == nil {
			continue
		}
		for _, c := range threatintel.Categories {
			if v.HasCategory(c) {
				push(c.Label())
			}
		}
		if v.Malicious && len(v.Categories) == 0 && v.Total == 0 {
			push(fmt.Sprintf("⚠ Flagged as malicious by %s", v.Provider))
		}
		if v.Detections > 0 && v.RawScoreFraction != "" {
			push(fmt.Sprintf("⚠ %s security vendors flagged this URL (%s)", v.RawScoreFraction, v.Provider))
		}
	}

	if len(input.Failures) > 0 {
		push(DegradedTag)
	}

	return tags
}

func (e *Engine) positiveTags(score float64) []string {
	for _, tier := range e.weights.PositiveTags {
		if score >= tier.Min {
			return append([]string(nil), tier.Tags...)
		}
	}
	return []string{}
}

func (e *Engine) band(score float64) Band {
	for _, b := range e.weights.Bands {
		if score >= b.Min {
			return b
		}
	}
	if n := len(e.weights.Bands); n > 0 {
		return e.weights.Bands[n-1]
	}
	return Band{Label: "Unknown", Class: ClassWarning}
}

// blocklistStep picks the penalty for n matches.
func blocklistStep(steps []float64, n int) float64 {
	if len(steps) == 0 || n <= 0 {
		return 0
	}
	if n > len(steps) {
		n = len(steps)
	}
	return steps[n-1]
}

// tierPenalty returns the penalty of the highest tier value reaches.
func tierPenalty(tiers []Tier, value float64) float64 {
	penalty := 0.0
	for _, t := range tiers {
		if value >= t.Min {
			penalty = t.Penalty
		}
	}
	return penalty
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNil(p []Penalty) []Penalty {
	if p == nil {
		return []Penalty{}
	}
	return p
}
