package policy

import (
	"time"

	"github.com/sitetrust/sitetrust/internal/blocklist"
	"github.com/sitetrust/sitetrust/internal/heuristic"
	"github.com/sitetrust/sitetrust/internal/report"
	"github.com/sitetrust/sitetrust/internal/threatintel"
)

// Class is the coarse severity class of a report.
type Class string

const (
	ClassSafe    Class = "safe"
	ClassWarning Class = "warning"
	ClassRisk    Class = "risk"
)

// DegradedTag discloses that some signal sources failed.
const DegradedTag = "⚠ Partial analysis: some sources were unavailable"

// Penalty is one entry of the penalty breakdown. Delta is negative.
type Penalty struct {
	Source string  `json:"source"`
	Delta  float64 `json:"delta"`
}

// Report is the final, immutable result of one analysis.
type Report struct {
	RequestID   string    `json:"request_id,omitempty"`
	Target      string    `json:"target"`
	Hostname    string    `json:"hostname"`
	Scale       string    `json:"scale"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	RawScore    float64   `json:"raw_score"`
	Penalties   []Penalty `json:"penalties"`
	Tags        []string  `json:"tags"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Class       Class     `json:"class"`
	StarClass   string    `json:"star_class,omitempty"`
	Reachable   bool      `json:"reachable"`
	Degraded    bool      `json:"degraded"`
	Failures    []string  `json:"failures,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// Input gathers every signal collected for one target.
type Input struct {
	RequestID string
	Target    string
	Hostname  string
	Matches   blocklist.MatchResult
	Findings  []heuristic.Finding
	Verdicts  []*threatintel.Verdict
	// Reported is the previous user report for the hostname, if any.
	Reported *report.Entry
	// Failures names the branches that produced no signal.
	Failures []string
}
