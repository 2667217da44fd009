package heuristic

import (
	"context"
	"regexp"
)

// Severity grades a finding.
type Severity string

const (
	SeveritySafe     Severity = "safe"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Check names
const (
	CheckDomain       = "domain"
	CheckHTTPS        = "https"
	CheckCertificate  = "certificate"
	CheckMixedContent = "mixed_content"
)

// Finding is the result of one heuristic check.
type Finding struct {
	Check        string   `json:"check"`
	IsSuspicious bool     `json:"is_suspicious"`
	Penalty      float64  `json:"penalty"`
	Reason       string   `json:"reason"`
	Severity     Severity `json:"severity"`
}

// Problem reports whether the finding should be surfaced as a warning.
func (f Finding) Problem() bool {
	return f.Severity != SeveritySafe && f.Reason != ""
}

// Penalties holds the deduction applied by each check when it fires.
// Values are positive and expressed on the active score scale.
type Penalties struct {
	SuspiciousDomain   float64
	InsecureScheme     float64
	InvalidCertificate float64
	MixedContent       float64
}

// Rules configures the domain-name evaluator.
type Rules struct {
	// Patterns are matched against the whole hostname, in order.
	Patterns []*regexp.Regexp
	// RepeatedRun flags hostnames containing this many identical
	// consecutive characters. Zero disables the rule.
	RepeatedRun int
	// SuspiciousTLDs are suffixes such as ".tk".
	SuspiciousTLDs []string
}

// DefaultPatternSources are the default hostname patterns.
var DefaultPatternSources = []string{
	`\d{4,}`,     // long digit runs
	`-\d+$`,      // ends with -<digits>
	`[a-z]{20,}`, // very long unbroken word
}

// DefaultSuspiciousTLDs are TLDs with a high abuse rate.
var DefaultSuspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".work", ".click"}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	patterns := make([]*regexp.Regexp, len(DefaultPatternSources))
	for i, src := range DefaultPatternSources {
		patterns[i] = regexp.MustCompile(src)
	}
	return Rules{
		Patterns:       patterns,
		RepeatedRun:    4,
		SuspiciousTLDs: append([]string(nil), DefaultSuspiciousTLDs...),
	}
}

// CertStatus classifies a certificate probe.
type CertStatus string

const (
	CertValid        CertStatus = "valid"
	CertInvalid      CertStatus = "invalid"
	CertInconclusive CertStatus = "inconclusive"
)

// CertificateProber checks whether an https URL presents a usable certificate.
type CertificateProber interface {
	ProbeCertificate(ctx context.Context, url string) CertStatus
}
