package heuristic

import (
	"context"
	"strings"

	"github.com/sitetrust/sitetrust/internal/target"
)

const (
	msgDomainSafe       = "✓ Domain looks legitimate"
	msgDomainSuspicious = "⚠ Suspicious domain name"
	msgDomainRiskyTLD   = "⚠ High-risk domain extension"
	msgHTTPSOK          = "✓ HTTPS enabled"
	msgHTTPSMissing     = "✗ Site not secure (HTTP)"
	msgCertValid        = "✓ Valid SSL certificate"
	msgCertInvalid      = "✗ Invalid or expired SSL certificate"
	msgCertUnverified   = "✓ SSL certificate present"
	msgMixedContentNone = "✓ No mixed content detected"
)

// Analyzer runs the heuristic checks.
type Analyzer struct {
	rules     Rules
	penalties Penalties
	prober    CertificateProber
}

// NewAnalyzer creates an analyzer. A nil prober makes the certificate
// check inconclusive.
func NewAnalyzer(rules Rules, penalties Penalties, prober CertificateProber) *Analyzer {
	return &Analyzer{
		rules:     rules,
		penalties: penalties,
		prober:    prober,
	}
}

// Evaluate checks the hostname against the domain rules in priority order
// (patterns, repeated characters, TLD). Policy: the first hit is the only
// one reported and hits are never summed.
func (a *Analyzer) Evaluate(hostname string) Finding {
	for _, re := range a.rules.Patterns {
		if re.MatchString(hostname) {
			return a.suspiciousDomain(msgDomainSuspicious)
		}
	}

	if a.rules.RepeatedRun > 1 && hasRepeatedRun(hostname, a.rules.RepeatedRun) {
		return a.suspiciousDomain(msgDomainSuspicious)
	}

	for _, tld := range a.rules.SuspiciousTLDs {
		if strings.HasSuffix(hostname, tld) {
			return a.suspiciousDomain(msgDomainRiskyTLD)
		}
	}

	return Finding{
		Check:    CheckDomain,
		Reason:   msgDomainSafe,
		Severity: SeveritySafe,
	}
}

func (a *Analyzer) suspiciousDomain(reason string) Finding {
	return Finding{
		Check:        CheckDomain,
		IsSuspicious: true,
		Penalty:      a.penalties.SuspiciousDomain,
		Reason:       reason,
		Severity:     SeverityMedium,
	}
}

// hasRepeatedRun reports whether s contains n identical consecutive bytes.
// RE2 has no back-references, so `(.)\1{3,}` is checked by hand.
func hasRepeatedRun(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

// CheckHTTPS penalizes targets not served over https.
func (a *Analyzer) CheckHTTPS(t target.Target) Finding {
	if t.IsHTTPS() {
		return Finding{Check: CheckHTTPS, Reason: msgHTTPSOK, Severity: SeveritySafe}
	}
	return Finding{
		Check:        CheckHTTPS,
		IsSuspicious: true,
		Penalty:      a.penalties.InsecureScheme,
		Reason:       msgHTTPSMissing,
		Severity:     SeverityHigh,
	}
}

// CheckCertificate probes the certificate of an https target. Only a
// verification failure is penalized; timeouts and other transport errors
// are treated as fine so slow networks are not punished.
func (a *Analyzer) CheckCertificate(ctx context.Context, t target.Target) Finding {
	status := CertInconclusive
	if a.prober != nil {
		status = a.prober.ProbeCertificate(ctx, t.URL)
	}

	switch status {
	case CertValid:
		return Finding{Check: CheckCertificate, Reason: msgCertValid, Severity: SeveritySafe}
	case CertInvalid:
		return Finding{
			Check:        CheckCertificate,
			IsSuspicious: true,
			Penalty:      a.penalties.InvalidCertificate,
			Reason:       msgCertInvalid,
			Severity:     SeverityCritical,
		}
	default:
		return Finding{Check: CheckCertificate, Reason: msgCertUnverified, Severity: SeveritySafe}
	}
}

// CheckMixedContent is a placeholder: page content is never fetched, so it
// always reports no mixed content. http targets get an empty finding.
func (a *Analyzer) CheckMixedContent(t target.Target) Finding {
	if !t.IsHTTPS() {
		return Finding{Check: CheckMixedContent, Severity: SeveritySafe}
	}
	return Finding{Check: CheckMixedContent, Reason: msgMixedContentNone, Severity: SeveritySafe}
}

// Analyze runs every check for t and returns the findings in display
// order: scheme, certificate (https only), domain name, mixed content.
func (a *Analyzer) Analyze(ctx context.Context, t target.Target) []Finding {
	findings := make([]Finding, 0, 4)

	https := a.CheckHTTPS(t)
	findings = append(findings, https)
	if !https.IsSuspicious {
		findings = append(findings, a.CheckCertificate(ctx, t))
	}
	findings = append(findings, a.Evaluate(t.Host))
	findings = append(findings, a.CheckMixedContent(t))

	return findings
}
