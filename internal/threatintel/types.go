package threatintel

import (
	"context"
	"fmt"
	"strings"
)

// Category is a threat category in the fixed taxonomy.
type Category string

const (
	CategoryPhishing          Category = "phishing"
	CategoryMalware           Category = "malware"
	CategorySpam              Category = "spam"
	CategoryCryptoMining      Category = "crypto_mining"
	CategoryCommandAndControl Category = "command_and_control"
)

// Categories lists the taxonomy in display order.
var Categories = []Category{
	CategoryPhishing,
	CategoryMalware,
	CategorySpam,
	CategoryCryptoMining,
	CategoryCommandAndControl,
}

// Label returns the human-readable tag for a category.
func (c Category) Label() string {
	switch c {
	case CategoryPhishing:
		return "⚠ Phishing"
	case CategoryMalware:
		return "⚠ Malware"
	case CategorySpam:
		return "⚠ Spam"
	case CategoryCryptoMining:
		return "⚠ Crypto mining"
	case CategoryCommandAndControl:
		return "⚠ Command & control"
	default:
		return "⚠ " + string(c)
	}
}

// Verdict is one provider's normalized classification of a URL.
type Verdict struct {
	Provider   string     `json:"provider"`
	Malicious  bool       `json:"malicious"`
	Categories []Category `json:"categories,omitempty"`
	// Reputation is the provider's reputation signal, <= 0 for bad URLs.
	Reputation float64 `json:"reputation"`
	Detections int     `json:"detections"`
	Total      int     `json:"total"`
	// RawScoreFraction is "detections/total", empty when not applicable.
	RawScoreFraction string `json:"raw_score_fraction,omitempty"`
}

// HasCategory reports whether the verdict carries c.
func (v *Verdict) HasCategory(c Category) bool {
	for _, have := range v.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// Fraction formats a detection ratio, or "" when total is zero.
func Fraction(detections, total int) string {
	if total <= 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", detections, total)
}

// Adapter scans a URL with one external provider.
type Adapter interface {
	Name() string
	Scan(ctx context.Context, url string) (*Verdict, error)
}

// keyword rules in taxonomy order
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryPhishing, []string{"phish"}},
	{CategoryMalware, []string{"malware", "virus", "trojan"}},
	{CategorySpam, []string{"spam", "bulk"}},
	{CategoryCryptoMining, []string{"crypto", "mining"}},
	{CategoryCommandAndControl, []string{"c2", "command and control", "botnet"}},
}

// Classify maps free-form provider labels onto the taxonomy using
// case-insensitive substring checks. Nothing is returned unless the
// provider itself flagged the URL as malicious.
func Classify(malicious bool, labels []string) []Category {
	if !malicious {
		return nil
	}

	var out []Category
	for _, rule := range categoryKeywords {
		if labelsContainAny(labels, rule.keywords) {
			out = append(out, rule.category)
		}
	}
	return out
}

func labelsContainAny(labels, keywords []string) bool {
	for _, l := range labels {
		l = strings.ToLower(l)
		for _, k := range keywords {
			if strings.Contains(l, k) {
				return true
			}
		}
	}
	return false
}
