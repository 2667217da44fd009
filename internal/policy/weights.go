package policy

import (
	"fmt"

	"github.com/sitetrust/sitetrust/internal/heuristic"
	"github.com/sitetrust/sitetrust/internal/threatintel"
)

// Scale names
const (
	Scale5   = "5pt"
	Scale100 = "100pt"
)

// Tier maps a threshold to a penalty. A value reaching Min incurs Penalty.
type Tier struct {
	Min     float64 `yaml:"min" json:"min"`
	Penalty float64 `yaml:"penalty" json:"penalty"`
}

// Band maps a score threshold to a label.
type Band struct {
	Min         float64 `yaml:"min" json:"min"`
	Label       string  `yaml:"label" json:"label"`
	Description string  `yaml:"description" json:"description"`
	Class       Class   `yaml:"class" json:"class"`
	StarClass   string  `yaml:"star_class" json:"star_class"`
}

// PositiveTier is the tag set synthesized for clean, high-scoring sites.
type PositiveTier struct {
	Min  float64  `yaml:"min" json:"min"`
	Tags []string `yaml:"tags" json:"tags"`
}

// Weights is a named scoring policy. All penalties are positive numbers
// on the scale [0, Max].
type Weights struct {
	Name string  `yaml:"name" json:"name"`
	Max  float64 `yaml:"max" json:"max"`

	// BlocklistSteps[i] applies for i+1 matches; the last step covers
	// every higher count.
	BlocklistSteps []float64 `yaml:"blocklist_steps" json:"blocklist_steps"`

	SuspiciousDomain   float64 `yaml:"suspicious_domain" json:"suspicious_domain"`
	InsecureScheme     float64 `yaml:"insecure_scheme" json:"insecure_scheme"`
	InvalidCertificate float64 `yaml:"invalid_certificate" json:"invalid_certificate"`
	MixedContent       float64 `yaml:"mixed_content" json:"mixed_content"`

	// MaliciousVerdict applies to a malicious verdict that carries neither
	// a recognised category nor detection counts.
	MaliciousVerdict float64 `yaml:"malicious_verdict" json:"malicious_verdict"`
	// DetectionTiers and ReputationTiers are sorted ascending by Min; the
	// highest tier reached applies. Reputation uses the magnitude of a
	// negative reputation value.
	DetectionTiers  []Tier                           `yaml:"detection_tiers" json:"detection_tiers"`
	ReputationTiers []Tier                           `yaml:"reputation_tiers" json:"reputation_tiers"`
	Categories      map[threatintel.Category]float64 `yaml:"categories" json:"categories"`

	// Bands are sorted descending by Min; the last one is the fallback.
	Bands        []Band         `yaml:"bands" json:"bands"`
	PositiveTags []PositiveTier `yaml:"positive_tags" json:"positive_tags"`
}

// FivePoint is the five-star profile.
func FivePoint() Weights {
	return Weights{
		Name:               Scale5,
		Max:                5,
		BlocklistSteps:     []float64{2.0, 3.5, 4.5},
		SuspiciousDomain:   1,
		InsecureScheme:     1,
		InvalidCertificate: 2,
		MixedContent:       0,
		MaliciousVerdict:   1.5,
		DetectionTiers:     []Tier{{Min: 1, Penalty: 0.5}, {Min: 5, Penalty: 1.25}, {Min: 10, Penalty: 2}},
		ReputationTiers:    []Tier{{Min: 10, Penalty: 0.25}, {Min: 50, Penalty: 0.75}, {Min: 80, Penalty: 1.25}},
		Categories: map[threatintel.Category]float64{
			threatintel.CategoryPhishing:          1,
			threatintel.CategoryMalware:           1.5,
			threatintel.CategorySpam:              0.5,
			threatintel.CategoryCryptoMining:      0.75,
			threatintel.CategoryCommandAndControl: 1.75,
		},
		Bands: []Band{
			{Min: 4.5, Label: "Very trustworthy", Description: "This site shows no sign of risk.", Class: ClassSafe, StarClass: "filled-good"},
			{Min: 3.5, Label: "Trustworthy", Description: "This site looks reliable.", Class: ClassSafe, StarClass: "filled-good"},
			{Min: 2.5, Label: "Attention required", Description: "Some warning signs were found.", Class: ClassWarning, StarClass: "filled-medium"},
			{Min: 1.5, Label: "Potentially risky", Description: "Be careful with this site.", Class: ClassRisk, StarClass: "filled-bad"},
			{Min: 0, Label: "Very risky", Description: "This site is very likely dangerous.", Class: ClassRisk, StarClass: "filled-bad"},
		},
		PositiveTags: []PositiveTier{
			{Min: 4.5, Tags: []string{"✓ Secure site", "✓ Trusted domain", "✓ No threat detected"}},
			{Min: 3.5, Tags: []string{"✓ No major problem detected"}},
		},
	}
}

// HundredPoint is the percentage profile.
func HundredPoint() Weights {
	return Weights{
		Name:               Scale100,
		Max:                100,
		BlocklistSteps:     []float64{40, 70, 90},
		SuspiciousDomain:   20,
		InsecureScheme:     20,
		InvalidCertificate: 40,
		MixedContent:       0,
		MaliciousVerdict:   30,
		DetectionTiers:     []Tier{{Min: 1, Penalty: 10}, {Min: 5, Penalty: 25}, {Min: 10, Penalty: 40}},
		ReputationTiers:    []Tier{{Min: 10, Penalty: 5}, {Min: 50, Penalty: 15}, {Min: 80, Penalty: 25}},
		Categories: map[threatintel.Category]float64{
			threatintel.CategoryPhishing:          20,
			threatintel.CategoryMalware:           30,
			threatintel.CategorySpam:              10,
			threatintel.CategoryCryptoMining:      15,
			threatintel.CategoryCommandAndControl: 35,
		},
		Bands: []Band{
			{Min: 80, Label: "Very trustworthy", Description: "This site shows no sign of risk.", Class: ClassSafe, StarClass: "filled-good"},
			{Min: 50, Label: "Caution", Description: "Some warning signs were found.", Class: ClassWarning, StarClass: "filled-medium"},
			{Min: 0, Label: "Risky", Description: "This site is very likely dangerous.", Class: ClassRisk, StarClass: "filled-bad"},
		},
		PositiveTags: []PositiveTier{
			{Min: 90, Tags: []string{"✓ Secure site", "✓ Trusted domain", "✓ No threat detected"}},
		},
	}
}

// ForScale returns the built-in profile for a scale name.
func ForScale(scale string) (Weights, error) {
	switch scale {
	case Scale5, "5", "":
		return FivePoint(), nil
	case Scale100, "100":
		return HundredPoint(), nil
	default:
		return Weights{}, fmt.Errorf("unknown scale %q (want %s or %s)", scale, Scale5, Scale100)
	}
}

// HeuristicPenalties exposes the technical-check penalties to the
// heuristic analyzer.
func (w Weights) HeuristicPenalties() heuristic.Penalties {
	return heuristic.Penalties{
		SuspiciousDomain:   w.SuspiciousDomain,
		InsecureScheme:     w.InsecureScheme,
		InvalidCertificate: w.InvalidCertificate,
		MixedContent:       w.MixedContent,
	}
}

// Validate checks the internal consistency of a profile.
func (w Weights) Validate() error {
	if w.Max <= 0 {
		return fmt.Errorf("weights %s: max must be positive", w.Name)
	}
	for i := 1; i < len(w.BlocklistSteps); i++ {
		if w.BlocklistSteps[i] < w.BlocklistSteps[i-1] {
			return fmt.Errorf("weights %s: blocklist steps must not decrease", w.Name)
		}
	}
	if err := ascending("detection_tiers", w.DetectionTiers); err != nil {
		return fmt.Errorf("weights %s: %w", w.Name, err)
	}
	if err := ascending("reputation_tiers", w.ReputationTiers); err != nil {
		return fmt.Errorf("weights %s: %w", w.Name, err)
	}
	if len(w.Bands) == 0 {
		return fmt.Errorf("weights %s: at least one band is required", w.Name)
	}
	for i := 1; i < len(w.Bands); i++ {
		if w.Bands[i].Min >= w.Bands[i-1].Min {
			return fmt.Errorf("weights %s: bands must be sorted by descending min", w.Name)
		}
	}
	for c := range w.Categories {
		if !knownCategory(c) {
			return fmt.Errorf("weights %s: unknown category %q", w.Name, c)
		}
	}
	return nil
}

func ascending(name string, tiers []Tier) error {
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Min <= tiers[i-1].Min {
			return fmt.Errorf("%s must be sorted by ascending min", name)
		}
	}
	return nil
}

func knownCategory(c threatintel.Category) bool {
	for _, known := range threatintel.Categories {
		if c == known {
			return true
		}
	}
	return false
}
