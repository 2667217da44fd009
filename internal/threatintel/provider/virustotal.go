package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sitetrust/sitetrust/internal/threatintel"
)

const (
	defaultVirusTotalBaseURL = "https://www.virustotal.com/api/v3"
	defaultVirusTotalTimeout = 15 * time.Second
	// public API quota
	defaultVirusTotalPerMinute = 4
)

// VirusTotalConfig configures the reputation lookup adapter.
type VirusTotalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerMinute caps outbound calls; <= 0 uses the public quota.
	RequestsPerMinute int
	Client            *http.Client
}

type virusTotalAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewVirusTotal returns an Adapter backed by the VirusTotal v3 URL lookup.
func NewVirusTotal(cfg VirusTotalConfig) threatintel.Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultVirusTotalBaseURL
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultVirusTotalTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultVirusTotalPerMinute
	}
	return &virusTotalAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (a *virusTotalAdapter) Name() string {
	return "virustotal"
}

type virusTotalResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			Reputation        *float64       `json:"reputation"`
		} `json:"attributes"`
	} `json:"data"`
}

// URLID returns the identifier VirusTotal uses for a URL: unpadded
// URL-safe base64 of the URL itself.
func URLID(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// Scan looks up the last analysis of rawURL.
func (a *virusTotalAdapter) Scan(ctx context.Context, rawURL string) (*threatintel.Verdict, error) {
	if a.apiKey == "" {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: errors.New("API key is required")}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: fmt.Errorf("rate limit: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/urls/"+URLID(rawURL), nil)
	if err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("x-apikey", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &threatintel.LookupError{
			Provider: a.Name(),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var vt virusTotalResponse
	if err := json.NewDecoder(resp.Body).Decode(&vt); err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if vt.Data.Attributes.LastAnalysisStats == nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Status: resp.StatusCode, Err: errors.New("malformed response: no last_analysis_stats")}
	}

	return a.mapVerdict(&vt), nil
}

func (a *virusTotalAdapter) mapVerdict(vt *virusTotalResponse) *threatintel.Verdict {
	stats := vt.Data.Attributes.LastAnalysisStats
	detections := stats["malicious"] + stats["suspicious"]
	total := 0
	for _, n := range stats {
		total += n
	}

	reputation := 0.0
	if vt.Data.Attributes.Reputation != nil {
		reputation = *vt.Data.Attributes.Reputation
	}

	return &threatintel.Verdict{
		Provider:         a.Name(),
		Malicious:        stats["malicious"] > 0,
		Reputation:       reputation,
		Detections:       detections,
		Total:            total,
		RawScoreFraction: threatintel.Fraction(detections, total),
	}
}
