package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sitetrust/sitetrust/internal/threatintel"
)

const (
	defaultRadarBaseURL      = "https://api.cloudflare.com/client/v4"
	defaultRadarTimeout      = 15 * time.Second
	defaultRadarPollInterval = 3 * time.Second
	defaultRadarMaxAttempts  = 20
	defaultRadarMaxWait      = 60 * time.Second

	maxErrorBody = 2048
)

var errScanPending = errors.New("scan not finished")

// RadarConfig configures the URL scanner adapter.
type RadarConfig struct {
	BaseURL   string
	AccountID string
	Token     string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// PollInterval is the fixed wait between result polls.
	PollInterval time.Duration
	// MaxAttempts and MaxWait bound the poll loop; whichever is hit first
	// ends it with a TimeoutError.
	MaxAttempts int
	MaxWait     time.Duration
	Client      *http.Client
}

// radarAdapter submits a URL for scanning and polls until the scan finishes.
type radarAdapter struct {
	baseURL      string
	accountID    string
	token        string
	client       *http.Client
	pollInterval time.Duration
	maxAttempts  int
	maxWait      time.Duration
}

// NewRadar returns an Adapter backed by the Cloudflare URL scanner API.
func NewRadar(cfg RadarConfig) threatintel.Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRadarBaseURL
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultRadarTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultRadarPollInterval
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultRadarMaxAttempts
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultRadarMaxWait
	}
	return &radarAdapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accountID:    cfg.AccountID,
		token:        cfg.Token,
		client:       client,
		pollInterval: interval,
		maxAttempts:  attempts,
		maxWait:      maxWait,
	}
}

func (a *radarAdapter) Name() string {
	return "radar"
}

type radarSubmitRequest struct {
	URL string `json:"url"`
}

type radarSubmitResponse struct {
	UUID    string `json:"uuid"`
	Message string `json:"message,omitempty"`
}

// radarResult keeps task and overall as pointers so a payload missing them
// is told apart from a clean verdict.
type radarResult struct {
	Task *struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	} `json:"task"`
	Verdicts struct {
		Overall *radarOverall `json:"overall"`
	} `json:"verdicts"`
}

type radarOverall struct {
	Malicious  bool         `json:"malicious"`
	Categories []radarLabel `json:"categories"`
	Tags       []radarLabel `json:"tags"`
}

// radarLabel accepts either a bare string or an object with a name field.
type radarLabel string

func (l *radarLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = radarLabel(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = radarLabel(obj.Name)
	return nil
}

// Scan submits rawURL and waits for the verdict.
func (a *radarAdapter) Scan(ctx context.Context, rawURL string) (*threatintel.Verdict, error) {
	if a.token == "" || a.accountID == "" {
		return nil, &threatintel.SubmissionError{Provider: a.Name(), Err: errors.New("API token and account ID are required")}
	}

	scanID, err := a.submit(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result, err := a.poll(ctx, scanID)
	if err != nil {
		return nil, err
	}

	return a.mapVerdict(result), nil
}

func (a *radarAdapter) endpoint(parts ...string) string {
	return a.baseURL + "/accounts/" + a.accountID + "/urlscanner/v2/" + strings.Join(parts, "/")
}

func (a *radarAdapter) submit(ctx context.Context, rawURL string) (string, error) {
	body, err := json.Marshal(radarSubmitRequest{URL: rawURL})
	if err != nil {
		return "", &threatintel.SubmissionError{Provider: a.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("scan"), bytes.NewReader(body))
	if err != nil {
		return "", &threatintel.SubmissionError{Provider: a.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &threatintel.SubmissionError{Provider: a.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &threatintel.SubmissionError{
			Provider: a.Name(),
			Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var out radarSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &threatintel.SubmissionError{Provider: a.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.UUID == "" {
		return "", &threatintel.SubmissionError{Provider: a.Name(), Err: errors.New("response carries no scan uuid")}
	}
	return out.UUID, nil
}

// poll fetches the result until the task is finished. 404 and any
// non-finished task status mean "try again after the interval".
func (a *radarAdapter) poll(ctx context.Context, scanID string) (*radarResult, error) {
	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, a.maxWait)
	defer cancel()

	var (
		result   *radarResult
		attempts int
	)
	op := func() error {
		attempts++
		r, err := a.fetchResult(pollCtx, scanID)
		if err != nil {
			if errors.Is(err, errScanPending) {
				return err
			}
			if pollCtx.Err() != nil {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.pollInterval), uint64(a.maxAttempts-1)),
		pollCtx,
	)
	err := backoff.Retry(op, policy)
	if err == nil {
		return result, nil
	}

	var lookupErr *threatintel.LookupError
	if errors.As(err, &lookupErr) && pollCtx.Err() == nil {
		return nil, err
	}
	return nil, &threatintel.TimeoutError{
		Provider: a.Name(),
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Err:      err,
	}
}

func (a *radarAdapter) fetchResult(ctx context.Context, scanID string) (*radarResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("result", scanID), nil)
	if err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, errScanPending
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &threatintel.LookupError{
			Provider: a.Name(),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var result radarResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.Task == nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Status: resp.StatusCode, Err: errors.New("malformed result: no task")}
	}
	if status := result.Task.Status; status != "" && !strings.EqualFold(status, "finished") {
		return nil, errScanPending
	}
	if result.Verdicts.Overall == nil {
		return nil, &threatintel.LookupError{Provider: a.Name(), Status: resp.StatusCode, Err: errors.New("malformed result: no overall verdict")}
	}
	return &result, nil
}

func (a *radarAdapter) mapVerdict(r *radarResult) *threatintel.Verdict {
	overall := r.Verdicts.Overall
	labels := make([]string, 0, len(overall.Categories)+len(overall.Tags))
	for _, c := range overall.Categories {
		labels = append(labels, string(c))
	}
	for _, t := range overall.Tags {
		labels = append(labels, string(t))
	}

	return &threatintel.Verdict{
		Provider:   a.Name(),
		Malicious:  overall.Malicious,
		Categories: threatintel.Classify(overall.Malicious, labels),
	}
}
