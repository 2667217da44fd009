package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitetrust/sitetrust/internal/threatintel"
)

func TestURLID(t *testing.T) {
	// no padding, URL-safe alphabet
	assert.Equal(t, "aHR0cHM6Ly9leGFtcGxlLmNvbS8", URLID("https://example.com/"))
	assert.NotContains(t, URLID("https://example.com/??>>"), "=")
	assert.NotContains(t, URLID("https://example.com/??>>"), "+")
	assert.NotContains(t, URLID("https://example.com/??>>"), "/")
}

func TestVirusTotal_Name(t *testing.T) {
	assert.Equal(t, "virustotal", NewVirusTotal(VirusTotalConfig{}).Name())
}

func TestVirusTotal_Interface(t *testing.T) {
	var _ threatintel.Adapter = NewVirusTotal(VirusTotalConfig{APIKey: "k"})
}

func TestVirusTotal_NoAPIKey(t *testing.T) {
	_, err := NewVirusTotal(VirusTotalConfig{}).Scan(context.Background(), "https://example.com/")
	var lookupErr *threatintel.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestVirusTotal_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/urls/"+URLID("https://perfectdeal.example/"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"attributes":{
			"last_analysis_stats":{"malicious":2,"suspicious":1,"harmless":60,"undetected":34,"timeout":0},
			"reputation":-43
		}}}`))
	}))
	defer server.Close()

	a := NewVirusTotal(VirusTotalConfig{BaseURL: server.URL + "/api/v3", APIKey: "test-key", RequestsPerMinute: 600})
	v, err := a.Scan(context.Background(), "https://perfectdeal.example/")
	require.NoError(t, err)

	assert.Equal(t, "virustotal", v.Provider)
	assert.Equal(t, "3/97", v.RawScoreFraction)
	assert.Equal(t, 3, v.Detections)
	assert.Equal(t, 97, v.Total)
	assert.Equal(t, -43.0, v.Reputation)
	assert.True(t, v.Malicious)
	assert.Empty(t, v.Categories)
}

func TestVirusTotal_MissingReputationDefaultsToZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"harmless":70,"undetected":20}}}}`))
	}))
	defer server.Close()

	v, err := NewVirusTotal(VirusTotalConfig{BaseURL: server.URL, APIKey: "k"}).Scan(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Reputation)
	assert.Equal(t, "0/90", v.RawScoreFraction)
	assert.False(t, v.Malicious)
}

func TestVirusTotal_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"NotFoundError"}}`, http.StatusNotFound},
		{"quota", http.StatusTooManyRequests, `{"error":{"code":"QuotaExceededError"}}`, http.StatusTooManyRequests},
		{"malformed", http.StatusOK, `{"data":`, http.StatusOK},
		{"error body with 200", http.StatusOK, `{"error":{"code":"NotFoundError"}}`, http.StatusOK},
		{"no analysis stats", http.StatusOK, `{"data":{"attributes":{"reputation":5}}}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewVirusTotal(VirusTotalConfig{BaseURL: server.URL, APIKey: "k"}).Scan(context.Background(), "https://example.com/")
			var lookupErr *threatintel.LookupError
			require.ErrorAs(t, err, &lookupErr)
			assert.Equal(t, tt.wantStatus, lookupErr.Status)
		})
	}
}

func TestVirusTotal_RateLimitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"harmless":1}}}}`))
	}))
	defer server.Close()

	a := NewVirusTotal(VirusTotalConfig{BaseURL: server.URL, APIKey: "k", RequestsPerMinute: 1})
	_, err := a.Scan(context.Background(), "https://example.com/")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Scan(ctx, "https://example.com/")
	var lookupErr *threatintel.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Contains(t, err.Error(), "rate limit")
}
