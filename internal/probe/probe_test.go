package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitetrust/sitetrust/internal/heuristic"
)

func TestCheckAccessibility_AnyStatusIsReachable(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			w.WriteHeader(status)
		}))

		got := New(Config{}).CheckAccessibility(context.Background(), server.URL)
		assert.True(t, got.IsAccessible, "status %d", status)
		assert.Equal(t, heuristic.SeveritySafe, got.Severity)
		server.Close()
	}
}

func TestCheckAccessibility_RedirectNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://127.0.0.1:1/unreachable", http.StatusFound)
	}))
	defer server.Close()

	got := New(Config{}).CheckAccessibility(context.Background(), server.URL)
	assert.True(t, got.IsAccessible)
}

func TestCheckAccessibility_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	got := New(Config{Timeout: time.Second}).CheckAccessibility(context.Background(), "http://"+addr)
	assert.False(t, got.IsAccessible)
	assert.Equal(t, heuristic.SeverityCritical, got.Severity)
	assert.Contains(t, got.Message, "unreachable")
}

func TestCheckAccessibility_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	got := New(Config{Timeout: 50 * time.Millisecond}).CheckAccessibility(context.Background(), server.URL)
	assert.False(t, got.IsAccessible)
	assert.Contains(t, got.Message, "no response in time")
}

func TestCheckAccessibility_BadCertificateStillReachable(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	got := New(Config{}).CheckAccessibility(context.Background(), server.URL)
	assert.True(t, got.IsAccessible)
}

func TestProbeCertificate(t *testing.T) {
	// self-signed test certificate is not trusted by the default pool
	untrusted := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer untrusted.Close()
	assert.Equal(t, heuristic.CertInvalid, New(Config{}).ProbeCertificate(context.Background(), untrusted.URL))

	// the test server's own client trusts its certificate
	trusted := New(Config{Transport: untrusted.Client().Transport})
	assert.Equal(t, heuristic.CertValid, trusted.ProbeCertificate(context.Background(), untrusted.URL))
}

func TestProbeCertificate_TimeoutIsInconclusive(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	p := New(Config{Timeout: 50 * time.Millisecond, Transport: server.Client().Transport})
	assert.Equal(t, heuristic.CertInconclusive, p.ProbeCertificate(context.Background(), server.URL))
}

func TestProber_ImplementsCertificateProber(t *testing.T) {
	var _ heuristic.CertificateProber = New(Config{})
}
