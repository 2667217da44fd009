package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sitetrust/sitetrust/internal/heuristic"
)

const defaultTimeout = 4 * time.Second

// Accessibility is the outcome of a reachability probe.
type Accessibility struct {
	IsAccessible bool               `json:"is_accessible"`
	Message      string             `json:"message"`
	Severity     heuristic.Severity `json:"severity"`
}

// Config configures a Prober.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Prober issues lightweight HEAD requests to check whether a site answers
// and whether its certificate verifies.
type Prober struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates a Prober.
func New(cfg Config) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "sitetrust/1.0"
	}
	return &Prober{
		client: &http.Client{
			Transport: cfg.Transport,
			Timeout:   timeout,
			// the first answer is enough
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   timeout,
		userAgent: ua,
	}
}

func (p *Prober) head(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CheckAccessibility reports whether url answers at all. Any HTTP response,
// whatever its status, counts as reachable, and so does a certificate
// failure since that is the certificate check's concern.
func (p *Prober) CheckAccessibility(ctx context.Context, url string) Accessibility {
	err := p.head(ctx, url)
	if err == nil || IsCertificateError(err) {
		return Accessibility{IsAccessible: true, Message: "✓ Site reachable", Severity: heuristic.SeveritySafe}
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return unreachable("✗ Site unreachable (domain does not resolve)")
	case errors.Is(err, syscall.ECONNREFUSED):
		return unreachable("✗ Site unreachable (connection refused)")
	case IsTimeout(err):
		return unreachable("✗ Site unreachable (no response in time)")
	default:
		return unreachable("✗ Site unreachable")
	}
}

func unreachable(msg string) Accessibility {
	return Accessibility{IsAccessible: false, Message: msg, Severity: heuristic.SeverityCritical}
}

// ProbeCertificate classifies the certificate presented by url.
func (p *Prober) ProbeCertificate(ctx context.Context, url string) heuristic.CertStatus {
	err := p.head(ctx, url)
	switch {
	case err == nil:
		return heuristic.CertValid
	case IsCertificateError(err):
		return heuristic.CertInvalid
	default:
		return heuristic.CertInconclusive
	}
}

// IsCertificateError reports whether err comes from certificate verification.
func IsCertificateError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
