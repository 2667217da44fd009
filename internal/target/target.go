package target

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Target is a parsed, normalized analysis target.
type Target struct {
	Raw    string // input as given by the caller
	Scheme string // "http" or "https"
	Host   string // normalized hostname
	URL    string // canonical URL sent to external providers
}

// IsHTTPS reports whether the target uses a secure scheme.
func (t Target) IsHTTPS() bool {
	return t.Scheme == "https"
}

// InvalidTargetError is returned when the input cannot be turned into a
// hostname. It is the only error that aborts an analysis.
type InvalidTargetError struct {
	Input  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InvalidTargetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid target %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid target %q: %s", e.Input, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *InvalidTargetError) Unwrap() error {
	return e.Err
}

func invalid(input, reason string, err error) *InvalidTargetError {
	return &InvalidTargetError{Input: input, Reason: reason, Err: err}
}

// Parse turns a raw URL into a Target. Only http and https are accepted.
func Parse(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, invalid(raw, "empty url", nil)
	}

	i := strings.Index(trimmed, "://")
	if i <= 0 {
		return Target{}, invalid(raw, "url must contain scheme", nil)
	}

	var scheme string
	switch schemePart := trimmed[:i]; {
	case strings.EqualFold(schemePart, "http"):
		scheme = "http"
	case strings.EqualFold(schemePart, "https"):
		scheme = "https"
	default:
		return Target{}, invalid(raw, "unsupported scheme "+schemePart, nil)
	}

	u, err := url.Parse(scheme + trimmed[i:])
	if err != nil {
		return Target{}, invalid(raw, "malformed url", err)
	}

	host, err := NormalizeHost(u.Host)
	if err != nil {
		return Target{}, invalid(raw, "bad host", err)
	}

	// Providers get the URL without userinfo or fragment.
	canonical := *u
	canonical.User = nil
	canonical.Fragment = ""
	canonical.RawFragment = ""
	if port := u.Port(); port != "" {
		canonical.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		canonical.Host = "[" + host + "]"
	} else {
		canonical.Host = host
	}
	if canonical.Path == "" {
		canonical.Path = "/"
	}

	return Target{
		Raw:    raw,
		Scheme: scheme,
		Host:   host,
		URL:    canonical.String(),
	}, nil
}

// NormalizeHost normalizes a raw host (no scheme, no path) into the form
// used as the blocklist and report-store key. Applying it twice yields the
// same result.
func NormalizeHost(hostport string) (string, error) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", fmt.Errorf("empty host")
	}

	// user:pass@host
	if at := strings.LastIndexByte(hostport, '@'); at != -1 {
		hostport = hostport[at+1:]
	}

	host := hostport
	if strings.Contains(hostport, ":") {
		if h, _, err := net.SplitHostPort(hostport); err == nil {
			host = h
		}
	}

	host = strings.TrimSpace(host)
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}

	host = strings.TrimRight(host, ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	if isASCII(host) {
		if strings.ContainsAny(host, " /\\?#") {
			return "", fmt.Errorf("invalid character in host %q", host)
		}
		return strings.ToLower(host), nil
	}

	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(asciiHost), nil
}

// ParseHost accepts either a URL or a bare hostname and returns the
// normalized hostname. Used by report commands where users type either.
func ParseHost(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		t, err := Parse(raw)
		if err != nil {
			return "", err
		}
		return t.Host, nil
	}
	if slash := strings.IndexByte(raw, '/'); slash != -1 {
		raw = raw[:slash]
	}
	host, err := NormalizeHost(raw)
	if err != nil {
		return "", invalid(raw, "bad host", err)
	}
	return host, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
