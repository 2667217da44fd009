package blocklist

import (
	"strings"
)

// List is an immutable, named set of domain patterns. A plain entry
// ("bad.example") matches itself and, through the parent-domain walk, any
// subdomain. A wildcard entry ("*.bad.example") matches the domain and its
// subdomains on a label boundary.
type List struct {
	Name      string
	patterns  []string
	exact     map[string]struct{}
	wildcards []string
}

// NewList builds a List from raw patterns. Patterns are lower-cased,
// stripped of trailing dots and deduplicated in first-seen order.
func NewList(name string, patterns []string) *List {
	l := &List{
		Name:  name,
		exact: make(map[string]struct{}, len(patterns)),
	}

	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimRight(strings.ToLower(strings.TrimSpace(p)), ".")
		if p == "" || p == "*." || p == "*" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		l.patterns = append(l.patterns, p)

		if strings.HasPrefix(p, "*.") {
			l.wildcards = append(l.wildcards, p[2:])
			continue
		}
		l.exact[p] = struct{}{}
	}

	return l
}

// Patterns returns a copy of the list's patterns in insertion order.
func (l *List) Patterns() []string {
	out := make([]string, len(l.patterns))
	copy(out, l.patterns)
	return out
}

// Len returns the number of distinct patterns.
func (l *List) Len() int {
	return len(l.patterns)
}

// Matches reports whether hostname is covered by list. The hostname is
// expected to be normalized already.
func Matches(hostname string, list *List) bool {
	if list == nil || hostname == "" {
		return false
	}

	// 1. exact
	if _, ok := list.exact[hostname]; ok {
		return true
	}

	// 2. parent domains: a.b.c -> b.c -> c
	h := hostname
	for {
		dot := strings.IndexByte(h, '.')
		if dot == -1 {
			break
		}
		h = h[dot+1:]
		if h == "" {
			break
		}
		if _, ok := list.exact[h]; ok {
			return true
		}
	}

	// 3. wildcards, dot boundary enforced
	for _, suffix := range list.wildcards {
		if hostname == suffix || strings.HasSuffix(hostname, "."+suffix) {
			return true
		}
	}

	return false
}
