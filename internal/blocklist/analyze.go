package blocklist

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MatchResult holds one label per matching list, in list order.
type MatchResult struct {
	Labels []string `json:"labels"`
}

// Count returns the number of matching lists.
func (r MatchResult) Count() int {
	return len(r.Labels)
}

// DisplayName turns a list file name into a human-readable name:
// "crypto_scam.txt" -> "Crypto scam".
func DisplayName(name string) string {
	name = strings.TrimSuffix(name, ListExt)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// Label returns the explanation tag used for a match against the named list.
func Label(name string) string {
	return `✗ Matched "` + DisplayName(name) + `"`
}

// AnalyzeAgainstAll checks hostname against every list and returns a label
// for each list that matches. Nil lists are skipped.
func AnalyzeAgainstAll(hostname string, lists []*List) MatchResult {
	var result MatchResult
	seen := make(map[string]struct{}, len(lists))
	for _, l := range lists {
		if !Matches(hostname, l) {
			continue
		}
		label := Label(l.Name)
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		result.Labels = append(result.Labels, label)
	}
	return result
}

// LoadResult is the outcome of LoadAll.
type LoadResult struct {
	Lists  []*List
	Errors []error
}

// AllFailed reports whether every requested list failed to load.
func (r LoadResult) AllFailed() bool {
	return len(r.Lists) == 0 && len(r.Errors) > 0
}

// LoadAll loads the named lists from src, or every list src offers when
// names is empty. Lists that fail are recorded and skipped.
func LoadAll(ctx context.Context, src Source, names []string) LoadResult {
	var res LoadResult

	if len(names) == 0 {
		var err error
		names, err = src.Names(ctx)
		if err != nil {
			names = DefaultNames
		}
	}

	for _, name := range names {
		patterns, err := src.Load(ctx, name)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Lists = append(res.Lists, NewList(name, patterns))
	}

	return res
}
