package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// hostsPrefixes are stripped from hosts-file style lines.
var hostsPrefixes = []string{"0.0.0.0", "127.0.0.1", "::1", "::"}

// ignoredHosts show up in hosts files but are never block targets.
var ignoredHosts = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"0.0.0.0":               {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

// maxLineBytes bounds a single list line.
const maxLineBytes = 64 * 1024

// Parse reads a blocklist in either hosts format ("0.0.0.0 bad.example")
// or plain format (one pattern per line). Comments start with '#'.
// The result is lower-cased and deduplicated in first-seen order.
func Parse(r io.Reader) ([]string, error) {
	var (
		out  []string
		seen = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		entry := parseLine(scanner.Text())
		if entry == "" {
			continue
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}

	return out, nil
}

func parseLine(line string) string {
	if i := strings.IndexByte(line, '#'); i != -1 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	entry := fields[0]
	for _, prefix := range hostsPrefixes {
		if entry == prefix {
			if len(fields) < 2 {
				return ""
			}
			entry = fields[1]
			break
		}
	}

	entry = strings.TrimRight(strings.ToLower(entry), ".")
	if _, skip := ignoredHosts[entry]; skip {
		return ""
	}
	return entry
}
