package blocklist

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"phishing.txt":    "Phishing",
		"crypto_scam.txt": "Crypto scam",
		"fake-shops.txt":  "Fake shops",
		"malware":         "Malware",
		".txt":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DisplayName(in), in)
	}
}

func TestAnalyzeAgainstAll(t *testing.T) {
	lists := []*List{
		NewList("phishing.txt", []string{"phishing-test.tk"}),
		NewList("malware.txt", []string{"*.evil.example"}),
		NewList("scam.txt", []string{"tk"}),
		nil,
	}

	got := AnalyzeAgainstAll("login.phishing-test.tk", lists)
	assert.Equal(t, []string{`✗ Matched "Phishing"`, `✗ Matched "Scam"`}, got.Labels)
	assert.Equal(t, 2, got.Count())

	none := AnalyzeAgainstAll("example.com", lists)
	assert.Equal(t, 0, none.Count())
}

func TestAnalyzeAgainstAll_DuplicateListNames(t *testing.T) {
	lists := []*List{
		NewList("phishing.txt", []string{"a.example"}),
		NewList("phishing.txt", []string{"a.example"}),
	}
	got := AnalyzeAgainstAll("a.example", lists)
	assert.Equal(t, []string{`✗ Matched "Phishing"`}, got.Labels)
}

func TestLoadAll_SkipsFailedLists(t *testing.T) {
	src := NewFSSource(fstest.MapFS{
		"phishing.txt": {Data: []byte("phishing-test.tk\n")},
	})

	res := LoadAll(context.Background(), src, []string{"phishing.txt", "missing.txt"})
	assert.Len(t, res.Lists, 1)
	assert.Len(t, res.Errors, 1)
	assert.False(t, res.AllFailed())

	res = LoadAll(context.Background(), src, []string{"missing.txt"})
	assert.True(t, res.AllFailed())
}
