package blocklist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := `# comment line

0.0.0.0 Phishing-Test.TK
127.0.0.1 malware.example   # inline comment
plain.example
*.wild.example
0.0.0.0 localhost
0.0.0.0
0.0.0.0 phishing-test.tk
trailing.example.
:: ipv6-style.example
`
	got, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"phishing-test.tk",
		"malware.example",
		"plain.example",
		"*.wild.example",
		"trailing.example",
		"ipv6-style.example",
	}, got)
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse(strings.NewReader("# nothing here\n\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParse_LineTooLong(t *testing.T) {
	_, err := Parse(strings.NewReader(strings.Repeat("a", maxLineBytes+1)))
	assert.Error(t, err)
}
