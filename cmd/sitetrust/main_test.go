package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitetrust/sitetrust/internal/config"
	"github.com/sitetrust/sitetrust/internal/policy"
)

// run executes the CLI with args against a config rooted in a temp dir.
func run(t *testing.T, cfgYAML string, args ...string) (string, error) {
	t.Helper()
	configPath, envFile, logLevel, scale, blocklistDir = "", "", "", "", ""

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, k := range []string{config.EnvRadarToken, config.EnvRadarAccountID, config.EnvVirusTotalKey, config.EnvRedisURL} {
		t.Setenv(k, "")
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func sqliteConfig(t *testing.T) string {
	return "reports:\n  backend: sqlite\n  path: " + filepath.Join(t.TempDir(), "reports.db") + "\n"
}

func TestEmbeddedConfigIsValid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := config.LoadConfig("", defaultConfigYAML)
	require.NoError(t, err)
}

func TestReportCommands(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, cfg, "report", "add", "https://Bad.Example.com/login")
	require.NoError(t, err)
	assert.Contains(t, out, "Reported bad.example.com")

	out, err = run(t, cfg, "report", "show", "bad.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "https://Bad.Example.com/login")

	out, err = run(t, cfg, "report", "list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "bad.example.com"))

	_, err = run(t, cfg, "report", "remove", "bad.example.com")
	require.NoError(t, err)

	_, err = run(t, cfg, "report", "show", "bad.example.com")
	assert.Error(t, err)

	out, err = run(t, cfg, "report", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No reports")
}

func TestReportCommands_StoreDisabled(t *testing.T) {
	_, err := run(t, "reports:\n  backend: none\n", "report", "list")
	assert.Error(t, err)
}

func TestListsCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crypto_scam.txt"), []byte("a.com\nb.com\n"), 0o644))

	out, err := run(t, "reports:\n  backend: none\n", "--blocklist-dir", dir, "lists")
	require.NoError(t, err)
	assert.Contains(t, out, "Crypto scam")
	assert.Contains(t, out, "2 entries")
}

func TestPrintConfig_Overrides(t *testing.T) {
	out, err := run(t, "reports:\n  backend: none\n", "--scale", "5pt", "print-config")
	require.NoError(t, err)
	assert.Contains(t, out, "Scale: 5pt")
	assert.Contains(t, out, "VirusTotal Key: [not set]")
}

func TestPrintConfig_RejectsBadScale(t *testing.T) {
	_, err := run(t, "reports:\n  backend: none\n", "--scale", "7pt", "print-config")
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &policy.Report{
		Target:      "http://phishing-test.tk/",
		Score:       1,
		MaxScore:    5,
		Label:       "Dangerous",
		Description: "Avoid this site.",
		Tags:        []string{`✗ Matched "Phishing"`, "✗ Site not secure (HTTP)"},
		Degraded:    true,
		Failures:    []string{"threatintel:virustotal"},
	})

	out := buf.String()
	assert.Contains(t, out, "Score: 1/5  Dangerous")
	assert.Contains(t, out, `✗ Matched "Phishing"`)
	assert.Contains(t, out, "Unavailable: threatintel:virustotal")
}
