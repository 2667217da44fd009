package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitetrust/sitetrust/internal/target"
)

// ErrNotFound is returned when removing a hostname that was never reported.
var ErrNotFound = errors.New("report not found")

// Entry is a user report of a suspicious site, keyed by normalized hostname.
type Entry struct {
	URL       string    `json:"url"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry builds an entry for raw, which may be a URL or a bare hostname.
func NewEntry(raw string, now time.Time) (Entry, error) {
	host, err := target.ParseHost(raw)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		URL:       raw,
		Hostname:  host,
		Timestamp: now.UTC(),
	}, nil
}

// Advisory is the tag shown when analyzing a site that was reported before.
func (e Entry) Advisory() string {
	if e.Timestamp.IsZero() {
		return "⚠ This site was already reported (unknown date)"
	}
	return fmt.Sprintf("⚠ This site was already reported (%s)", e.Timestamp.UTC().Format("2006-01-02 15:04 MST"))
}

// Store persists reports.
type Store interface {
	// Get returns the report for hostname, or nil when there is none.
	Get(ctx context.Context, hostname string) (*Entry, error)
	// Save inserts or replaces the report for e.Hostname.
	Save(ctx context.Context, e Entry) error
	// Remove deletes the report for hostname, or returns ErrNotFound.
	Remove(ctx context.Context, hostname string) error
	// List returns all reports, newest first.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
