package blocklist

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed defaults/*.txt
var defaultLists embed.FS

// ListExt is the file extension of list files.
const ListExt = ".txt"

// DefaultNames is used when a source cannot enumerate its lists.
var DefaultNames = []string{
	"drugs.txt",
	"phishing.txt",
	"malware.txt",
	"fraud.txt",
	"porn.txt",
	"scam.txt",
}

// Source provides named blocklists.
type Source interface {
	// Names enumerates the lists the source offers.
	Names(ctx context.Context) ([]string, error)
	// Load returns the parsed patterns of one list.
	Load(ctx context.Context, name string) ([]string, error)
}

// ListLoadError is returned when a single list cannot be loaded.
type ListLoadError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ListLoadError) Error() string {
	return fmt.Sprintf("load blocklist %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ListLoadError) Unwrap() error {
	return e.Err
}

// FSSource reads "*.txt" lists from a filesystem.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource returns a source reading lists from fsys.
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// NewDirSource returns a source reading lists from a directory on disk.
func NewDirSource(dir string) *FSSource {
	return &FSSource{fsys: os.DirFS(dir)}
}

// NewEmbeddedSource returns a source over the lists compiled into the binary.
func NewEmbeddedSource() *FSSource {
	sub, err := fs.Sub(defaultLists, "defaults")
	if err != nil {
		// fs.Sub only fails on an invalid path literal
		panic(err)
	}
	return &FSSource{fsys: sub}
}

// Names lists "*.txt" files in the root of the filesystem. If enumeration
// fails or yields nothing, DefaultNames is returned instead.
func (s *FSSource) Names(ctx context.Context) ([]string, error) {
	matches, err := fs.Glob(s.fsys, "*"+ListExt)
	if err != nil || len(matches) == 0 {
		return append([]string(nil), DefaultNames...), nil
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads and parses one list.
func (s *FSSource) Load(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}
	if !fs.ValidPath(name) || strings.Contains(name, "/") {
		return nil, &ListLoadError{Name: name, Err: fmt.Errorf("invalid list name")}
	}

	f, err := s.fsys.Open(name)
	if err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}
	defer f.Close()

	patterns, err := Parse(f)
	if err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}
	return patterns, nil
}

const (
	maxListBytes       = 10 << 20 // 10 MiB safety cap
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPSourceConfig configures an HTTPSource.
type HTTPSourceConfig struct {
	BaseURL string
	Names   []string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPSource fetches lists from "<BaseURL>/<name>".
type HTTPSource struct {
	baseURL string
	names   []string
	client  *http.Client
}

// NewHTTPSource creates a source fetching lists over HTTP.
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	names := cfg.Names
	if len(names) == 0 {
		names = DefaultNames
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		names:   append([]string(nil), names...),
		client:  client,
	}
}

// Names returns the configured list names.
func (s *HTTPSource) Names(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.names...), nil
}

// Load fetches and parses one list.
func (s *HTTPSource) Load(ctx context.Context, name string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+path.Clean(name), nil)
	if err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ListLoadError{
			Name: name,
			Err:  fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	patterns, err := Parse(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, &ListLoadError{Name: name, Err: err}
	}
	return patterns, nil
}

// IsListLoadError reports whether err carries a ListLoadError.
func IsListLoadError(err error) bool {
	var le *ListLoadError
	return errors.As(err, &le)
}
