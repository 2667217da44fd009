package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitetrust/sitetrust/internal/blocklist"
)

type countingSource struct {
	calls    atomic.Int32
	delay    time.Duration
	patterns map[string][]string
}

func (s *countingSource) Names(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.patterns))
	for n := range s.patterns {
		names = append(names, n)
	}
	return names, nil
}

func (s *countingSource) Load(ctx context.Context, name string) ([]string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	p, ok := s.patterns[name]
	if !ok {
		return nil, &blocklist.ListLoadError{Name: name, Err: errors.New("not found")}
	}
	return p, nil
}

func TestListCache_HitAfterMiss(t *testing.T) {
	src := &countingSource{patterns: map[string][]string{"phishing.txt": {"phishing-test.tk"}}}
	c := NewListCache(src, Config{})

	for i := 0; i < 3; i++ {
		got, err := c.Load(context.Background(), "phishing.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"phishing-test.tk"}, got)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestListCache_ErrorsNotCached(t *testing.T) {
	src := &countingSource{patterns: map[string][]string{}}
	c := NewListCache(src, Config{})

	_, err := c.Load(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.True(t, blocklist.IsListLoadError(err))

	_, err = c.Load(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestListCache_ConcurrentLoadsCollapse(t *testing.T) {
	src := &countingSource{
		delay:    50 * time.Millisecond,
		patterns: map[string][]string{"malware.txt": {"evil.example"}},
	}
	c := NewListCache(src, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load(context.Background(), "malware.txt")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestListCache_Invalidate(t *testing.T) {
	src := &countingSource{patterns: map[string][]string{"scam.txt": {"scam.example"}}}
	c := NewListCache(src, Config{})

	_, err := c.Load(context.Background(), "scam.txt")
	require.NoError(t, err)
	c.Invalidate("scam.txt")
	_, err = c.Load(context.Background(), "scam.txt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestListCache_TTL(t *testing.T) {
	src := &countingSource{patterns: map[string][]string{"scam.txt": {"scam.example"}}}
	c := NewListCache(src, Config{TTL: 20 * time.Millisecond})

	_, err := c.Load(context.Background(), "scam.txt")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.Load(context.Background(), "scam.txt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestListCache_WatchInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phishing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old.example\n"), 0o644))

	c := NewListCache(blocklist.NewDirSource(dir), Config{})
	got, err := c.Load(context.Background(), "phishing.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"old.example"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, dir) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("new.example\n"), 0o644))

	assert.Eventually(t, func() bool {
		got, err := c.Load(context.Background(), "phishing.txt")
		return err == nil && len(got) == 1 && got[0] == "new.example"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestListCache_WatchMissingDir(t *testing.T) {
	c := NewListCache(blocklist.NewFSSource(nil), Config{})
	err := c.Watch(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

// slowSource honors the context it is given, like a real network source.
type slowSource struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *slowSource) Names(ctx context.Context) ([]string, error) {
	return []string{"phishing.txt"}, nil
}

func (s *slowSource) Load(ctx context.Context, name string) ([]string, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return []string{"phishing-test.tk"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestListCache_CallersKeepOwnDeadlines(t *testing.T) {
	src := &slowSource{delay: 200 * time.Millisecond}
	c := NewListCache(src, Config{})

	shortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		_, err := c.Load(shortCtx, "phishing.txt")
		shortErr <- err
	}()

	// join the load started by the short-deadline caller
	time.Sleep(10 * time.Millisecond)
	patterns, err := c.Load(context.Background(), "phishing.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"phishing-test.tk"}, patterns)

	assert.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestListCache_LoadTimeout(t *testing.T) {
	src := &slowSource{delay: time.Second}
	c := NewListCache(src, Config{LoadTimeout: 20 * time.Millisecond})

	_, err := c.Load(context.Background(), "phishing.txt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// gatedSource blocks each load until release is closed.
type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Names(ctx context.Context) ([]string, error) {
	return []string{"scam.txt"}, nil
}

func (s *gatedSource) Load(ctx context.Context, name string) ([]string, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	<-s.release
	return []string{"scam.example"}, nil
}

func TestListCache_InvalidateDuringLoadSkipsStaleEntry(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}, 2), release: make(chan struct{})}
	c := NewListCache(src, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Load(context.Background(), "scam.txt")
		done <- err
	}()

	<-src.started
	c.Invalidate("scam.txt")
	close(src.release)
	require.NoError(t, <-done)

	assert.Equal(t, 0, c.Len(), "a load that raced an invalidation must not be cached")

	_, err := c.Load(context.Background(), "scam.txt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, 1, c.Len())
}
