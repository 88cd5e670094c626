package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// LocalChannel is the channel name of uploads that already sit on local disk.
const LocalChannel = "local"

// Downloader opens the bytes behind a FileRef.
type Downloader interface {
	Open(ctx context.Context, ref FileRef) (io.ReadCloser, error)
}

// DownloaderFunc adapts a function to the Downloader interface.
type DownloaderFunc func(ctx context.Context, ref FileRef) (io.ReadCloser, error)

// Open calls f.
func (f DownloaderFunc) Open(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	return f(ctx, ref)
}

// LocalDownloader reads refs whose ID is a path on local disk. Staging copies
// the file so the caller's original is never touched by cleanup.
type LocalDownloader struct{}

// Open opens the referenced path.
func (LocalDownloader) Open(_ context.Context, ref FileRef) (io.ReadCloser, error) {
	path := strings.TrimSpace(ref.ID)
	if path == "" {
		return nil, fmt.Errorf("local ref %q has no path", ref.Name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return os.Open(path)
}

// HTTPDownloader fetches refs over HTTP from a URL computed by Resolve.
type HTTPDownloader struct {
	Client  *http.Client
	Resolve func(ctx context.Context, ref FileRef) (string, error)
}

// NewHTTPDownloader builds an HTTPDownloader with a bounded client.
func NewHTTPDownloader(timeout time.Duration, resolve func(ctx context.Context, ref FileRef) (string, error)) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPDownloader{Client: &http.Client{Timeout: timeout}, Resolve: resolve}
}

// Open resolves the ref's URL and starts the download.
func (d *HTTPDownloader) Open(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	if d.Resolve == nil {
		return nil, fmt.Errorf("http downloader has no resolver")
	}
	url, err := d.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
