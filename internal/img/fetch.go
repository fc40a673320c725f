// internal/img/fetch.go
package img

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrSourceUnavailable is returned when a source image cannot be retrieved.
var ErrSourceUnavailable = errors.New("source unavailable")

// DefaultMaxSourceBytes caps a downloaded source image.
const DefaultMaxSourceBytes = 64 << 20

// Fetcher retrieves source images from local paths or HTTP(S) URLs. Remote
// sources are cached on disk under CacheDir when it is set.
type Fetcher struct {
	Client   *http.Client
	CacheDir string
	// MaxBytes bounds a download; zero means DefaultMaxSourceBytes.
	MaxBytes int64
}

// NewFetcher returns a Fetcher with a bounded HTTP client.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 30 * time.Second},
		CacheDir: cacheDir,
	}
}

// Fetch returns the bytes behind src and whether they came from the local cache.
// When apiBase is set, remote URLs are requested through its image proxy.
func (f *Fetcher) Fetch(ctx context.Context, src, apiBase string) ([]byte, bool, error) {
	if src == "" {
		return nil, false, fmt.Errorf("%w: empty source", ErrSourceUnavailable)
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		path := src
		if err == nil && u.Scheme == "file" {
			path = u.Path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, path, err)
		}
		return data, false, nil
	}

	cachePath := f.cachePath(src)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, true, nil
		}
	}

	data, err := f.download(ctx, proxied(src, apiBase))
	if err != nil {
		return nil, false, err
	}

	if cachePath != "" {
		// cache failures only cost a refetch
		_ = writeAtomic(cachePath, data)
	}
	return data, false, nil
}

func (f *Fetcher) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrSourceUnavailable, target, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrSourceUnavailable, target, limit)
	}
	return data, nil
}

func (f *Fetcher) cachePath(src string) string {
	if f.CacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(src))
	return filepath.Join(f.CacheDir, hex.EncodeToString(sum[:]))
}

func proxied(src, apiBase string) string {
	if apiBase == "" {
		return src
	}
	return strings.TrimRight(apiBase, "/") + "/proxy?url=" + url.QueryEscape(src)
}

// writeAtomic writes data under a unique temporary name next to path and
// renames it into place, so concurrent writers never share a file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
