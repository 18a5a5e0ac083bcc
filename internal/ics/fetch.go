package ics

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
	"time"

	"gopkg.in/yaml.v3"

	appLog "devicecal/internal/log"
)

const (
	defaultFetchTimeout = 15 * time.Second
	maxBodySize         = 32 << 20
	metaFile            = "meta.yaml"
	bodyFile            = "body.ics"
)

// FetchResult is a fetched payload. FromCache is set when the cached body
// was served because the server reported no change or could not be reached.
type FetchResult struct {
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `yaml:"url"`
	ETag         string    `yaml:"etag,omitempty"`
	LastModified string    `yaml:"last_modified,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests, keeping the last
// good body per URL under cacheDir.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch returns the body at rawURL. A network failure or unexpected status
// falls back to the cached body when there is one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("ics: empty URL")
	}
	dir := f.cachePath(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("ics: create cache dir: %w", err)
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, bodyFile))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("ics: fetch failed, using cached body", err, "url", redactURL(rawURL))
			return FetchResult{Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return FetchResult{}, err
		}
		meta := cacheMeta{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, meta, body); err != nil {
			appLog.Error("ics: cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("ics: fetched", "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{Body: body}, nil
	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified without a cached body")
		}
		appLog.Info("ics: not modified, using cache", "url", redactURL(rawURL))
		return FetchResult{Body: cached, FromCache: true}, nil
	default:
		if len(cached) > 0 {
			appLog.Error("ics: unexpected status, using cached body", errors.New(resp.Status), "url", redactURL(rawURL))
			return FetchResult{Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("ics: fetch %s: %s", redactURL(rawURL), resp.Status)
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, err
	}
	err = yaml.Unmarshal(data, &meta)
	return meta, err
}

// saveCache writes the body before the metadata so the metadata never
// describes a missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, bodyFile), body, 0o600); err != nil {
		return err
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFile), data, 0o600)
}

// redactURL keeps only the scheme and host of a feed URL; paths and queries
// often carry access tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
