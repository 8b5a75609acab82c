// Package catalog holds the external metadata fetchers. Each client is
// constructed explicitly and injected; there is no package-level client
// state.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotFoundUpstream means the external source has no such release.
// Not retryable.
var ErrNotFoundUpstream = errors.New("release not found upstream")

// ErrUpstreamUnavailable covers network failures, rate limiting and
// server errors. Retryable by the caller or by an enrichment job, never
// by the resolver itself.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Snapshot is the normalized release record a fetcher returns. The
// resolver only persists the minimal fields; enrichment jobs apply the
// rest later.
type Snapshot struct {
	Title       string
	ArtistName  string
	ArtistMBID  string
	ReleaseYear int
	MBID        string
	DiscogsID   string
	ArtworkURL  string
}

// Fetcher retrieves a normalized release snapshot by external id.
type Fetcher interface {
	FetchRelease(ctx context.Context, externalID string) (Snapshot, error)
}

const maxArtworkBytes = 10 << 20

// FetchArtwork downloads cover art referenced by a snapshot. Shared by
// both schemes; the artwork-cache job is its only caller.
func FetchArtwork(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ErrNotFoundUpstream
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: artwork status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// classifyStatus maps an upstream HTTP status to the fetch error
// taxonomy. 404 is a definitive miss; 429 and 5xx are transient.
func classifyStatus(source string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", source, ErrNotFoundUpstream)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%s: %w: status %d", source, ErrUpstreamUnavailable, status)
	default:
		return fmt.Errorf("%s: unexpected status %d", source, status)
	}
}
