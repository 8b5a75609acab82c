package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DiscogsClient fetches releases from the Discogs API by catalog number.
type DiscogsClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewDiscogsClient constructs a client. The token is optional; without
// it Discogs serves a reduced rate limit.
func NewDiscogsClient(baseURL, token string) *DiscogsClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.discogs.com"
	}
	return &DiscogsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type discogsRelease struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Images []struct {
		URI string `json:"uri"`
	} `json:"images"`
}

// FetchRelease retrieves a release by its numeric Discogs id.
func (c *DiscogsClient) FetchRelease(ctx context.Context, discogsID string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/releases/%s", c.baseURL, discogsID), nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Discogs token="+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("discogs: %w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, classifyStatus("discogs", resp.StatusCode)
	}

	var rel discogsRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Snapshot{}, fmt.Errorf("discogs: decode release: %w", err)
	}
	if rel.Title == "" {
		return Snapshot{}, fmt.Errorf("discogs: empty release for %s", discogsID)
	}

	snap := Snapshot{
		Title:       rel.Title,
		ReleaseYear: rel.Year,
		DiscogsID:   discogsID,
	}
	if rel.ID > 0 {
		snap.DiscogsID = strconv.FormatInt(rel.ID, 10)
	}
	if len(rel.Artists) > 0 {
		snap.ArtistName = rel.Artists[0].Name
	}
	if len(rel.Images) > 0 {
		snap.ArtworkURL = rel.Images[0].URI
	}
	return snap, nil
}

var _ Fetcher = (*DiscogsClient)(nil)
