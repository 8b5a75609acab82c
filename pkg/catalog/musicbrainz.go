package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MusicBrainzClient fetches release groups from the MusicBrainz web
// service. MusicBrainz requires a meaningful User-Agent.
type MusicBrainzClient struct {
	baseURL    string
	coverURL   string
	userAgent  string
	httpClient *http.Client
}

// NewMusicBrainzClient constructs a client for the given endpoints.
// Empty endpoints fall back to the public service.
func NewMusicBrainzClient(baseURL, coverURL, userAgent string) *MusicBrainzClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://musicbrainz.org"
	}
	if strings.TrimSpace(coverURL) == "" {
		coverURL = "https://coverartarchive.org"
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "tunecanon/1.0"
	}
	return &MusicBrainzClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		coverURL:   strings.TrimRight(coverURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type mbReleaseGroup struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	FirstReleaseDate string `json:"first-release-date"`
	ArtistCredit     []struct {
		Artist struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"artist-credit"`
}

// FetchRelease retrieves a release group by MBID.
func (c *MusicBrainzClient) FetchRelease(ctx context.Context, mbid string) (Snapshot, error) {
	url := fmt.Sprintf("%s/ws/2/release-group/%s?inc=artist-credits&fmt=json", c.baseURL, mbid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("musicbrainz: %w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, classifyStatus("musicbrainz", resp.StatusCode)
	}

	var rg mbReleaseGroup
	if err := json.NewDecoder(resp.Body).Decode(&rg); err != nil {
		return Snapshot{}, fmt.Errorf("musicbrainz: decode release group: %w", err)
	}
	if rg.Title == "" {
		return Snapshot{}, fmt.Errorf("musicbrainz: empty release group for %s", mbid)
	}

	snap := Snapshot{
		Title:       rg.Title,
		MBID:        rg.ID,
		ReleaseYear: yearOf(rg.FirstReleaseDate),
		ArtworkURL:  fmt.Sprintf("%s/release-group/%s/front", c.coverURL, rg.ID),
	}
	if snap.MBID == "" {
		snap.MBID = mbid
	}
	if len(rg.ArtistCredit) > 0 {
		snap.ArtistName = rg.ArtistCredit[0].Artist.Name
		snap.ArtistMBID = rg.ArtistCredit[0].Artist.ID
	}
	return snap, nil
}

// yearOf parses the leading year of a MusicBrainz partial date
// ("1997-05-21", "1997-05", "1997" or empty).
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year := 0
	for _, r := range date[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	return year
}

var _ Fetcher = (*MusicBrainzClient)(nil)
