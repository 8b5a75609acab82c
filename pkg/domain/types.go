package domain

import "time"

type QualityTier string

const (
	QualityLow  QualityTier = "low"
	QualityHigh QualityTier = "high"
)

type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

type ActorRole string

const (
	RoleUser  ActorRole = "user"
	RoleAdmin ActorRole = "admin"
)

// Actor identifies the caller on whose behalf an operation runs.
// It is passed explicitly; this subsystem never reads ambient session state.
type Actor struct {
	ID   string    `json:"id"`
	Role ActorRole `json:"role"`
}

// Album is the canonical record for a release, regardless of how many
// external identifiers point at it.
type Album struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	ArtistID    string           `json:"artistId"`
	ArtistName  string           `json:"artistName"`
	ReleaseYear int              `json:"releaseYear,omitempty"`
	MBID        string           `json:"mbid,omitempty"`
	DiscogsID   string           `json:"discogsId,omitempty"`
	Quality     QualityTier      `json:"quality"`
	Enrichment  EnrichmentStatus `json:"enrichment"`
	ArtworkKey  string           `json:"-"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

type Artist struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	MBID       string           `json:"mbid,omitempty"`
	Quality    QualityTier      `json:"quality"`
	Enrichment EnrichmentStatus `json:"enrichment"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// CollectionMembership links a user-owned collection to an album.
// At most one membership exists per (collection, album) pair.
type CollectionMembership struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	UserID       string    `json:"userId"`
	AlbumID      string    `json:"albumId"`
	Rating       int       `json:"rating,omitempty"`
	Note         string    `json:"note,omitempty"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"createdAt"`
}

const (
	ProvenanceSuccess = "success"
	ProvenanceFailure = "failure"

	CategoryUserAction       = "user_action"
	CategorySystemEnrichment = "system_enrichment"
)

// ProvenanceRecord is one immutable audit line. Related records share a
// root job id; side-effect records also carry the parent job id.
type ProvenanceRecord struct {
	ID          string            `json:"id"`
	EntityType  string            `json:"entityType"`
	EntityID    string            `json:"entityId"`
	Operation   string            `json:"operation"`
	Category    string            `json:"category"`
	Sources     []string          `json:"sources,omitempty"`
	Status      string            `json:"status"`
	JobID       string            `json:"jobId"`
	ParentJobID string            `json:"parentJobId,omitempty"`
	RootJobID   string            `json:"rootJobId"`
	RequestID   string            `json:"requestId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// DailyChallenge holds one calendar day's guessing-game album.
// Date is normalized to UTC midnight; exactly one row exists per date.
type DailyChallenge struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	AlbumID     string    `json:"-"`
	MaxAttempts int       `json:"maxAttempts"`
	PlayCount   int       `json:"playCount"`
	WinCount    int       `json:"winCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
