package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Uniqueness constraints on these
// tables are the only mutual-exclusion mechanism for "create exactly
// once"; no application locks are taken anywhere in the subsystem.
type AlbumModel struct {
	ID          string    `gorm:"primaryKey"`
	Title       string    `gorm:"not null"`
	TitleNorm   string    `gorm:"not null;index"`
	ArtistID    string    `gorm:"not null;index"`
	ArtistName  string    `gorm:"not null"`
	ArtistNorm  string    `gorm:"not null"`
	ReleaseYear int
	MBID        *string   `gorm:"uniqueIndex"`
	DiscogsID   *string   `gorm:"uniqueIndex"`
	Quality     string    `gorm:"not null"`
	Enrichment  string    `gorm:"not null"`
	ArtworkKey  string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ArtistModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	NameNorm   string    `gorm:"uniqueIndex;not null"`
	MBID       *string   `gorm:"uniqueIndex"`
	Quality    string    `gorm:"not null"`
	Enrichment string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type MembershipModel struct {
	ID           string    `gorm:"primaryKey"`
	CollectionID string    `gorm:"not null;uniqueIndex:idx_collection_album,priority:1"`
	AlbumID      string    `gorm:"not null;uniqueIndex:idx_collection_album,priority:2"`
	UserID       string    `gorm:"not null;index"`
	Rating       int
	Note         string
	Position     int
	CreatedAt    time.Time `gorm:"not null"`
}

// ProvenanceModel rows are append-only; nothing in this subsystem
// updates or deletes them.
type ProvenanceModel struct {
	ID          string         `gorm:"primaryKey"`
	EntityType  string         `gorm:"not null;index:idx_provenance_entity,priority:1"`
	EntityID    string         `gorm:"not null;index:idx_provenance_entity,priority:2"`
	Operation   string         `gorm:"not null"`
	Category    string         `gorm:"not null"`
	Sources     string
	Status      string         `gorm:"not null"`
	JobID       string         `gorm:"not null;index"`
	ParentJobID string
	RootJobID   string         `gorm:"not null;index"`
	RequestID   string
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
}

type DailyChallengeModel struct {
	ID          string    `gorm:"primaryKey"`
	Date        time.Time `gorm:"uniqueIndex;not null"`
	AlbumID     string    `gorm:"not null"`
	MaxAttempts int       `gorm:"not null"`
	PlayCount   int       `gorm:"not null"`
	WinCount    int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// DailyPinModel is the admin override for a date's challenge album.
type DailyPinModel struct {
	Date      time.Time `gorm:"primaryKey"`
	AlbumID   string    `gorm:"not null"`
	PinnedBy  string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// CuratedPickModel is one slot in the ordered curated candidate list the
// daily selection algorithm indexes into.
type CuratedPickModel struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement:false"`
	AlbumID   string    `gorm:"not null"`
	AddedBy   string
	CreatedAt time.Time `gorm:"not null"`
}
