package store

import (
	"errors"
	"time"

	"tunecanon/internal/util"
	"tunecanon/pkg/domain"
)

// ensureID keeps a caller-supplied id or mints a fresh one for inserts.
func ensureID(id string) string {
	if id != "" {
		return id
	}
	return util.NewID()
}

// ErrDuplicate reports that an insert lost a unique-constraint race.
// It never escapes the package: resolveOrCreate catches it and re-reads.
var ErrDuplicate = errors.New("store: duplicate key")

// ErrResolveInconsistent reports that a re-read after a duplicate-key
// insert still found nothing. Should be unreachable.
var ErrResolveInconsistent = errors.New("store: record vanished after duplicate-key insert")

// Store defines persistence for canonical albums/artists, collection
// memberships, daily challenges, curated picks and provenance records.
//
// Every GetOrCreate* operation is idempotent under arbitrary concurrency:
// exactly one row exists per key afterwards, and at most one caller
// observes created=true.
type Store interface {
	// albums
	GetAlbum(id string) (domain.Album, bool, error)
	FindAlbumByMBID(mbid string) (domain.Album, bool, error)
	FindAlbumByDiscogsID(discogsID string) (domain.Album, bool, error)
	FindAlbumByNaturalKey(title, artistName string, year int) (domain.Album, bool, error)
	GetOrCreateAlbumByMBID(fresh domain.Album) (domain.Album, bool, error)
	GetOrCreateAlbumByDiscogsID(fresh domain.Album) (domain.Album, bool, error)
	GetOrCreateAlbumByNaturalKey(fresh domain.Album) (domain.Album, bool, error)
	SetAlbumEnrichment(id string, status domain.EnrichmentStatus, quality domain.QualityTier) error
	UpdateAlbumMetadata(id string, title string, year int) error
	SetAlbumArtworkKey(id, key string) error

	// artists
	GetArtist(id string) (domain.Artist, bool, error)
	GetOrCreateArtistByName(fresh domain.Artist) (domain.Artist, bool, error)

	// collection memberships
	GetOrCreateMembership(fresh domain.CollectionMembership) (domain.CollectionMembership, bool, error)
	ListMemberships(collectionID string) ([]domain.CollectionMembership, error)

	// daily challenges
	GetDailyChallenge(date time.Time) (domain.DailyChallenge, bool, error)
	GetOrCreateDailyChallenge(fresh domain.DailyChallenge) (domain.DailyChallenge, bool, error)
	IncrementDailyCounters(date time.Time, played, won int) error

	// daily selection inputs
	GetDailyPin(date time.Time) (string, bool, error)
	SetDailyPin(date time.Time, albumID, pinnedBy string) error
	CuratedCount() (int64, error)
	CuratedPickBySeq(seq int64) (string, bool, error)
	AddCuratedPick(seq int64, albumID, addedBy string) error

	// provenance (append-only)
	AppendProvenance(rec domain.ProvenanceRecord) error
	ListProvenanceByRoot(rootJobID string) ([]domain.ProvenanceRecord, error)
}
