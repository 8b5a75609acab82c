// Package app wires the stores, upstream catalogs, dispatcher and
// selection logic into the operations the API exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tunecanon/internal/util"
	"tunecanon/pkg/catalog"
	"tunecanon/pkg/daily"
	"tunecanon/pkg/domain"
	"tunecanon/pkg/enrich"
	"tunecanon/pkg/provenance"
	"tunecanon/pkg/source"
	"tunecanon/pkg/storage"
	"tunecanon/pkg/store"
)

// artworkURLTTL bounds how long a handed-out artwork download link
// stays valid.
const artworkURLTTL = 15 * time.Minute

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string

	Store       store.Store
	MusicBrainz catalog.Fetcher
	Discogs     catalog.Fetcher
	Dispatcher  *enrich.Dispatcher
	Artwork     storage.ObjectStore

	DailyMaxAttempts int
}

// App is the core application service.
type App struct {
	store       store.Store
	musicbrainz catalog.Fetcher
	discogs     catalog.Fetcher
	dispatcher  *enrich.Dispatcher
	artwork     storage.ObjectStore
	prov        *provenance.Logger
	selector    *daily.Selector

	dailyMaxAttempts int
}

func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required (no in-memory store allowed)")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.DailyMaxAttempts <= 0 {
		cfg.DailyMaxAttempts = 6
	}
	return &App{
		store:            dataStore,
		musicbrainz:      cfg.MusicBrainz,
		discogs:          cfg.Discogs,
		dispatcher:       cfg.Dispatcher,
		artwork:          cfg.Artwork,
		prov:             provenance.NewLogger(dataStore),
		selector:         daily.NewSelector(dataStore),
		dailyMaxAttempts: cfg.DailyMaxAttempts,
	}, nil
}

// ProvenanceLogger exposes the audit logger so background workers
// write into the same trail as API operations.
func (a *App) ProvenanceLogger() *provenance.Logger {
	return a.prov
}

// ResolveInput identifies an album either by an external or local id,
// or by descriptive fields when no id is known.
type ResolveInput struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	ArtistName  string `json:"artistName,omitempty"`
	ReleaseYear int    `json:"releaseYear,omitempty"`
}

// ResolveResult reports the canonical album and whether this call
// created it.
type ResolveResult struct {
	Album   domain.Album `json:"album"`
	Created bool         `json:"created"`
}

// ResolveAlbum maps any album reference onto exactly one canonical
// record, creating it on first sight. Safe to call concurrently with
// the same reference: every caller gets the same record and at most
// one observes Created. Provenance and enrichment dispatch run after
// the record exists and never fail the resolve.
func (a *App) ResolveAlbum(ctx context.Context, actor domain.Actor, in ResolveInput) (ResolveResult, error) {
	op := provenance.NewOp(requestIDFrom(ctx))
	res, src, err := a.resolve(ctx, in, op)
	if err != nil {
		return ResolveResult{}, err
	}

	a.prov.Log(op, provenance.Entry{
		EntityType: "album",
		EntityID:   res.Album.ID,
		Operation:  "album.resolve",
		Category:   domain.CategoryUserAction,
		Sources:    provenance.SourceList(string(src)),
		Status:     domain.ProvenanceSuccess,
		Metadata: map[string]string{
			"actor_id": actor.ID,
			"created":  fmt.Sprintf("%t", res.Created),
		},
	})
	a.dispatcher.DispatchIfCreated(ctx, "album", res.Album.ID, res.Created, op)
	return res, nil
}

// resolve performs classification, optional upstream lookup and the
// idempotent get-or-create.
func (a *App) resolve(ctx context.Context, in ResolveInput, op provenance.OpContext) (ResolveResult, source.Source, error) {
	id := strings.TrimSpace(in.ID)
	src := source.Classify(id)

	switch src {
	case source.SourceMusicBrainz:
		res, err := a.resolveMusicBrainz(ctx, id, op)
		return res, src, err
	case source.SourceDiscogs:
		res, err := a.resolveDiscogs(ctx, id, op)
		return res, src, err
	default:
		res, err := a.resolveLocal(ctx, id, in)
		return res, src, err
	}
}

func (a *App) resolveMusicBrainz(ctx context.Context, mbid string, op provenance.OpContext) (ResolveResult, error) {
	if album, found, err := a.store.FindAlbumByMBID(mbid); err != nil {
		return ResolveResult{}, fmt.Errorf("find by mbid: %w", err)
	} else if found {
		return ResolveResult{Album: album}, nil
	}
	if a.musicbrainz == nil {
		return ResolveResult{}, fmt.Errorf("%w: no musicbrainz client configured", ErrAlbumNotFound)
	}
	snap, err := a.musicbrainz.FetchRelease(ctx, mbid)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFoundUpstream) {
			return ResolveResult{}, fmt.Errorf("%w: mbid %s", ErrAlbumNotFound, mbid)
		}
		return ResolveResult{}, err
	}
	fresh, err := a.albumFromSnapshot(snap, op, "musicbrainz")
	if err != nil {
		return ResolveResult{}, err
	}
	fresh.MBID = mbid
	album, created, err := a.store.GetOrCreateAlbumByMBID(fresh)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve by mbid: %w", err)
	}
	return ResolveResult{Album: album, Created: created}, nil
}

func (a *App) resolveDiscogs(ctx context.Context, discogsID string, op provenance.OpContext) (ResolveResult, error) {
	if album, found, err := a.store.FindAlbumByDiscogsID(discogsID); err != nil {
		return ResolveResult{}, fmt.Errorf("find by discogs id: %w", err)
	} else if found {
		return ResolveResult{Album: album}, nil
	}
	if a.discogs == nil {
		return ResolveResult{}, fmt.Errorf("%w: no discogs client configured", ErrAlbumNotFound)
	}
	snap, err := a.discogs.FetchRelease(ctx, discogsID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFoundUpstream) {
			return ResolveResult{}, fmt.Errorf("%w: discogs id %s", ErrAlbumNotFound, discogsID)
		}
		return ResolveResult{}, err
	}
	fresh, err := a.albumFromSnapshot(snap, op, "discogs")
	if err != nil {
		return ResolveResult{}, err
	}
	fresh.DiscogsID = discogsID
	album, created, err := a.store.GetOrCreateAlbumByDiscogsID(fresh)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve by discogs id: %w", err)
	}
	return ResolveResult{Album: album, Created: created}, nil
}

func (a *App) resolveLocal(_ context.Context, id string, in ResolveInput) (ResolveResult, error) {
	if id != "" {
		album, found, err := a.store.GetAlbum(id)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("get album: %w", err)
		}
		if !found {
			return ResolveResult{}, fmt.Errorf("%w: id %s", ErrAlbumNotFound, id)
		}
		return ResolveResult{Album: album}, nil
	}

	title := strings.TrimSpace(in.Title)
	artistName := strings.TrimSpace(in.ArtistName)
	if title == "" || artistName == "" {
		return ResolveResult{}, fmt.Errorf("%w: id, or title and artistName, required", ErrInvalidInput)
	}
	fresh := domain.Album{
		Title:       title,
		ArtistName:  artistName,
		ReleaseYear: in.ReleaseYear,
		Quality:     domain.QualityLow,
		Enrichment:  domain.EnrichmentPending,
	}
	album, created, err := a.store.GetOrCreateAlbumByNaturalKey(fresh)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve by natural key: %w", err)
	}
	return ResolveResult{Album: album, Created: created}, nil
}

// albumFromSnapshot builds a fresh album from upstream metadata and
// resolves its artist through the same idempotent primitive. An artist
// created here is logged as a child of the triggering operation so the
// audit chain shows the cascade. A database error resolving the
// artist aborts the whole resolve before any album row is written.
func (a *App) albumFromSnapshot(snap catalog.Snapshot, op provenance.OpContext, src string) (domain.Album, error) {
	fresh := domain.Album{
		Title:       snap.Title,
		ArtistName:  snap.ArtistName,
		ReleaseYear: snap.ReleaseYear,
		Quality:     domain.QualityLow,
		Enrichment:  domain.EnrichmentPending,
	}
	if snap.ArtistName == "" {
		return fresh, nil
	}
	artist, created, err := a.store.GetOrCreateArtistByName(domain.Artist{
		Name:       snap.ArtistName,
		MBID:       snap.ArtistMBID,
		Quality:    domain.QualityLow,
		Enrichment: domain.EnrichmentPending,
	})
	if err != nil {
		return domain.Album{}, fmt.Errorf("resolve artist: %w", err)
	}
	fresh.ArtistID = artist.ID
	if created {
		a.prov.Log(op.Child(), provenance.Entry{
			EntityType: "artist",
			EntityID:   artist.ID,
			Operation:  "artist.resolve",
			Category:   domain.CategoryUserAction,
			Sources:    provenance.SourceList(src),
			Status:     domain.ProvenanceSuccess,
			Metadata:   map[string]string{"created": "true"},
		})
	}
	return fresh, nil
}

// AddInput names the album to add, by id or by descriptive fields.
type AddInput struct {
	ResolveInput
	Rating int    `json:"rating,omitempty"`
	Note   string `json:"note,omitempty"`
}

// AddResult reports one addAlbumToCollection call.
type AddResult struct {
	Membership          domain.CollectionMembership `json:"membership"`
	Album               domain.Album                `json:"album"`
	AlbumCreated        bool                        `json:"albumCreated"`
	AlreadyInCollection bool                        `json:"alreadyInCollection"`
}

// AddAlbumToCollection resolves the album and links it to the
// collection. Both steps are idempotent, so double-submits and
// concurrent adds of the same album converge on one membership row.
func (a *App) AddAlbumToCollection(ctx context.Context, actor domain.Actor, collectionID string, in AddInput) (AddResult, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return AddResult{}, fmt.Errorf("%w: collection id required", ErrInvalidInput)
	}

	op := provenance.NewOp(requestIDFrom(ctx))
	res, src, err := a.resolve(ctx, in.ResolveInput, op)
	if err != nil {
		return AddResult{}, err
	}

	membership, memberCreated, err := a.store.GetOrCreateMembership(domain.CollectionMembership{
		CollectionID: collectionID,
		UserID:       actor.ID,
		AlbumID:      res.Album.ID,
		Rating:       in.Rating,
		Note:         in.Note,
	})
	if err != nil {
		return AddResult{}, fmt.Errorf("add membership: %w", err)
	}

	a.prov.Log(op, provenance.Entry{
		EntityType: "album",
		EntityID:   res.Album.ID,
		Operation:  "collection.add_album",
		Category:   domain.CategoryUserAction,
		Sources:    provenance.SourceList(string(src)),
		Status:     domain.ProvenanceSuccess,
		Metadata: map[string]string{
			"actor_id":      actor.ID,
			"collection_id": collectionID,
			"album_created": fmt.Sprintf("%t", res.Created),
			"already_added": fmt.Sprintf("%t", !memberCreated),
		},
	})
	a.dispatcher.DispatchIfCreated(ctx, "album", res.Album.ID, res.Created, op)

	return AddResult{
		Membership:          membership,
		Album:               res.Album,
		AlbumCreated:        res.Created,
		AlreadyInCollection: !memberCreated,
	}, nil
}

// ListCollection returns the memberships of a collection.
func (a *App) ListCollection(collectionID string) ([]domain.CollectionMembership, error) {
	return a.store.ListMemberships(collectionID)
}

// GetOrCreateDailyChallenge materializes the challenge row for the
// date's UTC day. The row pins the selection: once created, the
// album for that day never changes even if the curated list does.
func (a *App) GetOrCreateDailyChallenge(ctx context.Context, date time.Time) (domain.DailyChallenge, error) {
	day := daily.NormalizeDate(date)

	if ch, found, err := a.store.GetDailyChallenge(day); err != nil {
		return domain.DailyChallenge{}, fmt.Errorf("get daily challenge: %w", err)
	} else if found {
		return ch, nil
	}

	albumID, err := a.selector.SelectAlbumForDate(day)
	if err != nil {
		if errors.Is(err, daily.ErrNoCuratedAlbums) {
			return domain.DailyChallenge{}, fmt.Errorf("%w: %v", ErrNoDailyChallenge, err)
		}
		return domain.DailyChallenge{}, err
	}

	ch, created, err := a.store.GetOrCreateDailyChallenge(domain.DailyChallenge{
		Date:        day,
		AlbumID:     albumID,
		MaxAttempts: a.dailyMaxAttempts,
	})
	if err != nil {
		return domain.DailyChallenge{}, fmt.Errorf("create daily challenge: %w", err)
	}
	if created {
		op := provenance.NewOp(requestIDFrom(ctx))
		a.prov.Log(op, provenance.Entry{
			EntityType: "daily_challenge",
			EntityID:   ch.ID,
			Operation:  "daily.materialize",
			Category:   domain.CategoryUserAction,
			Status:     domain.ProvenanceSuccess,
			Metadata:   map[string]string{"date": day.Format("2006-01-02")},
		})
	}
	return ch, nil
}

// DailyInfo is the public view of a challenge. It deliberately has no
// album field: exposing the answer would spoil the game.
type DailyInfo struct {
	Date        time.Time `json:"date"`
	MaxAttempts int       `json:"maxAttempts"`
	PlayCount   int       `json:"playCount"`
	WinCount    int       `json:"winCount"`
}

// GetDailyChallengeInfo returns the public stats for a date,
// materializing the challenge if needed.
func (a *App) GetDailyChallengeInfo(ctx context.Context, date time.Time) (DailyInfo, error) {
	ch, err := a.GetOrCreateDailyChallenge(ctx, date)
	if err != nil {
		return DailyInfo{}, err
	}
	return DailyInfo{
		Date:        ch.Date,
		MaxAttempts: ch.MaxAttempts,
		PlayCount:   ch.PlayCount,
		WinCount:    ch.WinCount,
	}, nil
}

// RecordChallengeResult bumps the day's play counter, and the win
// counter when the player guessed the album.
func (a *App) RecordChallengeResult(ctx context.Context, date time.Time, won bool) error {
	day := daily.NormalizeDate(date)
	if _, err := a.GetOrCreateDailyChallenge(ctx, day); err != nil {
		return err
	}
	wonInc := 0
	if won {
		wonInc = 1
	}
	if err := a.store.IncrementDailyCounters(day, 1, wonInc); err != nil {
		return fmt.Errorf("record challenge result: %w", err)
	}
	return nil
}

// PinDailyAlbum overrides the rotation for one future or current date.
// The album must already be canonical.
func (a *App) PinDailyAlbum(ctx context.Context, actor domain.Actor, date time.Time, albumID string) error {
	day := daily.NormalizeDate(date)
	if _, found, err := a.store.GetAlbum(albumID); err != nil {
		return fmt.Errorf("check album: %w", err)
	} else if !found {
		return fmt.Errorf("%w: id %s", ErrAlbumNotFound, albumID)
	}
	if err := a.store.SetDailyPin(day, albumID, actor.ID); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	op := provenance.NewOp(requestIDFrom(ctx))
	a.prov.Log(op, provenance.Entry{
		EntityType: "daily_challenge",
		EntityID:   albumID,
		Operation:  "daily.pin",
		Category:   domain.CategoryUserAction,
		Status:     domain.ProvenanceSuccess,
		Metadata: map[string]string{
			"actor_id": actor.ID,
			"date":     day.Format("2006-01-02"),
		},
	})
	return nil
}

// AddCuratedPick appends an album to the rotation at the given
// sequence position.
func (a *App) AddCuratedPick(ctx context.Context, actor domain.Actor, seq int64, albumID string) error {
	if _, found, err := a.store.GetAlbum(albumID); err != nil {
		return fmt.Errorf("check album: %w", err)
	} else if !found {
		return fmt.Errorf("%w: id %s", ErrAlbumNotFound, albumID)
	}
	if err := a.store.AddCuratedPick(seq, albumID, actor.ID); err != nil {
		return fmt.Errorf("add curated pick: %w", err)
	}
	return nil
}

// GetAlbum returns one canonical album by local id.
func (a *App) GetAlbum(id string) (domain.Album, error) {
	album, found, err := a.store.GetAlbum(id)
	if err != nil {
		return domain.Album{}, fmt.Errorf("get album: %w", err)
	}
	if !found {
		return domain.Album{}, fmt.Errorf("%w: id %s", ErrAlbumNotFound, id)
	}
	return album, nil
}

// AlbumArtworkURL returns a short-lived download URL for the album's
// cached artwork. The link comes straight from the object store, so
// image bytes never pass through the API.
func (a *App) AlbumArtworkURL(ctx context.Context, id string) (string, error) {
	album, err := a.GetAlbum(id)
	if err != nil {
		return "", err
	}
	if a.artwork == nil || album.ArtworkKey == "" {
		return "", fmt.Errorf("%w: album %s", ErrNoArtwork, id)
	}
	url, err := a.artwork.PresignGet(ctx, album.ArtworkKey, artworkURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign artwork: %w", err)
	}
	return url, nil
}

// ListProvenance returns the audit chain rooted at a job id.
func (a *App) ListProvenance(rootJobID string) ([]domain.ProvenanceRecord, error) {
	return a.store.ListProvenanceByRoot(rootJobID)
}

func requestIDFrom(ctx context.Context) string {
	return util.RequestIDFromContext(ctx)
}
