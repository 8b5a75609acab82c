package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tunecanon/pkg/catalog"
	"tunecanon/pkg/domain"
	"tunecanon/pkg/provenance"
	"tunecanon/pkg/queue"
	"tunecanon/pkg/storage"
	"tunecanon/pkg/store"
)

// Worker executes enrichment jobs pulled off the queue.
type Worker struct {
	store       store.Store
	musicbrainz catalog.Fetcher
	discogs     catalog.Fetcher
	artwork     storage.ObjectStore
	prov        *provenance.Logger
	httpClient  *http.Client
}

type WorkerConfig struct {
	Store       store.Store
	MusicBrainz catalog.Fetcher
	Discogs     catalog.Fetcher
	Artwork     storage.ObjectStore
	Provenance  *provenance.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	return &Worker{
		store:       cfg.Store,
		musicbrainz: cfg.MusicBrainz,
		discogs:     cfg.Discogs,
		artwork:     cfg.Artwork,
		prov:        cfg.Provenance,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Handle dispatches one job by type. A nil return acks the job; an
// error return lets the queue retry with the job's backoff policy.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	switch job.Type {
	case queue.TypeMetadataCheck:
		return w.checkMetadata(ctx, job)
	case queue.TypeArtworkCache:
		return w.cacheArtwork(ctx, job)
	default:
		slog.Warn("unknown enrichment job type", "job_type", job.Type, "job_id", job.ID)
		return nil
	}
}

// checkMetadata refreshes an album from its external source and lifts
// the quality tier. A definitive upstream miss marks enrichment failed
// without retrying; a transient failure returns an error so the queue
// retries.
func (w *Worker) checkMetadata(ctx context.Context, job queue.Job) error {
	album, found, err := w.store.GetAlbum(job.EntityID)
	if err != nil {
		return fmt.Errorf("load album: %w", err)
	}
	if !found {
		slog.Warn("enrichment target vanished", "album_id", job.EntityID)
		return nil
	}

	fetcher, externalID, source := w.fetcherFor(album)
	if fetcher == nil {
		// local-only album: nothing upstream to check against
		return w.finish(job, album.ID, source, domain.EnrichmentCompleted, domain.QualityLow)
	}

	if err := w.store.SetAlbumEnrichment(album.ID, domain.EnrichmentInProgress, album.Quality); err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}
	snap, err := fetcher.FetchRelease(ctx, externalID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFoundUpstream) {
			return w.finish(job, album.ID, source, domain.EnrichmentFailed, album.Quality)
		}
		return err
	}
	if err := w.store.UpdateAlbumMetadata(album.ID, snap.Title, snap.ReleaseYear); err != nil {
		return fmt.Errorf("apply metadata: %w", err)
	}
	return w.finish(job, album.ID, source, domain.EnrichmentCompleted, domain.QualityHigh)
}

// cacheArtwork downloads cover art and stores it in the object store.
func (w *Worker) cacheArtwork(ctx context.Context, job queue.Job) error {
	album, found, err := w.store.GetAlbum(job.EntityID)
	if err != nil {
		return fmt.Errorf("load album: %w", err)
	}
	if !found || w.artwork == nil {
		return nil
	}

	fetcher, externalID, source := w.fetcherFor(album)
	if fetcher == nil {
		return nil
	}
	snap, err := fetcher.FetchRelease(ctx, externalID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFoundUpstream) {
			return nil
		}
		return err
	}
	if snap.ArtworkURL == "" {
		return nil
	}
	data, contentType, err := catalog.FetchArtwork(ctx, w.httpClient, snap.ArtworkURL)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFoundUpstream) {
			return nil
		}
		return err
	}

	key := fmt.Sprintf("artwork/%s", album.ID)
	if err := w.artwork.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("store artwork: %w", err)
	}
	if err := w.store.SetAlbumArtworkKey(album.ID, key); err != nil {
		return fmt.Errorf("record artwork key: %w", err)
	}
	w.logJob(job, album.ID, source, "album.artwork_cache", domain.ProvenanceSuccess)
	return nil
}

func (w *Worker) fetcherFor(album domain.Album) (catalog.Fetcher, string, string) {
	switch {
	case album.MBID != "" && w.musicbrainz != nil:
		return w.musicbrainz, album.MBID, "musicbrainz"
	case album.DiscogsID != "" && w.discogs != nil:
		return w.discogs, album.DiscogsID, "discogs"
	default:
		return nil, "", "local"
	}
}

func (w *Worker) finish(job queue.Job, albumID, source string, status domain.EnrichmentStatus, quality domain.QualityTier) error {
	if err := w.store.SetAlbumEnrichment(albumID, status, quality); err != nil {
		return fmt.Errorf("record enrichment result: %w", err)
	}
	provStatus := domain.ProvenanceSuccess
	if status == domain.EnrichmentFailed {
		provStatus = domain.ProvenanceFailure
	}
	w.logJob(job, albumID, source, "album.metadata_check", provStatus)
	return nil
}

// logJob threads the worker's provenance record back into the chain the
// dispatcher started: the enqueued job carried the action's root job id.
func (w *Worker) logJob(job queue.Job, albumID, source, operation, status string) {
	op := provenance.OpContext{
		RequestID:   job.RequestID,
		JobID:       job.ID,
		RootJobID:   job.ParentJobID,
		ParentJobID: job.ParentJobID,
	}
	if op.RootJobID == "" {
		op.RootJobID = job.ID
		op.ParentJobID = ""
	}
	w.prov.Log(op, provenance.Entry{
		EntityType: "album",
		EntityID:   albumID,
		Operation:  operation,
		Category:   domain.CategorySystemEnrichment,
		Sources:    provenance.SourceList(source),
		Status:     status,
		Metadata:   map[string]string{"attempt": fmt.Sprintf("%d", job.Attempts)},
	})
}
