package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tunecanon/pkg/catalog"
	"tunecanon/pkg/domain"
	"tunecanon/pkg/provenance"
	"tunecanon/pkg/queue"
	"tunecanon/pkg/storage"
	"tunecanon/pkg/store"
)

type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job queue.Job) (queue.Job, error) {
	if f.err != nil {
		return queue.Job{}, f.err
	}
	job.ID = "job-" + job.Type
	f.jobs = append(f.jobs, job)
	return job, nil
}

type fakeFetcher struct {
	snap  catalog.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) FetchRelease(_ context.Context, _ string) (catalog.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return catalog.Snapshot{}, f.err
	}
	return f.snap, nil
}

func TestDispatchOnlyWhenCreated(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q)
	op := provenance.NewOp("req-1")

	if got := d.DispatchIfCreated(context.Background(), "album", "alb1", false, op); got != nil {
		t.Fatalf("expected nil outcomes for existing entity, got %v", got)
	}
	if len(q.jobs) != 0 {
		t.Fatalf("expected no jobs enqueued, got %d", len(q.jobs))
	}

	outcomes := d.DispatchIfCreated(context.Background(), "album", "alb1", true, op)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Enqueued {
			t.Errorf("job %s not enqueued: %s", o.JobType, o.Reason)
		}
	}
	if len(q.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(q.jobs))
	}
	if q.jobs[0].Type != queue.TypeMetadataCheck || q.jobs[0].Priority != PriorityMetadata {
		t.Errorf("first job = %+v, want metadata_check priority %d", q.jobs[0], PriorityMetadata)
	}
	if q.jobs[1].Type != queue.TypeArtworkCache || q.jobs[1].Priority != PriorityArtwork {
		t.Errorf("second job = %+v, want artwork_cache priority %d", q.jobs[1], PriorityArtwork)
	}
	for _, j := range q.jobs {
		if j.ParentJobID != op.RootJobID {
			t.Errorf("job %s parent = %q, want root %q", j.Type, j.ParentJobID, op.RootJobID)
		}
		if j.MaxAttempts != 3 {
			t.Errorf("job %s max attempts = %d, want 3", j.Type, j.MaxAttempts)
		}
	}
	if q.jobs[1].BackoffBase != artworkBackoffBase {
		t.Errorf("artwork backoff base = %v, want %v", q.jobs[1].BackoffBase, artworkBackoffBase)
	}
}

func TestDispatchFailureIsContained(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	d := NewDispatcher(q)

	outcomes := d.DispatchIfCreated(context.Background(), "album", "alb1", true, provenance.NewOp(""))
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Enqueued {
			t.Errorf("job %s reported enqueued despite queue error", o.JobType)
		}
		if o.Reason == "" {
			t.Errorf("job %s missing failure reason", o.JobType)
		}
	}
}

func newTestWorker(t *testing.T, ms *store.MemoryStore, mb catalog.Fetcher, art storage.ObjectStore) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Store:       ms,
		MusicBrainz: mb,
		Artwork:     art,
		Provenance:  provenance.NewLogger(ms),
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func TestMetadataCheckPromotesQuality(t *testing.T) {
	ms := store.NewMemoryStore()
	album, _, err := ms.GetOrCreateAlbumByMBID(domain.Album{
		Title:      "ok computer",
		ArtistName: "radiohead",
		MBID:       "b1392450-e666-3926-a536-22c65f834433",
		Quality:    domain.QualityLow,
		Enrichment: domain.EnrichmentPending,
	})
	if err != nil {
		t.Fatalf("seed album: %v", err)
	}

	fetcher := &fakeFetcher{snap: catalog.Snapshot{Title: "OK Computer", ArtistName: "Radiohead", ReleaseYear: 1997}}
	w := newTestWorker(t, ms, fetcher, nil)

	job := queue.Job{ID: "j1", Type: queue.TypeMetadataCheck, EntityType: "album", EntityID: album.ID, ParentJobID: "root1"}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _, _ := ms.GetAlbum(album.ID)
	if got.Title != "OK Computer" || got.ReleaseYear != 1997 {
		t.Errorf("metadata not applied: %+v", got)
	}
	if got.Quality != domain.QualityHigh {
		t.Errorf("quality = %s, want high", got.Quality)
	}
	if got.Enrichment != domain.EnrichmentCompleted {
		t.Errorf("enrichment = %s, want completed", got.Enrichment)
	}

	recs, err := ms.ListProvenanceByRoot("root1")
	if err != nil {
		t.Fatalf("ListProvenanceByRoot: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 provenance record under root, got %d", len(recs))
	}
	if recs[0].Operation != "album.metadata_check" || recs[0].Status != domain.ProvenanceSuccess {
		t.Errorf("unexpected record: %+v", recs[0])
	}
}

func TestMetadataCheckUpstreamMissDoesNotRetry(t *testing.T) {
	ms := store.NewMemoryStore()
	album, _, _ := ms.GetOrCreateAlbumByMBID(domain.Album{
		Title:      "lost record",
		ArtistName: "nobody",
		MBID:       "00000000-0000-0000-0000-000000000001",
		Quality:    domain.QualityLow,
		Enrichment: domain.EnrichmentPending,
	})

	fetcher := &fakeFetcher{err: catalog.ErrNotFoundUpstream}
	w := newTestWorker(t, ms, fetcher, nil)

	job := queue.Job{ID: "j1", Type: queue.TypeMetadataCheck, EntityType: "album", EntityID: album.ID}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("definitive miss should ack the job, got %v", err)
	}

	got, _, _ := ms.GetAlbum(album.ID)
	if got.Enrichment != domain.EnrichmentFailed {
		t.Errorf("enrichment = %s, want failed", got.Enrichment)
	}
	if got.Quality != domain.QualityLow {
		t.Errorf("quality = %s, want low unchanged", got.Quality)
	}
}

func TestMetadataCheckTransientErrorRetries(t *testing.T) {
	ms := store.NewMemoryStore()
	album, _, _ := ms.GetOrCreateAlbumByMBID(domain.Album{
		Title:      "flaky",
		ArtistName: "band",
		MBID:       "00000000-0000-0000-0000-000000000002",
		Enrichment: domain.EnrichmentPending,
	})

	fetcher := &fakeFetcher{err: catalog.ErrUpstreamUnavailable}
	w := newTestWorker(t, ms, fetcher, nil)

	job := queue.Job{ID: "j1", Type: queue.TypeMetadataCheck, EntityType: "album", EntityID: album.ID}
	if err := w.Handle(context.Background(), job); !errors.Is(err, catalog.ErrUpstreamUnavailable) {
		t.Fatalf("transient error must propagate for retry, got %v", err)
	}
}

func TestMetadataCheckLocalAlbumCompletes(t *testing.T) {
	ms := store.NewMemoryStore()
	album, _, _ := ms.GetOrCreateAlbumByNaturalKey(domain.Album{
		Title:       "homegrown",
		ArtistName:  "garage band",
		ReleaseYear: 2020,
		Quality:     domain.QualityLow,
		Enrichment:  domain.EnrichmentPending,
	})

	w := newTestWorker(t, ms, &fakeFetcher{}, nil)

	job := queue.Job{ID: "j1", Type: queue.TypeMetadataCheck, EntityType: "album", EntityID: album.ID}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _, _ := ms.GetAlbum(album.ID)
	if got.Enrichment != domain.EnrichmentCompleted || got.Quality != domain.QualityLow {
		t.Errorf("local album should complete at low quality, got %+v", got)
	}
}

func TestArtworkCacheStoresObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	ms := store.NewMemoryStore()
	album, _, _ := ms.GetOrCreateAlbumByMBID(domain.Album{
		Title:      "covered",
		ArtistName: "artists",
		MBID:       "00000000-0000-0000-0000-000000000003",
	})

	objects := storage.NewMemoryObjectStore()
	fetcher := &fakeFetcher{snap: catalog.Snapshot{Title: "Covered", ArtworkURL: srv.URL + "/front"}}
	w := newTestWorker(t, ms, fetcher, objects)

	job := queue.Job{ID: "j1", Type: queue.TypeArtworkCache, EntityType: "album", EntityID: album.ID}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _, _ := ms.GetAlbum(album.ID)
	if got.ArtworkKey == "" {
		t.Fatal("artwork key not recorded")
	}
	data, contentType, ok := objects.Get(got.ArtworkKey)
	if !ok {
		t.Fatalf("object %q missing from store", got.ArtworkKey)
	}
	if string(data) != "jpeg-bytes" || contentType != "image/jpeg" {
		t.Errorf("stored object = %q (%s)", data, contentType)
	}
}

func TestArtworkCacheMissingAlbumAcks(t *testing.T) {
	ms := store.NewMemoryStore()
	w := newTestWorker(t, ms, &fakeFetcher{}, storage.NewMemoryObjectStore())

	job := queue.Job{ID: "j1", Type: queue.TypeArtworkCache, EntityType: "album", EntityID: "gone"}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("missing album should ack, got %v", err)
	}
}
