package store

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"tunecanon/pkg/domain"
)

func TestResolveOrCreateReturnsExisting(t *testing.T) {
	finds := 0
	got, created, err := resolveOrCreate(
		func() (string, bool, error) { finds++; return "existing", true, nil },
		func() (string, error) { t.Fatal("create must not run"); return "", nil },
	)
	if err != nil {
		t.Fatalf("resolveOrCreate: %v", err)
	}
	if created || got != "existing" || finds != 1 {
		t.Fatalf("got %q created=%v finds=%d", got, created, finds)
	}
}

func TestResolveOrCreateCreates(t *testing.T) {
	got, created, err := resolveOrCreate(
		func() (string, bool, error) { return "", false, nil },
		func() (string, error) { return "fresh", nil },
	)
	if err != nil {
		t.Fatalf("resolveOrCreate: %v", err)
	}
	if !created || got != "fresh" {
		t.Fatalf("got %q created=%v", got, created)
	}
}

func TestResolveOrCreateLosesRaceAndRereads(t *testing.T) {
	calls := 0
	got, created, err := resolveOrCreate(
		func() (string, bool, error) {
			calls++
			if calls == 1 {
				return "", false, nil
			}
			return "winner", true, nil
		},
		func() (string, error) { return "", ErrDuplicate },
	)
	if err != nil {
		t.Fatalf("resolveOrCreate: %v", err)
	}
	if created || got != "winner" {
		t.Fatalf("got %q created=%v", got, created)
	}
}

func TestResolveOrCreateInconsistency(t *testing.T) {
	_, _, err := resolveOrCreate(
		func() (string, bool, error) { return "", false, nil },
		func() (string, error) { return "", ErrDuplicate },
	)
	if !errors.Is(err, ErrResolveInconsistent) {
		t.Fatalf("expected ErrResolveInconsistent, got %v", err)
	}
}

func TestResolveOrCreatePropagatesCreateError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := resolveOrCreate(
		func() (string, bool, error) { return "", false, nil },
		func() (string, error) { return "", boom },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected create error, got %v", err)
	}
}

func TestMemoryStoreConcurrentAlbumCreate(t *testing.T) {
	s := NewMemoryStore()
	fresh := func(i int) domain.Album {
		return domain.Album{
			ID:         "id-" + string(rune('a'+i)),
			Title:      "OK Computer",
			ArtistName: "Radiohead",
			MBID:       "5c1d2e3f-aaaa-bbbb-cccc-0123456789ab",
			Quality:    domain.QualityLow,
			Enrichment: domain.EnrichmentPending,
			CreatedAt:  time.Now().UTC(),
		}
	}

	var createdCount atomic.Int64
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			_, created, err := s.GetOrCreateAlbumByMBID(fresh(i))
			if err != nil {
				return err
			}
			if created {
				createdCount.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create: %v", err)
	}
	if n := createdCount.Load(); n != 1 {
		t.Fatalf("expected exactly one creation, got %d", n)
	}
	got, found, err := s.FindAlbumByMBID("5c1d2e3f-aaaa-bbbb-cccc-0123456789ab")
	if err != nil || !found {
		t.Fatalf("find after race: found=%v err=%v", found, err)
	}
	if got.Title != "OK Computer" {
		t.Fatalf("unexpected album %+v", got)
	}
}

func TestMemoryStoreMembershipIdempotent(t *testing.T) {
	s := NewMemoryStore()
	fresh := domain.CollectionMembership{
		ID:           "m1",
		CollectionID: "c1",
		UserID:       "u1",
		AlbumID:      "a1",
		CreatedAt:    time.Now().UTC(),
	}
	first, created, err := s.GetOrCreateMembership(fresh)
	if err != nil || !created {
		t.Fatalf("first add: created=%v err=%v", created, err)
	}
	dup := fresh
	dup.ID = "m2"
	second, created, err := s.GetOrCreateMembership(dup)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if created {
		t.Fatal("second add must not create")
	}
	if second.ID != first.ID {
		t.Fatalf("second add returned %q, want %q", second.ID, first.ID)
	}
	list, err := s.ListMemberships("c1")
	if err != nil || len(list) != 1 {
		t.Fatalf("memberships = %d, err=%v", len(list), err)
	}
}
