package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"tunecanon/pkg/domain"
)

// MemoryStore keeps everything in-process. It is used by tests and by
// local development without Postgres. Its create paths return
// ErrDuplicate on key collisions so it goes through the same
// resolveOrCreate primitive as the GORM store.
type MemoryStore struct {
	mu          sync.RWMutex
	albums      map[string]domain.Album
	albumByMBID map[string]string // mbid -> album id
	albumByDzID map[string]string // discogs id -> album id
	albumByKey  map[string]string // natural key -> album id
	artists     map[string]domain.Artist
	artistByKey map[string]string // normalized name -> artist id
	memberships map[string]domain.CollectionMembership
	memberByKey map[string]string // collection|album -> membership id
	challenges  map[int64]domain.DailyChallenge
	pins        map[int64]string
	curated     map[int64]string
	provenance  []domain.ProvenanceRecord
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		albums:      make(map[string]domain.Album),
		albumByMBID: make(map[string]string),
		albumByDzID: make(map[string]string),
		albumByKey:  make(map[string]string),
		artists:     make(map[string]domain.Artist),
		artistByKey: make(map[string]string),
		memberships: make(map[string]domain.CollectionMembership),
		memberByKey: make(map[string]string),
		challenges:  make(map[int64]domain.DailyChallenge),
		pins:        make(map[int64]string),
		curated:     make(map[int64]string),
	}
}

func naturalKey(title, artistName string, year int) string {
	return normKey(title) + "|" + normKey(artistName) + "|" + strconv.Itoa(year)
}

func membershipKey(collectionID, albumID string) string {
	return collectionID + "|" + albumID
}

func dateKey(t time.Time) int64 {
	return t.UTC().Unix()
}

func (m *MemoryStore) GetAlbum(id string) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.albums[id]
	return a, ok, nil
}

func (m *MemoryStore) FindAlbumByMBID(mbid string) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.albumByMBID[mbid]; ok {
		return m.albums[id], true, nil
	}
	return domain.Album{}, false, nil
}

func (m *MemoryStore) FindAlbumByDiscogsID(discogsID string) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.albumByDzID[discogsID]; ok {
		return m.albums[id], true, nil
	}
	return domain.Album{}, false, nil
}

func (m *MemoryStore) FindAlbumByNaturalKey(title, artistName string, year int) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.albumByKey[naturalKey(title, artistName, year)]; ok {
		return m.albums[id], true, nil
	}
	return domain.Album{}, false, nil
}

// createAlbum inserts under the write lock, failing with ErrDuplicate
// when any unique key is already taken, mirroring the DB constraints.
func (m *MemoryStore) createAlbum(fresh domain.Album) (domain.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fresh.MBID != "" {
		if _, taken := m.albumByMBID[fresh.MBID]; taken {
			return domain.Album{}, ErrDuplicate
		}
	}
	if fresh.DiscogsID != "" {
		if _, taken := m.albumByDzID[fresh.DiscogsID]; taken {
			return domain.Album{}, ErrDuplicate
		}
	}
	if fresh.MBID == "" && fresh.DiscogsID == "" {
		if _, taken := m.albumByKey[naturalKey(fresh.Title, fresh.ArtistName, fresh.ReleaseYear)]; taken {
			return domain.Album{}, ErrDuplicate
		}
	}
	fresh.ID = ensureID(fresh.ID)
	now := time.Now().UTC()
	fresh.CreatedAt, fresh.UpdatedAt = now, now
	m.albums[fresh.ID] = fresh
	if fresh.MBID != "" {
		m.albumByMBID[fresh.MBID] = fresh.ID
	}
	if fresh.DiscogsID != "" {
		m.albumByDzID[fresh.DiscogsID] = fresh.ID
	}
	if fresh.MBID == "" && fresh.DiscogsID == "" {
		m.albumByKey[naturalKey(fresh.Title, fresh.ArtistName, fresh.ReleaseYear)] = fresh.ID
	}
	return fresh, nil
}

func (m *MemoryStore) GetOrCreateAlbumByMBID(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) { return m.FindAlbumByMBID(fresh.MBID) },
		func() (domain.Album, error) { return m.createAlbum(fresh) },
	)
}

func (m *MemoryStore) GetOrCreateAlbumByDiscogsID(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) { return m.FindAlbumByDiscogsID(fresh.DiscogsID) },
		func() (domain.Album, error) { return m.createAlbum(fresh) },
	)
}

func (m *MemoryStore) GetOrCreateAlbumByNaturalKey(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) {
			return m.FindAlbumByNaturalKey(fresh.Title, fresh.ArtistName, fresh.ReleaseYear)
		},
		func() (domain.Album, error) { return m.createAlbum(fresh) },
	)
}

func (m *MemoryStore) SetAlbumEnrichment(id string, status domain.EnrichmentStatus, quality domain.QualityTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return nil
	}
	a.Enrichment = status
	a.Quality = quality
	a.UpdatedAt = time.Now().UTC()
	m.albums[id] = a
	return nil
}

func (m *MemoryStore) UpdateAlbumMetadata(id string, title string, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return nil
	}
	if title != "" {
		a.Title = title
	}
	if year > 0 {
		a.ReleaseYear = year
	}
	a.UpdatedAt = time.Now().UTC()
	m.albums[id] = a
	return nil
}

func (m *MemoryStore) SetAlbumArtworkKey(id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return nil
	}
	a.ArtworkKey = key
	a.UpdatedAt = time.Now().UTC()
	m.albums[id] = a
	return nil
}

func (m *MemoryStore) GetArtist(id string) (domain.Artist, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artists[id]
	return a, ok, nil
}

func (m *MemoryStore) findArtistByName(name string) (domain.Artist, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.artistByKey[normKey(name)]; ok {
		return m.artists[id], true, nil
	}
	return domain.Artist{}, false, nil
}

func (m *MemoryStore) GetOrCreateArtistByName(fresh domain.Artist) (domain.Artist, bool, error) {
	return resolveOrCreate(
		func() (domain.Artist, bool, error) { return m.findArtistByName(fresh.Name) },
		func() (domain.Artist, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			key := normKey(fresh.Name)
			if _, taken := m.artistByKey[key]; taken {
				return domain.Artist{}, ErrDuplicate
			}
			fresh.ID = ensureID(fresh.ID)
			now := time.Now().UTC()
			fresh.CreatedAt, fresh.UpdatedAt = now, now
			m.artists[fresh.ID] = fresh
			m.artistByKey[key] = fresh.ID
			return fresh, nil
		},
	)
}

func (m *MemoryStore) GetOrCreateMembership(fresh domain.CollectionMembership) (domain.CollectionMembership, bool, error) {
	find := func() (domain.CollectionMembership, bool, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if id, ok := m.memberByKey[membershipKey(fresh.CollectionID, fresh.AlbumID)]; ok {
			return m.memberships[id], true, nil
		}
		return domain.CollectionMembership{}, false, nil
	}
	return resolveOrCreate(find, func() (domain.CollectionMembership, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		key := membershipKey(fresh.CollectionID, fresh.AlbumID)
		if _, taken := m.memberByKey[key]; taken {
			return domain.CollectionMembership{}, ErrDuplicate
		}
		fresh.ID = ensureID(fresh.ID)
		fresh.CreatedAt = time.Now().UTC()
		m.memberships[fresh.ID] = fresh
		m.memberByKey[key] = fresh.ID
		return fresh, nil
	})
}

func (m *MemoryStore) ListMemberships(collectionID string) ([]domain.CollectionMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.CollectionMembership
	for _, ms := range m.memberships {
		if ms.CollectionID == collectionID {
			res = append(res, ms)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Position != res[j].Position {
			return res[i].Position < res[j].Position
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) GetDailyChallenge(date time.Time) (domain.DailyChallenge, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[dateKey(date)]
	return c, ok, nil
}

func (m *MemoryStore) GetOrCreateDailyChallenge(fresh domain.DailyChallenge) (domain.DailyChallenge, bool, error) {
	return resolveOrCreate(
		func() (domain.DailyChallenge, bool, error) { return m.GetDailyChallenge(fresh.Date) },
		func() (domain.DailyChallenge, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			key := dateKey(fresh.Date)
			if _, taken := m.challenges[key]; taken {
				return domain.DailyChallenge{}, ErrDuplicate
			}
			fresh.ID = ensureID(fresh.ID)
			now := time.Now().UTC()
			fresh.CreatedAt, fresh.UpdatedAt = now, now
			m.challenges[key] = fresh
			return fresh, nil
		},
	)
}

func (m *MemoryStore) IncrementDailyCounters(date time.Time, played, won int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[dateKey(date)]
	if !ok {
		return nil
	}
	c.PlayCount += played
	c.WinCount += won
	c.UpdatedAt = time.Now().UTC()
	m.challenges[dateKey(date)] = c
	return nil
}

func (m *MemoryStore) GetDailyPin(date time.Time) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pins[dateKey(date)]
	return id, ok, nil
}

func (m *MemoryStore) SetDailyPin(date time.Time, albumID, pinnedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[dateKey(date)] = albumID
	return nil
}

func (m *MemoryStore) CuratedCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.curated)), nil
}

func (m *MemoryStore) CuratedPickBySeq(seq int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.curated[seq]
	return id, ok, nil
}

func (m *MemoryStore) AddCuratedPick(seq int64, albumID, addedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.curated[seq]; taken {
		return ErrDuplicate
	}
	m.curated[seq] = albumID
	return nil
}

func (m *MemoryStore) AppendProvenance(rec domain.ProvenanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provenance = append(m.provenance, rec)
	return nil
}

func (m *MemoryStore) ListProvenanceByRoot(rootJobID string) ([]domain.ProvenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ProvenanceRecord
	for _, rec := range m.provenance {
		if rec.RootJobID == rootJobID {
			res = append(res, rec)
		}
	}
	return res, nil
}

// AllProvenance returns every record in append order. Test helper.
func (m *MemoryStore) AllProvenance() []domain.ProvenanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ProvenanceRecord, len(m.provenance))
	copy(res, m.provenance)
	return res
}

var _ Store = (*MemoryStore)(nil)
