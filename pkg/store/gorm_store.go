package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tunecanon/pkg/domain"
)

const migrateLockID int64 = 52960154

// GormStore implements Store using GORM + Postgres. TranslateError is
// enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey, which the store maps to ErrDuplicate for
// resolveOrCreate.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&AlbumModel{}, &ArtistModel{}, &MembershipModel{},
			&ProvenanceModel{}, &DailyChallengeModel{}, &DailyPinModel{}, &CuratedPickModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Natural-key dedup applies only while no external id is known;
		// a partial index expresses that, which AutoMigrate cannot.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_albums_natural_key
			ON album_models (title_norm, artist_norm, release_year)
			WHERE mbid IS NULL AND discogs_id IS NULL
		`).Error; err != nil {
			return fmt.Errorf("create natural key index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// mapWriteErr converts the driver's duplicate-key error to the package
// sentinel resolveOrCreate acts on. Everything else is fatal to the
// enclosing operation and propagates unchanged.
func mapWriteErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// normKey lowercases and collapses whitespace for dedup lookups. Stored
// alongside the display value so index comparisons stay cheap.
func normKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (s *GormStore) findAlbum(conds ...any) (domain.Album, bool, error) {
	var model AlbumModel
	if err := s.db.First(&model, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Album{}, false, nil
		}
		return domain.Album{}, false, err
	}
	return albumFromModel(model), true, nil
}

// GetAlbum retrieves an album by canonical id.
func (s *GormStore) GetAlbum(id string) (domain.Album, bool, error) {
	return s.findAlbum("id = ?", id)
}

// FindAlbumByMBID looks up an album by its MusicBrainz id.
func (s *GormStore) FindAlbumByMBID(mbid string) (domain.Album, bool, error) {
	return s.findAlbum("mbid = ?", mbid)
}

// FindAlbumByDiscogsID looks up an album by its Discogs catalog number.
func (s *GormStore) FindAlbumByDiscogsID(discogsID string) (domain.Album, bool, error) {
	return s.findAlbum("discogs_id = ?", discogsID)
}

// FindAlbumByNaturalKey looks up an album by normalized title + artist +
// year, the dedup key used when no external id is known.
func (s *GormStore) FindAlbumByNaturalKey(title, artistName string, year int) (domain.Album, bool, error) {
	return s.findAlbum(
		"title_norm = ? AND artist_norm = ? AND release_year = ? AND mbid IS NULL AND discogs_id IS NULL",
		normKey(title), normKey(artistName), year,
	)
}

func (s *GormStore) createAlbum(fresh domain.Album) (domain.Album, error) {
	fresh.ID = ensureID(fresh.ID)
	model := albumToModel(fresh)
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	}); err != nil {
		return domain.Album{}, mapWriteErr(err)
	}
	return albumFromModel(model), nil
}

// GetOrCreateAlbumByMBID returns the album carrying fresh.MBID, creating
// it exactly once under concurrent callers.
func (s *GormStore) GetOrCreateAlbumByMBID(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) { return s.FindAlbumByMBID(fresh.MBID) },
		func() (domain.Album, error) { return s.createAlbum(fresh) },
	)
}

// GetOrCreateAlbumByDiscogsID returns the album carrying fresh.DiscogsID,
// creating it exactly once under concurrent callers.
func (s *GormStore) GetOrCreateAlbumByDiscogsID(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) { return s.FindAlbumByDiscogsID(fresh.DiscogsID) },
		func() (domain.Album, error) { return s.createAlbum(fresh) },
	)
}

// GetOrCreateAlbumByNaturalKey dedups on (title, artist, year) for albums
// with no known external id.
func (s *GormStore) GetOrCreateAlbumByNaturalKey(fresh domain.Album) (domain.Album, bool, error) {
	return resolveOrCreate(
		func() (domain.Album, bool, error) {
			return s.FindAlbumByNaturalKey(fresh.Title, fresh.ArtistName, fresh.ReleaseYear)
		},
		func() (domain.Album, error) { return s.createAlbum(fresh) },
	)
}

// SetAlbumEnrichment records the outcome of an enrichment job. Only
// enrichment jobs mutate canonical rows after creation.
func (s *GormStore) SetAlbumEnrichment(id string, status domain.EnrichmentStatus, quality domain.QualityTier) error {
	return s.db.Model(&AlbumModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"enrichment": string(status),
			"quality":    string(quality),
			"updated_at": time.Now().UTC(),
		}).Error
}

// UpdateAlbumMetadata applies fetched metadata to an album.
func (s *GormStore) UpdateAlbumMetadata(id string, title string, year int) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if strings.TrimSpace(title) != "" {
		updates["title"] = strings.TrimSpace(title)
		updates["title_norm"] = normKey(title)
	}
	if year > 0 {
		updates["release_year"] = year
	}
	return s.db.Model(&AlbumModel{}).Where("id = ?", id).Updates(updates).Error
}

// SetAlbumArtworkKey records where cached artwork lives in object storage.
func (s *GormStore) SetAlbumArtworkKey(id, key string) error {
	return s.db.Model(&AlbumModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"artwork_key": key, "updated_at": time.Now().UTC()}).Error
}

// GetArtist retrieves an artist by canonical id.
func (s *GormStore) GetArtist(id string) (domain.Artist, bool, error) {
	var model ArtistModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Artist{}, false, nil
		}
		return domain.Artist{}, false, err
	}
	return artistFromModel(model), true, nil
}

func (s *GormStore) findArtistByName(name string) (domain.Artist, bool, error) {
	var model ArtistModel
	if err := s.db.First(&model, "name_norm = ?", normKey(name)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Artist{}, false, nil
		}
		return domain.Artist{}, false, err
	}
	return artistFromModel(model), true, nil
}

// GetOrCreateArtistByName dedups artists on normalized name.
func (s *GormStore) GetOrCreateArtistByName(fresh domain.Artist) (domain.Artist, bool, error) {
	return resolveOrCreate(
		func() (domain.Artist, bool, error) { return s.findArtistByName(fresh.Name) },
		func() (domain.Artist, error) {
			fresh.ID = ensureID(fresh.ID)
			model := artistToModel(fresh)
			if err := s.db.Transaction(func(tx *gorm.DB) error {
				return tx.Create(&model).Error
			}); err != nil {
				return domain.Artist{}, mapWriteErr(err)
			}
			return artistFromModel(model), nil
		},
	)
}

func (s *GormStore) findMembership(collectionID, albumID string) (domain.CollectionMembership, bool, error) {
	var model MembershipModel
	if err := s.db.First(&model, "collection_id = ? AND album_id = ?", collectionID, albumID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CollectionMembership{}, false, nil
		}
		return domain.CollectionMembership{}, false, err
	}
	return membershipFromModel(model), true, nil
}

// GetOrCreateMembership adds an album to a collection at most once per
// (collection, album) pair.
func (s *GormStore) GetOrCreateMembership(fresh domain.CollectionMembership) (domain.CollectionMembership, bool, error) {
	return resolveOrCreate(
		func() (domain.CollectionMembership, bool, error) {
			return s.findMembership(fresh.CollectionID, fresh.AlbumID)
		},
		func() (domain.CollectionMembership, error) {
			fresh.ID = ensureID(fresh.ID)
			model := membershipToModel(fresh)
			if err := s.db.Transaction(func(tx *gorm.DB) error {
				return tx.Create(&model).Error
			}); err != nil {
				return domain.CollectionMembership{}, mapWriteErr(err)
			}
			return membershipFromModel(model), nil
		},
	)
}

// ListMemberships returns a collection's memberships in position order.
func (s *GormStore) ListMemberships(collectionID string) ([]domain.CollectionMembership, error) {
	var models []MembershipModel
	if err := s.db.Where("collection_id = ?", collectionID).
		Order("position ASC").Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CollectionMembership, 0, len(models))
	for _, m := range models {
		res = append(res, membershipFromModel(m))
	}
	return res, nil
}

// GetDailyChallenge returns the challenge row for a normalized date.
func (s *GormStore) GetDailyChallenge(date time.Time) (domain.DailyChallenge, bool, error) {
	var model DailyChallengeModel
	if err := s.db.First(&model, "date = ?", date).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DailyChallenge{}, false, nil
		}
		return domain.DailyChallenge{}, false, err
	}
	return dailyFromModel(model), true, nil
}

// GetOrCreateDailyChallenge creates the day's row exactly once; the date
// uniqueness constraint arbitrates concurrent first requests.
func (s *GormStore) GetOrCreateDailyChallenge(fresh domain.DailyChallenge) (domain.DailyChallenge, bool, error) {
	return resolveOrCreate(
		func() (domain.DailyChallenge, bool, error) { return s.GetDailyChallenge(fresh.Date) },
		func() (domain.DailyChallenge, error) {
			fresh.ID = ensureID(fresh.ID)
			model := dailyToModel(fresh)
			if err := s.db.Transaction(func(tx *gorm.DB) error {
				return tx.Create(&model).Error
			}); err != nil {
				return domain.DailyChallenge{}, mapWriteErr(err)
			}
			return dailyFromModel(model), nil
		},
	)
}

// IncrementDailyCounters bumps aggregate play/win counters for a date.
func (s *GormStore) IncrementDailyCounters(date time.Time, played, won int) error {
	return s.db.Model(&DailyChallengeModel{}).
		Where("date = ?", date).
		Updates(map[string]any{
			"play_count": gorm.Expr("play_count + ?", played),
			"win_count":  gorm.Expr("win_count + ?", won),
			"updated_at": time.Now().UTC(),
		}).Error
}

// GetDailyPin returns the pinned album id for a date, if any.
func (s *GormStore) GetDailyPin(date time.Time) (string, bool, error) {
	var model DailyPinModel
	if err := s.db.First(&model, "date = ?", date).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.AlbumID, true, nil
}

// SetDailyPin upserts the admin override for a date.
func (s *GormStore) SetDailyPin(date time.Time, albumID, pinnedBy string) error {
	now := time.Now().UTC()
	model := DailyPinModel{Date: date, AlbumID: albumID, PinnedBy: pinnedBy, CreatedAt: now, UpdatedAt: now}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	if errors.Is(mapWriteErr(err), ErrDuplicate) {
		return s.db.Model(&DailyPinModel{}).
			Where("date = ?", date).
			Updates(map[string]any{"album_id": albumID, "pinned_by": pinnedBy, "updated_at": now}).Error
	}
	return err
}

// CuratedCount returns the size of the curated candidate list.
func (s *GormStore) CuratedCount() (int64, error) {
	var count int64
	if err := s.db.Model(&CuratedPickModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CuratedPickBySeq returns the album at a sequence position.
func (s *GormStore) CuratedPickBySeq(seq int64) (string, bool, error) {
	var model CuratedPickModel
	if err := s.db.First(&model, "seq = ?", seq).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.AlbumID, true, nil
}

// AddCuratedPick appends an album to the curated list at a sequence slot.
func (s *GormStore) AddCuratedPick(seq int64, albumID, addedBy string) error {
	model := CuratedPickModel{Seq: seq, AlbumID: albumID, AddedBy: addedBy, CreatedAt: time.Now().UTC()}
	return mapWriteErr(s.db.Create(&model).Error)
}

// AppendProvenance writes one immutable audit record.
func (s *GormStore) AppendProvenance(rec domain.ProvenanceRecord) error {
	model := provenanceToModel(rec)
	return s.db.Create(&model).Error
}

// ListProvenanceByRoot returns one logical operation's records, oldest first.
func (s *GormStore) ListProvenanceByRoot(rootJobID string) ([]domain.ProvenanceRecord, error) {
	var models []ProvenanceModel
	if err := s.db.Where("root_job_id = ?", rootJobID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProvenanceRecord, 0, len(models))
	for _, m := range models {
		res = append(res, provenanceFromModel(m))
	}
	return res, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func albumToModel(a domain.Album) AlbumModel {
	return AlbumModel{
		ID:          a.ID,
		Title:       a.Title,
		TitleNorm:   normKey(a.Title),
		ArtistID:    a.ArtistID,
		ArtistName:  a.ArtistName,
		ArtistNorm:  normKey(a.ArtistName),
		ReleaseYear: a.ReleaseYear,
		MBID:        nullable(a.MBID),
		DiscogsID:   nullable(a.DiscogsID),
		Quality:     string(a.Quality),
		Enrichment:  string(a.Enrichment),
		ArtworkKey:  a.ArtworkKey,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func albumFromModel(m AlbumModel) domain.Album {
	return domain.Album{
		ID:          m.ID,
		Title:       m.Title,
		ArtistID:    m.ArtistID,
		ArtistName:  m.ArtistName,
		ReleaseYear: m.ReleaseYear,
		MBID:        strValue(m.MBID),
		DiscogsID:   strValue(m.DiscogsID),
		Quality:     domain.QualityTier(m.Quality),
		Enrichment:  domain.EnrichmentStatus(m.Enrichment),
		ArtworkKey:  m.ArtworkKey,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func artistToModel(a domain.Artist) ArtistModel {
	return ArtistModel{
		ID:         a.ID,
		Name:       a.Name,
		NameNorm:   normKey(a.Name),
		MBID:       nullable(a.MBID),
		Quality:    string(a.Quality),
		Enrichment: string(a.Enrichment),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func artistFromModel(m ArtistModel) domain.Artist {
	return domain.Artist{
		ID:         m.ID,
		Name:       m.Name,
		MBID:       strValue(m.MBID),
		Quality:    domain.QualityTier(m.Quality),
		Enrichment: domain.EnrichmentStatus(m.Enrichment),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func membershipToModel(m domain.CollectionMembership) MembershipModel {
	return MembershipModel{
		ID:           m.ID,
		CollectionID: m.CollectionID,
		AlbumID:      m.AlbumID,
		UserID:       m.UserID,
		Rating:       m.Rating,
		Note:         m.Note,
		Position:     m.Position,
		CreatedAt:    m.CreatedAt,
	}
}

func membershipFromModel(m MembershipModel) domain.CollectionMembership {
	return domain.CollectionMembership{
		ID:           m.ID,
		CollectionID: m.CollectionID,
		AlbumID:      m.AlbumID,
		UserID:       m.UserID,
		Rating:       m.Rating,
		Note:         m.Note,
		Position:     m.Position,
		CreatedAt:    m.CreatedAt,
	}
}

func dailyToModel(d domain.DailyChallenge) DailyChallengeModel {
	return DailyChallengeModel{
		ID:          d.ID,
		Date:        d.Date,
		AlbumID:     d.AlbumID,
		MaxAttempts: d.MaxAttempts,
		PlayCount:   d.PlayCount,
		WinCount:    d.WinCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func dailyFromModel(m DailyChallengeModel) domain.DailyChallenge {
	return domain.DailyChallenge{
		ID:          m.ID,
		Date:        m.Date,
		AlbumID:     m.AlbumID,
		MaxAttempts: m.MaxAttempts,
		PlayCount:   m.PlayCount,
		WinCount:    m.WinCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func provenanceToModel(r domain.ProvenanceRecord) ProvenanceModel {
	var meta []byte
	if len(r.Metadata) > 0 {
		meta, _ = json.Marshal(r.Metadata)
	}
	return ProvenanceModel{
		ID:          r.ID,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		Operation:   r.Operation,
		Category:    r.Category,
		Sources:     strings.Join(r.Sources, ","),
		Status:      r.Status,
		JobID:       r.JobID,
		ParentJobID: r.ParentJobID,
		RootJobID:   r.RootJobID,
		RequestID:   r.RequestID,
		Metadata:    meta,
		CreatedAt:   r.CreatedAt,
	}
}

func provenanceFromModel(m ProvenanceModel) domain.ProvenanceRecord {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	var sources []string
	if m.Sources != "" {
		sources = strings.Split(m.Sources, ",")
	}
	return domain.ProvenanceRecord{
		ID:          m.ID,
		EntityType:  m.EntityType,
		EntityID:    m.EntityID,
		Operation:   m.Operation,
		Category:    m.Category,
		Sources:     sources,
		Status:      m.Status,
		JobID:       m.JobID,
		ParentJobID: m.ParentJobID,
		RootJobID:   m.RootJobID,
		RequestID:   m.RequestID,
		Metadata:    meta,
		CreatedAt:   m.CreatedAt,
	}
}

var _ Store = (*GormStore)(nil)
