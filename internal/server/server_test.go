package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tunecanon/internal/app"
	"tunecanon/internal/servicetoken"
	"tunecanon/pkg/daily"
	"tunecanon/pkg/domain"
	"tunecanon/pkg/storage"
	"tunecanon/pkg/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	a, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	s, err := New(Config{App: a, TokenSecret: testSecret, AllowedIssuers: []string{"ops-cli"}})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return s, a
}

func seedDaily(t *testing.T, a *app.App) string {
	t.Helper()
	actor := domain.Actor{ID: "curator", Role: domain.RoleAdmin}
	res, err := a.ResolveAlbum(context.Background(), actor, app.ResolveInput{
		Title: "Kid A", ArtistName: "Radiohead", ReleaseYear: 2000,
	})
	if err != nil {
		t.Fatalf("seed album: %v", err)
	}
	if err := a.AddCuratedPick(context.Background(), actor, 0, res.Album.ID); err != nil {
		t.Fatalf("seed curated pick: %v", err)
	}
	return res.Album.ID
}

func opsToken(t *testing.T) string {
	t.Helper()
	signer, err := servicetoken.NewSigner("ops-cli", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := signer.Sign("test")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return token
}

func TestResolveEndpointStatusCodes(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	body := `{"title":"Homework","artistName":"Daft Punk","releaseYear":1997}`
	req := httptest.NewRequest(http.MethodPost, "/albums/resolve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first resolve status = %d, want 201: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/albums/resolve", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second resolve status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var res app.ResolveResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Created {
		t.Error("second resolve reported created")
	}

	req = httptest.NewRequest(http.MethodPost, "/albums/resolve", strings.NewReader(`{"title":"No Artist"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid input status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/albums/resolve", strings.NewReader(`{"id":"cm-unknown"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestDailyInfoNeverExposesAlbum(t *testing.T) {
	s, a := newTestServer(t)
	albumID := seedDaily(t, a)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/daily?date=2024-06-01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("daily info status = %d: %s", rec.Code, rec.Body)
	}

	raw := rec.Body.String()
	if strings.Contains(raw, albumID) {
		t.Errorf("daily info leaks album id: %s", raw)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, forbidden := range []string{"albumId", "album", "album_id"} {
		if _, ok := payload[forbidden]; ok {
			t.Errorf("daily info contains forbidden key %q", forbidden)
		}
	}
	if _, ok := payload["maxAttempts"]; !ok {
		t.Error("daily info missing maxAttempts")
	}
}

func TestInternalChallengeRequiresToken(t *testing.T) {
	s, a := newTestServer(t)
	albumID := seedDaily(t, a)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/internal/daily/challenge?date=2024-06-01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/internal/daily/challenge?date=2024-06-01", nil)
	req.Header.Set("Authorization", "Bearer "+opsToken(t))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", rec.Code, rec.Body)
	}
	var payload struct {
		AlbumID string `json:"albumId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.AlbumID != albumID {
		t.Errorf("internal challenge albumId = %q, want %q", payload.AlbumID, albumID)
	}
}

func TestPinEndpoint(t *testing.T) {
	s, a := newTestServer(t)
	albumID := seedDaily(t, a)
	router := s.Router()

	body := `{"date":"2024-06-10","albumId":"` + albumID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/daily/pin", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+opsToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pin status = %d: %s", rec.Code, rec.Body)
	}

	ch, err := a.GetOrCreateDailyChallenge(context.Background(), daily.Epoch.AddDate(0, 0, 9))
	if err != nil {
		t.Fatal(err)
	}
	if ch.AlbumID != albumID {
		t.Errorf("pinned challenge album = %q, want %q", ch.AlbumID, albumID)
	}
}

func TestAlbumArtworkRedirect(t *testing.T) {
	ms := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	a, err := app.New(app.Config{Store: ms, Artwork: objects})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	s, err := New(Config{App: a, TokenSecret: testSecret, AllowedIssuers: []string{"ops-cli"}})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	router := s.Router()

	res, err := a.ResolveAlbum(context.Background(), domain.Actor{ID: "u1"}, app.ResolveInput{
		Title: "Kid A", ArtistName: "Radiohead", ReleaseYear: 2000,
	})
	if err != nil {
		t.Fatalf("seed album: %v", err)
	}
	path := "/albums/" + res.Album.ID + "/artwork"

	// nothing cached yet
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("uncached artwork status = %d, want 404", rec.Code)
	}

	key := "artwork/" + res.Album.ID
	if err := objects.Put(context.Background(), key, strings.NewReader("png-bytes"), 9, "image/png"); err != nil {
		t.Fatalf("put object: %v", err)
	}
	if err := ms.SetAlbumArtworkKey(res.Album.ID, key); err != nil {
		t.Fatalf("set artwork key: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, path, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("cached artwork status = %d, want 302: %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "memory://"+key {
		t.Errorf("redirect location = %q, want %q", loc, "memory://"+key)
	}

	req = httptest.NewRequest(http.MethodGet, "/albums/missing/artwork", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown album artwork status = %d, want 404", rec.Code)
	}
}

func TestAddToCollectionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	body := `{"title":"Discovery","artistName":"Daft Punk","releaseYear":2001}`
	req := httptest.NewRequest(http.MethodPost, "/collections/col-1/albums", strings.NewReader(body))
	req.Header.Set("X-User-Id", "user-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first add status = %d: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/collections/col-1/albums", strings.NewReader(body))
	req.Header.Set("X-User-Id", "user-9")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat add status = %d, want 200", rec.Code)
	}
	var res app.AddResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.AlreadyInCollection {
		t.Error("repeat add should report alreadyInCollection")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/collections/col-1/albums", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	var listing struct {
		Memberships []domain.CollectionMembership `json:"memberships"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Memberships) != 1 {
		t.Errorf("collection has %d memberships, want 1", len(listing.Memberships))
	}
}
