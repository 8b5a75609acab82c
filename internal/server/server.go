// Package server exposes the resolver's HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tunecanon/internal/app"
	"tunecanon/internal/servicetoken"
	"tunecanon/internal/util"
	"tunecanon/pkg/catalog"
	"tunecanon/pkg/domain"
)

// Server wires HTTP routes to the application layer.
type Server struct {
	app      *app.App
	verifier *servicetoken.Verifier
	mux      *http.ServeMux
}

type Config struct {
	App            *app.App
	TokenSecret    []byte
	AllowedIssuers []string
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	verifier, err := servicetoken.NewVerifier(cfg.TokenSecret, cfg.AllowedIssuers, servicetoken.DefaultLeeway)
	if err != nil {
		return nil, fmt.Errorf("init service token verifier: %w", err)
	}
	s := &Server{app: cfg.App, verifier: verifier, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("POST /albums/resolve", s.handleResolveAlbum)
	s.mux.HandleFunc("GET /albums/{id}", s.handleGetAlbum)
	s.mux.HandleFunc("GET /albums/{id}/artwork", s.handleAlbumArtwork)
	s.mux.HandleFunc("POST /collections/{id}/albums", s.handleAddToCollection)
	s.mux.HandleFunc("GET /collections/{id}/albums", s.handleListCollection)

	s.mux.HandleFunc("GET /daily", s.handleDailyInfo)
	s.mux.HandleFunc("POST /daily/results", s.handleDailyResult)

	s.mux.Handle("POST /internal/daily/pin", s.verifier.Middleware(http.HandlerFunc(s.handlePinDaily)))
	s.mux.Handle("POST /internal/daily/curated", s.verifier.Middleware(http.HandlerFunc(s.handleAddCurated)))
	s.mux.Handle("GET /internal/daily/challenge", s.verifier.Middleware(http.HandlerFunc(s.handleDailyChallenge)))
	s.mux.Handle("GET /internal/provenance/{rootJobID}", s.verifier.Middleware(http.HandlerFunc(s.handleProvenance)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actorFrom reads the caller identity forwarded by the gateway.
func actorFrom(r *http.Request) domain.Actor {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		id = "anonymous"
	}
	role := domain.RoleUser
	if strings.EqualFold(r.Header.Get("X-User-Role"), string(domain.RoleAdmin)) {
		role = domain.RoleAdmin
	}
	return domain.Actor{ID: id, Role: role}
}

func (s *Server) handleResolveAlbum(w http.ResponseWriter, r *http.Request) {
	var in app.ResolveInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.ResolveAlbum(r.Context(), actorFrom(r), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := s.app.GetAlbum(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// handleAlbumArtwork redirects to a presigned object-store URL rather
// than proxying image bytes.
func (s *Server) handleAlbumArtwork(w http.ResponseWriter, r *http.Request) {
	url, err := s.app.AlbumArtworkURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleAddToCollection(w http.ResponseWriter, r *http.Request) {
	var in app.AddInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.AddAlbumToCollection(r.Context(), actorFrom(r), r.PathValue("id"), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyInCollection {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListCollection(w http.ResponseWriter, r *http.Request) {
	members, err := s.app.ListCollection(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": members})
}

// handleDailyInfo serves the public challenge stats. The album behind
// the challenge is never part of this response.
func (s *Server) handleDailyInfo(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := s.app.GetDailyChallengeInfo(r.Context(), date)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDailyResult(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Date string `json:"date,omitempty"`
		Won  bool   `json:"won"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date := time.Now().UTC()
	if in.Date != "" {
		parsed, err := time.Parse("2006-01-02", in.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	if err := s.app.RecordChallengeResult(r.Context(), date, in.Won); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handlePinDaily(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Date    string `json:"date"`
		AlbumID string `json:"albumId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if err := s.app.PinDailyAlbum(r.Context(), actorFrom(r), date, in.AlbumID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAddCurated(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Seq     int64  `json:"seq"`
		AlbumID string `json:"albumId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.AddCuratedPick(r.Context(), actorFrom(r), in.Seq, in.AlbumID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleDailyChallenge is the internal view including the album id,
// for the game backend that checks guesses.
func (s *Server) handleDailyChallenge(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch, err := s.app.GetOrCreateDailyChallenge(r.Context(), date)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"challenge": ch,
		"albumId":   ch.AlbumID,
	})
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	records, err := s.app.ListProvenance(r.PathValue("rootJobID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func dateParam(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return time.Now().UTC(), nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAlbumNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNoDailyChallenge):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNoArtwork):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream catalog unavailable, try again later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
