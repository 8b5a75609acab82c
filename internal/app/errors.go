package app

import "errors"

var (
	// ErrAlbumNotFound indicates the referenced album exists nowhere,
	// locally or upstream.
	ErrAlbumNotFound = errors.New("album not found")
	// ErrInvalidInput indicates the request is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoDailyChallenge indicates no challenge could be materialized
	// for the requested date.
	ErrNoDailyChallenge = errors.New("no daily challenge available")
	// ErrNoArtwork indicates the album has no cached artwork yet.
	ErrNoArtwork = errors.New("artwork not cached")
)
