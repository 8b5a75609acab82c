// Package daily picks the album of the day from the curated rotation,
// honoring operator pins.
package daily

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCuratedAlbums means the rotation list is empty and no album
	// can be selected for any date.
	ErrNoCuratedAlbums = errors.New("no curated albums configured")
	// ErrSequenceGap means the rotation index computed for a date has
	// no curated pick behind it. The list must be contiguous from 0.
	ErrSequenceGap = errors.New("curated sequence has a gap")
)

// Epoch anchors the rotation. Day counts are measured from this
// instant, so the pick for a given date never shifts as albums play.
var Epoch = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

// CuratedSource is the slice of the store the selector reads.
type CuratedSource interface {
	CuratedCount() (int64, error)
	CuratedPickBySeq(seq int64) (string, bool, error)
	GetDailyPin(date time.Time) (string, bool, error)
}

// NormalizeDate collapses a timestamp to UTC midnight of its calendar
// day. All daily records key on normalized dates so that callers in
// different time zones agree on which day it is.
func NormalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysSinceEpoch returns the whole days between the epoch and the
// date's UTC midnight. Dates before the epoch clamp to zero so the
// rotation stays defined instead of indexing negatively.
func DaysSinceEpoch(date time.Time) int64 {
	d := int64(NormalizeDate(date).Sub(Epoch).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

type Selector struct {
	src CuratedSource
}

func NewSelector(src CuratedSource) *Selector {
	return &Selector{src: src}
}

// SelectAlbumForDate returns the album id for the date. A pin set by
// an operator wins outright; otherwise the pick is the day count
// modulo the rotation length, so every curated album appears in order
// and the cycle restarts when the list is exhausted.
//
// The rotation length is read per call. Growing the list shifts which
// album future days land on; already-materialized challenge rows keep
// the album they were created with.
func (s *Selector) SelectAlbumForDate(date time.Time) (string, error) {
	day := NormalizeDate(date)

	if pinned, ok, err := s.src.GetDailyPin(day); err != nil {
		return "", fmt.Errorf("read pin: %w", err)
	} else if ok {
		return pinned, nil
	}

	count, err := s.src.CuratedCount()
	if err != nil {
		return "", fmt.Errorf("count curated albums: %w", err)
	}
	if count == 0 {
		return "", ErrNoCuratedAlbums
	}

	seq := DaysSinceEpoch(day) % count
	albumID, ok, err := s.src.CuratedPickBySeq(seq)
	if err != nil {
		return "", fmt.Errorf("load curated pick %d: %w", seq, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: seq %d of %d", ErrSequenceGap, seq, count)
	}
	return albumID, nil
}
