// Package source classifies opaque entity identifiers into the identity
// scheme they belong to, so the resolver can pick a fetch strategy.
package source

import "github.com/google/uuid"

type Source string

const (
	// SourceLocal is an id minted by this system (hex ids, cuid-style
	// "cm..." ids carried over from older records).
	SourceLocal Source = "local"
	// SourceMusicBrainz is a MusicBrainz identifier: a canonical
	// 36-character hyphenated UUID.
	SourceMusicBrainz Source = "musicbrainz"
	// SourceDiscogs is a Discogs catalog number: decimal digits only.
	SourceDiscogs Source = "discogs"
)

// Classify maps an identifier to its source scheme. It is total: every
// string maps to exactly one source, defaulting to SourceLocal.
// Rules are order-sensitive; the UUID test runs first because a UUID is
// never all digits and never a local id.
func Classify(id string) Source {
	if isMBID(id) {
		return SourceMusicBrainz
	}
	if isDigits(id) {
		return SourceDiscogs
	}
	return SourceLocal
}

// isMBID accepts only the canonical hyphenated form. uuid.Parse also
// accepts braced and non-hyphenated variants, so the length is checked
// explicitly.
func isMBID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func isDigits(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
