package source

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		id   string
		want Source
	}{
		{"5c1d2e3f-aaaa-bbbb-cccc-0123456789ab", SourceMusicBrainz},
		{"00000000-0000-0000-0000-000000000000", SourceMusicBrainz},
		{"123456", SourceDiscogs},
		{"7", SourceDiscogs},
		{"cmabc123", SourceLocal},
		{"a1b2c3d4e5f6a1b2c3d4e5f6", SourceLocal},
		{"", SourceLocal},
		// braced/non-hyphenated UUID forms are not MusicBrainz ids
		{"{5c1d2e3f-aaaa-bbbb-cccc-0123456789ab}", SourceLocal},
		{"5c1d2e3faaaabbbbcccc0123456789ab", SourceLocal},
		// hyphens in the right places but non-hex content
		{"5c1d2e3f-aaaa-bbbb-cccc-0123456789zz", SourceLocal},
		{"12345 6", SourceLocal},
		{"123456x", SourceLocal},
	}
	for _, tc := range cases {
		if got := Classify(tc.id); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
