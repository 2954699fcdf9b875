package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fragment and utm", "https://x.edu/paper.pdf?utm_source=a#frag", "https://x.edu/paper.pdf"},
		{"click ids", "https://example.org/a?fbclid=1&id=7&gclid=2", "https://example.org/a?id=7"},
		{"keeps order of remaining params", "https://example.org/a?z=1&utm_medium=x&a=2", "https://example.org/a?z=1&a=2"},
		{"keeps encoding", "https://example.org/a%20b?q=hello%20world", "https://example.org/a%20b?q=hello%20world"},
		{"scheme and host untouched", "HTTP://Example.ORG/Path", "http://Example.ORG/Path"},
		{"no query", "https://arxiv.org/abs/2401.00001", "https://arxiv.org/abs/2401.00001"},
		{"only tracking", "https://example.org/?utm_campaign=x", "https://example.org/"},
		{"unparseable", "http://[::1", "http://[::1"},
		{"raw space in path", "https://x.edu/a b?utm_source=x", "https://x.edu/a b"},
		{"raw unicode in path", "https://x.edu/ü#top", "https://x.edu/ü"},
		{"empty query marker", "https://x.edu/a?", "https://x.edu/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Canonicalize(tc.in))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://x.edu/paper.pdf?utm_source=a#frag",
		"https://example.org/a?fbclid=1&id=7&gclid=2#top",
		"https://doi.org/10.1000/xyz?utm_term=q&x=%2F",
		"mailto:someone@example.org",
		"https://x.edu/a b/ü?utm_source=q&k=v#frag",
		"not a url at all",
		"",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		if twice := Canonicalize(once); twice != once {
			t.Fatalf("Canonicalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func FuzzCanonicalizeIdempotent(f *testing.F) {
	f.Add("https://x.edu/paper.pdf?utm_source=a#frag")
	f.Add("https://example.org/?a=1&&b=2")
	f.Fuzz(func(t *testing.T, raw string) {
		once := Canonicalize(raw)
		if twice := Canonicalize(once); twice != once {
			t.Fatalf("Canonicalize(%q) = %q, again = %q", raw, once, twice)
		}
	})
}

func TestHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.org", Hostname("https://Example.org:8443/x"))
	require.Empty(t, Hostname("http://[::1"))
}

func TestPendingStatusTransitions(t *testing.T) {
	t.Parallel()

	legal := map[[2]PendingStatus]bool{
		{StatusPending, StatusProcessing}: true,
		{StatusProcessing, StatusDone}:    true,
		{StatusProcessing, StatusFailed}:  true,
	}
	all := []PendingStatus{StatusPending, StatusProcessing, StatusDone, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]PendingStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
	require.False(t, PendingStatus("archived").Valid())
	require.True(t, StatusProcessing.Open())
	require.False(t, StatusDone.Open())
}

func TestExtractionErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	cause := errors.New("status 404")
	err := fmt.Errorf("run sequence: %w", &ExtractionError{URL: "https://x.edu", Err: cause})
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, cause)

	var target *ExtractionError
	require.ErrorAs(t, err, &target)
	require.Equal(t, "https://x.edu", target.URL)
}

func TestConnectorResult(t *testing.T) {
	t.Parallel()

	ok := ConnectorSuccess([]Candidate{{URL: "https://a"}})
	require.False(t, ok.Fallback())
	failed := ConnectorFailure(errors.New("boom"))
	require.True(t, failed.Fallback())
	require.Empty(t, failed.Candidates)
}
