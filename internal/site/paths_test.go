package site

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndMatchPaths(t *testing.T) {
	t.Parallel()

	compiled, err := CompilePaths([]Path{
		{Label: "article", Pattern: `^/news/\d+`},
		{Label: "news", Pattern: `^/news`},
		{Label: "any", Pattern: `.*`},
	})
	require.NoError(t, err)

	cases := []struct {
		raw  string
		want string
	}{
		{"https://s.example/news/42?ref=home", "article"},
		{"https://s.example/news/latest", "news"},
		{"https://s.example/", "any"},
		{"https://s.example", "any"},
		{"https://s.example/about?q=/news/1", "any"},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.raw)
		require.NoError(t, err)
		got, ok := MatchPath(u, compiled)
		require.True(t, ok, tc.raw)
		require.Equal(t, tc.want, got.Label, tc.raw)
	}
}

func TestMatchPathNoMatch(t *testing.T) {
	t.Parallel()

	compiled, err := CompilePaths([]Path{{Label: "article", Pattern: `^/news/`}})
	require.NoError(t, err)
	u, _ := url.Parse("https://s.example/sports/1")
	_, ok := MatchPath(u, compiled)
	require.False(t, ok)
}

func TestCompilePathsRejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := CompilePaths([]Path{{Label: "broken", Pattern: `(`}})
	require.ErrorContains(t, err, `compile path "broken"`)
}

func TestReservedLabels(t *testing.T) {
	t.Parallel()

	for _, label := range []string{LabelHomepage, LabelRobots, LabelSitemapIndex, LabelSitemapList, LabelSitemapMisc} {
		require.True(t, IsReservedLabel(label))
	}
	require.False(t, IsReservedLabel("article"))
}
