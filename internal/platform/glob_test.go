package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileGlob(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"wall_clock/*", "wall_clock/train", true},
		{"wall_clock/*", "wall_clock/val/total", true},
		{"wall_clock/*", "wall_clock", false},
		{"wall_clock/train", "wall_clock/train", true},
		{"wall_clock/train", "wall_clock/trainx", false},
		{"loss/train/?", "loss/train/1", true},
		{"loss/train/?", "loss/train/12", false},
		{"metrics/[abc]*", "metrics/accuracy", true},
		{"metrics/[!abc]*", "metrics/accuracy", false},
		{"metrics/[!abc]*", "metrics/f1", true},
		{"a.b", "axb", false},
		{"a+b", "a+b", true},
		{"odd[", "odd[", true},
		{"*", "anything/at/all", true},
	}
	for _, tc := range cases {
		re, err := compileGlob(tc.pattern)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.want, re.MatchString(tc.key), "%s ~ %s", tc.pattern, tc.key)
	}
}

func TestCompileGlobBracketEdgeCases(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"[[:alpha:]]x", "a]x", true},
		{"[[:alpha:]]x", "[]x", true},
		{"[[:alpha:]]x", "ax", false},
		{"[z-a]", "z", false},
		{"[z-a]", "a", false},
		{"[z-a]", "-", false},
		{"[!z-a]", "q", true},
		{"[!z-a]", "qq", false},
		{"[az-a]", "a", true},
		{"[az-a]", "z", false},
		{"[a-c]", "b", true},
		{"[a-c]", "d", false},
		{"[a-]", "-", true},
		{"[-a]", "-", true},
		{"[a-c-e]", "-", true},
		{"[a-c-e]", "d", false},
		{"[]a]", "]", true},
		{"[!]a]", "b", true},
		{"[!]a]", "]", false},
		{"[^a]", "^", true},
		{"[^a]", "b", false},
		{`[\]`, `\`, true},
		{"[!]", "[!]", true},
	}
	for _, tc := range cases {
		re, err := compileGlob(tc.pattern)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.want, re.MatchString(tc.key), "%s ~ %s", tc.pattern, tc.key)
	}
}

func TestNewAcceptsBracketPatterns(t *testing.T) {
	l, err := New(Options{RunName: "run", IgnoreKeys: []string{"[[:alpha:]]x", "[z-a]"}}, &fakeClient{})
	require.NoError(t, err)
	assert.True(t, l.Enabled())
}
