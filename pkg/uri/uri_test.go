package uri

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/errdefs"
)

func TestParse(t *testing.T) {
	u, err := Parse("viking://resources/guides/auth.md")
	require.NoError(t, err)
	assert.Equal(t, ScopeResources, u.Scope())
	assert.Equal(t, []string{"guides", "auth.md"}, u.Segments())
	assert.Equal(t, "auth.md", u.Name())
	assert.Equal(t, 2, u.Depth())
	assert.Equal(t, "viking://resources/guides/auth.md", u.String())
}

func TestParseScopeRoot(t *testing.T) {
	u, err := Parse("viking://resources")
	require.NoError(t, err)
	assert.True(t, u.IsScopeRoot())
	assert.Equal(t, "resources", u.Name())
	assert.Equal(t, 0, u.Depth())
}

func TestParseTrailingSlash(t *testing.T) {
	u, err := Parse("viking://user/memories/")
	require.NoError(t, err)
	assert.Equal(t, "viking://user/memories", u.String())
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"resources/a",
		"http://resources/a",
		"viking://",
		"viking://unknown/a",
		"viking://resources//a",
		"viking://resources/a\x00b",
	} {
		_, err := Parse(raw)
		require.Error(t, err, "raw=%q", raw)
		assert.True(t, errdefs.IsInvalidInput(err), "raw=%q", raw)
	}
}

func TestParseNormalizesNFC(t *testing.T) {
	// e + combining acute vs precomposed e-acute must compare equal.
	decomposed, err := Parse("viking://resources/cafe\u0301")
	require.NoError(t, err)
	composed, err := Parse("viking://resources/caf\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed.String(), decomposed.String())
}

func TestStorePath(t *testing.T) {
	assert.Equal(t, "resources/a/b", MustParse("viking://resources/a/b").StorePath())
	assert.Equal(t, "resources", MustParse("viking://resources").StorePath())
}

func TestParentAndJoin(t *testing.T) {
	u := MustParse("viking://resources/a/b/c")
	p, ok := u.Parent()
	require.True(t, ok)
	assert.Equal(t, "viking://resources/a/b", p.String())
	assert.Equal(t, "viking://resources/a/b", u.ParentString())

	root := MustParse("viking://resources")
	_, ok = root.Parent()
	assert.False(t, ok)
	assert.Equal(t, "", root.ParentString())

	assert.Equal(t, "viking://resources/a/b/c/d/e", u.Join("d", "e").String())
	assert.Equal(t, "viking://resources/a/b/c/d/e", u.Join("d/e").String())
}

func TestHasPrefix(t *testing.T) {
	base := MustParse("viking://resources/a/b")
	assert.True(t, MustParse("viking://resources/a/b").HasPrefix(base))
	assert.True(t, MustParse("viking://resources/a/b/c").HasPrefix(base))
	assert.False(t, MustParse("viking://resources/a/bc").HasPrefix(base))
	assert.False(t, MustParse("viking://user/a/b/c").HasPrefix(base))
}

func TestHasPrefixString(t *testing.T) {
	assert.True(t, HasPrefixString("viking://resources/a/b", "viking://resources/a"))
	assert.True(t, HasPrefixString("viking://resources/a", "viking://resources/a"))
	assert.False(t, HasPrefixString("viking://resources/ab", "viking://resources/a"))
}

func TestRebase(t *testing.T) {
	assert.Equal(t, "viking://resources/y/c",
		Rebase("viking://resources/x/c", "viking://resources/x", "viking://resources/y"))
	assert.Equal(t, "viking://resources/y",
		Rebase("viking://resources/x", "viking://resources/x", "viking://resources/y"))
	assert.Equal(t, "viking://resources/other",
		Rebase("viking://resources/other", "viking://resources/x", "viking://resources/y"))
}

func TestSanitizeSegment(t *testing.T) {
	assert.Equal(t, "Getting_Started", SanitizeSegment("Getting Started"))
	assert.Equal(t, "a_b", SanitizeSegment("a / b"))
	assert.Equal(t, "section", SanitizeSegment("   "))
	assert.Equal(t, "section", SanitizeSegment("///"))
	assert.Equal(t, "v1.2.3", SanitizeSegment("v1.2.3"))
	assert.Equal(t, "日本語", SanitizeSegment("日本語"))

	long := SanitizeSegment(strings.Repeat("a", 500))
	assert.LessOrEqual(t, len(long), 120)

	// Truncation must not split a multi-byte rune.
	longCJK := SanitizeSegment(strings.Repeat("語", 100))
	assert.LessOrEqual(t, len(longCJK), 120)
	assert.Equal(t, 0, len(longCJK)%3)
}

func TestNewTemp(t *testing.T) {
	a, b := NewTemp(), NewTemp()
	assert.Equal(t, ScopeTemp, a.Scope())
	assert.Equal(t, 1, a.Depth())
	assert.NotEqual(t, a.String(), b.String())
}

func TestBuild(t *testing.T) {
	assert.Equal(t, "viking://agent/skills/deploy", Build(ScopeAgent, "skills", "deploy").String())
	assert.Equal(t, "viking://agent/skills/deploy", Build(ScopeAgent, "skills/deploy").String())
	assert.Equal(t, "viking://agent", Build(ScopeAgent).String())
}
