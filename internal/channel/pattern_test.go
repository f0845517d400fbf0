package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileAll(t *testing.T, patterns ...string) []boxPattern {
	t.Helper()
	out := make([]boxPattern, 0, len(patterns))
	for _, p := range patterns {
		bp, err := compilePattern(p, "/")
		require.NoError(t, err)
		out = append(out, bp)
	}
	return out
}

func TestPatternStar(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "*")
	assert.True(t, matchPatterns(pats, "Work"))
	assert.True(t, matchPatterns(pats, "Work/Trash"))
	assert.True(t, matchPatterns(pats, ""))
}

func TestPatternPercentStopsAtDelimiter(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "%")
	assert.True(t, matchPatterns(pats, "Work"))
	assert.True(t, matchPatterns(pats, "Archive2024"))
	assert.False(t, matchPatterns(pats, "Work/Trash"))

	pats = compileAll(t, "Lists/%")
	assert.True(t, matchPatterns(pats, "Lists/golang"))
	assert.False(t, matchPatterns(pats, "Lists/golang/archive"))
}

func TestPatternNegation(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "*", "!*Trash*")
	assert.True(t, matchPatterns(pats, "Work"))
	assert.True(t, matchPatterns(pats, "Personal"))
	assert.False(t, matchPatterns(pats, "Work/Trash"))
	assert.False(t, matchPatterns(pats, "Trash"))
}

func TestPatternLastMatchWins(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "!*", "*")
	assert.True(t, matchPatterns(pats, "anything"), "a later pattern overrides an earlier one")

	pats = compileAll(t, "*", "!Work", "Work")
	assert.True(t, matchPatterns(pats, "Work"))

	pats = compileAll(t, "*", "Work", "!Work")
	assert.False(t, matchPatterns(pats, "Work"))
}

func TestPatternNoMatchExcludes(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "Work")
	assert.False(t, matchPatterns(pats, "Personal"))
}

func TestPatternEscapesRegexMeta(t *testing.T) {
	t.Parallel()

	pats := compileAll(t, "a+b")
	assert.True(t, matchPatterns(pats, "a+b"))
	assert.False(t, matchPatterns(pats, "aab"))
}
