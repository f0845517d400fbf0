package channel

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// boxPattern is one compiled selection pattern. negate flips the decision
// when the pattern matches.
type boxPattern struct {
	negate bool
	re     *regexp.Regexp
}

// compilePattern turns a mailbox glob into a matcher: * matches any run, %
// matches a run without the delimiter, a leading ! negates the pattern.
func compilePattern(pattern, delimiter string) (boxPattern, error) {
	neg := strings.HasPrefix(pattern, "!")
	if neg {
		pattern = pattern[1:]
	}
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `%`, "[^"+regexp.QuoteMeta(delimiter)+"]*")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return boxPattern{}, errors.Wrapf(err, "bad pattern %q", pattern)
	}
	return boxPattern{negate: neg, re: re}, nil
}

// matchPatterns evaluates the patterns in reverse order so the last matching
// pattern wins; its negation flag decides inclusion. A box matching nothing
// is excluded.
func matchPatterns(patterns []boxPattern, box string) bool {
	for i := len(patterns) - 1; i >= 0; i-- {
		if patterns[i].re.MatchString(box) {
			return !patterns[i].negate
		}
	}
	return false
}
