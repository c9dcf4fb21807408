package policy

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// matchPath reports whether path satisfies pattern, where "**" matches zero
// or more path segments, "*" matches exactly one segment, and "?" matches
// one character within a segment (§4.1).
func matchPath(pattern, path string) bool {
	path = strings.TrimPrefix(path, "/")
	pattern = strings.TrimPrefix(pattern, "/")
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

// matchHost reports whether host satisfies pattern: an exact match, or a
// leading "*." wildcard that matches any label followed by the suffix (and
// the bare suffix itself) (§4.1).
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	suffix := pattern[1:] // keep the leading dot, e.g. ".example.com"
	return host == suffix[1:] || strings.HasSuffix(host, suffix)
}

// matchGlob reports whether s satisfies a flat shell-style glob where "*"
// matches any run of characters (including none, and including "/") and "?"
// matches exactly one character. Used for shell command/argument and secret
// name patterns, which unlike file paths are not segment-structured.
func matchGlob(pattern, s string) bool {
	re, err := regexp.Compile("^" + globToRegexp(pattern) + "$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func globToRegexp(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
