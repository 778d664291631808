// Package scope evaluates wildcard include/exclude URL patterns. A pattern
// may contain '*' as a multi-character wildcard; every other character is
// literal. Matching is case-insensitive and anchored to the whole URL.
package scope

import (
	"fmt"
	"regexp"
	"strings"
)

// compile translates a wildcard pattern into an anchored, case-insensitive
// regular expression. All regex metacharacters except '*' are escaped.
func compile(pattern string) (*regexp.Regexp, error) {
	expr := "(?i)^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid scope pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Matches reports whether url matches the wildcard pattern. A pattern that
// fails to compile never matches.
func Matches(url, pattern string) bool {
	re, err := compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}

// InScope reports whether url is permitted by the include/exclude lists.
// An empty include list means default inclusion. Any exclude match wins
// over inclusion.
func InScope(url string, include, exclude []string) bool {
	included := len(include) == 0
	for _, pattern := range include {
		if Matches(url, pattern) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range exclude {
		if Matches(url, pattern) {
			return false
		}
	}
	return true
}

// Validate checks every pattern compiles. Used to reject malformed scope
// configuration before any scan state is created.
func Validate(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := compile(pattern); err != nil {
			return err
		}
	}
	return nil
}

// Filter returns the subset of urls that are in scope.
func Filter(urls []string, include, exclude []string) []string {
	kept := make([]string, 0, len(urls))
	for _, u := range urls {
		if InScope(u, include, exclude) {
			kept = append(kept, u)
		}
	}
	return kept
}
