package scope

import "testing"

func TestMatchesLiteralEquality(t *testing.T) {
	// Without a wildcard, a pattern matches only its exact URL,
	// case-insensitively.
	cases := []struct {
		url, pattern string
		want         bool
	}{
		{"https://example.com/login", "https://example.com/login", true},
		{"HTTPS://EXAMPLE.COM/LOGIN", "https://example.com/login", true},
		{"https://example.com/login", "https://example.com/log", false},
		{"https://example.com/log", "https://example.com/login", false},
		{"https://example.com/login?x=1", "https://example.com/login", false},
	}
	for _, c := range cases {
		if got := Matches(c.url, c.pattern); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.url, c.pattern, got, c.want)
		}
	}
}

func TestMatchesWildcard(t *testing.T) {
	cases := []struct {
		url, pattern string
		want         bool
	}{
		{"https://example.com/api/users", "https://example.com/api/*", true},
		{"https://example.com/api/", "https://example.com/api/*", true},
		{"https://example.com/admin", "https://example.com/api/*", false},
		{"https://a.example.com/x", "https://*.example.com/*", true},
		{"http://example.com/a/b/c", "*example.com*", true},
	}
	for _, c := range cases {
		if got := Matches(c.url, c.pattern); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.url, c.pattern, got, c.want)
		}
	}
}

func TestMetacharactersAreLiteral(t *testing.T) {
	// Regex metacharacters other than '*' must not act as regex.
	if Matches("https://example.com/ab", "https://example.com/a.") {
		t.Error("'.' must be literal, not any-character")
	}
	if !Matches("https://example.com/a.", "https://example.com/a.") {
		t.Error("literal '.' should match itself")
	}
	if !Matches("https://example.com/page?id=1", "https://example.com/page?id=1") {
		t.Error("'?' should be literal")
	}
}

func TestInScopeDefaultAllow(t *testing.T) {
	if !InScope("https://anything.example", nil, nil) {
		t.Error("empty include and exclude lists must default to in scope")
	}
	if !InScope("https://anything.example", []string{}, []string{}) {
		t.Error("empty slices must behave like nil")
	}
}

func TestInScopeExcludeWins(t *testing.T) {
	include := []string{"https://example.com/*"}
	exclude := []string{"https://example.com/admin*"}

	if !InScope("https://example.com/home", include, exclude) {
		t.Error("included URL without exclude match must be in scope")
	}
	// Matches both include and exclude: exclude wins.
	if InScope("https://example.com/admin/panel", include, exclude) {
		t.Error("exclude must win even when an include pattern matches")
	}
	// Exclude applies even with no include list.
	if InScope("https://example.com/admin", nil, exclude) {
		t.Error("exclude must apply under default inclusion")
	}
}

func TestInScopeRequiresIncludeMatch(t *testing.T) {
	include := []string{"https://example.com/api/*"}
	if InScope("https://other.example/", include, nil) {
		t.Error("URL outside all include patterns must be out of scope")
	}
}

func TestFilter(t *testing.T) {
	urls := []string{
		"https://example.com/a",
		"https://example.com/admin/x",
		"https://other.example/b",
	}
	got := Filter(urls, []string{"https://example.com/*"}, []string{"*admin*"})
	if len(got) != 1 || got[0] != "https://example.com/a" {
		t.Errorf("Filter returned %v", got)
	}
}
