package matcher

import (
	"regexp"
	"strings"
	"sync"

	"github.com/example/route-watch/internal/models"
)

// Policy decides how a search's date window is compared with a route's
// availability window. A process uses exactly one policy.
type Policy int

const (
	// PolicyOverlap matches when the two closed intervals intersect.
	PolicyOverlap Policy = iota
	// PolicyContainment matches only when both route dates fall inside the
	// search window.
	PolicyContainment
)

func (p Policy) String() string {
	if p == PolicyContainment {
		return "containment"
	}
	return "overlap"
}

// ParsePolicy maps a configuration value to a Policy; unknown values fall
// back to overlap and report false.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overlap", "":
		return PolicyOverlap, true
	case "containment":
		return PolicyContainment, true
	default:
		return PolicyOverlap, false
	}
}

type Matcher struct {
	Policy Policy
}

func New(p Policy) Matcher { return Matcher{Policy: p} }

var defaultMatcher = Matcher{Policy: PolicyOverlap}

// Matches reports whether route satisfies search under interval overlap.
func Matches(search models.SavedSearch, route models.Route) bool {
	return defaultMatcher.Matches(search, route)
}

// Matches is pure and total: every input pair yields a boolean.
func (m Matcher) Matches(search models.SavedSearch, route models.Route) bool {
	if !m.DateWindowMatches(search, route) {
		return false
	}
	return WildcardMatch(search.OriginPattern, route.Origin) &&
		WildcardMatch(search.DestinationPattern, route.Destination)
}

func (m Matcher) DateWindowMatches(search models.SavedSearch, route models.Route) bool {
	from, to := models.DayOf(search.DateFrom), models.DayOf(search.DateTo)
	start, end := models.DayOf(route.AvailableAt), models.DayOf(route.LatestReturn)

	if m.Policy == PolicyContainment {
		return from <= start && end <= to
	}
	return !(to < start || from > end)
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

// WildcardMatch compares text against pattern, where * matches any run of
// characters and everything else matches itself case-insensitively. The
// whole text must match.
func WildcardMatch(pattern, text string) bool {
	return compile(pattern).MatchString(text)
}

func compile(pattern string) *regexp.Regexp {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile(`(?is)^` + strings.Join(parts, ".*") + `$`)
	patternCache.Store(pattern, re)
	return re
}
