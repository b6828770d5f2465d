package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher selects the methods a middleware entry applies to.
type Matcher interface {
	Match(method string) bool
	String() string
}

type anyMatcher struct{}

func (anyMatcher) Match(string) bool { return true }
func (anyMatcher) String() string    { return "*" }

// Any matches every method.
func Any() Matcher { return anyMatcher{} }

type exactMatcher string

func (m exactMatcher) Match(method string) bool { return string(m) == method }
func (m exactMatcher) String() string           { return string(m) }

// Exact matches a single method name.
func Exact(method string) Matcher { return exactMatcher(method) }

type patternMatcher struct{ re *regexp.Regexp }

func (m patternMatcher) Match(method string) bool { return m.re.MatchString(method) }
func (m patternMatcher) String() string           { return "/" + m.re.String() + "/" }

// Pattern matches methods accepted by re.
func Pattern(re *regexp.Regexp) Matcher { return patternMatcher{re: re} }

// ParseMatcher reads the textual form used in configuration: "*" is Any, "/expr/" is
// Pattern and anything else is Exact.
func ParseMatcher(s string) (Matcher, error) {
	switch {
	case s == "*":
		return Any(), nil
	case len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/"):
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidMatcher, s, err)
		}
		return Pattern(re), nil
	case s == "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidMatcher)
	default:
		return Exact(s), nil
	}
}
