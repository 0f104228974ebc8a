// Package router matches request paths against registered route patterns
package router

import (
	"fmt"
	"strings"

	"gatewaycore/internal/types"
)

// patternKind describes how a pattern is compared against a path
type patternKind int

const (
	kindExact patternKind = iota
	kindPrefix
	kindWildcard
)

// matcher is a pattern split into the pieces needed for matching
type matcher struct {
	pattern string
	kind    patternKind
	prefix  string
	suffix  string
}

// ValidatePattern rejects empty patterns and patterns with more than one wildcard
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("%w: empty pattern", types.ErrInvalidRoutePattern)
	}
	if strings.Count(pattern, "*") > 1 {
		return fmt.Errorf("%w: %q has more than one wildcard", types.ErrInvalidRoutePattern, pattern)
	}
	return nil
}

func compile(pattern string) (matcher, error) {
	if err := ValidatePattern(pattern); err != nil {
		return matcher{}, err
	}

	m := matcher{pattern: pattern, kind: kindExact}
	switch {
	case strings.Contains(pattern, "*"):
		m.kind = kindWildcard
		m.prefix, m.suffix, _ = strings.Cut(pattern, "*")
	case strings.HasSuffix(pattern, "/"):
		m.kind = kindPrefix
		m.prefix = strings.TrimSuffix(pattern, "/")
	}
	return m, nil
}

func (m matcher) match(path string) bool {
	switch m.kind {
	case kindWildcard:
		if len(path) < len(m.prefix)+len(m.suffix) {
			return false
		}
		if !strings.HasPrefix(path, m.prefix) || !strings.HasSuffix(path, m.suffix) {
			return false
		}
		// The wildcard stands for exactly one segment
		span := path[len(m.prefix) : len(path)-len(m.suffix)]
		return !strings.Contains(span, "/")
	case kindPrefix:
		return strings.HasPrefix(path, m.prefix)
	default:
		return path == m.pattern
	}
}

// Match reports whether path matches pattern.
//
// A pattern ending in "/" matches every path starting with the pattern
// minus its trailing slash. A pattern with a single "*" matches paths that
// carry the text before and after the wildcard, with no "/" in between.
// Anything else must match exactly. Invalid patterns never match.
func Match(pattern, path string) bool {
	m, err := compile(pattern)
	if err != nil {
		return false
	}
	return m.match(path)
}
