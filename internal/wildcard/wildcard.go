// Package wildcard implements the single-wildcard patterns shared by bus
// topics and memory keys: an exact string, or one leading or trailing '*'.
package wildcard

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned for patterns with more than one '*' or a '*' that is
// neither leading nor trailing.
var ErrInvalid = errors.New("invalid wildcard pattern")

// Kind describes how a pattern matches.
type Kind int

const (
	Exact Kind = iota
	Prefix
	Suffix
)

// Pattern is a parsed wildcard pattern.
type Pattern struct {
	raw   string
	kind  Kind
	fixed string
}

// Parse parses raw. A lone "*" is a prefix pattern matching everything.
func Parse(raw string) (Pattern, error) {
	switch n := strings.Count(raw, "*"); {
	case n == 0:
		return Pattern{raw: raw, kind: Exact, fixed: raw}, nil
	case n > 1:
		return Pattern{}, fmt.Errorf("%w: %q has %d wildcards", ErrInvalid, raw, n)
	case strings.HasSuffix(raw, "*"):
		return Pattern{raw: raw, kind: Prefix, fixed: strings.TrimSuffix(raw, "*")}, nil
	case strings.HasPrefix(raw, "*"):
		return Pattern{raw: raw, kind: Suffix, fixed: strings.TrimPrefix(raw, "*")}, nil
	default:
		return Pattern{}, fmt.Errorf("%w: %q wildcard must lead or trail", ErrInvalid, raw)
	}
}

// MustParse is Parse for patterns known at compile time.
func MustParse(raw string) Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

func (p Pattern) Kind() Kind { return p.kind }

// IsWildcard reports whether the pattern carries a '*'.
func (p Pattern) IsWildcard() bool { return p.kind != Exact }

// Match reports whether s matches the pattern.
func (p Pattern) Match(s string) bool {
	switch p.kind {
	case Prefix:
		return strings.HasPrefix(s, p.fixed)
	case Suffix:
		return strings.HasSuffix(s, p.fixed)
	default:
		return s == p.fixed
	}
}

// Fixed returns the literal part of the pattern without the '*'.
func (p Pattern) Fixed() string { return p.fixed }
