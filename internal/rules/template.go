package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Template is a parsed path template (see SPEC_FULL.md §6 for the grammar).
// It is a sequence of literal runs and interpolated expressions.
type Template struct {
	segments []segment
	source   string
}

type exprKind int

const (
	exprRequired exprKind = iota
	exprOptional
	exprConditional
	exprFormat
	exprFallback
)

type segment struct {
	literal string
	isExpr  bool
	kind    exprKind
	path    string
	format  string
	inner   *Template // for exprConditional
	fallback string    // for exprFallback: raw fallback text (path or literal)
}

var pathLikeRE = regexp.MustCompile(`^[A-Za-z0-9_./]+$`)

// ParseTemplate parses a path template string. A malformed template (unbalanced
// "?(" ... ")" nesting, or an expression whose path is not a plain dotted or
// slashed identifier) is a soft failure: it returns an error, which callers
// treat the same way spec.md §4.2 treats an invalid regex or unknown format —
// the owning rule is skipped, not fatal to the process.
func ParseTemplate(src string) (*Template, error) {
	segs, _, err := parseSegments(src)
	if err != nil {
		return nil, err
	}
	return &Template{segments: segs, source: src}, nil
}

// parseSegments scans src left to right, splitting it into literal runs and
// brace-delimited expressions. Braces nest (depth-counted); an opening brace
// with no matching close renders as a literal character, per spec.md §4.2's
// "unmatched braces render as literals".
func parseSegments(src string) ([]segment, int, error) {
	var segs []segment
	var lit strings.Builder
	i := 0
	for i < len(src) {
		c := src[i]
		if c != '{' {
			lit.WriteByte(c)
			i++
			continue
		}
		// Try to find the matching close brace.
		end, ok := matchingBrace(src, i)
		if !ok {
			// Unmatched: render the '{' as a literal and continue.
			lit.WriteByte(c)
			i++
			continue
		}
		content := src[i+1 : end]
		if lit.Len() > 0 {
			segs = append(segs, segment{literal: lit.String()})
			lit.Reset()
		}
		s, err := parseExpr(content)
		if err != nil {
			return nil, 0, err
		}
		segs = append(segs, s)
		i = end + 1
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{literal: lit.String()})
	}
	return segs, i, nil
}

// matchingBrace returns the index of the '}' matching the '{' at src[open],
// counting nested braces.
func matchingBrace(src string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return -1, false
}

func parseExpr(content string) (segment, error) {
	// Split the leading path from any trailing modifier.
	idx := len(content)
	for i, r := range content {
		if r == '?' || r == ':' || r == '|' {
			idx = i
			break
		}
	}
	path := content[:idx]
	rest := content[idx:]
	if !pathLikeRE.MatchString(path) {
		return segment{}, fmt.Errorf("rules: malformed expression %q", content)
	}

	switch {
	case rest == "":
		return segment{isExpr: true, kind: exprRequired, path: path}, nil
	case rest == "?":
		return segment{isExpr: true, kind: exprOptional, path: path}, nil
	case strings.HasPrefix(rest, "?("):
		if !strings.HasSuffix(rest, ")") {
			return segment{}, fmt.Errorf("rules: malformed conditional subtemplate in %q", content)
		}
		inner := rest[2 : len(rest)-1]
		innerSegs, _, err := parseSegments(inner)
		if err != nil {
			return segment{}, err
		}
		return segment{isExpr: true, kind: exprConditional, path: path, inner: &Template{segments: innerSegs, source: inner}}, nil
	case strings.HasPrefix(rest, ":"):
		return segment{isExpr: true, kind: exprFormat, path: path, format: rest[1:]}, nil
	case strings.HasPrefix(rest, "|"):
		return segment{isExpr: true, kind: exprFallback, path: path, fallback: rest[1:]}, nil
	default:
		return segment{}, fmt.Errorf("rules: malformed expression %q", content)
	}
}

// Execute renders the template against a property map. The second return
// value is false if a required variable (bare {path}, {path:format}, or an
// unresolved {path|fallback}) was missing, per spec.md §4.2 — a failed
// template yields no path, not a partial one.
func (t *Template) Execute(props PropertyMap) (string, bool) {
	var out strings.Builder
	for _, s := range t.segments {
		if !s.isExpr {
			out.WriteString(s.literal)
			continue
		}
		val, ok, err := evalExpr(s, props)
		if err != nil || !ok {
			return "", false
		}
		out.WriteString(val)
	}
	return out.String(), true
}

func evalExpr(s segment, props PropertyMap) (string, bool, error) {
	switch s.kind {
	case exprRequired:
		v, ok := props.Get(s.path)
		return v, ok, nil

	case exprOptional:
		v, ok := props.Get(s.path)
		if !ok {
			return "", true, nil // elided, not a failure
		}
		return v, true, nil

	case exprConditional:
		if !props.Has(s.path) {
			return "", true, nil // elided
		}
		rendered, ok := s.inner.Execute(props)
		if !ok {
			return "", true, nil // inner failed to interpolate -> elided, not a failure
		}
		return rendered, true, nil

	case exprFormat:
		v, ok := props.Get(s.path)
		if !ok {
			return "", false, nil
		}
		formatted, err := applyFormat(v, s.format)
		if err != nil {
			return "", false, err
		}
		return formatted, true, nil

	case exprFallback:
		if v, ok := props.Get(s.path); ok {
			return v, true, nil
		}
		if pathLikeRE.MatchString(s.fallback) && looksLikeDeclaredPath(s.fallback) {
			if v, ok := props.Get(s.fallback); ok {
				return v, true, nil
			}
			// Both primary and fallback fields are missing: fail the whole
			// interpolation. Do NOT emit the fallback text as a literal.
			return "", false, nil
		}
		return s.fallback, true, nil

	default:
		return "", false, fmt.Errorf("rules: unknown expression kind")
	}
}

// looksLikeDeclaredPath exists only to make the fallback-is-a-path-or-literal
// decision readable at the call site; the actual grammar test is
// pathLikeRE, kept separate so a stricter check (e.g. requiring at least one
// letter) can be added later without touching evalExpr.
func looksLikeDeclaredPath(s string) bool {
	return s != ""
}

func applyFormat(v, format string) (string, error) {
	switch {
	case strings.HasPrefix(format, "pad"):
		digits := strings.TrimPrefix(format, "pad")
		n, err := strconv.Atoi(digits)
		if err != nil {
			return "", fmt.Errorf("rules: invalid pad width %q: %w", format, err)
		}
		return padLeft(v, n), nil
	case format == "upper" || format == "uppercase":
		return strings.ToUpper(v), nil
	case format == "lower" || format == "lowercase":
		return strings.ToLower(v), nil
	default:
		return "", fmt.Errorf("rules: unknown format %q", format)
	}
}

// padLeft left-pads v with '0' to exactly n characters. Values already >= n
// characters are returned unchanged, per spec.md §8.
func padLeft(v string, n int) string {
	if len(v) >= n {
		return v
	}
	return strings.Repeat("0", n-len(v)) + v
}
