package rules

import (
	"path"
	"strings"
)

// Evaluator selects and renders a virtual path for a file's property map
// against a Config, per spec.md §4.2's selection algorithm.
type Evaluator struct {
	cfg Config
}

// NewEvaluator builds an Evaluator bound to a snapshot of the rule config.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg.Clone()}
}

// MatchResult describes which rule (if any) produced a file's virtual path.
type MatchResult struct {
	Path       string
	MatchedRule string // rule ID, or "" if the hard-coded Unsorted fallback fired
	Warnings    []string
}

// Resolve runs spec.md §4.2's selection algorithm: iterate rules in
// descending priority (stable by position), skipping disabled rules; for
// each rule whose conditions match, try to render its template; on success,
// sanitize and return it; on template failure with fallbackToUnsorted,
// return Unsorted/<fileName>; otherwise keep going. Falls through to
// defaultRule, then to a hard-coded Unsorted/<fileName>.
func (e *Evaluator) Resolve(props PropertyMap) MatchResult {
	ordered := orderedRules(e.cfg.Rules)

	for _, r := range ordered {
		if !r.Enabled {
			continue
		}
		matched, warnings := EvaluateGroup(r.Conditions, props)
		if !matched {
			continue
		}
		tmpl, err := ParseTemplate(r.Template)
		if err != nil {
			warnings = append(warnings, "rules: "+err.Error())
			if r.FallbackToUnsorted {
				return MatchResult{Path: unsortedPath(props), MatchedRule: r.ID, Warnings: warnings}
			}
			continue
		}
		rendered, ok := tmpl.Execute(props)
		if ok {
			return MatchResult{Path: SanitizePath(rendered), MatchedRule: r.ID, Warnings: warnings}
		}
		if r.FallbackToUnsorted {
			return MatchResult{Path: unsortedPath(props), MatchedRule: r.ID, Warnings: warnings}
		}
		// null result, no fallback: continue to the next rule.
	}

	if e.cfg.DefaultRule != nil {
		r := *e.cfg.DefaultRule
		tmpl, err := ParseTemplate(r.Template)
		if err == nil {
			if rendered, ok := tmpl.Execute(props); ok {
				return MatchResult{Path: SanitizePath(rendered), MatchedRule: r.ID}
			}
		}
		if r.FallbackToUnsorted || err != nil {
			return MatchResult{Path: unsortedPath(props), MatchedRule: r.ID}
		}
	}

	return MatchResult{Path: unsortedPath(props)}
}

// orderedRules sorts by descending priority, stable on original position —
// a plain stable sort over a copy gives exactly that.
func orderedRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	// Insertion sort: input sets are small (dozens of rules at most) and
	// this keeps the "stable by position" guarantee obvious without
	// reaching for sort.SliceStable's less-obvious stability contract.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Priority < out[j].Priority {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func unsortedPath(props PropertyMap) string {
	name, ok := props.Get("fileName")
	if !ok || name == "" {
		if fp, ok := props.Get("filePath"); ok {
			name = path.Base(fp)
		}
	}
	if name == "" {
		name = "unknown"
	}
	return SanitizePath("Unsorted/" + name)
}

// SanitizePath implements spec.md §4.5/§6's sanitization: forward slashes,
// strip '<', '>', ':', '"', '|', '?', '*' (preserving a leading drive
// prefix like "X:" if present), prepend '/' if missing, collapse trailing
// slash except at root, collapse empty segments.
func SanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	var drivePrefix string
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		drivePrefix = p[:2]
		p = p[2:]
	}

	segments := strings.Split(p, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = stripForbidden(seg)
		if seg == "" {
			continue
		}
		cleaned = append(cleaned, seg)
	}

	out := drivePrefix + "/" + strings.Join(cleaned, "/")
	if out == "" {
		out = "/"
	}
	return out
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func stripForbidden(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), "/")
}
