package rules

// CoreProperties are always relevant regardless of rule content, per
// spec.md §4.3.
var CoreProperties = []string{"filePath", "size", "fileSize", "mtime", "ctime", "fileName", "extension"}

// RelevanceSet is the set of property paths (dot-normalized) that can
// affect virtual-path computation under a given Config.
type RelevanceSet map[string]struct{}

// IsRelevant implements spec.md §4.3's ancestor/descendant relevance rule:
// a store key is relevant if it exactly matches a set member, or is a
// dotted ancestor or descendant of one.
func (s RelevanceSet) IsRelevant(prop string) bool {
	prop = NormalizePath(prop)
	for member := range s {
		if IsRelated(prop, member) {
			return true
		}
	}
	return false
}

// ExtractRelevance computes the relevance set for a Config: core properties,
// every variable path in enabled rules' templates (recursing into
// conditional subtemplates) and the defaultRule's template, plus every
// field referenced by any condition in any enabled rule. A template that
// fails to parse contributes no paths, while its rule's condition fields
// still do (extraction never fails the whole computation for one bad rule).
func ExtractRelevance(cfg Config) RelevanceSet {
	set := make(RelevanceSet)
	for _, p := range CoreProperties {
		set[NormalizePath(p)] = struct{}{}
	}

	for _, r := range cfg.Rules {
		if !r.Enabled {
			continue
		}
		extractRule(r, set)
	}
	if cfg.DefaultRule != nil {
		extractRule(*cfg.DefaultRule, set)
	}
	return set
}

func extractRule(r Rule, set RelevanceSet) {
	collectConditionFields(r.Conditions, set)
	if tmpl, err := ParseTemplate(r.Template); err == nil {
		collectTemplatePaths(tmpl, set)
	}
}

func collectConditionFields(g ConditionGroup, set RelevanceSet) {
	for _, c := range g.Conditions {
		set[NormalizePath(c.Field)] = struct{}{}
	}
	for _, sub := range g.Groups {
		collectConditionFields(sub, set)
	}
}

func collectTemplatePaths(t *Template, set RelevanceSet) {
	for _, s := range t.segments {
		if !s.isExpr {
			continue
		}
		set[NormalizePath(s.path)] = struct{}{}
		if s.kind == exprFallback && pathLikeRE.MatchString(s.fallback) {
			set[NormalizePath(s.fallback)] = struct{}{}
		}
		if s.kind == exprConditional && s.inner != nil {
			collectTemplatePaths(s.inner, set)
		}
	}
}

// ListVariables returns every distinct property path referenced anywhere in
// a Config (enabled or not) for the `GET /api/fuse/rules/variables`
// endpoint — a discovery aid for someone authoring a new rule, so it
// intentionally includes disabled rules too.
func ListVariables(cfg Config) []string {
	set := make(RelevanceSet)
	for _, p := range CoreProperties {
		set[NormalizePath(p)] = struct{}{}
	}
	for _, r := range cfg.Rules {
		collectConditionFields(r.Conditions, set)
		if tmpl, err := ParseTemplate(r.Template); err == nil {
			collectTemplatePaths(tmpl, set)
		}
	}
	if cfg.DefaultRule != nil {
		collectConditionFields(cfg.DefaultRule.Conditions, set)
		if tmpl, err := ParseTemplate(cfg.DefaultRule.Template); err == nil {
			collectTemplatePaths(tmpl, set)
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
