package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// regexCache avoids recompiling the same MATCHES pattern on every file.
// Reachable concurrently from the State Builder's event goroutine
// (Evaluator.Resolve) and from arbitrary HTTP-handler goroutines
// (rules/preview, rules/validate), so it needs its own lock rather than
// relying on the single-writer discipline those callers otherwise keep.
var (
	regexCacheMu sync.RWMutex
	regexCache   = map[string]*regexp.Regexp{}
)

// EvaluateGroup recursively evaluates a ConditionGroup against a file's
// property map. An empty group evaluates true, per spec.md §3. Unknown
// operators/condition types are soft failures: the failing condition
// evaluates false and a warning is returned for the caller to log, without
// aborting the rest of the evaluation (spec.md §4.2).
func EvaluateGroup(g ConditionGroup, props PropertyMap) (bool, []string) {
	var warnings []string
	results := make([]bool, 0, len(g.Conditions)+len(g.Groups))

	for _, c := range g.Conditions {
		ok, warn := evaluateCondition(c, props)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		results = append(results, ok)
	}
	for _, sub := range g.Groups {
		ok, subWarnings := EvaluateGroup(sub, props)
		warnings = append(warnings, subWarnings...)
		results = append(results, ok)
	}

	if len(results) == 0 {
		return true, warnings
	}

	switch g.Operator {
	case OperatorOr:
		for _, r := range results {
			if r {
				return true, warnings
			}
		}
		return false, warnings
	default: // OperatorAnd, and the default for an unset/unknown operator
		for _, r := range results {
			if !r {
				return false, warnings
			}
		}
		return true, warnings
	}
}

func evaluateCondition(c Condition, props PropertyMap) (bool, string) {
	switch c.Type {
	case ConditionExists:
		return props.Has(c.Field), ""
	case ConditionNotExists:
		return !props.Has(c.Field), ""
	case ConditionEquals:
		v, ok := props.Get(c.Field)
		if !ok {
			return false, ""
		}
		return coerceEqual(v, c.Value), ""
	case ConditionNotEquals:
		v, ok := props.Get(c.Field)
		if !ok {
			return true, ""
		}
		return !coerceEqual(v, c.Value), ""
	case ConditionContains:
		v, ok := props.Get(c.Field)
		if !ok {
			return false, ""
		}
		return strings.Contains(v, fmt.Sprint(c.Value)), ""
	case ConditionMatches:
		v, ok := props.Get(c.Field)
		if !ok {
			return false, ""
		}
		pattern := fmt.Sprint(c.Value)
		re, err := compileCached(pattern)
		if err != nil {
			return false, fmt.Sprintf("rules: invalid MATCHES regex %q on field %q: %v", pattern, c.Field, err)
		}
		return re.MatchString(v), ""
	default:
		return false, fmt.Sprintf("rules: unknown condition type %q on field %q", c.Type, c.Field)
	}
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}

// coerceEqual implements spec.md §4.2's EQUALS coercion rules: if the rule
// value is boolean, compare as boolean; if numeric, coerce the metadata
// string through a numeric parse; otherwise compare as strings.
func coerceEqual(metadataValue string, ruleValue any) bool {
	switch rv := ruleValue.(type) {
	case bool:
		mv, err := strconv.ParseBool(metadataValue)
		if err != nil {
			return false
		}
		return mv == rv
	case float64:
		mv, err := strconv.ParseFloat(metadataValue, 64)
		if err != nil {
			return false
		}
		return mv == rv
	case int:
		mv, err := strconv.ParseFloat(metadataValue, 64)
		if err != nil {
			return false
		}
		return mv == float64(rv)
	default:
		return metadataValue == fmt.Sprint(ruleValue)
	}
}
