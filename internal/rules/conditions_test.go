package rules

import (
	"fmt"
	"sync"
	"testing"
)

func TestEvaluateGroupEmptyIsTrue(t *testing.T) {
	ok, warnings := EvaluateGroup(ConditionGroup{}, PropertyMap{})
	if !ok {
		t.Error("empty group should evaluate true")
	}
	if len(warnings) != 0 {
		t.Errorf("empty group should have no warnings, got %v", warnings)
	}
}

func TestEvaluateGroupAnd(t *testing.T) {
	g := ConditionGroup{
		Operator: OperatorAnd,
		Conditions: []Condition{
			{Type: ConditionExists, Field: "season"},
			{Type: ConditionExists, Field: "episode"},
		},
	}

	if ok, _ := EvaluateGroup(g, PropertyMap{"season": "1", "episode": "2"}); !ok {
		t.Error("AND with both conditions true should evaluate true")
	}
	if ok, _ := EvaluateGroup(g, PropertyMap{"season": "1"}); ok {
		t.Error("AND with one condition false should evaluate false")
	}
}

func TestEvaluateGroupOr(t *testing.T) {
	g := ConditionGroup{
		Operator: OperatorOr,
		Conditions: []Condition{
			{Type: ConditionExists, Field: "season"},
			{Type: ConditionExists, Field: "episode"},
		},
	}

	if ok, _ := EvaluateGroup(g, PropertyMap{"episode": "2"}); !ok {
		t.Error("OR with one condition true should evaluate true")
	}
	if ok, _ := EvaluateGroup(g, PropertyMap{}); ok {
		t.Error("OR with no conditions true should evaluate false")
	}
}

func TestEvaluateGroupNested(t *testing.T) {
	g := ConditionGroup{
		Operator:   OperatorAnd,
		Conditions: []Condition{{Type: ConditionExists, Field: "season"}},
		Groups: []ConditionGroup{
			{
				Operator: OperatorOr,
				Conditions: []Condition{
					{Type: ConditionEquals, Field: "fileType", Value: "video"},
					{Type: ConditionEquals, Field: "fileType", Value: "audio"},
				},
			},
		},
	}

	if ok, _ := EvaluateGroup(g, PropertyMap{"season": "1", "fileType": "audio"}); !ok {
		t.Error("top-level AND with satisfied nested OR should evaluate true")
	}
	if ok, _ := EvaluateGroup(g, PropertyMap{"season": "1", "fileType": "image"}); ok {
		t.Error("top-level AND with unsatisfied nested OR should evaluate false")
	}
}

func TestConditionExistsNotExists(t *testing.T) {
	props := PropertyMap{"season": "1"}

	if ok, _ := evaluateCondition(Condition{Type: ConditionExists, Field: "season"}, props); !ok {
		t.Error("EXISTS on present field should be true")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionExists, Field: "episode"}, props); ok {
		t.Error("EXISTS on absent field should be false")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionNotExists, Field: "episode"}, props); !ok {
		t.Error("NOT_EXISTS on absent field should be true")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionNotExists, Field: "season"}, props); ok {
		t.Error("NOT_EXISTS on present field should be false")
	}
}

func TestConditionEqualsCoercion(t *testing.T) {
	cases := []struct {
		name  string
		value string
		rule  any
		want  bool
	}{
		{"bool true match", "true", true, true},
		{"bool mismatch", "false", true, false},
		{"bool unparsable", "notabool", true, false},
		{"float match", "3.5", 3.5, true},
		{"float mismatch", "3.5", 4.0, false},
		{"int match", "5", 5, true},
		{"int unparsable", "five", 5, false},
		{"string match", "video", "video", true},
		{"string mismatch", "video", "audio", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := evaluateCondition(Condition{Type: ConditionEquals, Field: "f", Value: tc.rule}, PropertyMap{"f": tc.value})
			if ok != tc.want {
				t.Errorf("EQUALS(%q, %v) = %v, want %v", tc.value, tc.rule, ok, tc.want)
			}
		})
	}
}

func TestConditionEqualsMissingFieldIsFalse(t *testing.T) {
	if ok, _ := evaluateCondition(Condition{Type: ConditionEquals, Field: "missing", Value: "x"}, PropertyMap{}); ok {
		t.Error("EQUALS on a missing field should be false")
	}
}

func TestConditionNotEquals(t *testing.T) {
	if ok, _ := evaluateCondition(Condition{Type: ConditionNotEquals, Field: "fileType", Value: "video"}, PropertyMap{"fileType": "audio"}); !ok {
		t.Error("NOT_EQUALS with different values should be true")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionNotEquals, Field: "fileType", Value: "video"}, PropertyMap{"fileType": "video"}); ok {
		t.Error("NOT_EQUALS with equal values should be false")
	}
	// Missing field: per spec.md §4.2 NOT_EQUALS treats an absent field as
	// satisfying the condition (there's nothing equal to compare against).
	if ok, _ := evaluateCondition(Condition{Type: ConditionNotEquals, Field: "missing", Value: "video"}, PropertyMap{}); !ok {
		t.Error("NOT_EQUALS on a missing field should be true")
	}
}

func TestConditionContains(t *testing.T) {
	if ok, _ := evaluateCondition(Condition{Type: ConditionContains, Field: "title", Value: "rriv"}, PropertyMap{"title": "Arrival"}); !ok {
		t.Error("CONTAINS on a matching substring should be true")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionContains, Field: "title", Value: "zzz"}, PropertyMap{"title": "Arrival"}); ok {
		t.Error("CONTAINS on a non-matching substring should be false")
	}
	if ok, _ := evaluateCondition(Condition{Type: ConditionContains, Field: "missing", Value: "x"}, PropertyMap{}); ok {
		t.Error("CONTAINS on a missing field should be false")
	}
}

func TestConditionMatches(t *testing.T) {
	if ok, warn := evaluateCondition(Condition{Type: ConditionMatches, Field: "title", Value: `^S\d+E\d+`}, PropertyMap{"title": "S01E02"}); !ok || warn != "" {
		t.Errorf("MATCHES valid pattern/matching value = %v, %q, want true, \"\"", ok, warn)
	}
	if ok, warn := evaluateCondition(Condition{Type: ConditionMatches, Field: "title", Value: `^S\d+E\d+`}, PropertyMap{"title": "Arrival"}); ok || warn != "" {
		t.Errorf("MATCHES valid pattern/non-matching value = %v, %q, want false, \"\"", ok, warn)
	}
}

func TestConditionMatchesInvalidRegexIsSoftFailure(t *testing.T) {
	ok, warn := evaluateCondition(Condition{Type: ConditionMatches, Field: "title", Value: `[unterminated`}, PropertyMap{"title": "x"})
	if ok {
		t.Error("MATCHES with an invalid regex should evaluate false, not panic or error out")
	}
	if warn == "" {
		t.Error("MATCHES with an invalid regex should produce a warning")
	}
}

func TestConditionUnknownTypeIsSoftFailure(t *testing.T) {
	ok, warn := evaluateCondition(Condition{Type: "BOGUS", Field: "title"}, PropertyMap{"title": "x"})
	if ok {
		t.Error("an unknown condition type should evaluate false")
	}
	if warn == "" {
		t.Error("an unknown condition type should produce a warning")
	}
}

// TestCompileCachedConcurrentAccess exercises regexCache under concurrent
// reads and writes from many goroutines, as it is in production: the State
// Builder's event goroutine and arbitrary Query API handler goroutines
// (rules/preview, rules/validate) all call into compileCached. Run with
// -race to confirm the mutex guarding regexCache actually prevents the
// concurrent map write Go's runtime would otherwise fatal on.
func TestCompileCachedConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			pattern := fmt.Sprintf(`^pattern-%d$`, i%10)
			if _, err := compileCached(pattern); err != nil {
				t.Errorf("compileCached(%q): %v", pattern, err)
			}
		}()
	}
	wg.Wait()
}
