package rules

import "fmt"

// ValidationResult is the outcome of validating a single rule, used by
// `POST /api/fuse/rules/validate`.
type ValidationResult struct {
	Valid        bool
	Errors       []string
	Warnings     []string
	SampleOutput string
}

// ValidateRule parses the rule's template and, if sampleMetadata is
// provided, evaluates conditions and renders the template against it. A
// template parse error is always reported as an Error. Condition problems
// (a MATCHES condition with an invalid regex, an unknown condition type)
// are reported as Errors only when sampleMetadata is provided, and an
// invalid regex only when its field is present in the sample; without
// sample metadata the conditions are not checked. This is the one place
// those soft failures become user-visible.
func ValidateRule(r Rule, sampleMetadata PropertyMap) ValidationResult {
	var res ValidationResult
	res.Valid = true

	tmpl, err := ParseTemplate(r.Template)
	if err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("template: %v", err))
	}

	if sampleMetadata != nil {
		matched, warnings := EvaluateGroup(r.Conditions, sampleMetadata)
		res.Warnings = append(res.Warnings, warnings...)
		if len(warnings) > 0 {
			res.Valid = false
			for _, w := range warnings {
				res.Errors = append(res.Errors, w)
			}
		}
		if tmpl != nil && matched {
			if out, ok := tmpl.Execute(sampleMetadata); ok {
				res.SampleOutput = SanitizePath(out)
			} else {
				res.Warnings = append(res.Warnings, "template: did not interpolate against sample metadata (a required variable is missing)")
			}
		}
	}

	return res
}
