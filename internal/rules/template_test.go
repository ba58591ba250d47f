package rules

import "testing"

func TestTemplateLiteral(t *testing.T) {
	tmpl, err := ParseTemplate("Movies/plain")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	out, ok := tmpl.Execute(PropertyMap{})
	if !ok || out != "Movies/plain" {
		t.Errorf("Execute() = %q, %v, want %q, true", out, ok, "Movies/plain")
	}
}

func TestTemplateRequiredVariable(t *testing.T) {
	tmpl, err := ParseTemplate("{title}/file")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	if out, ok := tmpl.Execute(PropertyMap{"title": "Arrival"}); !ok || out != "Arrival/file" {
		t.Errorf("Execute() with title = %q, %v, want %q, true", out, ok, "Arrival/file")
	}

	if out, ok := tmpl.Execute(PropertyMap{}); ok {
		t.Errorf("Execute() with missing required var = %q, true, want false", out)
	}
}

func TestTemplateOptionalVariable(t *testing.T) {
	tmpl, err := ParseTemplate("prefix-{subtitle?}-suffix")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	if out, ok := tmpl.Execute(PropertyMap{"subtitle": "X"}); !ok || out != "prefix-X-suffix" {
		t.Errorf("Execute() present = %q, %v, want %q, true", out, ok, "prefix-X-suffix")
	}

	// Missing optional elides to empty rather than failing the template.
	if out, ok := tmpl.Execute(PropertyMap{}); !ok || out != "prefix--suffix" {
		t.Errorf("Execute() missing = %q, %v, want %q, true", out, ok, "prefix--suffix")
	}
}

func TestTemplateConditionalSubtemplate(t *testing.T) {
	tmpl, err := ParseTemplate("base{season?( S{season:pad2})}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	if out, ok := tmpl.Execute(PropertyMap{"season": "3"}); !ok || out != "base S03" {
		t.Errorf("Execute() with season = %q, %v, want %q, true", out, ok, "base S03")
	}

	// Guard field entirely absent: the whole conditional block elides.
	if out, ok := tmpl.Execute(PropertyMap{}); !ok || out != "base" {
		t.Errorf("Execute() without season = %q, %v, want %q, true", out, ok, "base")
	}
}

func TestTemplateConditionalInnerFailureElides(t *testing.T) {
	// The guard field (season) is present, but the inner template needs a
	// different field (episode) that is absent: per spec.md §4.2 this
	// elides the whole conditional block rather than failing the template.
	tmpl, err := ParseTemplate("base{season?(E{episode})}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	out, ok := tmpl.Execute(PropertyMap{"season": "1"})
	if !ok || out != "base" {
		t.Errorf("Execute() = %q, %v, want %q, true", out, ok, "base")
	}
}

func TestTemplateFormatPad(t *testing.T) {
	tmpl, err := ParseTemplate("S{season:pad2}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	cases := map[string]string{"5": "S05", "42": "S42", "100": "S100"}
	for in, want := range cases {
		out, ok := tmpl.Execute(PropertyMap{"season": in})
		if !ok || out != want {
			t.Errorf("Execute() season=%q = %q, %v, want %q, true", in, out, ok, want)
		}
	}
}

func TestTemplateFormatCase(t *testing.T) {
	upper, err := ParseTemplate("{title:upper}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if out, ok := upper.Execute(PropertyMap{"title": "arrival"}); !ok || out != "ARRIVAL" {
		t.Errorf("upper Execute() = %q, %v, want %q, true", out, ok, "ARRIVAL")
	}

	lower, err := ParseTemplate("{title:lower}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if out, ok := lower.Execute(PropertyMap{"title": "ARRIVAL"}); !ok || out != "arrival" {
		t.Errorf("lower Execute() = %q, %v, want %q, true", out, ok, "arrival")
	}
}

func TestTemplateFormatUnknownFails(t *testing.T) {
	tmpl, err := ParseTemplate("{title:reverse}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if out, ok := tmpl.Execute(PropertyMap{"title": "Arrival"}); ok {
		t.Errorf("Execute() with unknown format = %q, true, want false", out)
	}
}

func TestTemplateFormatMissingFieldFails(t *testing.T) {
	tmpl, err := ParseTemplate("{title:upper}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if out, ok := tmpl.Execute(PropertyMap{}); ok {
		t.Errorf("Execute() with missing formatted field = %q, true, want false", out)
	}
}

func TestTemplateFallbackToDeclaredPath(t *testing.T) {
	tmpl, err := ParseTemplate("{titles.eng|title}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	// Primary present: used directly.
	out, ok := tmpl.Execute(PropertyMap{"titles.eng": "Arrival", "title": "ignored"})
	if !ok || out != "Arrival" {
		t.Errorf("Execute() primary present = %q, %v, want %q, true", out, ok, "Arrival")
	}

	// Primary missing, fallback path present: fallback value used.
	out, ok = tmpl.Execute(PropertyMap{"title": "Arrival (fallback)"})
	if !ok || out != "Arrival (fallback)" {
		t.Errorf("Execute() fallback present = %q, %v, want %q, true", out, ok, "Arrival (fallback)")
	}

	// Neither present: whole interpolation fails, the literal fallback text
	// is never emitted because "title" parses as a declared path.
	if out, ok := tmpl.Execute(PropertyMap{}); ok {
		t.Errorf("Execute() both missing = %q, true, want false", out)
	}
}

func TestTemplateFallbackLiteralText(t *testing.T) {
	// A fallback containing characters outside the path grammar (a space)
	// cannot be a declared property reference, so it is emitted as literal
	// text when the primary field is missing instead of being looked up.
	tmpl, err := ParseTemplate("{missingField|Unknown Title}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	out, ok := tmpl.Execute(PropertyMap{})
	if !ok || out != "Unknown Title" {
		t.Errorf("Execute() = %q, %v, want %q, true", out, ok, "Unknown Title")
	}
}

func TestTemplateUnmatchedBraceIsLiteral(t *testing.T) {
	tmpl, err := ParseTemplate("cost: {5")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	out, ok := tmpl.Execute(PropertyMap{})
	if !ok || out != "cost: {5" {
		t.Errorf("Execute() = %q, %v, want %q, true", out, ok, "cost: {5")
	}
}

func TestTemplateMalformedConditionalIsError(t *testing.T) {
	if _, err := ParseTemplate("{season?(S{season}}"); err == nil {
		t.Error("ParseTemplate() with unbalanced conditional should return an error")
	}
}

func TestTemplateMalformedExpressionIsError(t *testing.T) {
	if _, err := ParseTemplate("{title#bogus}"); err == nil {
		t.Error("ParseTemplate() with an unrecognized modifier should return an error")
	}
}
