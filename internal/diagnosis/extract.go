package diagnosis

import (
	"log/slog"
	"regexp"
	"strings"

	"fridgeclinic/internal/models"
)

const (
	DefaultBrand            = "Unable to determine"
	DefaultModel            = "Unable to determine"
	DefaultRefrigeratorType = "Standard"
	DefaultIssueCategory    = "General Issue"
	DefaultSeverityLevel    = "Moderate"
)

// unknownValues are captures that carry no information.
var unknownValues = []string{"unable to determine", "not visible", "unknown", "not visible in video"}

// FieldRule lists the patterns tried for one field, most specific first.
// The first capture that is non-empty and not in Blacklist wins.
type FieldRule struct {
	Field     string
	Default   string
	Patterns  []*regexp.Regexp
	Blacklist []string
	set       func(*models.Fields, string)
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}

// DefaultFieldRules extract the identification block of the diagnosis report.
var DefaultFieldRules = []FieldRule{
	{
		Field:   "brand",
		Default: DefaultBrand,
		Patterns: patterns(
			`Brand:\s*\[([^\]]+)\]`,
			`Brand:\s*([^\n\[]+?)(?:\s*\[|$|\n)`,
			`Brand:\s*([^\n]+)`,
			`Brand\s*:\s*([^\n]+)`,
		),
		Blacklist: unknownValues,
		set:       func(f *models.Fields, v string) { f.Brand = v },
	},
	{
		Field:   "model",
		Default: DefaultModel,
		Patterns: patterns(
			`Model Number:\s*\[([^\]]+)\]`,
			`Model Number:\s*([^\n\[]+?)(?:\s*\[|$|\n)`,
			`Model Number:\s*([^\n]+)`,
			`Model\s*Number\s*:\s*([^\n]+)`,
			`Model:\s*([^\n]+)`,
		),
		Blacklist: unknownValues,
		set:       func(f *models.Fields, v string) { f.Model = v },
	},
	{
		Field:   "refrigeratorType",
		Default: DefaultRefrigeratorType,
		Patterns: patterns(
			`Refrigerator Type:\s*\[([^\]]+)\]`,
			`Refrigerator Type:\s*([^\n\[]+?)(?:\s*\[|$|\n)`,
			`Refrigerator Type:\s*([^\n]+)`,
			`Type:\s*([^\n]+)`,
		),
		Blacklist: unknownValues,
		set:       func(f *models.Fields, v string) { f.RefrigeratorType = v },
	},
	{
		Field:   "issueCategory",
		Default: DefaultIssueCategory,
		Patterns: patterns(
			`Primary Issue Category:\s*\[([^\]]+)\]`,
			`Primary Issue Category:\s*([^\n\[]+?)(?:\s*\[|$|\n)`,
			`Primary Issue Category:\s*([^\n]+)`,
			`Issue Category:\s*([^\n]+)`,
			`Problem Category:\s*([^\n]+)`,
		),
		Blacklist: unknownValues,
		set:       func(f *models.Fields, v string) { f.IssueCategory = v },
	},
	{
		Field:   "severityLevel",
		Default: DefaultSeverityLevel,
		Patterns: patterns(
			`Severity Assessment:\s*\[([^\]]+)\]`,
			`Severity Assessment:\s*([^\n\[]+?)(?:\s*\[|$|\n)`,
			`Severity Assessment:\s*([^\n]+)`,
			`Severity:\s*([^\n]+)`,
			`Difficulty:\s*([^\n]+)`,
		),
		Blacklist: unknownValues,
		set:       func(f *models.Fields, v string) { f.SeverityLevel = v },
	},
}

// DefaultFields returns every field at its fallback value.
func DefaultFields() models.Fields {
	var f models.Fields
	for _, r := range DefaultFieldRules {
		r.set(&f, r.Default)
	}
	return f
}

// ExtractFields parses the identification fields out of a diagnosis report.
// Fields that cannot be read keep their defaults; a fault in any rule
// degrades the whole result to DefaultFields.
func ExtractFields(text string) (fields models.Fields) {
	return extractWith(DefaultFieldRules, text)
}

func extractWith(rules []FieldRule, text string) (fields models.Fields) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("field extraction failed, using defaults", "panic", r)
			fields = DefaultFields()
		}
	}()
	for _, rule := range rules {
		rule.set(&fields, rule.extract(text))
	}
	slog.Debug("parsed refrigerator fields", "brand", fields.Brand, "model", fields.Model,
		"type", fields.RefrigeratorType, "issue_category", fields.IssueCategory, "severity", fields.SeverityLevel)
	return fields
}

func (r FieldRule) extract(text string) string {
	for _, p := range r.Patterns {
		m := p.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v := cleanCapture(m[1])
		if v == "" || r.blacklisted(v) {
			continue
		}
		return v
	}
	return r.Default
}

func (r FieldRule) blacklisted(v string) bool {
	v = strings.ToLower(strings.Trim(v, `"'.`))
	for _, b := range r.Blacklist {
		if v == b {
			return true
		}
	}
	return false
}

// cleanCapture drops markdown emphasis and stray brackets around a value.
func cleanCapture(v string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(v), "*[]_ \t"))
}
