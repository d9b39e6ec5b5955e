package codetable

import (
	"sort"
	"strings"
)

// CPT describes a billable procedure code.
type CPT struct {
	Code         string
	Description  string
	RateCents    int64
	Deprecated   bool
	Replacements []string
	Modifiers    []string
}

// ICD10 describes a diagnosis code. Category headers are not billable.
type ICD10 struct {
	Code         string
	Description  string
	Billable     bool
	Deprecated   bool
	Replacements []string
}

type Modifier struct {
	Code        string
	Description string
}

type Taxonomy struct {
	Code        string
	Description string
}

// Tables is immutable reference data shared by the validator, encoder and rebuilder.
type Tables struct {
	cpt        map[string]CPT
	icd        map[string]ICD10
	modifiers  map[string]Modifier
	taxonomies map[string]Taxonomy
}

type Option func(*Tables)

func WithCPT(entries ...CPT) Option {
	return func(t *Tables) {
		for _, entry := range entries {
			entry.Code = NormalizeCPT(entry.Code)
			t.cpt[entry.Code] = entry
		}
	}
}

func WithICD10(entries ...ICD10) Option {
	return func(t *Tables) {
		for _, entry := range entries {
			t.icd[NormalizeICD10(entry.Code)] = entry
		}
	}
}

func WithModifier(entries ...Modifier) Option {
	return func(t *Tables) {
		for _, entry := range entries {
			entry.Code = NormalizeModifier(entry.Code)
			t.modifiers[entry.Code] = entry
		}
	}
}

func WithTaxonomy(entries ...Taxonomy) Option {
	return func(t *Tables) {
		for _, entry := range entries {
			t.taxonomies[strings.ToUpper(strings.TrimSpace(entry.Code))] = entry
		}
	}
}

// New builds tables from the built-in reference data plus any overrides.
func New(opts ...Option) *Tables {
	t := &Tables{
		cpt:        make(map[string]CPT, len(cptCodes)),
		icd:        make(map[string]ICD10, len(icd10Codes)),
		modifiers:  make(map[string]Modifier, len(modifierCodes)),
		taxonomies: make(map[string]Taxonomy, len(taxonomyCodes)),
	}
	WithCPT(cptCodes...)(t)
	WithICD10(icd10Codes...)(t)
	WithModifier(modifierCodes...)(t)
	WithTaxonomy(taxonomyCodes...)(t)
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

var defaultTables = New()

// Default returns the shared built-in tables.
func Default() *Tables {
	return defaultTables
}

func (t *Tables) CPT(code string) (CPT, bool) {
	entry, ok := t.cpt[NormalizeCPT(code)]
	return entry, ok
}

func (t *Tables) ICD10(code string) (ICD10, bool) {
	entry, ok := t.icd[NormalizeICD10(code)]
	return entry, ok
}

func (t *Tables) Modifier(code string) (Modifier, bool) {
	entry, ok := t.modifiers[NormalizeModifier(code)]
	return entry, ok
}

func (t *Tables) Taxonomy(code string) (Taxonomy, bool) {
	entry, ok := t.taxonomies[strings.ToUpper(strings.TrimSpace(code))]
	return entry, ok
}

// ValidCPT reports whether the code exists and is still billable.
func (t *Tables) ValidCPT(code string) bool {
	entry, ok := t.CPT(code)
	return ok && !entry.Deprecated
}

// ValidICD10 reports whether the code exists, is billable and not deprecated.
func (t *Tables) ValidICD10(code string) bool {
	entry, ok := t.ICD10(code)
	return ok && entry.Billable && !entry.Deprecated
}

// ModifierAllowed reports whether modifier may be appended to the CPT code.
func (t *Tables) ModifierAllowed(cpt, modifier string) bool {
	entry, ok := t.CPT(cpt)
	if !ok {
		return false
	}
	if _, known := t.Modifier(modifier); !known {
		return false
	}
	modifier = NormalizeModifier(modifier)
	for _, allowed := range entry.Modifiers {
		if allowed == modifier {
			return true
		}
	}
	return false
}

// Replacement returns the single replacement for a deprecated code. Codes with
// zero or several candidates are ambiguous and report false.
func (t *Tables) Replacement(code string) (string, bool) {
	if entry, ok := t.CPT(code); ok {
		if entry.Deprecated && len(entry.Replacements) == 1 {
			return entry.Replacements[0], true
		}
		return "", false
	}
	if entry, ok := t.ICD10(code); ok {
		if (entry.Deprecated || !entry.Billable) && len(entry.Replacements) == 1 {
			return entry.Replacements[0], true
		}
	}
	return "", false
}

// SingleReplacements maps every deprecated or non-billable code with exactly
// one successor to that successor. ICD-10 codes use the dotless wire form.
func (t *Tables) SingleReplacements() map[string]string {
	out := map[string]string{}
	for code, entry := range t.cpt {
		if entry.Deprecated && len(entry.Replacements) == 1 {
			out[code] = NormalizeCPT(entry.Replacements[0])
		}
	}
	for code, entry := range t.icd {
		if (entry.Deprecated || !entry.Billable) && len(entry.Replacements) == 1 {
			out[code] = NormalizeICD10(entry.Replacements[0])
		}
	}
	return out
}

// CPTCodes lists the billable CPT codes in ascending order.
func (t *Tables) CPTCodes() []string {
	out := make([]string, 0, len(t.cpt))
	for code, entry := range t.cpt {
		if entry.Deprecated {
			continue
		}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func NormalizeCPT(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NormalizeModifier(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeICD10 upper-cases the code and strips the decimal point, which is
// the form X12 carries on the wire.
func NormalizeICD10(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, ".", "")
}

// FormatICD10 renders a wire-form code with its decimal point.
func FormatICD10(code string) string {
	code = NormalizeICD10(code)
	if len(code) <= 3 {
		return code
	}
	return code[:3] + "." + code[3:]
}
