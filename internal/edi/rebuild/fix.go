package rebuild

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

var (
	ErrUnresolvedDiagnostics = errors.New("unresolved_diagnostics")
	ErrInvalidMapping        = errors.New("invalid_mapping")
)

// maxRewritesPerDiagnostic bounds how many fixes one call may apply for each
// diagnostic the input started with.
const maxRewritesPerDiagnostic = 4

// FixSet controls which corrections ApplyFix may make.
type FixSet struct {
	// Mapping replaces a flagged wire value with a known good one.
	Mapping map[string]string `json:"mapping"`
	// RecomputeDerived rewrites SE01 and CLM02 from the segments they count.
	RecomputeDerived bool `json:"recompute_derived"`
	// AcceptResidual returns the partially fixed text without an error.
	AcceptResidual bool `json:"accept_residual"`
}

type AppliedFix struct {
	SegmentIndex int    `json:"segment_index"`
	SegmentID    string `json:"segment_id"`
	Element      int    `json:"element"`
	Component    int    `json:"component,omitempty"`
	Kind         Kind   `json:"kind"`
	From         string `json:"from"`
	To           string `json:"to"`
}

type Result struct {
	Raw      string              `json:"raw"`
	Applied  []AppliedFix        `json:"applied"`
	Residual []SegmentDiagnostic `json:"residual"`
}

// UnresolvedError lists the diagnostics no fix could clear.
type UnresolvedError struct {
	Residual []SegmentDiagnostic
}

func (e *UnresolvedError) Error() string {
	if len(e.Residual) == 0 {
		return ErrUnresolvedDiagnostics.Error()
	}
	return fmt.Sprintf("%s: %d remaining, first: %s", ErrUnresolvedDiagnostics, len(e.Residual), e.Residual[0].Error())
}

func (e *UnresolvedError) Is(target error) bool {
	return target == ErrUnresolvedDiagnostics
}

// MappingError rejects a replacement that holds a separator of the
// interchange it would be written into.
type MappingError struct {
	From string
	To   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: replacement for %q contains an x12 separator", ErrInvalidMapping, e.From)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrInvalidMapping
}

// ApplyFix corrects raw one field at a time, re-diagnosing after every
// change. Dates and codes with several replacement candidates are never
// guessed. A mapping value holding a separator is refused before anything
// is rewritten. The result always carries the text as far as it could be
// fixed.
func (r *Rebuilder) ApplyFix(raw string, set FixSet) (Result, error) {
	result := Result{Raw: raw}
	seen := map[string]bool{}

	tree := decoder.Parse(raw)
	if err := checkMapping(set.Mapping, tree.Delimiters); err != nil {
		return result, err
	}
	diags := r.diagnose(tree)
	budget := maxRewritesPerDiagnostic * len(diags)

	for {
		if len(result.Applied) > 0 {
			tree = decoder.Parse(result.Raw)
			diags = r.diagnose(tree)
		}
		if len(result.Applied) >= budget {
			result.Residual = diags
			break
		}

		var fix *AppliedFix
		for _, d := range diags {
			key := fmt.Sprintf("%d/%d/%d/%s", d.SegmentIndex, d.Element, d.Component, d.Value)
			if seen[key] {
				continue
			}
			to, ok := r.resolve(tree, d, set)
			if !ok || to == d.Value || tree.Delimiters.Splits(to) {
				continue
			}
			seen[key] = true
			fix = &AppliedFix{
				SegmentIndex: d.SegmentIndex,
				SegmentID:    d.SegmentID,
				Element:      d.Element,
				Component:    d.Component,
				Kind:         d.Kind,
				From:         d.Value,
				To:           to,
			}
			break
		}

		if fix == nil {
			result.Residual = diags
			break
		}
		result.Raw = rewrite(tree, *fix)
		result.Applied = append(result.Applied, *fix)
	}

	if len(result.Residual) > 0 && !set.AcceptResidual {
		return result, &UnresolvedError{Residual: result.Residual}
	}
	return result, nil
}

func checkMapping(mapping map[string]string, delims x12.Delimiters) error {
	keys := make([]string, 0, len(mapping))
	for from := range mapping {
		keys = append(keys, from)
	}
	sort.Strings(keys)
	for _, from := range keys {
		if delims.Splits(mapping[from]) {
			return &MappingError{From: from, To: mapping[from]}
		}
	}
	return nil
}

func (r *Rebuilder) resolve(tree *decoder.SegmentTree, d SegmentDiagnostic, set FixSet) (string, bool) {
	if d.Element == 0 {
		return "", false
	}
	switch d.Kind {
	case KindInvalidDate:
		return "", false
	case KindSegmentCountMismatch:
		if !set.RecomputeDerived || d.SegmentID != "SE" {
			return "", false
		}
		return transactionCount(tree, d.SegmentIndex)
	case KindTotalChargeMismatch:
		if !set.RecomputeDerived {
			return "", false
		}
		return lineTotal(tree, d.SegmentIndex)
	}
	if d.Value == "" {
		return "", false
	}

	to, ok := set.Mapping[d.Value]
	if !ok && d.Kind == KindInvalidICD10 {
		to, ok = set.Mapping[codetable.FormatICD10(d.Value)]
	}
	if !ok {
		return "", false
	}
	switch d.Kind {
	case KindInvalidICD10:
		to = codetable.NormalizeICD10(to)
	case KindInvalidCPT, KindModifierMismatch:
		to = codetable.NormalizeCPT(to)
	default:
		to = strings.TrimSpace(to)
	}
	return to, to != ""
}

// transactionCount counts ST through the SE at index.
func transactionCount(tree *decoder.SegmentTree, index int) (string, bool) {
	for i := index - 1; i >= 0; i-- {
		switch tree.Segments[i].ID {
		case "ST":
			return strconv.Itoa(index - i + 1), true
		case "SE":
			return "", false
		}
	}
	return "", false
}

// lineTotal sums SV102 of the claim opened by the CLM at index.
func lineTotal(tree *decoder.SegmentTree, index int) (string, bool) {
	var total int64
	for _, seg := range tree.Segments[index+1:] {
		if seg.ID == "CLM" || seg.ID == "SE" {
			break
		}
		if seg.ID != "SV1" {
			continue
		}
		cents, err := x12.ParseAmount(seg.Element(2))
		if err != nil {
			return "", false
		}
		total += cents
	}
	return x12.Amount(total), true
}

func rewrite(tree *decoder.SegmentTree, fix AppliedFix) string {
	seg := tree.Segments[fix.SegmentIndex].Segment
	value := fix.To
	if fix.Component > 0 {
		comps := seg.Components(fix.Element, tree.Delimiters)
		for len(comps) < fix.Component {
			comps = append(comps, "")
		}
		comps[fix.Component-1] = value
		value = strings.Join(comps, string(tree.Delimiters.Component))
	}
	return tree.Replace(fix.SegmentIndex, seg.With(fix.Element, value))
}

// ProviderProfile holds the provider values that replace known placeholders.
type ProviderProfile struct {
	NPI          string `json:"npi"`
	TaxID        string `json:"tax_id"`
	TaxonomyCode string `json:"taxonomy_code"`
}

// DefaultMapping maps the placeholders practice systems emit to the
// profile values, plus every deprecated code with a single successor.
func DefaultMapping(profile ProviderProfile, tables *codetable.Tables) map[string]string {
	if tables == nil {
		tables = codetable.Default()
	}
	mapping := tables.SingleReplacements()
	if profile.NPI != "" {
		for _, placeholder := range []string{"MISSINGNPI", "NPIPENDING", placeholderNPI} {
			mapping[placeholder] = profile.NPI
		}
	}
	if profile.TaxID != "" {
		mapping["MISSINGTAXID"] = profile.TaxID
	}
	if profile.TaxonomyCode != "" {
		mapping["UNKNOWNTAXONOMY"] = profile.TaxonomyCode
	}
	return mapping
}
