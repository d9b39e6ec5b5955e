// Package rebuild locates rule violations in raw 837P text and repairs them
// one field at a time.
package rebuild

import (
	"fmt"
	"strconv"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

// Kind is a violated rule. Field-level kinds are shared with the claim
// validator; structural kinds carry the parse diagnostic code.
type Kind string

const (
	KindMissingField               = Kind(domain.KindMissingField)
	KindInvalidCPT                 = Kind(domain.KindInvalidCPT)
	KindInvalidICD10               = Kind(domain.KindInvalidICD10)
	KindInvalidNPI                 = Kind(domain.KindInvalidNPI)
	KindModifierMismatch           = Kind(domain.KindModifierMismatch)
	KindDiagnosisPointerOutOfRange = Kind(domain.KindDiagnosisPointerOutOfRange)
	KindInvalidValue               = Kind(domain.KindInvalidValue)
	KindInvalidDate                = Kind("InvalidDate")
	KindTotalChargeMismatch        = Kind("TotalChargeMismatch")
	KindSegmentCountMismatch       = Kind(x12.SegmentCountMismatch)
)

// placeholderNPI passes the format rule but never identifies a provider.
const placeholderNPI = "0000000000"

// SegmentDiagnostic pins a violation to a segment position. Element and
// Component are 1-based; zero means the whole segment or element.
type SegmentDiagnostic struct {
	SegmentIndex int    `json:"segment_index"`
	SegmentID    string `json:"segment_id"`
	Element      int    `json:"element,omitempty"`
	Component    int    `json:"component,omitempty"`
	Kind         Kind   `json:"kind"`
	Value        string `json:"value,omitempty"`
	Message      string `json:"message"`
}

func (d SegmentDiagnostic) location() string {
	loc := fmt.Sprintf("%s%02d", d.SegmentID, d.Element)
	if d.Component > 0 {
		loc += fmt.Sprintf("-%d", d.Component)
	}
	return loc
}

func (d SegmentDiagnostic) Error() string {
	return fmt.Sprintf("%s at segment %d (%s): %s", d.Kind, d.SegmentIndex, d.location(), d.Message)
}

// Options tunes wire-level checks.
type Options struct {
	// VerifyNPIChecksum adds the check-digit test to the 10-digit format rule.
	VerifyNPIChecksum bool
}

type Rebuilder struct {
	tables *codetable.Tables
	opts   Options
}

func New(tables *codetable.Tables, opts Options) *Rebuilder {
	if tables == nil {
		tables = codetable.Default()
	}
	return &Rebuilder{tables: tables, opts: opts}
}

// Diagnose parses raw and reports every structural and field-level
// violation in segment order.
func (r *Rebuilder) Diagnose(raw string) []SegmentDiagnostic {
	return r.diagnose(decoder.Parse(raw))
}

func (r *Rebuilder) diagnose(tree *decoder.SegmentTree) []SegmentDiagnostic {
	c := &checker{r: r, tree: tree}
	c.collect()
	return c.out
}

type checker struct {
	r    *Rebuilder
	tree *decoder.SegmentTree
	out  []SegmentDiagnostic

	diagnoses  int
	clm        *decoder.Segment
	lineTotal  int64
	totalValid bool
}

func (c *checker) add(seg decoder.Segment, element, component int, kind Kind, value, format string, args ...any) {
	c.out = append(c.out, SegmentDiagnostic{
		SegmentIndex: seg.Index,
		SegmentID:    seg.ID,
		Element:      element,
		Component:    component,
		Kind:         kind,
		Value:        value,
		Message:      fmt.Sprintf(format, args...),
	})
}

func (c *checker) collect() {
	c.totalValid = true
	for i := range c.tree.Segments {
		seg := c.tree.Segments[i]
		for _, d := range seg.Diagnostics {
			c.add(seg, d.Element, 0, Kind(d.Code), seg.Element(d.Element), "%s", d.Message)
		}
		switch seg.ID {
		case "NM1":
			c.name(seg)
		case "PRV":
			c.taxonomy(seg)
		case "REF":
			if seg.Element(1) == "EI" {
				c.taxID(seg)
			}
		case "DMG":
			c.date(seg, 2)
		case "CLM":
			c.claim(&c.tree.Segments[i])
		case "DTP":
			c.date(seg, 3)
		case "HI":
			c.diagnosisList(seg)
		case "SV1":
			c.serviceLine(seg)
		case "SE":
			c.closeClaim()
		}
	}
	c.closeClaim()
}

func (c *checker) name(seg decoder.Segment) {
	switch seg.Element(1) {
	case "85", "82":
		if seg.Element(8) != "XX" {
			c.add(seg, 8, 0, KindInvalidValue, seg.Element(8), "provider id qualifier must be XX (NPI)")
		}
		c.npi(seg, 9)
		if seg.Element(3) == "" {
			c.add(seg, 3, 0, KindMissingField, "", "provider name is required")
		}
	case "IL":
		if seg.Element(9) == "" {
			c.add(seg, 9, 0, KindMissingField, "", "member id is required")
		}
		if seg.Element(3) == "" {
			c.add(seg, 3, 0, KindMissingField, "", "subscriber last name is required")
		}
	case "PR":
		if seg.Element(9) == "" {
			c.add(seg, 9, 0, KindMissingField, "", "payer id is required")
		}
	}
}

func (c *checker) npi(seg decoder.Segment, pos int) {
	value := seg.Element(pos)
	switch {
	case value == "":
		c.add(seg, pos, 0, KindMissingField, "", "npi is required")
	case !codetable.ValidNPIFormat(value):
		c.add(seg, pos, 0, KindInvalidNPI, value, "npi must be 10 digits")
	case value == placeholderNPI:
		c.add(seg, pos, 0, KindInvalidNPI, value, "npi is a placeholder")
	case c.r.opts.VerifyNPIChecksum && !codetable.ValidNPIChecksum(value):
		c.add(seg, pos, 0, KindInvalidNPI, value, "npi check digit does not match")
	}
}

func (c *checker) taxonomy(seg decoder.Segment) {
	if seg.Element(1) != "BI" && seg.Element(1) != "PE" {
		return
	}
	value := seg.Element(3)
	if _, ok := c.r.tables.Taxonomy(value); !ok {
		c.add(seg, 3, 0, KindInvalidValue, value, "unknown provider taxonomy")
	}
}

func (c *checker) taxID(seg decoder.Segment) {
	value := seg.Element(2)
	if len(value) != 9 || !numeric(value) {
		c.add(seg, 2, 0, KindInvalidValue, value, "employer identification number must be 9 digits")
	}
}

func (c *checker) date(seg decoder.Segment, pos int) {
	value := seg.Element(pos)
	if seg.ID == "DTP" && seg.Element(2) != "D8" {
		return
	}
	if _, err := x12.ParseDate(value); err != nil {
		c.add(seg, pos, 0, KindInvalidDate, value, "date must be CCYYMMDD")
	}
}

func (c *checker) claim(seg *decoder.Segment) {
	c.closeClaim()
	c.clm = seg
	c.lineTotal = 0
	c.totalValid = true
	c.diagnoses = 0

	d := c.tree.Delimiters
	if place := seg.Component(5, 1, d); len(place) != 2 || !numeric(place) {
		c.add(*seg, 5, 1, KindInvalidValue, place, "place of service must be 2 digits")
	}
	if _, err := x12.ParseAmount(seg.Element(2)); err != nil {
		c.totalValid = false
		c.add(*seg, 2, 0, KindInvalidValue, seg.Element(2), "total charge is not a decimal amount")
	}
}

// closeClaim compares CLM02 with the service lines seen since CLM.
func (c *checker) closeClaim() {
	if c.clm == nil {
		return
	}
	clm := *c.clm
	c.clm = nil
	if !c.totalValid {
		return
	}
	total, _ := x12.ParseAmount(clm.Element(2))
	if total != c.lineTotal {
		c.add(clm, 2, 0, KindTotalChargeMismatch, clm.Element(2),
			"total charge %s does not equal service lines %s", clm.Element(2), x12.Amount(c.lineTotal))
	}
}

func (c *checker) diagnosisList(seg decoder.Segment) {
	d := c.tree.Delimiters
	for pos := 1; pos <= len(seg.Elements); pos++ {
		qualifier := seg.Component(pos, 1, d)
		code := seg.Component(pos, 2, d)
		want := "ABF"
		if c.diagnoses == 0 {
			want = "ABK"
		}
		if qualifier != want {
			c.add(seg, pos, 1, KindInvalidValue, qualifier, "diagnosis %d must use qualifier %s", c.diagnoses+1, want)
		}
		entry, ok := c.r.tables.ICD10(code)
		switch {
		case code == "":
			c.add(seg, pos, 2, KindMissingField, "", "diagnosis code is required")
		case !ok:
			c.add(seg, pos, 2, KindInvalidICD10, code, "unknown ICD-10 code")
		case entry.Deprecated:
			c.add(seg, pos, 2, KindInvalidICD10, code, "ICD-10 code is deprecated")
		case !entry.Billable:
			c.add(seg, pos, 2, KindInvalidICD10, code, "ICD-10 category is not billable")
		}
		c.diagnoses++
	}
}

func (c *checker) serviceLine(seg decoder.Segment) {
	d := c.tree.Delimiters
	procedure := seg.Components(1, d)
	cpt := ""
	if len(procedure) >= 2 {
		cpt = procedure[1]
	}
	if len(procedure) == 0 || procedure[0] != "HC" {
		c.add(seg, 1, 1, KindInvalidValue, seg.Component(1, 1, d), "procedure qualifier must be HC")
	}

	entry, ok := c.r.tables.CPT(cpt)
	switch {
	case cpt == "":
		c.add(seg, 1, 2, KindMissingField, "", "procedure code is required")
	case !ok:
		c.add(seg, 1, 2, KindInvalidCPT, cpt, "unknown CPT code")
	case entry.Deprecated:
		c.add(seg, 1, 2, KindInvalidCPT, cpt, "CPT code is deprecated")
	default:
		for i := 2; i < len(procedure); i++ {
			if !c.r.tables.ModifierAllowed(cpt, procedure[i]) {
				c.add(seg, 1, i+1, KindModifierMismatch, procedure[i], "modifier %s is not valid for %s", procedure[i], cpt)
			}
		}
	}
	if len(procedure) > 2+domain.MaxModifiers {
		c.add(seg, 1, 0, KindModifierMismatch, seg.Element(1), "at most %d modifiers are allowed", domain.MaxModifiers)
	}

	charge, err := x12.ParseAmount(seg.Element(2))
	if err != nil || charge <= 0 {
		c.totalValid = false
		c.add(seg, 2, 0, KindInvalidValue, seg.Element(2), "charge must be a positive amount")
	} else {
		c.lineTotal += charge
	}
	if units, err := strconv.Atoi(seg.Element(4)); err != nil || units <= 0 {
		c.add(seg, 4, 0, KindInvalidValue, seg.Element(4), "units must be a positive integer")
	}

	pointers := seg.Components(7, d)
	if len(pointers) == 0 {
		c.add(seg, 7, 0, KindMissingField, "", "at least one diagnosis pointer is required")
	}
	for i, p := range pointers {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > c.diagnoses {
			c.add(seg, 7, i+1, KindDiagnosisPointerOutOfRange, p, "pointer %s does not reference a diagnosis in HI", p)
		}
	}
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
