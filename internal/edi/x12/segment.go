package x12

import "strings"

// Segment is one parsed segment. Elements holds positions 01..n, so
// Elements[0] is the first element after the segment id.
type Segment struct {
	ID       string   `json:"id"`
	Elements []string `json:"elements"`
}

// Element returns the 1-based element, or "" when absent.
func (s Segment) Element(pos int) string {
	if pos < 1 || pos > len(s.Elements) {
		return ""
	}
	return s.Elements[pos-1]
}

// Components splits a composite element with the component separator.
func (s Segment) Components(pos int, d Delimiters) []string {
	value := s.Element(pos)
	if value == "" {
		return nil
	}
	return strings.Split(value, string(d.Component))
}

// Component returns the 1-based component of a composite element.
func (s Segment) Component(pos, comp int, d Delimiters) string {
	parts := s.Components(pos, d)
	if comp < 1 || comp > len(parts) {
		return ""
	}
	return parts[comp-1]
}

// Is reports whether the segment has the id and, when qualifier is not
// empty, the given first element.
func (s Segment) Is(id, qualifier string) bool {
	if s.ID != id {
		return false
	}
	return qualifier == "" || s.Element(1) == qualifier
}

// Encode renders the segment without its terminator.
func (s Segment) Encode(d Delimiters) string {
	if len(s.Elements) == 0 {
		return s.ID
	}
	return s.ID + string(d.Element) + strings.Join(s.Elements, string(d.Element))
}

// With returns a copy of the segment with one element replaced, growing the
// element list when needed.
func (s Segment) With(pos int, value string) Segment {
	out := Segment{ID: s.ID, Elements: append([]string(nil), s.Elements...)}
	for len(out.Elements) < pos {
		out.Elements = append(out.Elements, "")
	}
	if pos >= 1 {
		out.Elements[pos-1] = value
	}
	return out
}

// KnownSegments lists the segment ids recognized across 837P, 835, 277 and 999.
var KnownSegments = map[string]struct{}{
	"ISA": {}, "IEA": {}, "GS": {}, "GE": {}, "ST": {}, "SE": {},
	"BHT": {}, "NM1": {}, "N2": {}, "N3": {}, "N4": {}, "PER": {}, "REF": {},
	"HL": {}, "PRV": {}, "SBR": {}, "PAT": {}, "DMG": {}, "CLM": {}, "DTP": {},
	"CN1": {}, "AMT": {}, "K3": {}, "NTE": {}, "CR1": {}, "CR2": {}, "CRC": {},
	"HI": {}, "HCP": {}, "LX": {}, "SV1": {}, "SV5": {}, "PWK": {}, "QTY": {},
	"MEA": {}, "CAS": {}, "SVD": {}, "LIN": {}, "CTP": {}, "OI": {}, "MOA": {},
	"BPR": {}, "TRN": {}, "CUR": {}, "N1": {}, "RDM": {}, "DTM": {}, "TS3": {},
	"TS2": {}, "CLP": {}, "MIA": {}, "SVC": {}, "LQ": {}, "PLB": {}, "STC": {},
	"BGN": {}, "AK1": {}, "AK2": {}, "IK3": {}, "IK4": {}, "CTX": {}, "IK5": {},
	"AK9": {}, "TA1": {},
}

// Known reports whether id is a recognized segment id.
func Known(id string) bool {
	_, ok := KnownSegments[id]
	return ok
}

// ValidID reports whether id is syntactically a segment id: two or three
// upper-case letters or digits starting with a letter.
func ValidID(id string) bool {
	if len(id) < 2 || len(id) > 3 || id[0] < 'A' || id[0] > 'Z' {
		return false
	}
	for i := 1; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
