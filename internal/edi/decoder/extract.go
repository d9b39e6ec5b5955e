package decoder

import (
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

// ClaimView holds the business fields of one 837P claim.
type ClaimView struct {
	SenderID          string                 `json:"sender_id"`
	ReceiverID        string                 `json:"receiver_id"`
	Control           domain.ControlNumbers  `json:"control_numbers"`
	BillingProvider   domain.Provider        `json:"billing_provider"`
	RenderingProvider *domain.Provider       `json:"rendering_provider,omitempty"`
	Subscriber        domain.Subscriber      `json:"subscriber"`
	Payer             domain.Payer           `json:"payer"`
	ClaimID           string                 `json:"claim_id"`
	TotalChargeCents  int64                  `json:"total_charge_cents"`
	PlaceOfService    string                 `json:"place_of_service"`
	Frequency         string                 `json:"frequency"`
	OnsetDate         *time.Time             `json:"onset_date,omitempty"`
	Diagnoses         []domain.DiagnosisCode `json:"diagnoses"`
	ServiceLines      []domain.ServiceLine   `json:"service_lines"`
}

// LineChargeTotal sums the service-line charges as read from the wire.
func (v ClaimView) LineChargeTotal() int64 {
	var total int64
	for _, line := range v.ServiceLines {
		total += line.ChargeCents
	}
	return total
}

type extractor struct {
	tree  *SegmentTree
	view  ClaimView
	diags []x12.ParseDiagnostic

	address *domain.Address
	line    *domain.ServiceLine
}

// ExtractClaim projects the first claim in the tree; later CLM loops are
// ignored. Values that cannot be read are reported and left zero.
func ExtractClaim(tree *SegmentTree) (ClaimView, []x12.ParseDiagnostic) {
	e := &extractor{tree: tree}
	for _, seg := range tree.Segments {
		if seg.ID == "CLM" && e.view.ClaimID != "" {
			break
		}
		e.visit(seg)
	}
	e.flushLine()

	if e.view.ClaimID == "" {
		e.diags = append(e.diags, x12.ParseDiagnostic{Code: x12.MissingSegment, SegmentID: "CLM", Message: "no CLM segment"})
	}
	return e.view, e.diags
}

func (e *extractor) report(seg Segment, code x12.DiagnosticCode, element int, msg string) {
	e.diags = append(e.diags, x12.ParseDiagnostic{
		Code:         code,
		SegmentIndex: seg.Index,
		SegmentID:    seg.ID,
		Element:      element,
		Message:      msg,
	})
}

func (e *extractor) visit(seg Segment) {
	d := e.tree.Delimiters
	v := &e.view
	switch seg.ID {
	case "ISA":
		v.SenderID = strings.TrimSpace(seg.Element(6))
		v.ReceiverID = strings.TrimSpace(seg.Element(8))
		v.Control.Interchange = e.control(seg, 13)
	case "GS":
		v.Control.Group = e.control(seg, 6)
	case "ST":
		v.Control.Transaction = e.control(seg, 2)
	case "NM1":
		e.name(seg)
	case "PRV":
		switch seg.Element(1) {
		case "BI":
			v.BillingProvider.TaxonomyCode = seg.Element(3)
		case "PE":
			if v.RenderingProvider != nil {
				v.RenderingProvider.TaxonomyCode = seg.Element(3)
			}
		}
	case "N3":
		if e.address != nil {
			e.address.Line1 = seg.Element(1)
			e.address.Line2 = seg.Element(2)
		}
	case "N4":
		if e.address != nil {
			e.address.City = seg.Element(1)
			e.address.State = seg.Element(2)
			e.address.PostalCode = seg.Element(3)
		}
	case "REF":
		if seg.Element(1) == "EI" {
			v.BillingProvider.TaxID = seg.Element(2)
		}
	case "SBR":
		v.Subscriber.Relationship = seg.Element(2)
		v.Subscriber.GroupNumber = seg.Element(3)
		v.Payer.FilingIndicator = seg.Element(9)
	case "DMG":
		v.Subscriber.BirthDate = e.date(seg, 2)
		v.Subscriber.Gender = seg.Element(3)
	case "CLM":
		v.ClaimID = seg.Element(1)
		v.TotalChargeCents = e.amount(seg, 2)
		v.PlaceOfService = seg.Component(5, 1, d)
		v.Frequency = seg.Component(5, 3, d)
		e.address = nil
	case "HI":
		for pos := 1; pos <= len(seg.Elements); pos++ {
			code := seg.Component(pos, 2, d)
			if code == "" {
				continue
			}
			v.Diagnoses = append(v.Diagnoses, domain.DiagnosisCode{
				Code:    codetable.FormatICD10(code),
				Pointer: domain.PointerLetter(len(v.Diagnoses)),
			})
		}
	case "LX":
		e.flushLine()
		e.line = &domain.ServiceLine{}
	case "SV1":
		e.serviceLine(seg)
	case "DTP":
		switch seg.Element(1) {
		case "431":
			date := e.date(seg, 3)
			if !date.IsZero() {
				v.OnsetDate = &date
			}
		case "472":
			if e.line != nil {
				e.line.ServiceDate = e.date(seg, 3)
			}
		}
	}
}

func (e *extractor) name(seg Segment) {
	v := &e.view
	e.address = nil
	switch seg.Element(1) {
	case "85":
		v.BillingProvider.EntityType = seg.Element(2)
		v.BillingProvider.LastName = seg.Element(3)
		v.BillingProvider.FirstName = seg.Element(4)
		v.BillingProvider.NPI = seg.Element(9)
		e.address = &v.BillingProvider.Address
	case "82":
		v.RenderingProvider = &domain.Provider{
			EntityType: seg.Element(2),
			LastName:   seg.Element(3),
			FirstName:  seg.Element(4),
			NPI:        seg.Element(9),
		}
	case "IL":
		v.Subscriber.LastName = seg.Element(3)
		v.Subscriber.FirstName = seg.Element(4)
		v.Subscriber.MemberID = seg.Element(9)
		e.address = &v.Subscriber.Address
	case "PR":
		v.Payer.Name = seg.Element(3)
		v.Payer.ID = seg.Element(9)
	}
}

func (e *extractor) serviceLine(seg Segment) {
	d := e.tree.Delimiters
	if e.line == nil {
		e.report(seg, x12.InvalidHierarchy, 0, "SV1 outside an LX loop")
		e.line = &domain.ServiceLine{}
	}
	procedure := seg.Components(1, d)
	if len(procedure) >= 2 {
		e.line.CPT = procedure[1]
		e.line.Modifiers = append([]string(nil), procedure[2:]...)
	}
	e.line.ChargeCents = e.amount(seg, 2)
	if units := seg.Element(4); units != "" {
		n, err := strconv.Atoi(units)
		if err != nil {
			e.report(seg, x12.MalformedSegment, 4, "units are not an integer")
		}
		e.line.Units = n
	}
	for _, p := range seg.Components(7, d) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			e.report(seg, x12.MalformedSegment, 7, "diagnosis pointer "+p+" is not a position")
			continue
		}
		if letter := domain.PointerLetter(n - 1); letter != "" {
			e.line.DiagnosisPointers = append(e.line.DiagnosisPointers, letter)
		} else {
			e.line.DiagnosisPointers = append(e.line.DiagnosisPointers, p)
		}
	}
}

func (e *extractor) flushLine() {
	if e.line != nil {
		e.view.ServiceLines = append(e.view.ServiceLines, *e.line)
		e.line = nil
	}
}

func (e *extractor) control(seg Segment, pos int) int64 {
	value := strings.TrimSpace(seg.Element(pos))
	if value == "" {
		return 0
	}
	n, err := x12.ParseControlNumber(value)
	if err != nil {
		e.report(seg, x12.MalformedSegment, pos, err.Error())
	}
	return n
}

func (e *extractor) amount(seg Segment, pos int) int64 {
	value := seg.Element(pos)
	if value == "" {
		return 0
	}
	cents, err := x12.ParseAmount(value)
	if err != nil {
		e.report(seg, x12.MalformedSegment, pos, err.Error())
	}
	return cents
}

func (e *extractor) date(seg Segment, pos int) time.Time {
	value := seg.Element(pos)
	if value == "" {
		return time.Time{}
	}
	t, err := x12.ParseDate(value)
	if err != nil {
		e.report(seg, x12.MalformedSegment, pos, err.Error())
	}
	return t
}
