// Package encoder serializes a claim into an X12 005010X222A1 837P
// interchange.
package encoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/claim/validation"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

const (
	ImplementationGuide = "005010X222A1"
	interchangeVersion  = "00501"

	frequencyOriginal    = "1"
	frequencyReplacement = "7"

	defaultFilingIndicator = "CI"
	relationshipSelf       = "18"
)

// Envelope carries the interchange identity and the control numbers of the
// batch the claim is sent in.
type Envelope struct {
	SenderID       string
	ReceiverID     string
	ReceiverName   string
	SubmitterName  string
	ContactName    string
	ContactPhone   string
	UsageIndicator string
	CreatedAt      time.Time
	Control        domain.ControlNumbers
}

// EnvelopeFromConfig builds an envelope from the EDI submitter settings.
func EnvelopeFromConfig(cfg config.EDIConfig, at time.Time, control domain.ControlNumbers) Envelope {
	return Envelope{
		SenderID:       cfg.SenderID,
		ReceiverID:     cfg.ReceiverID,
		ReceiverName:   cfg.ReceiverName,
		SubmitterName:  cfg.SubmitterName,
		ContactName:    cfg.ContactName,
		ContactPhone:   cfg.ContactPhone,
		UsageIndicator: cfg.UsageIndicator,
		CreatedAt:      at,
		Control:        control,
	}
}

type Encoder struct {
	validator *validation.Validator
}

func New(v *validation.Validator) *Encoder {
	if v == nil {
		v = validation.New(codetable.Default())
	}
	return &Encoder{validator: v}
}

// Encode renders the claim. It fails when the claim has not reached
// ReadyToSubmit, when intrinsic validation fails, or when the envelope is
// incomplete. Payer limits and duplicate checks are not repeated here.
func (e *Encoder) Encode(claim domain.Claim, env Envelope) (string, error) {
	if !claim.Status.Encodable() {
		return "", encodingError(ReasonStatus, fmt.Errorf("%w: claim is %s", domain.ErrInvalidTransition, claim.Status))
	}
	if len(claim.ServiceLines) > domain.MaxServiceLines {
		return "", encodingError(ReasonTooManyLines, fmt.Errorf("%d service lines, at most %d", len(claim.ServiceLines), domain.MaxServiceLines))
	}
	if errs := e.validator.Validate(claim, validation.Context{}); len(errs) > 0 {
		return "", &EncodingError{Reason: ReasonValidation, Errors: errs, Err: domain.ValidationErrors(errs)}
	}

	control := env.Control
	if !control.Assigned() {
		control = claim.Control
	}
	if err := checkControl(control); err != nil {
		return "", encodingError(ReasonControlNumbers, err)
	}
	if strings.TrimSpace(env.SenderID) == "" || strings.TrimSpace(env.ReceiverID) == "" {
		return "", encodingError(ReasonEnvelope, fmt.Errorf("sender and receiver ids are required"))
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	w := x12.NewWriter(x12.DefaultDelimiters)
	writeInterchangeHeader(w, env, control)

	w.Mark()
	st := x12.TransactionControl(control.Transaction)
	w.Segment("ST", "837", st, ImplementationGuide)
	w.Segment("BHT", "0019", "00", claimRef(claim), x12.Date(env.CreatedAt), env.CreatedAt.UTC().Format(x12.TimeFormat), "CH")
	w.Segment("NM1", "41", domain.EntityTypeOrganization, upper(env.SubmitterName), "", "", "", "", "46", env.SenderID)
	w.Segment("PER", "IC", upper(env.ContactName), "TE", digits(env.ContactPhone))
	w.Segment("NM1", "40", domain.EntityTypeOrganization, upper(env.ReceiverName), "", "", "", "", "46", env.ReceiverID)

	writeBillingProvider(w, claim.BillingProvider)
	writeSubscriber(w, claim)
	writeClaim(w, claim)

	w.Segment("SE", strconv.Itoa(w.SinceMark()+1), st)
	w.Segment("GE", "1", strconv.FormatInt(control.Group, 10))
	w.Segment("IEA", "1", x12.InterchangeControl(control.Interchange))

	return w.String(), nil
}

func checkControl(c domain.ControlNumbers) error {
	if !c.Assigned() {
		return domain.ErrInvalidControlNumber
	}
	if c.Interchange > x12.MaxControlNumber || c.Group > x12.MaxControlNumber || c.Transaction > x12.MaxControlNumber {
		return fmt.Errorf("%w: exceeds %d", domain.ErrInvalidControlNumber, x12.MaxControlNumber)
	}
	return nil
}

func writeInterchangeHeader(w *x12.Writer, env Envelope, control domain.ControlNumbers) {
	usage := env.UsageIndicator
	if usage != "P" {
		usage = "T"
	}
	at := env.CreatedAt.UTC()
	d := w.Delimiters()
	w.Segment("ISA",
		"00", x12.Pad("", 10),
		"00", x12.Pad("", 10),
		"ZZ", x12.Pad(env.SenderID, 15),
		"ZZ", x12.Pad(env.ReceiverID, 15),
		at.Format(x12.ShortDateFormat), at.Format(x12.TimeFormat),
		string(d.Repetition), interchangeVersion,
		x12.InterchangeControl(control.Interchange),
		"0", usage, string(d.Component),
	)
	w.Segment("GS", "HC", env.SenderID, env.ReceiverID, x12.Date(at), at.Format(x12.TimeFormat),
		strconv.FormatInt(control.Group, 10), "X", ImplementationGuide)
}

// writeBillingProvider emits loop 2000A/2010AA.
func writeBillingProvider(w *x12.Writer, p domain.Provider) {
	w.Segment("HL", "1", "", "20", "1")
	w.Segment("PRV", "BI", "PXC", p.TaxonomyCode)
	writeProviderName(w, "85", p)
	writeAddress(w, p.Address)
	w.Segment("REF", "EI", digits(p.TaxID))
}

// writeSubscriber emits loops 2000B/2010BA/2010BB. The subscriber is the
// patient, so no 2000C level is produced.
func writeSubscriber(w *x12.Writer, claim domain.Claim) {
	s := claim.Subscriber
	filing := claim.Payer.FilingIndicator
	if filing == "" {
		filing = defaultFilingIndicator
	}
	relationship := s.Relationship
	if relationship == "" {
		relationship = relationshipSelf
	}
	w.Segment("HL", "2", "1", "22", "0")
	w.Segment("SBR", "P", relationship, upper(s.GroupNumber), "", "", "", "", "", filing)
	w.Segment("NM1", "IL", domain.EntityTypePerson, upper(s.LastName), upper(s.FirstName), "", "", "", "MI", upper(s.MemberID))
	writeAddress(w, s.Address)
	w.Segment("DMG", "D8", x12.Date(s.BirthDate), s.Gender)
	w.Segment("NM1", "PR", domain.EntityTypeOrganization, upper(claim.Payer.Name), "", "", "", "", "PI", upper(claim.Payer.ID))
}

// writeClaim emits loop 2300 and one 2400 loop per service line.
func writeClaim(w *x12.Writer, claim domain.Claim) {
	frequency := frequencyOriginal
	if claim.IsResubmission() {
		frequency = frequencyReplacement
	}
	w.Segment("CLM", claimRef(claim), x12.Amount(claim.TotalCharge()), "", "",
		w.Composite(claim.PlaceOfService, "B", frequency), "Y", "A", "Y", "Y")
	w.Segment("DTP", "431", "D8", x12.Date(onsetDate(claim)))

	hi := make([]string, 0, len(claim.Diagnoses))
	for i, dx := range claim.Diagnoses {
		qualifier := "ABF"
		if i == 0 {
			qualifier = "ABK"
		}
		hi = append(hi, w.Composite(qualifier, codetable.NormalizeICD10(dx.Code)))
	}
	w.Segment("HI", hi...)

	if r := claim.RenderingProvider; r.NPI != "" && r.NPI != claim.BillingProvider.NPI {
		writeProviderName(w, "82", r)
		if r.TaxonomyCode != "" {
			w.Segment("PRV", "PE", "PXC", r.TaxonomyCode)
		}
	}

	for i, line := range claim.ServiceLines {
		w.Segment("LX", strconv.Itoa(i+1))
		procedure := append([]string{"HC", codetable.NormalizeCPT(line.CPT)}, normalizeModifiers(line.Modifiers)...)
		w.Segment("SV1",
			w.Composite(procedure...),
			x12.Amount(line.ChargeCents),
			"UN",
			strconv.Itoa(line.Units),
			"", "",
			w.Composite(pointerNumbers(claim, line)...),
		)
		w.Segment("DTP", "472", "D8", x12.Date(line.ServiceDate))
	}
}

func writeProviderName(w *x12.Writer, code string, p domain.Provider) {
	entity := p.EntityType
	if entity == "" {
		entity = domain.EntityTypeOrganization
	}
	first := ""
	if entity == domain.EntityTypePerson {
		first = upper(p.FirstName)
	}
	w.Segment("NM1", code, entity, upper(p.LastName), first, "", "", "", "XX", p.NPI)
}

func writeAddress(w *x12.Writer, a domain.Address) {
	w.Segment("N3", upper(a.Line1), upper(a.Line2))
	w.Segment("N4", upper(a.City), upper(a.State), digits(a.PostalCode))
}

// pointerNumbers maps pointer letters to their 1-based HI position.
func pointerNumbers(claim domain.Claim, line domain.ServiceLine) []string {
	out := make([]string, 0, len(line.DiagnosisPointers))
	for _, pointer := range line.DiagnosisPointers {
		if idx, ok := claim.DiagnosisIndex(pointer); ok {
			out = append(out, strconv.Itoa(idx+1))
		}
	}
	return out
}

func normalizeModifiers(mods []string) []string {
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		if m = codetable.NormalizeModifier(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func onsetDate(claim domain.Claim) time.Time {
	if claim.OnsetDate != nil && !claim.OnsetDate.IsZero() {
		return *claim.OnsetDate
	}
	var earliest time.Time
	for _, line := range claim.ServiceLines {
		if earliest.IsZero() || line.ServiceDate.Before(earliest) {
			earliest = line.ServiceDate
		}
	}
	return earliest
}

func claimRef(claim domain.Claim) string {
	return claim.ID.String()
}

// upper strips separator characters that would corrupt the interchange.
func upper(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '*', '~', ':', '^':
			return -1
		}
		return r
	}, s)
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
